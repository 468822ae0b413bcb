package orchestrator

import (
	"context"
	"fmt"

	"github.com/mediaqueue/jobqueue/internal/domain"
	"github.com/mediaqueue/jobqueue/internal/gateway"
	"github.com/mediaqueue/jobqueue/internal/jobstore"
)

// runShapeB drives the degenerate single-gateway pipeline: status=processing
// → provider submit → provider poll → status=completed with output URL
// (spec §4.8 Shape B). It backs generate and extend; try-on also resolves
// to this shape for any caller that dispatches it through the job queue,
// though the webhook handler calls the try-on gateway directly instead
// (spec §6's synchronous marking for /webhook/try-on).
func (o *Orchestrator) runShapeB(ctx context.Context, job *domain.Job, pc *domain.PipelineContext) error {
	pc.Prompt = stringField(job, "prompt")
	pc.Model = stringField(job, "model")
	pc.Tier = stringField(job, "tier")
	pc.ImageRefs = stringSliceField(job, "image_refs")
	pc.ProviderMetadata = job.Provenance

	gw, err := o.gatewayFor(job.Kind)
	if err != nil {
		return err
	}

	o.enterStage(ctx, job.ID, domain.StageProviderSubmit, 20)
	taskID, err := gw.Submit(ctx, map[string]any{
		"prompt":     pc.Prompt,
		"model":      pc.Model,
		"tier":       pc.Tier,
		"image_refs": pc.ImageRefs,
		"metadata":   pc.ProviderMetadata,
	})
	if err != nil {
		return fmt.Errorf("provider-submit: %w", err)
	}
	_ = o.Jobs.Mark(ctx, job.ID, jobstore.Update{
		ProviderTaskID:  taskID,
		ProvenancePatch: map[string]any{"provider_task_id": taskID},
	})

	o.enterStage(ctx, job.ID, domain.StageProviderPoll, 60)
	url, err := gw.PollUntilComplete(ctx, taskID, StageTimeout)
	if err != nil {
		return fmt.Errorf("provider-poll: %w", err)
	}

	pc.FinalOutputURL = url
	o.markCompleted(ctx, job.ID, url, pc.Artifacts())
	return nil
}

func (o *Orchestrator) gatewayFor(kind domain.Kind) (*gateway.Gateway, error) {
	switch kind {
	case domain.KindGenerate:
		if o.Gateways.Generate == nil {
			return nil, fmt.Errorf("no generate provider configured")
		}
		return o.Gateways.Generate, nil
	case domain.KindExtend:
		if o.Gateways.Video == nil {
			return nil, fmt.Errorf("no video provider configured for extend")
		}
		return o.Gateways.Video, nil
	case domain.KindTryOn:
		if o.Gateways.TryOn == nil {
			return nil, fmt.Errorf("no try-on provider configured")
		}
		return o.Gateways.TryOn, nil
	default:
		return nil, fmt.Errorf("unsupported kind for shape B: %q", kind)
	}
}
