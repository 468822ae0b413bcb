// Package orchestrator drives a job's multi-stage pipeline (spec §4.8): it
// owns stage transitions, partial-failure policy, and artifact threading
// between stages. Two canonical shapes are supported: Shape A (image
// composition, fan-out with partial-failure tolerance) and Shape B
// (generic single-gateway submit/poll).
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediaqueue/jobqueue/internal/domain"
	"github.com/mediaqueue/jobqueue/internal/gateway"
	"github.com/mediaqueue/jobqueue/internal/jobstore"
	"github.com/mediaqueue/jobqueue/internal/metrics"
	"github.com/mediaqueue/jobqueue/internal/objectstore"
	"github.com/mediaqueue/jobqueue/internal/ptr"
)

// Gateways bundles the provider clients an Orchestrator drives. Each field
// may independently be nil if that provider path is unused by the
// deployment; the corresponding stage fails fast with a clear error rather
// than panicking.
type Gateways struct {
	TryOn               *gateway.Gateway
	CompositionPrimary  *gateway.Gateway
	CompositionFallback *gateway.Gateway
	Video               *gateway.Gateway
	Generate            *gateway.Gateway
}

// StageTimeout bounds a single stage's total submit+poll deadline (spec
// §5: "each provider submit/poll/result has an independent timeout;
// polling has a total deadline, default 5-15 min per stage").
const StageTimeout = 10 * time.Minute

// Orchestrator runs a job's pipeline stage by stage, persisting progress to
// the JobStore at every stage boundary.
type Orchestrator struct {
	Jobs     jobstore.Store
	Gateways Gateways
	Metrics  *metrics.Registry

	// Objects archives a completed job's artifact manifest (the final
	// output URL plus every stage-exit patch) for durable audit once the
	// job store's own row expires or is overwritten. Optional; nil skips
	// archiving.
	Objects objectstore.Store
}

func New(jobs jobstore.Store, gateways Gateways, metricsRegistry *metrics.Registry) *Orchestrator {
	return &Orchestrator{Jobs: jobs, Gateways: gateways, Metrics: metricsRegistry}
}

// Run drives job to completion or failure, routing to the pipeline shape
// implied by its kind. It returns the terminal error, if any — the caller
// (Dispatcher) decides whether that error is nackable.
func (o *Orchestrator) Run(ctx context.Context, job *domain.Job) error {
	pc := &domain.PipelineContext{
		JobID:     job.ID,
		Principal: job.Principal,
		Kind:      job.Kind,
	}

	if err := o.Jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("orchestrator: create job row: %w", err)
	}

	var err error
	switch job.Kind {
	case domain.KindFashionGenerate:
		err = o.runShapeA(ctx, job, pc)
	case domain.KindGenerate, domain.KindExtend, domain.KindTryOn:
		err = o.runShapeB(ctx, job, pc)
	default:
		err = fmt.Errorf("orchestrator: unrecognized job kind %q", job.Kind)
	}

	if err != nil {
		o.markFailed(ctx, job.ID, err)
		return err
	}
	return nil
}

// enterStage writes the stage-entry status row (spec §4.8: "every stage
// entry writes an external status row").
func (o *Orchestrator) enterStage(ctx context.Context, jobID string, stage domain.Stage, progress int) {
	_ = o.Jobs.Mark(ctx, jobID, jobstore.Update{
		Status:          domain.StatusProcessing,
		CurrentStage:    string(stage),
		ProgressPercent: ptr.To(progress),
	})
}

// exitStage writes stage-exit artifacts into provenance (spec §4.8: "every
// stage exit writes intermediate artifacts into the same row's provenance
// metadata").
func (o *Orchestrator) exitStage(ctx context.Context, jobID string, patch map[string]any) {
	if len(patch) == 0 {
		return
	}
	_ = o.Jobs.Mark(ctx, jobID, jobstore.Update{ProvenancePatch: patch})
}

func (o *Orchestrator) markFailed(ctx context.Context, jobID string, cause error) {
	_ = o.Jobs.Mark(ctx, jobID, jobstore.Update{
		Status:       domain.StatusFailed,
		ErrorMessage: domain.TruncateError(cause.Error()),
	})
	if o.Metrics != nil {
		o.Metrics.Incr("errors.orchestrator", 1)
	}
}

func (o *Orchestrator) markCompleted(ctx context.Context, jobID, outputURL string, patch map[string]any) {
	_ = o.Jobs.Mark(ctx, jobID, jobstore.Update{
		Status:          domain.StatusCompleted,
		CurrentStage:    string(domain.StageResultCommit),
		ProgressPercent: ptr.To(100),
		OutputURL:       outputURL,
		ProvenancePatch: patch,
	})
	o.archiveArtifacts(ctx, jobID, outputURL, patch)
}

// archiveArtifacts writes a durable manifest of a completed job's output
// URL and final-stage artifacts, independent of the job store row's own
// retention. Best-effort: a failure here doesn't fail the job, since the
// job already completed successfully by the time this runs.
func (o *Orchestrator) archiveArtifacts(ctx context.Context, jobID, outputURL string, patch map[string]any) {
	if o.Objects == nil {
		return
	}
	manifest, err := json.Marshal(map[string]any{
		"job_id":     jobID,
		"output_url": outputURL,
		"artifacts":  patch,
	})
	if err != nil {
		slog.ErrorContext(ctx, "orchestrator: marshal artifact manifest failed", "job_id", jobID, "error", err)
		return
	}
	key := fmt.Sprintf("jobs/%s/manifest.json", jobID)
	if _, err := o.Objects.Put(ctx, key, manifest, "application/json"); err != nil {
		slog.ErrorContext(ctx, "orchestrator: archive artifact manifest failed", "job_id", jobID, "error", err)
	}
}
