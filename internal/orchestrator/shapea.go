package orchestrator

import (
	"context"
	"fmt"

	"github.com/mediaqueue/jobqueue/internal/domain"
	"github.com/mediaqueue/jobqueue/internal/gateway"
	"github.com/mediaqueue/jobqueue/internal/presets"
)

// runShapeA drives the image-composition pipeline: identity-resolve →
// per-angle on-model fan-out → identity-lock transfer → triptych
// composition → final video synthesis → result commit (spec §4.8 Shape A).
func (o *Orchestrator) runShapeA(ctx context.Context, job *domain.Job, pc *domain.PipelineContext) error {
	pc.GarmentImageURL = stringField(job, "garment_image_url")
	pc.PresetID = stringField(job, "preset_id")
	pc.AspectRatio = stringField(job, "aspect_ratio")
	pc.IdentityID = stringField(job, "identity_id")

	if err := o.resolveIdentity(ctx, job.ID, pc); err != nil {
		return err
	}
	if err := o.resolveFaceCloseUps(ctx, job.ID, pc); err != nil && err != domain.ErrStageSkipped {
		return err
	}
	if err := o.onModelFanOut(ctx, job.ID, pc); err != nil {
		return err
	}
	if err := o.identityLockTransfer(ctx, job.ID, pc); err != nil {
		return err
	}
	if err := o.composeTriptych(ctx, job.ID, pc); err != nil {
		return err
	}
	if err := o.synthesizeVideo(ctx, job.ID, pc); err != nil {
		return err
	}

	o.markCompleted(ctx, job.ID, pc.FinalOutputURL, pc.Artifacts())
	return nil
}

// stringField reads a string out of the job's decoded payload. The
// webhook handler decodes the wire payload into Job.Provenance before
// handing the job to the queue, so fields are looked up there.
func stringField(job *domain.Job, key string) string {
	if job.Provenance == nil {
		return ""
	}
	if v, ok := job.Provenance[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func stringSliceField(job *domain.Job, key string) []string {
	if job.Provenance == nil {
		return nil
	}
	raw, ok := job.Provenance[key]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, v := range items {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (o *Orchestrator) resolveIdentity(ctx context.Context, jobID string, pc *domain.PipelineContext) error {
	o.enterStage(ctx, jobID, domain.StageIdentityResolve, 5)

	angles, err := o.Jobs.FetchAngleReferences(ctx, jobID)
	if err != nil {
		return fmt.Errorf("identity-resolve: fetch angle references: %w", err)
	}
	if len(angles) == 0 {
		return fmt.Errorf("identity-resolve: job %s carries no reference angles", jobID)
	}
	pc.ReferenceAngles = angles
	pc.CleanedReferenceURLs = angles // cleaning is a provider no-op placeholder when no dedicated cleaner is configured

	o.exitStage(ctx, jobID, map[string]any{"cleaned_reference_urls": pc.CleanedReferenceURLs})
	return nil
}

// resolveFaceCloseUps is optional auxiliary ingredient resolution: some
// jobs carry pre-cropped identity close-ups, others don't. Returns
// domain.ErrStageSkipped when the job has none, which the caller treats as
// a non-failure.
func (o *Orchestrator) resolveFaceCloseUps(ctx context.Context, jobID string, pc *domain.PipelineContext) error {
	closeUps, err := o.Jobs.FetchFaceCloseUps(ctx, jobID)
	if err != nil {
		return fmt.Errorf("face-close-up resolve: %w", err)
	}
	if len(closeUps) == 0 {
		return domain.ErrStageSkipped
	}
	pc.FaceCloseUpURLs = closeUps
	o.exitStage(ctx, jobID, map[string]any{"face_close_up_urls": closeUps})
	return nil
}

// onModelFanOut issues one tryon call per reference angle. Partial-failure
// policy (spec §4.8): a failed angle is logged but does not abort the job
// provided at least one angle succeeds; zero successes fails the stage.
func (o *Orchestrator) onModelFanOut(ctx context.Context, jobID string, pc *domain.PipelineContext) error {
	o.enterStage(ctx, jobID, domain.StageOnModelFanOut, 20)

	if o.Gateways.TryOn == nil {
		return fmt.Errorf("on-model fan-out: no try-on provider configured")
	}

	var succeeded, failed []string
	onModelURLs := make([]string, 0, len(pc.ReferenceAngles))
	for _, angle := range pc.ReferenceAngles {
		taskID, err := o.Gateways.TryOn.Submit(ctx, map[string]any{
			"garment_image_url": pc.GarmentImageURL,
			"reference_image":   angle,
			"preset_id":         pc.PresetID,
		})
		if err != nil {
			failed = append(failed, angle)
			if o.Metrics != nil {
				o.Metrics.RecordError("gateway.tryon", err.Error())
			}
			continue
		}
		url, err := o.Gateways.TryOn.PollUntilComplete(ctx, taskID, StageTimeout)
		if err != nil {
			failed = append(failed, angle)
			if o.Metrics != nil {
				o.Metrics.RecordError("gateway.tryon", err.Error())
			}
			continue
		}
		succeeded = append(succeeded, angle)
		onModelURLs = append(onModelURLs, url)
	}

	if len(succeeded) == 0 {
		return fmt.Errorf("on-model fan-out: all %d angles failed", len(pc.ReferenceAngles))
	}

	pc.OnModelURLs = onModelURLs
	pc.FailedAngles = failed
	o.exitStage(ctx, jobID, map[string]any{
		"on_model_urls": onModelURLs,
		"failed_angles": failed,
	})
	return nil
}

func (o *Orchestrator) identityLockTransfer(ctx context.Context, jobID string, pc *domain.PipelineContext) error {
	o.enterStage(ctx, jobID, domain.StageIdentityLock, 45)

	if o.Gateways.TryOn == nil {
		return fmt.Errorf("identity-lock: no try-on provider configured")
	}

	locked := make([]string, 0, len(pc.OnModelURLs))
	for _, url := range pc.OnModelURLs {
		taskID, err := o.Gateways.TryOn.Submit(ctx, map[string]any{
			"identity_id": pc.IdentityID,
			"source_url":  url,
			"mode":        "identity_lock",
		})
		if err != nil {
			return fmt.Errorf("identity-lock: submit: %w", err)
		}
		lockedURL, err := o.Gateways.TryOn.PollUntilComplete(ctx, taskID, StageTimeout)
		if err != nil {
			return fmt.Errorf("identity-lock: poll: %w", err)
		}
		locked = append(locked, lockedURL)
	}

	pc.OnModelURLs = locked
	o.exitStage(ctx, jobID, map[string]any{"identity_locked_urls": locked})
	return nil
}

// composeTriptych threads the composite plus optional face close-up
// ingredients. The primary stitching provider is tried first; on any error
// it falls back to the secondary provider (spec §4.8 "composition
// fallback").
func (o *Orchestrator) composeTriptych(ctx context.Context, jobID string, pc *domain.PipelineContext) error {
	o.enterStage(ctx, jobID, domain.StageComposition, 65)

	payload := map[string]any{
		"on_model_urls":     pc.OnModelURLs,
		"face_close_up_urls": pc.FaceCloseUpURLs,
		"aspect_ratio":      pc.AspectRatio,
	}

	path := "primary"
	url, err := o.composeVia(ctx, o.Gateways.CompositionPrimary, payload)
	if err != nil {
		path = "fallback"
		url, err = o.composeVia(ctx, o.Gateways.CompositionFallback, payload)
		if err != nil {
			return fmt.Errorf("composition: both primary and fallback failed: %w", err)
		}
	}

	pc.CompositeURL = url
	pc.CompositionPath = path
	o.exitStage(ctx, jobID, map[string]any{
		"composite_url":    url,
		"composition_path": path,
	})
	return nil
}

func (o *Orchestrator) composeVia(ctx context.Context, gw *gateway.Gateway, payload map[string]any) (string, error) {
	if gw == nil {
		return "", fmt.Errorf("composition provider not configured")
	}
	taskID, err := gw.Submit(ctx, payload)
	if err != nil {
		return "", err
	}
	return gw.PollUntilComplete(ctx, taskID, StageTimeout)
}

func (o *Orchestrator) synthesizeVideo(ctx context.Context, jobID string, pc *domain.PipelineContext) error {
	o.enterStage(ctx, jobID, domain.StageVideoSynthesis, 85)

	if o.Gateways.Video == nil {
		return fmt.Errorf("video synthesis: no video provider configured")
	}

	payload := map[string]any{
		"composite_url": pc.CompositeURL,
		"preset_id":     pc.PresetID,
	}
	if pc.PresetID != "" {
		preset, err := presets.Get(pc.PresetID)
		if err != nil {
			return fmt.Errorf("video synthesis: %w", err)
		}
		payload["prompt"] = preset.Prompt
		payload["camera_move"] = preset.CameraMove
		payload["duration"] = preset.Duration
	}

	taskID, err := o.Gateways.Video.Submit(ctx, payload)
	if err != nil {
		return fmt.Errorf("video synthesis: submit: %w", err)
	}
	url, err := o.Gateways.Video.PollUntilComplete(ctx, taskID, StageTimeout)
	if err != nil {
		return fmt.Errorf("video synthesis: poll: %w", err)
	}

	pc.FinalOutputURL = url
	o.exitStage(ctx, jobID, map[string]any{"generated_scene_url": url})
	return nil
}
