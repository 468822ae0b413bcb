// Package admission implements the HTTP-boundary orchestration sequence
// that fronts every webhook: authenticate, rate-check, then either enqueue
// (distributed mode) or run inline under a concurrency guard (fallback
// mode) (spec §4.11).
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediaqueue/jobqueue/internal/concurrency"
	"github.com/mediaqueue/jobqueue/internal/config"
	"github.com/mediaqueue/jobqueue/internal/domain"
	"github.com/mediaqueue/jobqueue/internal/jobstore"
	"github.com/mediaqueue/jobqueue/internal/metrics"
	"github.com/mediaqueue/jobqueue/internal/ptr"
	"github.com/mediaqueue/jobqueue/internal/queue"
	"github.com/mediaqueue/jobqueue/internal/ratelimit"
)

// InlineRunner is the subset of orchestrator.Orchestrator the fallback
// path needs. Matches dispatcher.Orchestrator so a single orchestrator
// value satisfies both without either package importing the other.
type InlineRunner interface {
	Run(ctx context.Context, job *domain.Job) error
}

// Result is what AdmissionService returns to the HTTP handler on success.
type Result struct {
	JobID               string
	Enqueued            bool
	Position            int64
	Status              domain.Status
	EstimatedWaitSeconds int
}

// Service is the AdmissionService. Exactly one of Queue (distributed mode)
// or Guard+Inline (fallback mode) is wired, selected by config at startup.
type Service struct {
	Config  *config.Config
	Limiter ratelimit.Limiter
	Metrics *metrics.Registry
	Jobs    jobstore.Store

	Queue *queue.Queue // nil in fallback mode

	Guard  *concurrency.Guard // nil in distributed mode
	Inline InlineRunner       // nil in distributed mode
}

// Authenticate performs the constant-time shared-secret check required on
// /webhook/* paths. Other paths are public and never call this.
func (s *Service) Authenticate(ctx context.Context, suppliedSecret string) error {
	if !s.Config.AuthRequired() {
		return nil
	}
	if !CheckSharedSecret(s.Config.SharedSecret, suppliedSecret) {
		slog.WarnContext(ctx, "admission: auth rejected", "supplied_secret_hash", secretLabel(suppliedSecret))
		return ErrUnauthenticated
	}
	return nil
}

// Admit runs the full per-request sequence for a queueable job: rate
// check, then enqueue-or-inline. The caller has already authenticated and
// constructed job with its kind/payload/provenance populated.
func (s *Service) Admit(ctx context.Context, job *domain.Job) (*Result, error) {
	s.Metrics.Incr("requests."+string(job.Kind), 1)

	if err := s.checkRateLimit(ctx, job.Principal); err != nil {
		return nil, err
	}

	if s.Queue != nil {
		return s.admitDistributed(ctx, job)
	}
	return s.admitFallback(ctx, job)
}

// CheckRateLimitOnly backs synchronous endpoints (validation, small
// edits) that never enqueue but still pass through rate limiting (spec
// §4.11, last bullet).
func (s *Service) CheckRateLimitOnly(ctx context.Context, principal string) error {
	return s.checkRateLimit(ctx, principal)
}

func (s *Service) checkRateLimit(ctx context.Context, principal string) error {
	max := s.Config.RateLimit.FallbackMax
	if s.Config.DistributedMode() {
		max = s.Config.RateLimit.DistributedMax
	}
	window := time.Duration(s.Config.RateLimit.WindowSeconds) * time.Second

	result, err := s.Limiter.Check(ctx, principal, max, window)
	if err != nil {
		s.Metrics.RecordError("rate_limiter", err.Error())
		return fmt.Errorf("admission: rate check: %w", err)
	}
	if !result.Allowed {
		s.Metrics.Incr("errors.rate_limited", 1)
		slog.WarnContext(ctx, "admission: rate limited", "principal", principal, "retry_after_seconds", result.RetryAfterSeconds)
		return &ErrRateLimited{RetryAfterSeconds: result.RetryAfterSeconds}
	}
	return nil
}

func (s *Service) admitDistributed(ctx context.Context, job *domain.Job) (*Result, error) {
	pos, err := s.Queue.Enqueue(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("admission: enqueue: %w", err)
	}

	if s.Jobs != nil {
		if err := s.Jobs.Create(ctx, job); err != nil {
			slog.ErrorContext(ctx, "admission: mirror job-store create failed", "job_id", job.ID, "error", err)
		} else if err := s.Jobs.Mark(ctx, job.ID, jobstore.Update{
			Status:          domain.StatusQueued,
			ProgressPercent: ptr.To(0),
			ProvenancePatch: map[string]any{"queue_position": pos},
		}); err != nil {
			slog.ErrorContext(ctx, "admission: mirror job-store mark failed", "job_id", job.ID, "error", err)
		}
	}

	wait, err := s.Queue.EstimateWait(ctx, job.ID)
	if err != nil {
		wait = 0
	}

	return &Result{
		JobID:                job.ID,
		Enqueued:             true,
		Position:             pos,
		Status:               domain.StatusQueued,
		EstimatedWaitSeconds: int(wait.Seconds()),
	}, nil
}

func (s *Service) admitFallback(ctx context.Context, job *domain.Job) (*Result, error) {
	if !s.Guard.TryAcquire() {
		s.Metrics.Incr("errors.saturated", 1)
		return nil, ErrSaturated
	}

	go func() {
		defer s.Guard.Release()
		runCtx := context.Background()
		if err := s.Inline.Run(runCtx, job); err != nil {
			slog.ErrorContext(runCtx, "admission: inline job failed", "job_id", job.ID, "error", err)
		}
	}()

	return &Result{
		JobID:    job.ID,
		Enqueued: false,
		Status:   domain.StatusProcessing,
	}, nil
}
