// Package dispatcher runs the single-consumer loop that drains the task
// queue and drives each job through the orchestrator (spec §4.10).
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/mediaqueue/jobqueue/internal/domain"
	"github.com/mediaqueue/jobqueue/internal/metrics"
	"github.com/mediaqueue/jobqueue/internal/queue"
)

// Orchestrator is the subset of orchestrator.Orchestrator the dispatcher
// depends on.
type Orchestrator interface {
	Run(ctx context.Context, job *domain.Job) error
}

// JobLookup resolves a dequeued job id back to its full domain.Job. The
// queue only carries ids and small metadata; the dispatcher needs the
// job's kind and payload to hand it to the orchestrator, so it reads the
// durable record (JobStore or an equivalent lookup) before running it.
type JobLookup interface {
	Lookup(ctx context.Context, jobID string) (*domain.Job, error)
}

const dequeueTimeout = 5 * time.Second

// Dispatcher is the long-running queue consumer (spec §4.10). One
// dispatcher runs per replica; horizontal scale happens at the replica
// level, driven by the autoscaler.
type Dispatcher struct {
	Queue        *queue.Queue
	Orchestrator Orchestrator
	Lookup       JobLookup
	Metrics      *metrics.Registry
}

func New(q *queue.Queue, orch Orchestrator, lookup JobLookup, metricsRegistry *metrics.Registry) *Dispatcher {
	return &Dispatcher{Queue: q, Orchestrator: orch, Lookup: lookup, Metrics: metricsRegistry}
}

// Run blocks the calling goroutine, recovering stale in-flight jobs once
// at startup and then looping dequeue→orchestrate→ack/nack until ctx is
// cancelled. It never exits on handler errors, only on explicit shutdown.
func (d *Dispatcher) Run(ctx context.Context) {
	recovered, err := d.Queue.RecoverStale(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "dispatcher: startup stale recovery failed", "error", err)
	} else if recovered > 0 {
		slog.InfoContext(ctx, "dispatcher: recovered stale in-flight jobs", "count", recovered)
	}

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "dispatcher: shutdown signal received")
			return
		default:
		}

		jobID, ok, err := d.Queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.ErrorContext(ctx, "dispatcher: dequeue failed", "error", err)
			continue
		}
		if !ok {
			continue
		}

		d.processOne(ctx, jobID)
	}
}

func (d *Dispatcher) processOne(ctx context.Context, jobID string) {
	job, err := d.Lookup.Lookup(ctx, jobID)
	if err != nil {
		// Metadata vanished out from under us (TTL race): defensively ack
		// so the id doesn't linger in-flight forever.
		slog.WarnContext(ctx, "dispatcher: job lookup failed, acking defensively", "job_id", jobID, "error", err)
		if ackErr := d.Queue.Ack(ctx, jobID); ackErr != nil {
			slog.ErrorContext(ctx, "dispatcher: defensive ack failed", "job_id", jobID, "error", ackErr)
		}
		return
	}

	slog.InfoContext(ctx, "dispatcher: processing job", "job_id", jobID, "kind", job.Kind, "principal", job.Principal)

	runErr := d.runWithRecovery(ctx, job)

	if runErr == nil {
		if err := d.Queue.Ack(ctx, jobID); err != nil {
			slog.ErrorContext(ctx, "dispatcher: ack failed", "job_id", jobID, "error", err)
		}
		if d.Metrics != nil {
			d.Metrics.Incr("jobs.completed", 1)
		}
		slog.InfoContext(ctx, "dispatcher: job completed", "job_id", jobID)
		return
	}

	slog.ErrorContext(ctx, "dispatcher: job failed", "job_id", jobID, "error", runErr)
	if d.Metrics != nil {
		d.Metrics.Incr("jobs.failed", 1)
	}
	if err := d.Queue.Nack(ctx, jobID, runErr); err != nil {
		slog.ErrorContext(ctx, "dispatcher: nack failed", "job_id", jobID, "error", err)
	}
}

// runWithRecovery runs the orchestrator under panic recovery, converting a
// panic into a domain.PanicError so the dispatcher always has a normal
// error to nack with instead of crashing the consumer loop.
func (d *Dispatcher) runWithRecovery(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return d.Orchestrator.Run(ctx, job)
}
