// Package queue implements the TaskQueue: three ordered lists (pending,
// in-flight, dead) over job identifiers plus per-job metadata records, all
// held in the distributed MetadataStore backend (spec §4.5). The atomic
// move primitive is the reliability core: a crash between phases cannot
// lose a job.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mediaqueue/jobqueue/internal/domain"
	"github.com/mediaqueue/jobqueue/internal/store"
)

// Persisted list and counter keys, per spec §6.
const (
	ListPending    = "taskqueue:jobs"
	ListInFlight   = "taskqueue:processing"
	ListDeadLetter = "taskqueue:dead_letter"
	SeqCounterKey  = "taskqueue:seq"
)

func metaKey(jobID string) string {
	return "taskqueue:meta:" + jobID
}

// meanDurationByKind is the static per-kind mean-duration table
// EstimateWait uses to project wait time from queue position (spec §4.5).
var meanDurationByKind = map[domain.Kind]time.Duration{
	domain.KindGenerate:        90 * time.Second,
	domain.KindFashionGenerate: 180 * time.Second,
	domain.KindTryOn:           20 * time.Second,
	domain.KindExtend:          60 * time.Second,
}

const defaultMeanDuration = 60 * time.Second

// Config holds the queue's tunables, sourced from internal/config.Queue.
type Config struct {
	MaxRetries   int
	StaleTimeout time.Duration
	MetadataTTL  time.Duration
}

// Queue is the TaskQueue, built against a store.Store whose backend must
// support the atomic move primitive (store.Store.SupportsAtomicMove()).
// Fallback-mode deployments never construct a Queue; they run inline via
// internal/concurrency instead (spec §4.2).
type Queue struct {
	store store.Store
	cfg   Config
}

// New constructs a Queue. It panics if backend does not support the atomic
// move primitive — this is a startup-time configuration error, not a
// runtime condition, since the composition root only ever wires a Queue
// when the distributed backend was successfully probed.
func New(backend store.Store, cfg Config) *Queue {
	if !backend.SupportsAtomicMove() {
		panic("queue: backend does not support the atomic move primitive")
	}
	return &Queue{store: backend, cfg: cfg}
}

// Enqueue transactionally writes the job's metadata hash with TTL and
// pushes its id onto the head of pending. Returns the job's 1-based
// position (the pending list length after the push).
func (q *Queue) Enqueue(ctx context.Context, job *domain.Job) (int64, error) {
	seq, err := q.store.NextSeq(ctx, SeqCounterKey)
	if err != nil {
		return 0, fmt.Errorf("queue: enqueue %s: seq: %w", job.ID, err)
	}
	job.Seq = seq
	job.Status = domain.StatusQueued
	job.EnqueuedAt = time.Now()

	fields := map[string]string{
		"job_id":      job.ID,
		"principal":   job.Principal,
		"kind":        string(job.Kind),
		"status":      string(job.Status),
		"retry_count": "0",
		"enqueued_at": strconv.FormatInt(job.EnqueuedAt.Unix(), 10),
		"seq":         strconv.FormatInt(seq, 10),
	}
	if len(job.Payload) > 0 {
		fields["payload"] = string(job.Payload)
	}

	if err := q.store.SetHash(ctx, metaKey(job.ID), fields, q.cfg.MetadataTTL); err != nil {
		return 0, fmt.Errorf("queue: enqueue %s: %w", job.ID, err)
	}
	if err := q.store.ListPushHead(ctx, ListPending, job.ID); err != nil {
		return 0, fmt.Errorf("queue: enqueue %s: push: %w", job.ID, err)
	}

	return q.store.ListLen(ctx, ListPending)
}

// Dequeue performs the blocking atomic move of one id from the tail of
// pending to the head of in-flight, stamping processing_started_at on its
// metadata. Returns ok=false on timeout with no error.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (jobID string, ok bool, err error) {
	id, moved, err := q.store.AtomicMove(ctx, ListPending, ListInFlight, timeout)
	if err != nil {
		return "", false, fmt.Errorf("queue: dequeue: %w", err)
	}
	if !moved {
		return "", false, nil
	}

	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := q.store.UpdateHash(ctx, metaKey(id), map[string]string{
		"processing_started_at": now,
		"status":                string(domain.StatusProcessing),
	}); err != nil {
		return id, true, fmt.Errorf("queue: dequeue %s: stamp processing start: %w", id, err)
	}
	return id, true, nil
}

// Ack removes id from in-flight and marks its metadata status completed.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	if err := q.store.ListRemove(ctx, ListInFlight, jobID); err != nil {
		return fmt.Errorf("queue: ack %s: %w", jobID, err)
	}
	if err := q.store.UpdateHash(ctx, metaKey(jobID), map[string]string{
		"status": string(domain.StatusCompleted),
	}); err != nil {
		return fmt.Errorf("queue: ack %s: update meta: %w", jobID, err)
	}
	return nil
}

// Nack records the error, increments retry count, and removes the id from
// in-flight — the count-increment and removal commit in a single
// transaction (store.Store.IncrFieldAndListRemove). If retries remain,
// the id is pushed back onto the tail of pending, the end Dequeue takes
// from (so retried jobs are served ahead of newly enqueued ones — a
// deliberate bias toward finishing paid-for work). Otherwise it is pushed
// onto dead and marked dead_letter.
func (q *Queue) Nack(ctx context.Context, jobID string, cause error) error {
	key := metaKey(jobID)

	if err := q.store.UpdateHash(ctx, key, map[string]string{
		"last_error": domain.TruncateError(cause.Error()),
	}); err != nil {
		return fmt.Errorf("queue: nack %s: record error: %w", jobID, err)
	}

	retries, err := q.store.IncrFieldAndListRemove(ctx, key, "retry_count", 1, ListInFlight, jobID)
	if err != nil {
		return fmt.Errorf("queue: nack %s: %w", jobID, err)
	}

	if int(retries) < q.cfg.MaxRetries {
		if err := q.store.UpdateHash(ctx, key, map[string]string{"status": string(domain.StatusQueued)}); err != nil {
			return fmt.Errorf("queue: nack %s: mark queued: %w", jobID, err)
		}
		if err := q.store.ListPushTail(ctx, ListPending, jobID); err != nil {
			return fmt.Errorf("queue: nack %s: requeue: %w", jobID, err)
		}
		return nil
	}

	if err := q.store.UpdateHash(ctx, key, map[string]string{"status": string(domain.StatusDeadLetter)}); err != nil {
		return fmt.Errorf("queue: nack %s: mark dead letter: %w", jobID, err)
	}
	if err := q.store.ListPushHead(ctx, ListDeadLetter, jobID); err != nil {
		return fmt.Errorf("queue: nack %s: dead letter push: %w", jobID, err)
	}
	return nil
}

// RecoverStale scans in-flight for ids whose processing_started_at is
// older than StaleTimeout or whose metadata is missing, removing each from
// in-flight and either requeueing (metadata present) or dropping it as an
// orphan. Returns the count recovered (requeued + dropped).
func (q *Queue) RecoverStale(ctx context.Context) (int, error) {
	ids, err := q.store.ListRange(ctx, ListInFlight, 0)
	if err != nil {
		return 0, fmt.Errorf("queue: recover stale: list in-flight: %w", err)
	}

	recovered := 0
	cutoff := time.Now().Add(-q.cfg.StaleTimeout)

	for _, id := range ids {
		fields, ok, err := q.store.GetHash(ctx, metaKey(id))
		if err != nil {
			return recovered, fmt.Errorf("queue: recover stale: meta %s: %w", id, err)
		}
		if !ok {
			// Orphan: no metadata. Drop from in-flight.
			if err := q.store.ListRemove(ctx, ListInFlight, id); err != nil {
				return recovered, fmt.Errorf("queue: recover stale: drop orphan %s: %w", id, err)
			}
			recovered++
			continue
		}

		startedAt, _ := strconv.ParseInt(fields["processing_started_at"], 10, 64)
		if startedAt == 0 || time.Unix(startedAt, 0).After(cutoff) {
			continue // not stale yet
		}

		if err := q.store.ListRemove(ctx, ListInFlight, id); err != nil {
			return recovered, fmt.Errorf("queue: recover stale: remove %s: %w", id, err)
		}
		if err := q.store.UpdateHash(ctx, metaKey(id), map[string]string{"status": string(domain.StatusQueued)}); err != nil {
			return recovered, fmt.Errorf("queue: recover stale: mark queued %s: %w", id, err)
		}
		if err := q.store.ListPushHead(ctx, ListPending, id); err != nil {
			return recovered, fmt.Errorf("queue: recover stale: requeue %s: %w", id, err)
		}
		recovered++
	}

	return recovered, nil
}

// Position returns the job's 1-based position in pending, counted from the
// tail (next-to-be-dequeued = 1), or 0 if the job is not pending.
func (q *Queue) Position(ctx context.Context, jobID string) (int64, error) {
	pos, err := q.store.ListPosition(ctx, ListPending, jobID)
	if err != nil {
		return 0, fmt.Errorf("queue: position %s: %w", jobID, err)
	}
	return pos, nil
}

// EstimateWait projects (position-1) x per-kind mean duration using the
// static duration table.
func (q *Queue) EstimateWait(ctx context.Context, jobID string) (time.Duration, error) {
	fields, ok, err := q.store.GetHash(ctx, metaKey(jobID))
	if err != nil {
		return 0, fmt.Errorf("queue: estimate wait %s: %w", jobID, err)
	}
	if !ok {
		return 0, domain.ErrNotFound
	}

	pos, err := q.Position(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if pos <= 0 {
		return 0, nil
	}

	mean, ok := meanDurationByKind[domain.Kind(fields["kind"])]
	if !ok {
		mean = defaultMeanDuration
	}
	return time.Duration(pos-1) * mean, nil
}

// Status returns the job's current status and retry count from its
// metadata record, used by the /queue/status endpoint.
func (q *Queue) Status(ctx context.Context, jobID string) (domain.Status, int, bool, error) {
	fields, ok, err := q.store.GetHash(ctx, metaKey(jobID))
	if err != nil {
		return "", 0, false, fmt.Errorf("queue: status %s: %w", jobID, err)
	}
	if !ok {
		return "", 0, false, nil
	}
	retries, _ := strconv.Atoi(fields["retry_count"])
	return domain.Status(fields["status"]), retries, true, nil
}

// Lookup reconstructs a job from its metadata record for the dispatcher to
// hand to the orchestrator. Satisfies dispatcher.JobLookup.
func (q *Queue) Lookup(ctx context.Context, jobID string) (*domain.Job, error) {
	fields, ok, err := q.store.GetHash(ctx, metaKey(jobID))
	if err != nil {
		return nil, fmt.Errorf("queue: lookup %s: %w", jobID, err)
	}
	if !ok {
		return nil, domain.ErrNotFound
	}

	job := &domain.Job{
		ID:        jobID,
		Principal: fields["principal"],
		Kind:      domain.Kind(fields["kind"]),
		Status:    domain.Status(fields["status"]),
	}
	if retries, err := strconv.Atoi(fields["retry_count"]); err == nil {
		job.RetryCount = retries
	}
	if payload, ok := fields["payload"]; ok && payload != "" {
		job.Payload = []byte(payload)
		var provenance map[string]any
		if err := json.Unmarshal(job.Payload, &provenance); err == nil {
			job.Provenance = provenance
		}
	}
	return job, nil
}

// QueueLength returns the pending list length, used by the autoscaler and
// health/metrics surfaces.
func (q *Queue) QueueLength(ctx context.Context) (int64, error) {
	n, err := q.store.ListLen(ctx, ListPending)
	if err != nil {
		return 0, fmt.Errorf("queue: queue length: %w", err)
	}
	return n, nil
}

// InFlightLength returns the in-flight list length.
func (q *Queue) InFlightLength(ctx context.Context) (int64, error) {
	n, err := q.store.ListLen(ctx, ListInFlight)
	if err != nil {
		return 0, fmt.Errorf("queue: in-flight length: %w", err)
	}
	return n, nil
}

// DeadLetterEntry is one row returned by ListDead.
type DeadLetterEntry struct {
	JobID      string
	Kind       domain.Kind
	RetryCount int
	LastError  string
}

// ListDead returns up to limit dead-lettered jobs' metadata.
func (q *Queue) ListDead(ctx context.Context, limit int64) ([]DeadLetterEntry, error) {
	ids, err := q.store.ListRange(ctx, ListDeadLetter, limit)
	if err != nil {
		return nil, fmt.Errorf("queue: list dead: %w", err)
	}

	out := make([]DeadLetterEntry, 0, len(ids))
	for _, id := range ids {
		fields, ok, err := q.store.GetHash(ctx, metaKey(id))
		if err != nil {
			return nil, fmt.Errorf("queue: list dead: meta %s: %w", id, err)
		}
		if !ok {
			continue
		}
		retries, _ := strconv.Atoi(fields["retry_count"])
		out = append(out, DeadLetterEntry{
			JobID:      id,
			Kind:       domain.Kind(fields["kind"]),
			RetryCount: retries,
			LastError:  fields["last_error"],
		})
	}
	return out, nil
}

// RetryDead resets a dead-lettered job's retry count and moves it back to
// pending, optionally recording who reviewed it and why — a supplement
// carried from the original source's dead-letter review metadata.
func (q *Queue) RetryDead(ctx context.Context, jobID string, reviewedBy, note string) error {
	key := metaKey(jobID)

	if err := q.store.ListRemove(ctx, ListDeadLetter, jobID); err != nil {
		return fmt.Errorf("queue: retry dead %s: remove: %w", jobID, err)
	}

	fields := map[string]string{
		"status":      string(domain.StatusQueued),
		"retry_count": "0",
	}
	if reviewedBy != "" {
		fields["reviewed_by"] = reviewedBy
	}
	if note != "" {
		fields["review_note"] = note
	}
	if err := q.store.UpdateHash(ctx, key, fields); err != nil {
		return fmt.Errorf("queue: retry dead %s: update meta: %w", jobID, err)
	}
	if err := q.store.ListPushHead(ctx, ListPending, jobID); err != nil {
		return fmt.Errorf("queue: retry dead %s: requeue: %w", jobID, err)
	}
	return nil
}
