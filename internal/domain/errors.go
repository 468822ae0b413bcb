package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors recognized across package boundaries with errors.Is.
var (
	// ErrNotFound is returned when a job id has no metadata record or job
	// store row.
	ErrNotFound = errors.New("domain: job not found")

	// ErrQueueEmpty is returned by a non-blocking dequeue attempt that found
	// nothing in pending.
	ErrQueueEmpty = errors.New("domain: queue empty")

	// ErrOrphanRecord marks an in-flight id whose metadata disappeared
	// (TTL expiry, external deletion); recover_stale drops it rather than
	// requeueing.
	ErrOrphanRecord = errors.New("domain: orphaned in-flight record")

	// ErrInvalidAPIKeyFormat is returned when a tenant-issued API key
	// string doesn't split into the expected five hyphen-separated parts.
	ErrInvalidAPIKeyFormat = errors.New("domain: invalid api key format")
)

// Transient wraps an error that the caller should retry (provider 5xx/429,
// transport failure, gateway timeout). It mirrors the teacher's retryable
// error pattern: callers use errors.As to detect it and re-drive the retry
// loop instead of failing the job outright.
type Transient struct {
	Err error
}

func (e *Transient) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *Transient) Unwrap() error { return e.Err }

// NewTransient wraps err as a Transient error. A nil err returns nil.
func NewTransient(err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Err: err}
}

// IsTransient reports whether err (or any error it wraps) is Transient.
func IsTransient(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}

// PanicError wraps a recovered panic value so the dispatcher can log it and
// nack the job instead of crashing the consumer loop.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Value)
}

// JobCancelled marks a job whose context was cancelled mid-stage (e.g. the
// total stage deadline elapsed). It is a permanent, non-retryable failure.
type JobCancelled struct {
	JobID  string
	Reason string
}

func (e *JobCancelled) Error() string {
	return fmt.Sprintf("job %s cancelled: %s", e.JobID, e.Reason)
}

// GatewayError is the typed failure surface of ProviderGateway: every
// failure, transport or semantic, becomes one of these so callers never
// branch on provider-specific strings.
type GatewayError struct {
	Provider    string
	StatusCode  int // 0 when no HTTP response was received
	Message     string
	Retryable   bool
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s", e.Provider, e.Message)
}

// ErrStageSkipped marks an optional stage (such as face close-up
// resolution) that had nothing to do for a given job — not an error
// condition, but distinguishable from a stage that ran.
var ErrStageSkipped = errors.New("domain: stage skipped, no applicable input")
