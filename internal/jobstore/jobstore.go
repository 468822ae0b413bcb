// Package jobstore is the thin projection of pipeline state onto a
// persistent row per job (spec §4.9). This is the client-visible,
// durable history; the queue's metadata record (internal/queue) is
// ephemeral by comparison. This component is explicitly allowed to make
// blocking I/O calls.
package jobstore

import (
	"context"
	"time"

	"github.com/mediaqueue/jobqueue/internal/domain"
)

// Row is a job's durable record.
type Row struct {
	JobID           string
	Principal       string
	Kind            domain.Kind
	Status          domain.Status
	CurrentStage    string
	ProgressPercent int
	ProviderTaskID  string
	OutputURL       string
	ErrorMessage    string
	Provenance      map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Update is the set of fields a stage transition writes. Every stage entry
// writes status/stage/progress; every stage exit merges ProvenancePatch
// into the row's provenance JSON (spec §4.8's "common behaviors").
// Zero-value fields (empty string, nil map) are left untouched on the row.
type Update struct {
	Status          domain.Status
	CurrentStage    string
	ProgressPercent *int
	ProviderTaskID  string
	OutputURL       string
	ErrorMessage    string
	ProvenancePatch map[string]any
}

// Store is the JobStore contract.
type Store interface {
	// Create inserts the initial row for a newly admitted job, status
	// queued.
	Create(ctx context.Context, job *domain.Job) error

	// Mark applies an Update to jobID's row. Implementations must be safe
	// to call repeatedly with the same inputs (stage idempotence, spec
	// §4.8): re-running a stage overwrites by job id, it never appends a
	// new row.
	Mark(ctx context.Context, jobID string, update Update) error

	// Get reads a job's current row.
	Get(ctx context.Context, jobID string) (*Row, error)

	// FetchAngleReferences returns the reference-image URLs used by Shape
	// A's per-angle fan-out, read from the row's provenance.
	FetchAngleReferences(ctx context.Context, jobID string) ([]string, error)

	// FetchFaceCloseUps returns any resolved face close-up / identity-crop
	// auxiliary ingredient URLs from the row's provenance.
	FetchFaceCloseUps(ctx context.Context, jobID string) ([]string, error)
}
