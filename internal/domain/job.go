// Package domain holds the types shared across the queue, orchestrator, and
// job store: a job's identity, its status state machine, and the pipeline
// context threaded through orchestrator stages.
package domain

import "time"

// Kind categorizes a job for routing among gateway instances and for
// per-kind duration estimates used by the queue's wait-time projection.
type Kind string

const (
	KindGenerate        Kind = "generate"
	KindFashionGenerate Kind = "fashion_generate"
	KindTryOn           Kind = "try_on"
	KindExtend          Kind = "extend"
)

// Status is the job's position in the pipeline state machine.
//
//	queued -> processing -> stage_1 -> ... -> stage_N -> completed
//	                    \-> failed (any stage)
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
)

// Stage is a named checkpoint within a job's pipeline, recorded in the
// job row's current stage at every stage entry so a client polling status
// can see progress without waiting for full completion.
type Stage string

const (
	StageIdentityResolve  Stage = "identity_resolve"
	StageOnModelFanOut    Stage = "on_model_fan_out"
	StageIdentityLock     Stage = "identity_lock"
	StageComposition      Stage = "composition"
	StageVideoSynthesis   Stage = "video_synthesis"
	StageResultCommit     Stage = "result_commit"
	StageProviderSubmit   Stage = "provider_submit"
	StageProviderPoll     Stage = "provider_poll"
)

// MaxLastErrorLen bounds the persisted error message length on a job row
// and on its metadata record (spec: "truncated to a fixed length, default
// 200 chars").
const MaxLastErrorLen = 200

// Job is the unit of work tracked by the queue and mirrored onto the
// external job store. The queue metadata record is ephemeral (TTL'd); the
// job store row is the durable, client-visible history.
type Job struct {
	ID          string
	Principal   string
	Kind        Kind
	Payload     []byte
	Status      Status
	RetryCount  int
	EnqueuedAt  time.Time
	StartedAt   time.Time
	Seq         int64
	ProviderTaskID string
	OutputURL   string
	LastError   string
	Provenance  map[string]any
}

// TruncateError bounds an error message to MaxLastErrorLen, the way every
// error-message write does before persisting it.
func TruncateError(msg string) string {
	if len(msg) <= MaxLastErrorLen {
		return msg
	}
	return msg[:MaxLastErrorLen]
}
