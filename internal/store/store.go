// Package store implements the MetadataStore primitive layer the task
// queue is built on: hash records with TTL, ordered
// lists, and the atomic move-between-lists primitive. Two interchangeable
// backends exist — a Redis-backed distributed Store and an in-process
// fallback — selected once at startup by probing the distributed backend
// (spec §4.2).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrAtomicMoveUnsupported is returned by the in-process fallback's
// AtomicMove: the fallback "does not expose the blocking-pop-and-push
// primitive; the Dispatcher is bypassed entirely in fallback mode" (spec
// §4.2). Callers that need real queueing must check SupportsAtomicMove
// before relying on TaskQueue semantics.
var ErrAtomicMoveUnsupported = errors.New("store: atomic move not supported by this backend")

// Store is the MetadataStore contract. Implementations: redis.go (the
// distributed backend, used by internal/queue) and
// memory.go (the in-process fallback, single-mutex guarded).
type Store interface {
	// SetHash writes fields into a hash record at key with the given TTL,
	// transactionally (single pipelined round-trip on the distributed
	// backend).
	SetHash(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error

	// GetHash reads a hash record. ok is false if the key doesn't exist or
	// has expired.
	GetHash(ctx context.Context, key string) (fields map[string]string, ok bool, err error)

	// UpdateHash merges fields into an existing hash record without
	// resetting its TTL. No-op if the key doesn't exist.
	UpdateHash(ctx context.Context, key string, fields map[string]string) error

	// DeleteHash removes a hash record.
	DeleteHash(ctx context.Context, key string) error

	// ListPushHead pushes value onto the head of list.
	ListPushHead(ctx context.Context, list, value string) error

	// ListPushTail pushes value onto the tail of list.
	ListPushTail(ctx context.Context, list, value string) error

	// ListLen returns the number of elements in list.
	ListLen(ctx context.Context, list string) (int64, error)

	// ListRange returns up to limit elements of list starting from the
	// head (index 0). limit <= 0 means "all".
	ListRange(ctx context.Context, list string, limit int64) ([]string, error)

	// ListRemove removes the first occurrence of value from list.
	ListRemove(ctx context.Context, list, value string) error

	// ListPosition returns the 1-based position of value in list counted
	// from the tail (the next element to be popped is position 1), or 0
	// if value is not present.
	ListPosition(ctx context.Context, list, value string) (int64, error)

	// AtomicMove blocks up to timeout for an element to become available
	// at the tail of src, then atomically moves it to the head of dst and
	// returns it. Returns "", false, nil on timeout with no error.
	// SupportsAtomicMove must be checked first; backends that don't
	// support it return ErrAtomicMoveUnsupported.
	AtomicMove(ctx context.Context, src, dst string, timeout time.Duration) (value string, ok bool, err error)

	// SupportsAtomicMove reports whether AtomicMove is usable on this
	// backend. false for the in-process fallback.
	SupportsAtomicMove() bool

	// NextSeq returns a monotonically increasing integer from a named
	// counter. The queue records it as each job's "seq" metadata field;
	// position lookups do not use it.
	NextSeq(ctx context.Context, counter string) (int64, error)

	// IncrFieldAndListRemove increments a hash field by delta and removes
	// value from list in a single transaction. This is the primitive
	// behind TaskQueue.Nack: the retry-count increment and the in-flight
	// removal commit together, closing the lost-job window a non-atomic
	// sequence of the two steps would leave open (resolves spec §9's open
	// question about ordering the two operations).
	IncrFieldAndListRemove(ctx context.Context, hashKey, field string, delta int64, list, value string) (newValue int64, err error)

	// Ping verifies connectivity, used at startup to decide distributed
	// vs. fallback mode.
	Ping(ctx context.Context) error
}
