// Package ratelimit implements the sliding-window RateLimiter: a
// per-principal ordered set of request timestamps, trimmed and checked on
// every admission call (spec §4.3). Two backends share the Limiter
// interface: a Redis sorted-set implementation and an in-process fallback
// with a lower default quota, since fallback state is volatile and not
// shared across replicas.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of a Check call.
type Result struct {
	Allowed          bool
	Remaining        int
	RetryAfterSeconds int
}

// Limiter is the RateLimiter contract.
type Limiter interface {
	// Check applies the sliding-window algorithm for principal against
	// max allowed requests per window:
	//  1. trim entries scored at or before now-window;
	//  2. count remaining entries;
	//  3. if count >= max: deny, with retry_after = oldest + window - now + 1;
	//  4. otherwise record now (TTL = window+60) and allow with
	//     remaining = max - count - 1.
	Check(ctx context.Context, principal string, max int, window time.Duration) (Result, error)
}
