package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is the in-process fallback: a single mutex guards a map of
// principal -> ordered timestamps, running the identical sliding-window
// algorithm as the Redis backend. Used with a lower default quota (caller
// supplies max; internal/config.RateLimit.FallbackMax is the documented
// default of 3 vs. the distributed default of 5) because this state is
// volatile and not shared across replicas (spec §4.3, §9 open question).
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string][]time.Time)}
}

func (l *MemoryLimiter) Check(ctx context.Context, principal string, max int, window time.Duration) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)

	entries := l.windows[principal]
	trimmed := entries[:0]
	for _, t := range entries {
		// Strict > on trim: entries exactly at the boundary are dropped,
		// matching the distributed backend's ZREMRANGEBYSCORE "-inf" to
		// "now-window" (inclusive at the low end means values equal to
		// cutoff are removed too; a request arriving exactly at the
		// boundary is a *new* request evaluated against the trimmed set,
		// not one of the entries being trimmed).
		if t.After(cutoff) {
			trimmed = append(trimmed, t)
		}
	}
	entries = trimmed

	if len(entries) >= max {
		oldest := entries[0]
		retryAfter := int(oldest.Add(window).Sub(now).Seconds()) + 1
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.windows[principal] = entries
		return Result{Allowed: false, Remaining: 0, RetryAfterSeconds: retryAfter}, nil
	}

	entries = append(entries, now)
	l.windows[principal] = entries

	remaining := max - len(entries)
	return Result{Allowed: true, Remaining: remaining}, nil
}
