// Package concurrency implements the ConcurrencyGuard: a bounded,
// fixed-size counter semaphore used only when the distributed backend is
// absent, bounding how many jobs run inline on the HTTP worker pool
// (spec §4.4).
package concurrency

import "sync"

// DefaultLimit is the guard's default capacity.
const DefaultLimit = 3

// Guard is a fixed-size counter semaphore. TryAcquire/Release are the only
// operations; acquisition happens after the rate check and before spawning
// inline execution, and release is guaranteed on all exit paths by the
// caller (typically via defer).
type Guard struct {
	mu    sync.Mutex
	limit int
	inUse int
}

// NewGuard constructs a Guard with the given capacity. limit <= 0 falls
// back to DefaultLimit.
func NewGuard(limit int) *Guard {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Guard{limit: limit}
}

// TryAcquire grants a slot if one is available, returning whether it was
// granted. Never blocks.
func (g *Guard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inUse >= g.limit {
		return false
	}
	g.inUse++
	return true
}

// Release returns a slot, floored at zero so a double-release can never
// make InUse negative or over-grant capacity.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inUse > 0 {
		g.inUse--
	}
}

// InUse reports the current number of occupied slots, for metrics gauges.
func (g *Guard) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}

// Limit reports the guard's configured capacity.
func (g *Guard) Limit() int {
	return g.limit
}
