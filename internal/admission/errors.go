package admission

import "fmt"

// ErrRateLimited is returned when a principal's request is denied by the
// rate limiter. Handlers translate this into HTTP 429 with a Retry-After
// header (spec §4.11, §6).
type ErrRateLimited struct {
	RetryAfterSeconds int
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds)
}

// ErrSaturated is returned in fallback mode when the concurrency guard has
// no free slot. Handlers translate this into HTTP 503.
var ErrSaturated = fmt.Errorf("admission: concurrency guard saturated")

// ErrUnauthenticated is returned when the shared-secret check fails.
// Handlers translate this into HTTP 401.
var ErrUnauthenticated = fmt.Errorf("admission: invalid or missing shared secret")
