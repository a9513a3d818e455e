package worker

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffFunc computes the wait before a job's next retry attempt,
// given the attempt number that is about to be scheduled (1-indexed).
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff mirrors the teacher's calculateBackoff: doubling
// delay from initial, capped at max, with +/-20% jitter to avoid a
// thundering herd of simultaneously-retried jobs.
func ExponentialBackoff(initial, max time.Duration) BackoffFunc {
	if initial <= 0 {
		initial = 5 * time.Second
	}
	if max <= 0 {
		max = 5 * time.Minute
	}
	return func(attempt int) time.Duration {
		backoff := float64(initial) * math.Pow(2, float64(attempt-1))
		if backoff > float64(max) {
			backoff = float64(max)
		}
		jitter := (rand.Float64() - 0.5) * 0.4 * backoff
		backoff += jitter
		if backoff < 0 {
			backoff = 0
		}
		return time.Duration(backoff)
	}
}

// FixedBackoff always waits the same duration.
func FixedBackoff(wait time.Duration) BackoffFunc {
	return func(attempt int) time.Duration { return wait }
}
