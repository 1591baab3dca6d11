package policy

import (
	"math"
	"math/rand"
	"time"
)

// Delay computes the wait before the given attempt (1-indexed, denoting the
// upcoming attempt) per spec §4.3. Attempt 1 never waits. For attempt >= 2,
// the raw exponential delay is base * multiplier^(attempt-2), capped at
// MaxDelay, then jittered by up to +/-10% and clamped at zero.
//
// rng may be nil, in which case a time-seeded source is used — callers that
// need determinism (tests, invariant checks) should pass their own, the
// same pattern as the pack's webhook-ingestion-service/internal/task
// backoff helper.
func Delay(attempt int, p Policy, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return 0
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	raw := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-2))
	if max := float64(p.MaxDelay); raw > max {
		raw = max
	}

	jitter := (rng.Float64()*2 - 1) * 0.1 * raw
	delay := math.Round(raw + jitter)
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
