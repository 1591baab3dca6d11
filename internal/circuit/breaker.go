// Package circuit implements the per-subscription circuit breaker from
// spec §4.4: a three-state machine (closed/open/half_open) with a rolling
// 60s failure window and single-probe half-open recovery.
//
// Grounded on internal/engine/circuitbreaker.go in the teacher repo, which
// tracked this same state in a Redis hash so multiple delivery workers
// could share it. Spec §5 scopes this bus to a single process with no
// inter-process coordination requirement, so the Redis round-trips are
// replaced by a sync.Mutex-guarded struct per subscription — same state
// machine, same transition rules, no network hop.
package circuit

import (
	"sync"
	"time"
)

// State is one of the three circuit positions.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

const (
	// Window is how far back outcomes are considered for the failure ratio.
	Window = 60 * time.Second
	// MinSamples is the minimum number of outcomes in the window before a
	// failure ratio can trip the breaker.
	MinSamples = 4
	// FailureThreshold is the failure fraction above which the breaker trips.
	FailureThreshold = 0.5
	// Pause is how long an open breaker waits before admitting a probe.
	Pause = 30 * time.Second
)

type outcome struct {
	at      time.Time
	success bool
}

// Breaker tracks one subscription's rolling outcome window and state.
type Breaker struct {
	mu            sync.Mutex
	state         State
	outcomes      []outcome
	openedAt      time.Time
	probeInFlight bool
	now           func() time.Time

	window            time.Duration
	minSamples        int
	failureThreshold  float64
	pause             time.Duration
}

// New creates a breaker in the closed state using the package default
// window/threshold/pause. now defaults to time.Now and is overridable for
// deterministic tests.
func New(now func() time.Time) *Breaker {
	return NewWithParams(now, Window, MinSamples, FailureThreshold, Pause)
}

// NewWithParams creates a breaker with an explicit rolling window, minimum
// sample count, failure threshold, and open-state pause, for daemons that
// tune these away from spec §6's defaults (see config.Config).
func NewWithParams(now func() time.Time, window time.Duration, minSamples int, failureThreshold float64, pause time.Duration) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		state:            StateClosed,
		now:              now,
		window:           window,
		minSamples:       minSamples,
		failureThreshold: failureThreshold,
		pause:            pause,
	}
}

// MayAdmit implements spec §4.4's admission rule. A true result for a
// half-open breaker means this call has claimed the single in-flight
// probe slot; the caller must eventually call Record or ReleaseProbe.
func (b *Breaker) MayAdmit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.pause {
			b.state = StateHalfOpen
			b.probeInFlight = true
			return true
		}
		return false

	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true

	default:
		return false
	}
}

// Record reports the outcome of an admitted dispatch (spec §4.4).
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probeInFlight = false
		if success {
			b.state = StateClosed
			b.outcomes = nil
		} else {
			b.state = StateOpen
			b.openedAt = b.now()
		}
		return
	}

	now := b.now()
	b.outcomes = append(b.outcomes, outcome{at: now, success: success})
	b.pruneLocked(now)

	if len(b.outcomes) >= b.minSamples {
		failures := 0
		for _, o := range b.outcomes {
			if !o.success {
				failures++
			}
		}
		if float64(failures)/float64(len(b.outcomes)) > b.failureThreshold {
			b.state = StateOpen
			b.openedAt = now
		}
	}
}

// ReleaseProbe clears a leaked half-open probe slot for a subscription that
// was admitted but never actually invoked this attempt (spec §4.4's
// probe-leak-prevention rule: an earlier subscription in the same dispatch
// failed and aborted the sequence before this one ran).
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probeInFlight = false
	}
}

// State returns the current state, resolving an elapsed open-pause into
// half_open the same way MayAdmit would, but without claiming the probe
// slot — intended for read-only observation (admin/health endpoints).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.pause {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for ; i < len(b.outcomes); i++ {
		if b.outcomes[i].at.After(cutoff) {
			break
		}
	}
	b.outcomes = b.outcomes[i:]
}
