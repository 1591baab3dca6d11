package circuit

import (
	"sync"
	"time"
)

// Registry owns one Breaker per subscription id, created lazily. It is the
// dispatcher's exclusively-owned circuit state (spec §5): reads and writes
// from concurrent dispatches are safe, but there is no cross-process
// sharing by design.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	now      func() time.Time

	window           time.Duration
	minSamples       int
	failureThreshold float64
	pause            time.Duration
}

// NewRegistry creates an empty registry using the package default
// window/threshold/pause. now defaults to time.Now.
func NewRegistry(now func() time.Time) *Registry {
	return NewRegistryWithParams(now, Window, MinSamples, FailureThreshold, Pause)
}

// NewRegistryWithParams creates an empty registry whose breakers all use
// the given window/minSamples/failureThreshold/pause, for daemons that
// tune circuit sensitivity away from spec §6's defaults.
func NewRegistryWithParams(now func() time.Time, window time.Duration, minSamples int, failureThreshold float64, pause time.Duration) *Registry {
	return &Registry{
		breakers:         make(map[string]*Breaker),
		now:              now,
		window:           window,
		minSamples:       minSamples,
		failureThreshold: failureThreshold,
		pause:            pause,
	}
}

// For returns the breaker for a subscription id, creating one in the
// closed state on first use.
func (r *Registry) For(subscriptionID string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[subscriptionID]
	if !ok {
		b = NewWithParams(r.now, r.window, r.minSamples, r.failureThreshold, r.pause)
		r.breakers[subscriptionID] = b
	}
	return b
}

// Remove drops a subscription's breaker, e.g. on unsubscribe.
func (r *Registry) Remove(subscriptionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, subscriptionID)
}
