// Package metrics tracks the bus's per-event-type retry counters (spec
// §4.5, §3): total retries, post-retry successes, DLQ entries, and
// observed events. Grounded on the shape of the teacher's
// internal/store/metrics_store.go aggregate query, converted from a SQL
// COUNT/AVG over a delivery_attempts table into O(1) in-memory counters
// updated as each dispatch resolves — there is no per-attempt row to
// aggregate anymore, so the running totals are kept directly.
package metrics

import "sync"

// Snapshot is a point-in-time copy of one event type's counters.
type Snapshot struct {
	TotalRetries     int
	SuccessAfterRetry int
	DLQCount         int
	ObservedEvents   int
}

type counters struct {
	totalRetries      int
	successAfterRetry int
	dlqCount          int
	observedEvents    int
}

// Registry aggregates counters per event type behind a single mutex —
// updates are infrequent relative to dispatch work and always O(1).
type Registry struct {
	mu   sync.Mutex
	byType map[string]*counters
}

// NewRegistry creates an empty metrics registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]*counters)}
}

// ObserveEvent records that an event of this type was dispatched at least
// once, regardless of outcome.
func (r *Registry) ObserveEvent(eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entryLocked(eventType).observedEvents++
}

// RecordSuccessAfterRetry records a dispatch that succeeded only after one
// or more prior failed attempts, and folds in the retries spent getting there.
func (r *Registry) RecordSuccessAfterRetry(eventType string, retriesSpent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.entryLocked(eventType)
	c.successAfterRetry++
	c.totalRetries += retriesSpent
}

// RecordDLQ records a dispatch that exhausted its retry budget.
func (r *Registry) RecordDLQ(eventType string, retriesSpent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.entryLocked(eventType)
	c.dlqCount++
	c.totalRetries += retriesSpent
}

// Snapshot returns a copy of the counters for one event type.
func (r *Registry) Snapshot(eventType string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byType[eventType]
	if !ok {
		return Snapshot{}
	}
	return Snapshot{
		TotalRetries:      c.totalRetries,
		SuccessAfterRetry: c.successAfterRetry,
		DLQCount:          c.dlqCount,
		ObservedEvents:    c.observedEvents,
	}
}

// All returns a snapshot of every observed event type.
func (r *Registry) All() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Snapshot, len(r.byType))
	for k, c := range r.byType {
		out[k] = Snapshot{
			TotalRetries:      c.totalRetries,
			SuccessAfterRetry: c.successAfterRetry,
			DLQCount:          c.dlqCount,
			ObservedEvents:    c.observedEvents,
		}
	}
	return out
}

func (r *Registry) entryLocked(eventType string) *counters {
	c, ok := r.byType[eventType]
	if !ok {
		c = &counters{}
		r.byType[eventType] = c
	}
	return c
}
