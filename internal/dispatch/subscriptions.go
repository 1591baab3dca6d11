package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/Priya8975/eventbus/internal/domain"
	"github.com/Priya8975/eventbus/internal/match"
	"github.com/Priya8975/eventbus/internal/policy"
)

// Handler is an in-process callable invoked with an event; a non-nil error
// is a failed attempt (spec §3 "Subscription").
type Handler func(ctx context.Context, event domain.Event) error

// Subscription is the runtime, in-memory binding a Dispatcher matches
// against. The durable store carries only Subscription's non-handler
// fields (domain.SubscriptionRecord) as a traceability record — this type
// is deliberately not persistable (spec §3, §9 "in-memory handler map +
// durable metadata row").
type Subscription struct {
	ID            string
	Pattern       string
	Handler       Handler
	Timeout       time.Duration
	RetryOverride *policy.Override
	CreatedAt     time.Time
}

// registry holds the live subscription set in stable registration order —
// spec §5 requires handlers run "in subscription registration order,
// sequentially, within each attempt", so removal must not reorder survivors.
type registry struct {
	mu   sync.RWMutex
	subs []*Subscription
	byID map[string]*Subscription
}

func newRegistry() *registry {
	return &registry{byID: make(map[string]*Subscription)}
}

func (r *registry) add(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[sub.ID] = sub
	r.subs = append(r.subs, sub)
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	kept := r.subs[:0:0]
	for _, s := range r.subs {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	r.subs = kept
}

// matching returns the subscriptions whose pattern matches eventType, in
// registration order. The slice is a snapshot: subscribe/unsubscribe calls
// racing a dispatch need not be observed by it (spec §5's snapshot
// semantics for the handler registry).
func (r *registry) matching(eventType string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		if match.Matches(s.Pattern, eventType) {
			out = append(out, s)
		}
	}
	return out
}

func (r *registry) snapshot() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, len(r.subs))
	copy(out, r.subs)
	return out
}
