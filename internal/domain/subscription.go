package domain

import "time"

// SubscriptionRecord is the durable, non-handler slice of a Subscription.
// The store keeps this purely as a traceability record — the in-memory
// id -> handler map, owned by the dispatcher, is the sole source
// of truth for what actually receives events.
type SubscriptionRecord struct {
	ID        string        `json:"id"`
	Pattern   string        `json:"pattern"`
	Timeout   time.Duration `json:"timeout"`
	CreatedAt time.Time     `json:"created_at"`
}
