package api

import (
	"net/http"

	"github.com/Priya8975/eventbus/internal/bus"
	"github.com/Priya8975/eventbus/internal/dlq"
)

// DashboardHandler serves the admin metrics and per-subscription health
// endpoints (SPEC_FULL.md §11), mirroring the teacher's
// internal/api/dashboard.go — the SQL aggregate queries and Redis queue
// depth there become direct reads off the in-process dispatcher and DLQ
// reader here.
type DashboardHandler struct {
	bus *bus.Bus
	dlq *dlq.Reader
}

// NewDashboardHandler wires a DashboardHandler over a running bus and its
// DLQ reader.
func NewDashboardHandler(b *bus.Bus, d *dlq.Reader) *DashboardHandler {
	return &DashboardHandler{bus: b, dlq: d}
}

type metricsResponse struct {
	ByEventType map[string]any `json:"by_event_type"`
	DLQDepth    int            `json:"dlq_depth"`
}

// Metrics reports the bus's per-event-type retry metrics plus live DLQ depth.
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	snapshots := h.bus.Dispatcher().Metrics()
	byType := make(map[string]any, len(snapshots))
	for eventType, snap := range snapshots {
		byType[eventType] = snap
	}

	depth, err := h.dlq.Count(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count dlq depth")
		return
	}

	respondJSON(w, http.StatusOK, metricsResponse{ByEventType: byType, DLQDepth: depth})
}

type subscriptionHealth struct {
	ID             string `json:"id"`
	Pattern        string `json:"pattern"`
	CircuitBreaker string `json:"circuit_breaker"`
}

// SubscriptionHealth reports every live subscription's circuit breaker state.
func (h *DashboardHandler) SubscriptionHealth(w http.ResponseWriter, r *http.Request) {
	subs := h.bus.Dispatcher().Subscriptions()
	result := make([]subscriptionHealth, 0, len(subs))
	for _, sub := range subs {
		result = append(result, subscriptionHealth{
			ID:             sub.ID,
			Pattern:        sub.Pattern,
			CircuitBreaker: string(h.bus.Dispatcher().BreakerState(sub.ID)),
		})
	}
	respondJSON(w, http.StatusOK, result)
}
