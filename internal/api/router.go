// Package api is the optional HTTP admin surface over a running *bus.Bus:
// health, DLQ inspection/retry/purge, and dashboard metrics. Grounded on
// the teacher's internal/api/router.go route-group shape and middleware
// stack; the subscriber/event/delivery CRUD routes are dropped because
// subscriptions and events are no longer HTTP-created resources — they are
// Go-level Bus.Subscribe/Bus.Publish calls made by the process embedding
// this package (see cmd/eventbusd).
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Priya8975/eventbus/internal/bus"
	"github.com/Priya8975/eventbus/internal/dlq"
)

// NewRouter builds the admin HTTP router for a running bus.
func NewRouter(b *bus.Bus, d *dlq.Reader) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(corsMiddleware)

	dlqHandler := NewDeadLetterHandler(d)
	dashHandler := NewDashboardHandler(b, d)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", dlqHandler.List)
			r.Post("/{id}/retry", dlqHandler.Retry)
			r.Post("/purge", dlqHandler.Purge)
		})

		r.Get("/metrics", dashHandler.Metrics)
		r.Get("/subscriptions-health", dashHandler.SubscriptionHealth)
	})

	return r
}

// corsMiddleware adds permissive CORS headers for local dashboard development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
