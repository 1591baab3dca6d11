package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/eventbus/internal/dlq"
)

// DeadLetterHandler is the admin surface over the DLQ (SPEC_FULL.md §11),
// grounded on the teacher's internal/api/dead_letters.go — List/Get/Resolve
// become List/Retry/Purge over dlq.Reader instead of PostgresStore.
type DeadLetterHandler struct {
	dlq *dlq.Reader
}

// NewDeadLetterHandler wraps a DLQ reader for HTTP.
func NewDeadLetterHandler(d *dlq.Reader) *DeadLetterHandler {
	return &DeadLetterHandler{dlq: d}
}

func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := h.dlq.List(r.Context(), offset, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (h *DeadLetterHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.dlq.Retry(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}

func (h *DeadLetterHandler) Purge(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("older_than_days"))
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

	deleted, err := h.dlq.Purge(r.Context(), cutoff)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to purge dead letters")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}
