package api

import "net/http"

// HealthResponse is the liveness probe body.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthHandler reports process liveness — it does not touch the store or
// the dispatcher, so it stays responsive even during a slow shutdown drain.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
	}
}
