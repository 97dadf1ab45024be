// Package api exposes the daemon's monitoring surface: a liveness/readiness
// check and a Prometheus scrape endpoint. The management surface itself is
// the command socket (internal/adapters/commandsocket); this package never
// mutates state.
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/poyrazK/enforcerd/internal/core/ports"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIHandler serves the daemon's health and metrics endpoints.
type APIHandler struct {
	db ports.Database
}

// NewAPIHandler creates and returns a new APIHandler instance.
func NewAPIHandler(db ports.Database) *APIHandler {
	return &APIHandler{db: db}
}

// RegisterRoutes registers the monitoring routes with the provided ServeMux.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /metrics", h.Metrics)
}

// Metrics handles Prometheus metrics scraping requests.
func (h *APIHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// HealthCheck reports whether the database is reachable.
func (h *APIHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "UP"
	details := make(map[string]string)

	if err := h.db.Ping(r.Context()); err != nil {
		status = "DEGRADED"
		details["database"] = err.Error()
	} else {
		details["database"] = "OK"
	}

	resp := map[string]interface{}{
		"status":  status,
		"details": details,
	}

	w.Header().Set("Content-Type", "application/json")
	if status == "DEGRADED" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("failed to encode health check response: %v", err)
	}
}
