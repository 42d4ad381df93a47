package handlers

import (
	"net/http"
)

// FeedHealthHandler returns the cached feed verdict without probing the feed
func (h *Handler) FeedHealthHandler(w http.ResponseWriter, r *http.Request) {
	verdict := h.health.Current()

	status := http.StatusOK
	if !verdict.Up() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, verdict)
}

// HealthCheckHandler returns the aggregate health of the feed, the database
// and any optional dependency
func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	verdict := h.health.Current()

	checks := map[string]string{
		"database": "ok",
	}
	healthy := verdict.Up()

	if err := h.records.Ping(ctx); err != nil {
		healthy = false
		checks["database"] = err.Error()
	}

	for name, check := range h.checks {
		checks[name] = "ok"
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = err.Error()
		}
	}

	health := map[string]interface{}{
		"status": "healthy",
		"feed":   verdict,
		"checks": checks,
	}

	statusCode := http.StatusOK
	if !healthy {
		health["status"] = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, health)
}
