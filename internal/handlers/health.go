package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthHandlers serves the liveness and readiness endpoints.
type HealthHandlers struct {
	readiness func(ctx context.Context) error
	started   time.Time
}

// NewHealthHandlers constructs the health endpoints. A nil readiness probe
// makes /readyz unconditionally ready.
func NewHealthHandlers(readiness func(ctx context.Context) error) *HealthHandlers {
	return &HealthHandlers{
		readiness: readiness,
		started:   time.Now(),
	}
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(h.started).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz reports whether downstream dependencies are reachable.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.readiness != nil {
		if err := h.readiness(r.Context()); err != nil {
			writeJSONResponse(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ready"})
}
