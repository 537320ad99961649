package handlers

import (
	"net/http"

	"github.com/marmos91/dittolock/pkg/lock"
)

// StateSource reports the lifecycle state of a lock manager.
type StateSource interface {
	State() lock.ManagerState
	Session() lock.SessionID
}

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the process running?
//   - Readiness probe: Is the lock manager RUNNING?
type HealthHandler struct {
	source StateSource
}

// NewHealthHandler creates a new health handler. source may be nil, in
// which case the readiness probe reports unhealthy.
func NewHealthHandler(source StateSource) *HealthHandler {
	return &HealthHandler{source: source}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "dittolock",
	}))
}

// Readiness handles GET /health/ready. It answers 503 while the manager is
// paused, rejoining or shut down.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("lock manager not initialized"))
		return
	}

	state := h.source.State()
	if state != lock.StateRunning {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("lock manager is "+state.String()))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"state":   state.String(),
		"session": uint64(h.source.Session()),
	}))
}
