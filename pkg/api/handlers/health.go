package handlers

import (
	"net/http"
	"time"

	"github.com/mirrorq/mirrorq/pkg/queue"
)

// HealthHandler handles liveness and readiness probes.
type HealthHandler struct {
	store *queue.Store
}

// NewHealthHandler creates a new HealthHandler. store may be nil for basic
// liveness only.
func NewHealthHandler(store *queue.Store) *HealthHandler {
	return &HealthHandler{store: store}
}

// HealthResponse is the health probe payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Liveness handles GET /health.
// Always returns 200 while the process is up.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, HealthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

// Readiness handles GET /health/ready.
// Verifies the queue database answers a read before reporting ready.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if _, err := h.store.GetState(r.Context(), "schema_version"); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:    "unhealthy",
				Timestamp: time.Now().UTC(),
				Error:     err.Error(),
			})
			return
		}
	}
	WriteJSONOK(w, HealthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}
