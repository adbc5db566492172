package handlers

import (
	"log/slog"
	"net/http"
)

// HealthHandler answers liveness probes from peers and local tooling.
type HealthHandler struct {
	logger *slog.Logger
}

// NewHealthHandler creates the health check handler.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{logger: logger}
}

// HandleHealth handles GET /healthz.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}
