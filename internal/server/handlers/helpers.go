package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/peteroluoch/africa-offline-os/pkg/api"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// writeError responds with a structured protocol error.
func writeError(w http.ResponseWriter, logger *slog.Logger, status int, code, message string) {
	writeJSON(w, logger, status, api.ErrorResponse{Code: code, Message: message})
}
