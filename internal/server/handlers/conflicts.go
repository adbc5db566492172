package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/peteroluoch/africa-offline-os/internal/models"
	"github.com/peteroluoch/africa-offline-os/internal/storage"
	"github.com/peteroluoch/africa-offline-os/pkg/api"
)

// ConflictResolver is the part of the sync engine the conflict review
// endpoints need.
type ConflictResolver interface {
	UnresolvedConflicts(ctx context.Context) ([]*models.Conflict, error)
	ResolveManually(ctx context.Context, conflictID string, value []byte) (*models.ChangeRecord, error)
}

// ConflictHandler exposes the manual conflict review queue.
type ConflictHandler struct {
	logger   *slog.Logger
	engine   ConflictResolver
	validate *validator.Validate
}

// NewConflictHandler creates the conflict review handler.
func NewConflictHandler(logger *slog.Logger, engine ConflictResolver) *ConflictHandler {
	return &ConflictHandler{
		logger:   logger,
		engine:   engine,
		validate: validator.New(),
	}
}

// HandleList handles GET /api/v1/conflicts: every conflict still awaiting a
// manual decision.
func (h *ConflictHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.engine.UnresolvedConflicts(r.Context())
	if err != nil {
		h.logger.Error("Failed to list unresolved conflicts", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	if conflicts == nil {
		conflicts = []*models.Conflict{}
	}

	writeJSON(w, h.logger, http.StatusOK, conflicts)
}

// HandleResolve handles POST /api/v1/conflicts/{id}/resolve: records the
// operator's chosen value as a new local change.
func (h *ConflictHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	conflictID := r.PathValue("id")
	if conflictID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "validation_error", "conflict id is required")
		return
	}

	var req api.ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode resolve request", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	change, err := h.engine.ResolveManually(r.Context(), conflictID, req.Value)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrConflictNotFound):
			writeError(w, h.logger, http.StatusNotFound, "not_found", "conflict not found")
		case errors.Is(err, storage.ErrConflictAlreadyResolved):
			writeError(w, h.logger, http.StatusConflict, "already_resolved", "conflict already resolved")
		default:
			h.logger.Error("Failed to resolve conflict", "error", err, "conflict_id", conflictID)
			writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "internal server error")
		}
		return
	}

	h.logger.Info("conflict resolved manually",
		"conflict_id", conflictID,
		"change_id", change.ChangeID,
		"entity_type", change.EntityType,
		"entity_id", change.EntityID)

	writeJSON(w, h.logger, http.StatusOK, change)
}
