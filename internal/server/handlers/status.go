package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/peteroluoch/africa-offline-os/internal/models"
	"github.com/peteroluoch/africa-offline-os/internal/vclock"
	"github.com/peteroluoch/africa-offline-os/pkg/api"
)

// StatusEngine is the part of the sync engine the status endpoint needs.
type StatusEngine interface {
	NodeID() string
	Clock() vclock.VectorClock
	PeerStates(ctx context.Context) ([]*models.SyncState, error)
	UnresolvedConflicts(ctx context.Context) ([]*models.Conflict, error)
}

// StatusHandler reports the node's sync position for operators.
type StatusHandler struct {
	logger *slog.Logger
	engine StatusEngine
}

// NewStatusHandler creates the status handler.
func NewStatusHandler(logger *slog.Logger, engine StatusEngine) *StatusHandler {
	return &StatusHandler{logger: logger, engine: engine}
}

// HandleStatus handles GET /api/v1/status.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	states, err := h.engine.PeerStates(ctx)
	if err != nil {
		h.logger.Error("Failed to load peer states", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	conflicts, err := h.engine.UnresolvedConflicts(ctx)
	if err != nil {
		h.logger.Error("Failed to count unresolved conflicts", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	peers := make([]api.PeerStateInfo, 0, len(states))
	for _, st := range states {
		peers = append(peers, api.PeerStateInfo{
			PeerNodeID:      st.PeerNodeID,
			LastSyncedClock: st.LastSyncedClock,
			LastSyncedAt:    st.LastSyncedAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, h.logger, http.StatusOK, api.NodeStatus{
		NodeID:              h.engine.NodeID(),
		CurrentClock:        h.engine.Clock(),
		Peers:               peers,
		UnresolvedConflicts: len(conflicts),
	})
}
