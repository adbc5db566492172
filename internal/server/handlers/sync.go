package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/peteroluoch/africa-offline-os/internal/models"
	"github.com/peteroluoch/africa-offline-os/internal/server/middleware"
	"github.com/peteroluoch/africa-offline-os/internal/sync"
	"github.com/peteroluoch/africa-offline-os/internal/vclock"
	"github.com/peteroluoch/africa-offline-os/pkg/api"
)

// SyncEngine is the part of the sync engine the peer-facing handlers need.
type SyncEngine interface {
	NodeID() string
	BuildSyncResponse(ctx context.Context, req api.SyncRequest) (*api.SyncResponse, error)
	ApplyChanges(ctx context.Context, peerID string, changes []*models.ChangeRecord, peerClock vclock.VectorClock) (*sync.ApplyResult, error)
	Acknowledge(ctx context.Context, peerID string, changeIDs []string) error
}

// SyncHandler serves the responder side of the sync protocol.
type SyncHandler struct {
	logger   *slog.Logger
	engine   SyncEngine
	validate *validator.Validate
}

// NewSyncHandler creates the peer-facing sync handler.
func NewSyncHandler(logger *slog.Logger, engine SyncEngine) *SyncHandler {
	return &SyncHandler{
		logger:   logger,
		engine:   engine,
		validate: validator.New(),
	}
}

// HandleRequest handles POST /api/v1/sync/request: a peer asks for our delta
// since its last known clock.
func (h *SyncHandler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode sync request", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.logger.Warn("Malformed sync request", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if !h.peerMatches(r, req.NodeID) {
		writeError(w, h.logger, http.StatusForbidden, "identity_mismatch", "token identity does not match requesting node")
		return
	}

	h.logger.Info("sync request received",
		"peer_id", req.NodeID,
		"request_id", req.RequestID,
		"last_known_clock", vclock.VectorClock(req.LastKnownPeerClock).String())

	resp, err := h.engine.BuildSyncResponse(ctx, req)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			writeError(w, h.logger, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		h.logger.Error("Failed to build sync response", "error", err, "peer_id", req.NodeID)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	h.logger.Info("sync response sent",
		"peer_id", req.NodeID,
		"request_id", req.RequestID,
		"changes", len(resp.Changes))

	writeJSON(w, h.logger, http.StatusOK, resp)
}

// HandleChanges handles POST /api/v1/sync/changes: a peer pushes its delta;
// we apply it transactionally and answer with our SyncAck.
func (h *SyncHandler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var push api.SyncPush
	if err := json.NewDecoder(r.Body).Decode(&push); err != nil {
		h.logger.Warn("Failed to decode sync push", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if err := h.validate.Struct(push); err != nil {
		h.logger.Warn("Malformed sync push", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if !h.peerMatches(r, push.NodeID) {
		writeError(w, h.logger, http.StatusForbidden, "identity_mismatch", "token identity does not match pushing node")
		return
	}

	changes := sync.FromWireChanges(push.Changes)

	result, err := h.engine.ApplyChanges(ctx, push.NodeID, changes, vclock.VectorClock(push.Clock))
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			writeError(w, h.logger, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		h.logger.Error("Failed to apply pushed changes", "error", err, "peer_id", push.NodeID)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	ack := api.SyncAck{
		RequestID:        push.RequestID,
		NodeID:           h.engine.NodeID(),
		AckedClock:       result.AckedClock,
		AppliedChangeIDs: result.AppliedChangeIDs,
		Applied:          result.Applied,
		Conflicts:        result.Conflicts,
		Deferred:         result.Deferred,
	}

	writeJSON(w, h.logger, http.StatusOK, ack)
}

// HandleAck handles POST /api/v1/sync/ack: the requester confirms it durably
// applied the changes we sent in our SyncResponse.
func (h *SyncHandler) HandleAck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var ack api.SyncAck
	if err := json.NewDecoder(r.Body).Decode(&ack); err != nil {
		h.logger.Warn("Failed to decode sync ack", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if err := h.validate.Struct(ack); err != nil {
		h.logger.Warn("Malformed sync ack", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if !h.peerMatches(r, ack.NodeID) {
		writeError(w, h.logger, http.StatusForbidden, "identity_mismatch", "token identity does not match acking node")
		return
	}

	if err := h.engine.Acknowledge(ctx, ack.NodeID, ack.AppliedChangeIDs); err != nil {
		h.logger.Error("Failed to record ack", "error", err, "peer_id", ack.NodeID)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	h.logger.Info("sync ack recorded",
		"peer_id", ack.NodeID,
		"request_id", ack.RequestID,
		"acked_changes", len(ack.AppliedChangeIDs))

	w.WriteHeader(http.StatusNoContent)
}

// peerMatches enforces that the authenticated token identity (when auth is
// enabled) matches the node id claimed inside the message.
func (h *SyncHandler) peerMatches(r *http.Request, claimed string) bool {
	authenticated, ok := middleware.PeerNodeID(r.Context())
	if !ok {
		return true // auth disabled
	}
	if authenticated != claimed {
		h.logger.Warn("Peer identity mismatch",
			"token_node_id", authenticated,
			"claimed_node_id", claimed)
		return false
	}
	return true
}
