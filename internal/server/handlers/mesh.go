package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/peteroluoch/africa-offline-os/internal/mesh"
	"github.com/peteroluoch/africa-offline-os/pkg/api"
)

// MeshManager is the mesh surface the peer management endpoints need.
type MeshManager interface {
	RegisterPeer(peer *mesh.Peer) error
	Peers() ([]*mesh.Peer, error)
	TriggerSync(peerID string) (uint64, error)
}

// MeshHandler exposes peer registration and manual sync triggering.
type MeshHandler struct {
	logger   *slog.Logger
	manager  MeshManager
	validate *validator.Validate
}

// NewMeshHandler creates the mesh management handler.
func NewMeshHandler(logger *slog.Logger, manager MeshManager) *MeshHandler {
	return &MeshHandler{
		logger:   logger,
		manager:  manager,
		validate: validator.New(),
	}
}

// HandleRegister handles POST /api/v1/mesh/peers.
func (h *MeshHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode peer registration", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	peer := &mesh.Peer{
		NodeID:  req.NodeID,
		BaseURL: req.BaseURL,
		Village: req.Village,
	}
	if err := h.manager.RegisterPeer(peer); err != nil {
		h.logger.Error("Failed to register peer", "error", err, "peer_id", req.NodeID)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	h.logger.Info("peer registered", "peer_id", req.NodeID, "base_url", req.BaseURL)

	writeJSON(w, h.logger, http.StatusCreated, peer)
}

// HandlePeers handles GET /api/v1/mesh/peers.
func (h *MeshHandler) HandlePeers(w http.ResponseWriter, r *http.Request) {
	peers, err := h.manager.Peers()
	if err != nil {
		h.logger.Error("Failed to list peers", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	if peers == nil {
		peers = []*mesh.Peer{}
	}

	writeJSON(w, h.logger, http.StatusOK, peers)
}

// HandleTriggerSync handles POST /api/v1/mesh/peers/{id}/sync: queue an
// immediate high-priority session with one peer.
func (h *MeshHandler) HandleTriggerSync(w http.ResponseWriter, r *http.Request) {
	peerID := r.PathValue("id")
	if peerID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "validation_error", "peer id is required")
		return
	}

	itemID, err := h.manager.TriggerSync(peerID)
	if err != nil {
		if errors.Is(err, mesh.ErrPeerNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "not_found", "peer not registered")
			return
		}
		h.logger.Error("Failed to queue sync", "error", err, "peer_id", peerID)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, h.logger, http.StatusAccepted, api.TriggerSyncResponse{QueueItemID: itemID})
}
