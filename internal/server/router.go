package server

import (
	"log/slog"
	"net/http"

	"github.com/peteroluoch/africa-offline-os/internal/server/handlers"
	"github.com/peteroluoch/africa-offline-os/internal/server/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Sync     *handlers.SyncHandler
	Conflict *handlers.ConflictHandler
	Regional *handlers.RegionalHandler
	Status   *handlers.StatusHandler
	Mesh     *handlers.MeshHandler
	Health   *handlers.HealthHandler
}

// NewRouter assembles the node's HTTP surface. Peer-facing sync endpoints sit
// behind mesh token auth; the operator endpoints (conflicts, regional, status)
// are served openly and expected to be bound to a local interface.
func NewRouter(logger *slog.Logger, h Handlers, validator middleware.TokenValidator) http.Handler {
	mux := http.NewServeMux()

	peerAuth := middleware.PeerAuth(logger, validator)

	mux.Handle("POST /api/v1/sync/request", peerAuth(http.HandlerFunc(h.Sync.HandleRequest)))
	mux.Handle("POST /api/v1/sync/changes", peerAuth(http.HandlerFunc(h.Sync.HandleChanges)))
	mux.Handle("POST /api/v1/sync/ack", peerAuth(http.HandlerFunc(h.Sync.HandleAck)))

	mux.HandleFunc("GET /api/v1/conflicts", h.Conflict.HandleList)
	mux.HandleFunc("POST /api/v1/conflicts/{id}/resolve", h.Conflict.HandleResolve)

	mux.HandleFunc("GET /api/v1/regional/summary", h.Regional.HandleSummary)
	mux.HandleFunc("GET /api/v1/regional/harvests", h.Regional.HandleHarvests)
	mux.HandleFunc("GET /api/v1/regional/transport", h.Regional.HandleTransport)

	mux.HandleFunc("POST /api/v1/mesh/peers", h.Mesh.HandleRegister)
	mux.HandleFunc("GET /api/v1/mesh/peers", h.Mesh.HandlePeers)
	mux.HandleFunc("POST /api/v1/mesh/peers/{id}/sync", h.Mesh.HandleTriggerSync)

	mux.HandleFunc("GET /api/v1/status", h.Status.HandleStatus)
	mux.HandleFunc("GET /healthz", h.Health.HandleHealth)

	var handler http.Handler = mux
	handler = middleware.LoggingWithSkip(logger, []string{"/healthz"})(handler)
	handler = middleware.Recovery(logger)(handler)

	return handler
}
