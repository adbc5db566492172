package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peteroluoch/africa-offline-os/internal/mesh"
	"github.com/peteroluoch/africa-offline-os/pkg/api"
)

type fakeMeshManager struct {
	register func(peer *mesh.Peer) error
	peers    func() ([]*mesh.Peer, error)
	trigger  func(peerID string) (uint64, error)
}

func (f *fakeMeshManager) RegisterPeer(peer *mesh.Peer) error { return f.register(peer) }
func (f *fakeMeshManager) Peers() ([]*mesh.Peer, error)       { return f.peers() }
func (f *fakeMeshManager) TriggerSync(peerID string) (uint64, error) {
	return f.trigger(peerID)
}

func TestMeshHandler_HandleRegister(t *testing.T) {
	var registered *mesh.Peer
	manager := &fakeMeshManager{
		register: func(peer *mesh.Peer) error {
			registered = peer
			return nil
		},
	}
	h := NewMeshHandler(testLogger(), manager)

	req := postJSON(t, "/api/v1/mesh/peers", api.RegisterPeerRequest{
		NodeID:  "node-b",
		BaseURL: "http://10.0.0.2:8384",
		Village: "Kibera",
	})
	rec := httptest.NewRecorder()
	h.HandleRegister(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, registered)
	assert.Equal(t, "node-b", registered.NodeID)
	assert.Equal(t, "http://10.0.0.2:8384", registered.BaseURL)
	assert.Equal(t, "Kibera", registered.Village)
}

func TestMeshHandler_HandleRegister_Invalid(t *testing.T) {
	h := NewMeshHandler(testLogger(), &fakeMeshManager{})

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{not json`},
		{name: "missing node id", body: `{"base_url":"http://10.0.0.2:8384"}`},
		{name: "missing base url", body: `{"node_id":"node-b"}`},
		{name: "base url not a url", body: `{"node_id":"node-b","base_url":"not a url"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/mesh/peers",
				bytes.NewReader([]byte(tt.body)))
			rec := httptest.NewRecorder()
			h.HandleRegister(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestMeshHandler_HandlePeers(t *testing.T) {
	manager := &fakeMeshManager{
		peers: func() ([]*mesh.Peer, error) {
			return []*mesh.Peer{
				{NodeID: "node-b", BaseURL: "http://b:8384"},
				{NodeID: "node-c", BaseURL: "http://c:8384"},
			}, nil
		},
	}
	h := NewMeshHandler(testLogger(), manager)

	rec := httptest.NewRecorder()
	h.HandlePeers(rec, httptest.NewRequest(http.MethodGet, "/api/v1/mesh/peers", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var peers []*mesh.Peer
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&peers))
	require.Len(t, peers, 2)
	assert.Equal(t, "node-b", peers[0].NodeID)
}

func TestMeshHandler_HandlePeers_Empty(t *testing.T) {
	manager := &fakeMeshManager{
		peers: func() ([]*mesh.Peer, error) { return nil, nil },
	}
	h := NewMeshHandler(testLogger(), manager)

	rec := httptest.NewRecorder()
	h.HandlePeers(rec, httptest.NewRequest(http.MethodGet, "/api/v1/mesh/peers", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestMeshHandler_HandleTriggerSync(t *testing.T) {
	manager := &fakeMeshManager{
		trigger: func(peerID string) (uint64, error) {
			assert.Equal(t, "node-b", peerID)
			return 42, nil
		},
	}
	h := NewMeshHandler(testLogger(), manager)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/mesh/peers/node-b/sync", nil)
	req.SetPathValue("id", "node-b")

	rec := httptest.NewRecorder()
	h.HandleTriggerSync(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp api.TriggerSyncResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, uint64(42), resp.QueueItemID)
}

func TestMeshHandler_HandleTriggerSync_UnknownPeer(t *testing.T) {
	manager := &fakeMeshManager{
		trigger: func(string) (uint64, error) { return 0, mesh.ErrPeerNotFound },
	}
	h := NewMeshHandler(testLogger(), manager)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/mesh/peers/ghost/sync", nil)
	req.SetPathValue("id", "ghost")

	rec := httptest.NewRecorder()
	h.HandleTriggerSync(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
