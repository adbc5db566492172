package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peteroluoch/africa-offline-os/internal/models"
	"github.com/peteroluoch/africa-offline-os/internal/vclock"
	"github.com/peteroluoch/africa-offline-os/pkg/api"
)

type fakeStatusEngine struct {
	nodeID     string
	clock      vclock.VectorClock
	states     []*models.SyncState
	unresolved []*models.Conflict
}

func (f *fakeStatusEngine) NodeID() string            { return f.nodeID }
func (f *fakeStatusEngine) Clock() vclock.VectorClock { return f.clock }

func (f *fakeStatusEngine) PeerStates(context.Context) ([]*models.SyncState, error) {
	return f.states, nil
}

func (f *fakeStatusEngine) UnresolvedConflicts(context.Context) ([]*models.Conflict, error) {
	return f.unresolved, nil
}

func TestStatusHandler_HandleStatus(t *testing.T) {
	syncedAt := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	engine := &fakeStatusEngine{
		nodeID: "node-a",
		clock:  vclock.VectorClock{"node-a": 5, "node-b": 2},
		states: []*models.SyncState{
			{
				PeerNodeID:      "node-b",
				LastSyncedClock: vclock.VectorClock{"node-a": 4, "node-b": 2},
				LastSyncedAt:    syncedAt,
			},
		},
		unresolved: []*models.Conflict{{ConflictID: "cf-1"}},
	}
	h := NewStatusHandler(testLogger(), engine)

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var status api.NodeStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))

	assert.Equal(t, "node-a", status.NodeID)
	assert.Equal(t, uint64(5), status.CurrentClock["node-a"])
	assert.Equal(t, 1, status.UnresolvedConflicts)
	require.Len(t, status.Peers, 1)
	assert.Equal(t, "node-b", status.Peers[0].PeerNodeID)
	assert.Equal(t, "2026-03-15T09:30:00Z", status.Peers[0].LastSyncedAt)
}

func TestStatusHandler_HandleStatus_NoPeers(t *testing.T) {
	engine := &fakeStatusEngine{
		nodeID: "node-a",
		clock:  vclock.New(),
	}
	h := NewStatusHandler(testLogger(), engine)

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var status api.NodeStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Empty(t, status.Peers)
	assert.Zero(t, status.UnresolvedConflicts)
}
