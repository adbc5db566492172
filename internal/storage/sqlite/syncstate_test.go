package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peteroluoch/africa-offline-os/internal/models"
	"github.com/peteroluoch/africa-offline-os/internal/storage"
	"github.com/peteroluoch/africa-offline-os/internal/vclock"
)

func TestSyncState_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	now := time.Now().UTC().Truncate(time.Second)
	state := &models.SyncState{
		PeerNodeID:      "peer-b",
		LastSyncedClock: vclock.VectorClock{"node-a": 3, "peer-b": 7},
		LastSyncedAt:    now,
	}

	require.NoError(t, s.SaveSyncState(ctx, state))

	got, err := s.GetSyncState(ctx, "peer-b")
	require.NoError(t, err)
	assert.Equal(t, state.LastSyncedClock, got.LastSyncedClock)
	assert.True(t, now.Equal(got.LastSyncedAt))
}

func TestSyncState_FirstContact(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.GetSyncState(ctx, "unknown-peer")
	assert.ErrorIs(t, err, storage.ErrSyncStateNotFound)
}

func TestSyncState_UpsertAdvances(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	first := &models.SyncState{
		PeerNodeID:      "peer-b",
		LastSyncedClock: vclock.VectorClock{"node-a": 1},
		LastSyncedAt:    time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, s.SaveSyncState(ctx, first))

	second := &models.SyncState{
		PeerNodeID:      "peer-b",
		LastSyncedClock: vclock.VectorClock{"node-a": 5, "peer-b": 2},
		LastSyncedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.SaveSyncState(ctx, second))

	got, err := s.GetSyncState(ctx, "peer-b")
	require.NoError(t, err)
	assert.Equal(t, second.LastSyncedClock, got.LastSyncedClock)

	// Exactly one row per peer.
	states, err := s.ListSyncStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
}

func TestSyncState_List(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	for _, peer := range []string{"peer-c", "peer-a", "peer-b"} {
		require.NoError(t, s.SaveSyncState(ctx, &models.SyncState{
			PeerNodeID:      peer,
			LastSyncedClock: vclock.New(),
			LastSyncedAt:    time.Now().UTC(),
		}))
	}

	states, err := s.ListSyncStates(ctx)
	require.NoError(t, err)

	require.Len(t, states, 3)
	assert.Equal(t, "peer-a", states[0].PeerNodeID)
	assert.Equal(t, "peer-b", states[1].PeerNodeID)
	assert.Equal(t, "peer-c", states[2].PeerNodeID)
}
