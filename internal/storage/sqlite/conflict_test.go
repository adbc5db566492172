package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peteroluoch/africa-offline-os/internal/models"
	"github.com/peteroluoch/africa-offline-os/internal/resolve"
	"github.com/peteroluoch/africa-offline-os/internal/storage"
	"github.com/peteroluoch/africa-offline-os/internal/vclock"
)

func testConflict(t *testing.T, entityID string) *models.Conflict {
	t.Helper()

	local := testChange(t, "node-a", vclock.VectorClock{"node-a": 2})
	remote := testChange(t, "node-b", vclock.VectorClock{"node-b": 2})
	local.EntityID = entityID
	remote.EntityID = entityID

	return &models.Conflict{
		ConflictID:       uuid.New().String(),
		EntityType:       "harvest",
		EntityID:         entityID,
		Strategy:         resolve.StrategyManualResolution,
		Status:           models.ConflictUnresolved,
		CompetingChanges: []*models.ChangeRecord{local, remote},
		DetectedAt:       time.Now().UTC().Truncate(time.Second),
	}
}

func TestConflictStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	conflict := testConflict(t, "h-1")
	require.NoError(t, s.SaveConflict(ctx, conflict))

	got, err := s.GetConflict(ctx, conflict.ConflictID)
	require.NoError(t, err)

	assert.Equal(t, conflict.EntityType, got.EntityType)
	assert.Equal(t, conflict.EntityID, got.EntityID)
	assert.Equal(t, models.ConflictUnresolved, got.Status)
	assert.Equal(t, resolve.StrategyManualResolution, got.Strategy)
	assert.Nil(t, got.ResolvedAt)
	require.Len(t, got.CompetingChanges, 2)
	assert.Equal(t, conflict.CompetingChanges[0].ChangeID, got.CompetingChanges[0].ChangeID)
	assert.Equal(t, conflict.CompetingChanges[1].ChangeID, got.CompetingChanges[1].ChangeID)
}

func TestConflictStore_GetConflict_NotFound(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.GetConflict(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrConflictNotFound)
}

func TestConflictStore_ListUnresolved(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	first := testConflict(t, "h-1")
	first.DetectedAt = time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	second := testConflict(t, "h-2")

	resolved := testConflict(t, "h-3")
	resolvedAt := time.Now().UTC().Truncate(time.Second)
	resolved.Status = models.ConflictResolved
	resolved.ResolvedAt = &resolvedAt
	resolved.ResolvedValue = []byte("winner")

	for _, c := range []*models.Conflict{second, first, resolved} {
		require.NoError(t, s.SaveConflict(ctx, c))
	}

	unresolved, err := s.ListUnresolved(ctx)
	require.NoError(t, err)

	require.Len(t, unresolved, 2)
	assert.Equal(t, first.ConflictID, unresolved[0].ConflictID, "oldest first")
	assert.Equal(t, second.ConflictID, unresolved[1].ConflictID)
}

func TestConflictStore_ResolveConflict(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	conflict := testConflict(t, "h-1")
	require.NoError(t, s.SaveConflict(ctx, conflict))

	require.NoError(t, s.ResolveConflict(ctx, conflict.ConflictID, []byte("chosen")))

	got, err := s.GetConflict(ctx, conflict.ConflictID)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictResolved, got.Status)
	assert.Equal(t, []byte("chosen"), got.ResolvedValue)
	require.NotNil(t, got.ResolvedAt)

	// Second resolution loses the optimistic check.
	err = s.ResolveConflict(ctx, conflict.ConflictID, []byte("other"))
	assert.ErrorIs(t, err, storage.ErrConflictAlreadyResolved)

	// The first decision stands.
	got, err = s.GetConflict(ctx, conflict.ConflictID)
	require.NoError(t, err)
	assert.Equal(t, []byte("chosen"), got.ResolvedValue)
}

func TestConflictStore_ResolveConflict_NotFound(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	err := s.ResolveConflict(ctx, "missing", []byte("value"))
	assert.ErrorIs(t, err, storage.ErrConflictNotFound)
}

func TestConflictStore_HasUnresolvedConflict(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	conflict := testConflict(t, "h-1")
	require.NoError(t, s.SaveConflict(ctx, conflict))

	ids := []string{
		conflict.CompetingChanges[0].ChangeID,
		conflict.CompetingChanges[1].ChangeID,
	}

	// Same set matches regardless of order.
	found, err := s.HasUnresolvedConflict(ctx, "harvest", "h-1", []string{ids[1], ids[0]})
	require.NoError(t, err)
	assert.True(t, found)

	// Different change set is a new conflict.
	found, err = s.HasUnresolvedConflict(ctx, "harvest", "h-1", []string{ids[0], "other"})
	require.NoError(t, err)
	assert.False(t, found)

	// Resolved rows no longer match.
	require.NoError(t, s.ResolveConflict(ctx, conflict.ConflictID, []byte("done")))
	found, err = s.HasUnresolvedConflict(ctx, "harvest", "h-1", ids)
	require.NoError(t, err)
	assert.False(t, found)
}
