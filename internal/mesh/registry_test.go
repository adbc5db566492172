package mesh

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func testDB(t *testing.T) *bbolt.DB {
	t.Helper()

	db, err := bbolt.Open(filepath.Join(t.TempDir(), "mesh.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry, err := NewRegistry(testDB(t))
	require.NoError(t, err)

	peer := &Peer{NodeID: "node-b", BaseURL: "http://10.0.0.2:8384", Village: "Kibera"}
	require.NoError(t, registry.Register(peer))

	got, err := registry.Get("node-b")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:8384", got.BaseURL)
	assert.Equal(t, "Kibera", got.Village)
	assert.False(t, got.RegisteredAt.IsZero())
	assert.Nil(t, got.LastSeenAt)
}

func TestRegistry_Get_NotFound(t *testing.T) {
	registry, err := NewRegistry(testDB(t))
	require.NoError(t, err)

	_, err = registry.Get("unknown")
	assert.ErrorIs(t, err, ErrPeerNotFound)
}

func TestRegistry_ReregisterKeepsHistory(t *testing.T) {
	registry, err := NewRegistry(testDB(t))
	require.NoError(t, err)

	require.NoError(t, registry.Register(&Peer{NodeID: "node-b", BaseURL: "http://old:8384"}))
	require.NoError(t, registry.Touch("node-b"))

	original, err := registry.Get("node-b")
	require.NoError(t, err)

	// The peer moved to a new address.
	require.NoError(t, registry.Register(&Peer{NodeID: "node-b", BaseURL: "http://new:8384"}))

	got, err := registry.Get("node-b")
	require.NoError(t, err)
	assert.Equal(t, "http://new:8384", got.BaseURL)
	assert.True(t, original.RegisteredAt.Equal(got.RegisteredAt))
	require.NotNil(t, got.LastSeenAt)
	assert.True(t, original.LastSeenAt.Equal(*got.LastSeenAt))
}

func TestRegistry_List(t *testing.T) {
	registry, err := NewRegistry(testDB(t))
	require.NoError(t, err)

	for _, id := range []string{"node-c", "node-a", "node-b"} {
		require.NoError(t, registry.Register(&Peer{NodeID: id, BaseURL: "http://" + id + ":8384"}))
	}

	peers, err := registry.List()
	require.NoError(t, err)

	require.Len(t, peers, 3)
	assert.Equal(t, "node-a", peers[0].NodeID)
	assert.Equal(t, "node-b", peers[1].NodeID)
	assert.Equal(t, "node-c", peers[2].NodeID)
}

func TestRegistry_Touch(t *testing.T) {
	registry, err := NewRegistry(testDB(t))
	require.NoError(t, err)

	require.NoError(t, registry.Register(&Peer{NodeID: "node-b", BaseURL: "http://b:8384"}))

	before := time.Now().UTC().Add(-time.Second)
	require.NoError(t, registry.Touch("node-b"))

	got, err := registry.Get("node-b")
	require.NoError(t, err)
	require.NotNil(t, got.LastSeenAt)
	assert.True(t, got.LastSeenAt.After(before))

	assert.ErrorIs(t, registry.Touch("unknown"), ErrPeerNotFound)
}

func TestRegistry_Remove(t *testing.T) {
	registry, err := NewRegistry(testDB(t))
	require.NoError(t, err)

	require.NoError(t, registry.Register(&Peer{NodeID: "node-b", BaseURL: "http://b:8384"}))
	require.NoError(t, registry.Remove("node-b"))

	_, err = registry.Get("node-b")
	assert.ErrorIs(t, err, ErrPeerNotFound)

	// Removing an unknown peer is a no-op.
	assert.NoError(t, registry.Remove("node-b"))
}
