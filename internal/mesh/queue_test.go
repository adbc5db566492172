package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_EnqueueAndPending(t *testing.T) {
	queue, err := NewQueue(testDB(t), 0)
	require.NoError(t, err)

	id1, err := queue.Enqueue("node-b", "interval", PriorityNormal)
	require.NoError(t, err)
	id2, err := queue.Enqueue("node-c", "manual", PriorityHigh)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	items, err := queue.Pending("", 0)
	require.NoError(t, err)

	require.Len(t, items, 2)
	assert.Equal(t, id2, items[0].ID, "high priority drains first")
	assert.Equal(t, "manual", items[0].Reason)
	assert.Equal(t, id1, items[1].ID)
	assert.Zero(t, items[0].Attempts)
}

func TestQueue_PendingOrdering(t *testing.T) {
	queue, err := NewQueue(testDB(t), 0)
	require.NoError(t, err)

	first, err := queue.Enqueue("node-b", "interval", PriorityNormal)
	require.NoError(t, err)
	second, err := queue.Enqueue("node-b", "interval", PriorityNormal)
	require.NoError(t, err)
	urgent, err := queue.Enqueue("node-b", "manual", PriorityHigh)
	require.NoError(t, err)

	items, err := queue.Pending("node-b", 0)
	require.NoError(t, err)

	require.Len(t, items, 3)
	assert.Equal(t, urgent, items[0].ID)
	assert.Equal(t, first, items[1].ID, "oldest first within a priority")
	assert.Equal(t, second, items[2].ID)
}

func TestQueue_PendingFilterAndLimit(t *testing.T) {
	queue, err := NewQueue(testDB(t), 0)
	require.NoError(t, err)

	_, err = queue.Enqueue("node-b", "interval", PriorityNormal)
	require.NoError(t, err)
	_, err = queue.Enqueue("node-c", "interval", PriorityNormal)
	require.NoError(t, err)
	_, err = queue.Enqueue("node-b", "manual", PriorityHigh)
	require.NoError(t, err)

	forB, err := queue.Pending("node-b", 0)
	require.NoError(t, err)
	require.Len(t, forB, 2)
	for _, item := range forB {
		assert.Equal(t, "node-b", item.TargetNodeID)
	}

	limited, err := queue.Pending("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestQueue_HasPending(t *testing.T) {
	queue, err := NewQueue(testDB(t), 0)
	require.NoError(t, err)

	has, err := queue.HasPending("node-b")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = queue.Enqueue("node-b", "interval", PriorityNormal)
	require.NoError(t, err)

	has, err = queue.HasPending("node-b")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = queue.HasPending("node-c")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestQueue_MarkSuccess(t *testing.T) {
	queue, err := NewQueue(testDB(t), 0)
	require.NoError(t, err)

	id, err := queue.Enqueue("node-b", "interval", PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, queue.MarkSuccess(id))

	has, err := queue.HasPending("node-b")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestQueue_MarkFailedAndAttemptCeiling(t *testing.T) {
	queue, err := NewQueue(testDB(t), 2)
	require.NoError(t, err)

	id, err := queue.Enqueue("node-b", "interval", PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, queue.MarkFailed(id))

	items, err := queue.Pending("node-b", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
	require.NotNil(t, items[0].LastAttempt)

	// Second failure hits the ceiling; the item stops being offered.
	require.NoError(t, queue.MarkFailed(id))

	items, err = queue.Pending("node-b", 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestQueue_Prune(t *testing.T) {
	queue, err := NewQueue(testDB(t), 2)
	require.NoError(t, err)

	exhausted, err := queue.Enqueue("node-b", "interval", PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, queue.MarkFailed(exhausted))
	require.NoError(t, queue.MarkFailed(exhausted))

	fresh, err := queue.Enqueue("node-c", "interval", PriorityNormal)
	require.NoError(t, err)

	pruned, err := queue.Prune(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned, "only the exhausted item is dropped")

	items, err := queue.Pending("", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, fresh, items[0].ID)

	// A zero max age expires everything by creation time.
	pruned, err = queue.Prune(0)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
}
