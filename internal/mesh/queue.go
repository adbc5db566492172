package mesh

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

var bucketQueue = []byte("mesh_queue")

// Item priorities. Higher drains first.
const (
	PriorityNormal = 1
	PriorityHigh   = 2
)

// Item is one pending unit of outbound sync work. Items survive restarts so
// a session owed to a peer is never lost to a power cut: the node picks the
// queue back up when it comes online.
type Item struct {
	ID           uint64     `json:"id"`
	TargetNodeID string     `json:"target_node_id"`
	Reason       string     `json:"reason"`
	Priority     int        `json:"priority"`
	Attempts     int        `json:"attempts"`
	CreatedAt    time.Time  `json:"created_at"`
	LastAttempt  *time.Time `json:"last_attempt,omitempty"`
}

// Queue is a BoltDB-backed store-and-forward queue of outbound sync work.
type Queue struct {
	db          *bbolt.DB
	maxAttempts int
}

// NewQueue wraps an open BoltDB handle, creating the queue bucket.
// maxAttempts bounds delivery retries per item; 0 means unlimited.
func NewQueue(db *bbolt.DB, maxAttempts int) (*Queue, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketQueue)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create queue bucket: %w", err)
	}
	return &Queue{db: db, maxAttempts: maxAttempts}, nil
}

// Enqueue adds an item for a target peer and returns its id.
func (q *Queue) Enqueue(targetNodeID, reason string, priority int) (uint64, error) {
	var id uint64

	err := q.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate queue id: %w", err)
		}
		id = seq

		item := Item{
			ID:           id,
			TargetNodeID: targetNodeID,
			Reason:       reason,
			Priority:     priority,
			CreatedAt:    time.Now().UTC(),
		}
		data, err := json.Marshal(&item)
		if err != nil {
			return fmt.Errorf("failed to marshal queue item: %w", err)
		}
		return bucket.Put(itemKey(id), data)
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

// Pending returns undelivered items, highest priority first and oldest first
// within a priority. Items past the attempt ceiling are excluded. Pass an
// empty targetNodeID for all peers; limit <= 0 means no limit.
func (q *Queue) Pending(targetNodeID string, limit int) ([]*Item, error) {
	var items []*Item

	err := q.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketQueue).ForEach(func(k, v []byte) error {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("failed to unmarshal queue item: %w", err)
			}
			if targetNodeID != "" && item.TargetNodeID != targetNodeID {
				return nil
			}
			if q.maxAttempts > 0 && item.Attempts >= q.maxAttempts {
				return nil
			}
			items = append(items, &item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// HasPending reports whether the peer already has undelivered work queued.
func (q *Queue) HasPending(targetNodeID string) (bool, error) {
	items, err := q.Pending(targetNodeID, 1)
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

// MarkSuccess removes a delivered item.
func (q *Queue) MarkSuccess(id uint64) error {
	return q.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketQueue).Delete(itemKey(id))
	})
}

// MarkFailed increments the attempt count and records the attempt time.
func (q *Queue) MarkFailed(id uint64) error {
	return q.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		data := bucket.Get(itemKey(id))
		if data == nil {
			return nil
		}

		var item Item
		if err := json.Unmarshal(data, &item); err != nil {
			return fmt.Errorf("failed to unmarshal queue item: %w", err)
		}
		now := time.Now().UTC()
		item.Attempts++
		item.LastAttempt = &now

		updated, err := json.Marshal(&item)
		if err != nil {
			return fmt.Errorf("failed to marshal queue item: %w", err)
		}
		return bucket.Put(itemKey(id), updated)
	})
}

// Prune removes items older than maxAge or past the attempt ceiling and
// returns how many were dropped.
func (q *Queue) Prune(maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	pruned := 0

	err := q.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)

		var drop [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("failed to unmarshal queue item: %w", err)
			}
			expired := item.CreatedAt.Before(cutoff)
			exhausted := q.maxAttempts > 0 && item.Attempts >= q.maxAttempts
			if expired || exhausted {
				key := make([]byte, len(k))
				copy(key, k)
				drop = append(drop, key)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range drop {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		pruned = len(drop)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return pruned, nil
}

func itemKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}
