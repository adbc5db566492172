package identity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/peteroluoch/africa-offline-os/internal/vclock"
)

var (
	// BoltDB bucket and key names
	bucketIdentity = []byte("identity")
	keyNode        = []byte("node")
	keyClock       = []byte("clock_snapshot")
)

// NodeIdentity is the durable identity of this node. The node id is minted
// once and never changes afterwards: vector clock entries, change origins and
// peer registrations all key on it.
type NodeIdentity struct {
	NodeID    string    `json:"node_id"`
	Village   string    `json:"village"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists the node identity and a periodic clock snapshot in BoltDB.
// The snapshot is an optimization only: the authoritative clock is always
// rebuilt from the change log on startup and merged with the snapshot.
type Store struct {
	db *bbolt.DB
}

// NewStore wraps an open BoltDB handle, creating the identity bucket.
func NewStore(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdentity)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create identity bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// LoadOrCreate returns the stored identity, minting a new one on first run.
func (s *Store) LoadOrCreate(village string) (*NodeIdentity, error) {
	var ident *NodeIdentity

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketIdentity)

		if data := bucket.Get(keyNode); data != nil {
			ident = &NodeIdentity{}
			if err := json.Unmarshal(data, ident); err != nil {
				return fmt.Errorf("failed to unmarshal identity: %w", err)
			}
			return nil
		}

		ident = &NodeIdentity{
			NodeID:    uuid.New().String(),
			Village:   village,
			CreatedAt: time.Now().UTC(),
		}
		data, err := json.Marshal(ident)
		if err != nil {
			return fmt.Errorf("failed to marshal identity: %w", err)
		}
		return bucket.Put(keyNode, data)
	})
	if err != nil {
		return nil, err
	}

	return ident, nil
}

// SaveClockSnapshot persists the current vector clock.
func (s *Store) SaveClockSnapshot(clock vclock.VectorClock) error {
	data, err := json.Marshal(clock)
	if err != nil {
		return fmt.Errorf("failed to marshal clock: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIdentity).Put(keyClock, data)
	})
	if err != nil {
		return fmt.Errorf("failed to save clock snapshot: %w", err)
	}

	return nil
}

// ClockSnapshot returns the last persisted clock, or an empty clock when no
// snapshot exists yet.
func (s *Store) ClockSnapshot() (vclock.VectorClock, error) {
	clock := vclock.New()

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketIdentity).Get(keyClock)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &clock)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load clock snapshot: %w", err)
	}

	return clock, nil
}
