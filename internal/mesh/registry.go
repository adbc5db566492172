package mesh

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

var (
	// BoltDB bucket names
	bucketPeers = []byte("mesh_peers")

	// ErrPeerNotFound is returned when a node id is not registered.
	ErrPeerNotFound = errors.New("peer not found")
)

// Peer is one registered mesh neighbor.
type Peer struct {
	NodeID       string     `json:"node_id"`
	BaseURL      string     `json:"base_url"`
	Village      string     `json:"village,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
}

// Registry is the durable set of known peers. Registration survives restarts
// so a node resumes syncing with its neighbors without re-discovery.
type Registry struct {
	db *bbolt.DB
}

// NewRegistry wraps an open BoltDB handle, creating the peers bucket.
func NewRegistry(db *bbolt.DB) (*Registry, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPeers)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peers bucket: %w", err)
	}
	return &Registry{db: db}, nil
}

// Register adds or updates a peer. Re-registering keeps the original
// RegisteredAt.
func (r *Registry) Register(peer *Peer) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPeers)

		stored := *peer
		if data := bucket.Get([]byte(peer.NodeID)); data != nil {
			var existing Peer
			if err := json.Unmarshal(data, &existing); err == nil {
				stored.RegisteredAt = existing.RegisteredAt
				stored.LastSeenAt = existing.LastSeenAt
			}
		}
		if stored.RegisteredAt.IsZero() {
			stored.RegisteredAt = time.Now().UTC()
		}

		data, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("failed to marshal peer: %w", err)
		}
		return bucket.Put([]byte(peer.NodeID), data)
	})
}

// Get returns one peer by node id.
func (r *Registry) Get(nodeID string) (*Peer, error) {
	var peer *Peer

	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPeers).Get([]byte(nodeID))
		if data == nil {
			return ErrPeerNotFound
		}
		peer = &Peer{}
		if err := json.Unmarshal(data, peer); err != nil {
			return fmt.Errorf("failed to unmarshal peer: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return peer, nil
}

// List returns all registered peers ordered by node id.
func (r *Registry) List() ([]*Peer, error) {
	var peers []*Peer

	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPeers).ForEach(func(k, v []byte) error {
			var peer Peer
			if err := json.Unmarshal(v, &peer); err != nil {
				return fmt.Errorf("failed to unmarshal peer: %w", err)
			}
			peers = append(peers, &peer)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].NodeID < peers[j].NodeID })
	return peers, nil
}

// Touch records a successful contact with a peer.
func (r *Registry) Touch(nodeID string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPeers)
		data := bucket.Get([]byte(nodeID))
		if data == nil {
			return ErrPeerNotFound
		}

		var peer Peer
		if err := json.Unmarshal(data, &peer); err != nil {
			return fmt.Errorf("failed to unmarshal peer: %w", err)
		}
		now := time.Now().UTC()
		peer.LastSeenAt = &now

		updated, err := json.Marshal(&peer)
		if err != nil {
			return fmt.Errorf("failed to marshal peer: %w", err)
		}
		return bucket.Put([]byte(nodeID), updated)
	})
}

// Remove deletes a peer registration.
func (r *Registry) Remove(nodeID string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPeers).Delete([]byte(nodeID))
	})
}
