package models

import (
	"time"

	"github.com/peteroluoch/africa-offline-os/internal/vclock"
)

// ConflictStatus tracks the lifecycle of a detected conflict.
type ConflictStatus string

const (
	ConflictUnresolved ConflictStatus = "unresolved"
	ConflictResolved   ConflictStatus = "resolved"
)

// Conflict records two or more changes to the same entity whose vector clocks
// are concurrent. Created once by the sync engine when concurrency is
// detected; an unresolved conflict stays durable until an operator or an
// explicit policy resolves it. Resolution updates use an optimistic status
// check because the engine could re-detect the same conflict on a retried
// session.
type Conflict struct {
	DetectedAt       time.Time       `json:"detected_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	ConflictID       string          `json:"conflict_id"`
	EntityType       string          `json:"entity_type"`
	EntityID         string          `json:"entity_id"`
	Strategy         string          `json:"resolution_strategy_used"`
	Status           ConflictStatus  `json:"status"`
	ResolvedValue    []byte          `json:"resolved_value,omitempty"`
	CompetingChanges []*ChangeRecord `json:"competing_changes"`
}

// SyncState is the last causally-consistent point of agreement between this
// node and one peer. Exactly one row exists per peer; LastSyncedClock is
// monotonically non-decreasing across sessions.
type SyncState struct {
	LastSyncedAt    time.Time          `json:"last_synced_at"`
	PeerNodeID      string             `json:"peer_node_id"`
	LastSyncedClock vclock.VectorClock `json:"last_synced_vector_clock"`
}

// Entity is the current merged state of one replicated entity: the last
// applied change, or the resolved merge of concurrent changes. Deleted
// entities are kept as tombstones so deletes replicate too.
type Entity struct {
	UpdatedAt    time.Time          `json:"updated_at"`
	EntityType   string             `json:"entity_type"`
	EntityID     string             `json:"entity_id"`
	LastChangeID string             `json:"last_change_id"`
	Payload      []byte             `json:"payload"`
	Clock        vclock.VectorClock `json:"vector_clock"`
	Deleted      bool               `json:"deleted"`
}
