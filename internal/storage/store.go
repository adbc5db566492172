package storage

import (
	"context"

	"github.com/peteroluoch/africa-offline-os/internal/models"
	"github.com/peteroluoch/africa-offline-os/internal/vclock"
)

//go:generate go tool moq -out store_mock.go . Store

// ChangeLog is the append-only log of local and applied remote mutations.
// Safe for concurrent readers; records are immutable once appended.
type ChangeLog interface {
	// AppendChange appends a record to the log.
	// Returns ErrDuplicateChange if the change id is already present.
	AppendChange(ctx context.Context, change *models.ChangeRecord) error

	// GetChange retrieves one record by change id.
	// Returns ErrChangeNotFound if absent.
	GetChange(ctx context.Context, changeID string) (*models.ChangeRecord, error)

	// ChangesSince returns every record not yet covered by the given clock
	// (records whose clock compares After or Concurrent to it), in append
	// order. Append order respects causality: a cause is always logged
	// before its effect on this node.
	ChangesSince(ctx context.Context, since vclock.VectorClock) ([]*models.ChangeRecord, error)

	// MarkAcknowledged records that a peer durably applied the given changes.
	MarkAcknowledged(ctx context.Context, peerID string, changeIDs []string) error

	// AcknowledgedBy returns the change ids already acknowledged by a peer.
	AcknowledgedBy(ctx context.Context, peerID string) (map[string]bool, error)
}

// EntityStore holds the current merged state per entity, including delete
// tombstones so deletions replicate.
type EntityStore interface {
	// GetEntity returns the merged state for (entityType, entityID).
	// Returns ErrEntityNotFound if the entity has never been written.
	GetEntity(ctx context.Context, entityType, entityID string) (*models.Entity, error)

	// UpsertEntity writes the merged state for an entity.
	UpsertEntity(ctx context.Context, entity *models.Entity) error

	// ListEntitiesByType returns non-deleted entities of one type updated
	// within [since, now], newest first. Used by the regional aggregator.
	ListEntitiesByType(ctx context.Context, entityType string, sinceUnix int64) ([]*models.Entity, error)

	// CountEntitiesByType returns the number of non-deleted entities per type.
	CountEntitiesByType(ctx context.Context) (map[string]int, error)
}

// SyncStateStore keeps one row per peer with the last agreed clock.
type SyncStateStore interface {
	// GetSyncState returns the state for a peer.
	// Returns ErrSyncStateNotFound on first contact.
	GetSyncState(ctx context.Context, peerID string) (*models.SyncState, error)

	// SaveSyncState upserts the state for a peer.
	SaveSyncState(ctx context.Context, state *models.SyncState) error

	// ListSyncStates returns all known peer states, for status reporting.
	ListSyncStates(ctx context.Context) ([]*models.SyncState, error)
}

// ConflictStore persists detected conflicts. Rows are written once by the
// sync engine and later resolved by an external action under an optimistic
// status check.
type ConflictStore interface {
	// SaveConflict inserts a conflict row with status unresolved, or a
	// resolved row when an automatic strategy already picked a winner.
	SaveConflict(ctx context.Context, conflict *models.Conflict) error

	// GetConflict returns one conflict by id.
	// Returns ErrConflictNotFound if absent.
	GetConflict(ctx context.Context, conflictID string) (*models.Conflict, error)

	// ListUnresolved returns all conflicts still awaiting resolution.
	ListUnresolved(ctx context.Context) ([]*models.Conflict, error)

	// ResolveConflict marks a conflict resolved with the operator-chosen
	// value. Fails with ErrConflictAlreadyResolved if the row is no longer
	// unresolved (optimistic concurrency).
	ResolveConflict(ctx context.Context, conflictID string, value []byte) error

	// HasUnresolvedConflict reports whether an unresolved conflict already
	// exists for the entity with the same competing change ids, so retried
	// sessions do not duplicate conflict rows.
	HasUnresolvedConflict(ctx context.Context, entityType, entityID string, changeIDs []string) (bool, error)
}

// Store is the full persistence surface the sync engine needs.
type Store interface {
	ChangeLog
	EntityStore
	SyncStateStore
	ConflictStore

	// WithTx runs fn against a store bound to a single transaction.
	// The whole session commits or rolls back as one unit: a transport or
	// validation failure mid-session must leave every table untouched.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
