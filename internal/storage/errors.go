package storage

import "errors"

// Common storage errors
var (
	// ErrChangeNotFound indicates the change record does not exist
	ErrChangeNotFound = errors.New("change record not found")

	// ErrEntityNotFound indicates no merged state exists for the entity
	ErrEntityNotFound = errors.New("entity not found")

	// ErrSyncStateNotFound indicates no sync state exists for the peer yet
	ErrSyncStateNotFound = errors.New("sync state not found")

	// ErrConflictNotFound indicates the conflict row does not exist
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrConflictAlreadyResolved indicates the optimistic status check on a
	// conflict resolution failed: another actor resolved it first
	ErrConflictAlreadyResolved = errors.New("conflict already resolved")

	// ErrDuplicateChange indicates an append with an already-known change id
	ErrDuplicateChange = errors.New("duplicate change record")
)
