package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/peteroluoch/africa-offline-os/internal/vclock"
)

// ErrValidation indicates a malformed change record or protocol message.
// Rejected locally, never propagated to a peer as data.
var ErrValidation = errors.New("validation error")

// Operation identifies the kind of mutation a change record carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether the operation is one of create/update/delete.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// ChangeRecord is one mutation to a locally-owned entity, intended for
// replication. Records are immutable once created: the change log is
// append-only and records are never physically deleted.
//
// Payload is opaque to the sync core. Schema validation belongs to the
// domain module that owns the entity type.
type ChangeRecord struct {
	CreatedAt  time.Time         `json:"created_at"`
	Clock      vclock.VectorClock `json:"vector_clock"`
	ChangeID   string            `json:"change_id"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	OriginNode string            `json:"origin_node_id"`
	Payload    []byte            `json:"payload"`
	Operation  Operation         `json:"operation"`
}

// NewChangeRecord constructs an immutable change record. The clock must be a
// snapshot taken after incrementing the origin node's own counter; CreatedAt
// is normalized to UTC so that last-write-wins comparisons are deterministic
// across replicas.
func NewChangeRecord(entityType, entityID string, op Operation, payload []byte, originNode string, clock vclock.VectorClock) (*ChangeRecord, error) {
	if strings.TrimSpace(entityType) == "" {
		return nil, fmt.Errorf("%w: entity_type is empty", ErrValidation)
	}
	if strings.TrimSpace(entityID) == "" {
		return nil, fmt.Errorf("%w: entity_id is empty", ErrValidation)
	}
	if !op.Valid() {
		return nil, fmt.Errorf("%w: unknown operation %q", ErrValidation, op)
	}
	if strings.TrimSpace(originNode) == "" {
		return nil, fmt.Errorf("%w: origin_node_id is empty", ErrValidation)
	}
	if clock.Counter(originNode) == 0 {
		return nil, fmt.Errorf("%w: clock does not advance origin node %s", ErrValidation, originNode)
	}

	return &ChangeRecord{
		ChangeID:   uuid.New().String(),
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Payload:    payload,
		OriginNode: originNode,
		Clock:      clock.Clone(),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Validate checks a record received from a peer before it is applied.
func (c *ChangeRecord) Validate() error {
	if strings.TrimSpace(c.ChangeID) == "" {
		return fmt.Errorf("%w: change_id is empty", ErrValidation)
	}
	if strings.TrimSpace(c.EntityType) == "" {
		return fmt.Errorf("%w: entity_type is empty", ErrValidation)
	}
	if strings.TrimSpace(c.EntityID) == "" {
		return fmt.Errorf("%w: entity_id is empty", ErrValidation)
	}
	if !c.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrValidation, c.Operation)
	}
	if strings.TrimSpace(c.OriginNode) == "" {
		return fmt.Errorf("%w: origin_node_id is empty", ErrValidation)
	}
	if len(c.Clock) == 0 {
		return fmt.Errorf("%w: vector_clock is empty", ErrValidation)
	}
	return nil
}

// Clone returns a deep copy of the record.
func (c *ChangeRecord) Clone() *ChangeRecord {
	payload := make([]byte, len(c.Payload))
	copy(payload, c.Payload)

	return &ChangeRecord{
		ChangeID:   c.ChangeID,
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Operation:  c.Operation,
		Payload:    payload,
		OriginNode: c.OriginNode,
		Clock:      c.Clock.Clone(),
		CreatedAt:  c.CreatedAt,
	}
}

// EntityKey returns the (entity_type, entity_id) pair as a single log key.
func (c *ChangeRecord) EntityKey() string {
	return c.EntityType + "/" + c.EntityID
}
