package sync

import (
	"time"

	"github.com/peteroluoch/africa-offline-os/internal/models"
	"github.com/peteroluoch/africa-offline-os/internal/vclock"
	"github.com/peteroluoch/africa-offline-os/pkg/api"
)

// toWireChange converts a change record to its wire representation.
func toWireChange(c *models.ChangeRecord) api.SyncChange {
	return api.SyncChange{
		ChangeID:          c.ChangeID,
		EntityType:        c.EntityType,
		EntityID:          c.EntityID,
		Operation:         string(c.Operation),
		OriginNode:        c.OriginNode,
		Payload:           c.Payload,
		VectorClock:       c.Clock.Clone(),
		CreatedAtUnixNano: c.CreatedAt.UnixNano(),
	}
}

// toWireChanges converts a delta to the wire representation, preserving order.
func toWireChanges(changes []*models.ChangeRecord) []api.SyncChange {
	wire := make([]api.SyncChange, 0, len(changes))
	for _, c := range changes {
		wire = append(wire, toWireChange(c))
	}
	return wire
}

// fromWireChange converts a received change back into a record.
// Validation happens separately before application.
func fromWireChange(w api.SyncChange) *models.ChangeRecord {
	return &models.ChangeRecord{
		ChangeID:   w.ChangeID,
		EntityType: w.EntityType,
		EntityID:   w.EntityID,
		Operation:  models.Operation(w.Operation),
		OriginNode: w.OriginNode,
		Payload:    w.Payload,
		Clock:      vclock.VectorClock(w.VectorClock).Clone(),
		CreatedAt:  time.Unix(0, w.CreatedAtUnixNano).UTC(),
	}
}

// FromWireChanges converts a received delta, preserving order.
func FromWireChanges(wire []api.SyncChange) []*models.ChangeRecord {
	changes := make([]*models.ChangeRecord, 0, len(wire))
	for _, w := range wire {
		changes = append(changes, fromWireChange(w))
	}
	return changes
}
