package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/peteroluoch/africa-offline-os/internal/models"
	"github.com/peteroluoch/africa-offline-os/internal/storage"
	"github.com/peteroluoch/africa-offline-os/internal/vclock"
)

// GetEntity returns the merged state for (entityType, entityID), tombstones
// included: the sync engine needs deleted entities to compare clocks on
// replayed deletes.
func (s *Storage) GetEntity(ctx context.Context, entityType, entityID string) (*models.Entity, error) {
	query := `
		SELECT entity_type, entity_id, payload, vector_clock,
		       last_change_id, deleted, updated_at
		FROM entities
		WHERE entity_type = ? AND entity_id = ?
	`

	entity := &models.Entity{}
	var clockJSON string
	var deleted int
	var updatedAt int64

	err := s.q.QueryRowContext(ctx, query, entityType, entityID).Scan(
		&entity.EntityType,
		&entity.EntityID,
		&entity.Payload,
		&clockJSON,
		&entity.LastChangeID,
		&deleted,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	clock, err := vclock.Parse([]byte(clockJSON))
	if err != nil {
		return nil, err
	}

	entity.Clock = clock
	entity.Deleted = intToBool(deleted)
	entity.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return entity, nil
}

// UpsertEntity writes the merged state for an entity.
func (s *Storage) UpsertEntity(ctx context.Context, entity *models.Entity) error {
	clockJSON, err := entity.Clock.Bytes()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO entities (
			entity_type, entity_id, payload, vector_clock,
			last_change_id, deleted, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			payload = excluded.payload,
			vector_clock = excluded.vector_clock,
			last_change_id = excluded.last_change_id,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at
	`

	_, err = s.q.ExecContext(ctx, query,
		entity.EntityType,
		entity.EntityID,
		entity.Payload,
		string(clockJSON),
		entity.LastChangeID,
		boolToInt(entity.Deleted),
		entity.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}

	return nil
}

// ListEntitiesByType returns non-deleted entities of one type updated at or
// after sinceUnix, newest first.
func (s *Storage) ListEntitiesByType(ctx context.Context, entityType string, sinceUnix int64) ([]*models.Entity, error) {
	query := `
		SELECT entity_type, entity_id, payload, vector_clock,
		       last_change_id, deleted, updated_at
		FROM entities
		WHERE entity_type = ? AND deleted = 0 AND updated_at >= ?
		ORDER BY updated_at DESC
	`

	rows, err := s.q.QueryContext(ctx, query, entityType, sinceUnix)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var entities []*models.Entity
	for rows.Next() {
		entity := &models.Entity{}
		var clockJSON string
		var deleted int
		var updatedAt int64

		err := rows.Scan(
			&entity.EntityType,
			&entity.EntityID,
			&entity.Payload,
			&clockJSON,
			&entity.LastChangeID,
			&deleted,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}

		clock, err := vclock.Parse([]byte(clockJSON))
		if err != nil {
			return nil, err
		}

		entity.Clock = clock
		entity.Deleted = intToBool(deleted)
		entity.UpdatedAt = time.Unix(updatedAt, 0).UTC()

		entities = append(entities, entity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return entities, nil
}

// CountEntitiesByType returns the number of non-deleted entities per type.
func (s *Storage) CountEntitiesByType(ctx context.Context) (map[string]int, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT entity_type, COUNT(*) FROM entities WHERE deleted = 0 GROUP BY entity_type")
	if err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[string]int)
	for rows.Next() {
		var entityType string
		var count int
		if err := rows.Scan(&entityType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[entityType] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return counts, nil
}
