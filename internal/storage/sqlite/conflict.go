package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/peteroluoch/africa-offline-os/internal/models"
	"github.com/peteroluoch/africa-offline-os/internal/storage"
)

// SaveConflict inserts a conflict row. Competing changes are stored as a JSON
// array so the full evidence survives for operator review.
func (s *Storage) SaveConflict(ctx context.Context, conflict *models.Conflict) error {
	competing, err := json.Marshal(conflict.CompetingChanges)
	if err != nil {
		return fmt.Errorf("failed to serialize competing changes: %w", err)
	}

	var resolvedAt any
	if conflict.ResolvedAt != nil {
		resolvedAt = conflict.ResolvedAt.Unix()
	}

	query := `
		INSERT INTO sync_conflicts (
			conflict_id, entity_type, entity_id, competing_changes,
			resolution_strategy, resolved_value, status, detected_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.q.ExecContext(ctx, query,
		conflict.ConflictID,
		conflict.EntityType,
		conflict.EntityID,
		string(competing),
		conflict.Strategy,
		conflict.ResolvedValue,
		string(conflict.Status),
		conflict.DetectedAt.Unix(),
		resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save conflict: %w", err)
	}

	return nil
}

// GetConflict returns one conflict by id.
func (s *Storage) GetConflict(ctx context.Context, conflictID string) (*models.Conflict, error) {
	query := `
		SELECT conflict_id, entity_type, entity_id, competing_changes,
		       resolution_strategy, resolved_value, status, detected_at, resolved_at
		FROM sync_conflicts
		WHERE conflict_id = ?
	`

	conflict, err := scanConflict(s.q.QueryRowContext(ctx, query, conflictID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrConflictNotFound
		}
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}

	return conflict, nil
}

// ListUnresolved returns all conflicts still awaiting resolution, oldest first.
func (s *Storage) ListUnresolved(ctx context.Context) ([]*models.Conflict, error) {
	query := `
		SELECT conflict_id, entity_type, entity_id, competing_changes,
		       resolution_strategy, resolved_value, status, detected_at, resolved_at
		FROM sync_conflicts
		WHERE status = ?
		ORDER BY detected_at ASC
	`

	rows, err := s.q.QueryContext(ctx, query, string(models.ConflictUnresolved))
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var conflicts []*models.Conflict
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, conflict)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return conflicts, nil
}

// ResolveConflict marks a conflict resolved with the chosen value. The status
// check in the WHERE clause is the optimistic guard: if another actor already
// resolved the row, zero rows match and ErrConflictAlreadyResolved is
// returned.
func (s *Storage) ResolveConflict(ctx context.Context, conflictID string, value []byte) error {
	query := `
		UPDATE sync_conflicts
		SET status = ?, resolved_value = ?, resolved_at = ?
		WHERE conflict_id = ? AND status = ?
	`

	result, err := s.q.ExecContext(ctx, query,
		string(models.ConflictResolved),
		value,
		time.Now().UTC().Unix(),
		conflictID,
		string(models.ConflictUnresolved),
	)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		if _, err := s.GetConflict(ctx, conflictID); err != nil {
			return err
		}
		return storage.ErrConflictAlreadyResolved
	}

	return nil
}

// HasUnresolvedConflict reports whether an unresolved conflict with the same
// competing change set already exists for the entity. Guards retried sessions
// against duplicate conflict rows.
func (s *Storage) HasUnresolvedConflict(ctx context.Context, entityType, entityID string, changeIDs []string) (bool, error) {
	query := `
		SELECT competing_changes
		FROM sync_conflicts
		WHERE entity_type = ? AND entity_id = ? AND status = ?
	`

	rows, err := s.q.QueryContext(ctx, query, entityType, entityID, string(models.ConflictUnresolved))
	if err != nil {
		return false, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	want := append([]string(nil), changeIDs...)
	sort.Strings(want)

	for rows.Next() {
		var competingJSON string
		if err := rows.Scan(&competingJSON); err != nil {
			return false, fmt.Errorf("failed to scan conflict: %w", err)
		}

		var competing []*models.ChangeRecord
		if err := json.Unmarshal([]byte(competingJSON), &competing); err != nil {
			return false, fmt.Errorf("failed to parse competing changes: %w", err)
		}

		got := make([]string, 0, len(competing))
		for _, c := range competing {
			got = append(got, c.ChangeID)
		}
		sort.Strings(got)

		if equalStrings(want, got) {
			return true, nil
		}
	}

	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("rows iteration error: %w", err)
	}

	return false, nil
}

func scanConflict(row rowScanner) (*models.Conflict, error) {
	conflict := &models.Conflict{}
	var competingJSON, status string
	var detectedAt int64
	var resolvedAt sql.NullInt64
	var resolvedValue []byte

	err := row.Scan(
		&conflict.ConflictID,
		&conflict.EntityType,
		&conflict.EntityID,
		&competingJSON,
		&conflict.Strategy,
		&resolvedValue,
		&status,
		&detectedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(competingJSON), &conflict.CompetingChanges); err != nil {
		return nil, fmt.Errorf("failed to parse competing changes: %w", err)
	}

	conflict.ResolvedValue = resolvedValue
	conflict.Status = models.ConflictStatus(status)
	conflict.DetectedAt = time.Unix(detectedAt, 0).UTC()
	if resolvedAt.Valid {
		t := time.Unix(resolvedAt.Int64, 0).UTC()
		conflict.ResolvedAt = &t
	}

	return conflict, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
