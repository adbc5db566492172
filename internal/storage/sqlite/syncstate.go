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

// GetSyncState returns the sync state for a peer.
// Returns ErrSyncStateNotFound on first contact.
func (s *Storage) GetSyncState(ctx context.Context, peerID string) (*models.SyncState, error) {
	query := `
		SELECT peer_node_id, last_synced_vector_clock, last_synced_at
		FROM sync_state
		WHERE peer_node_id = ?
	`

	state, err := scanSyncState(s.q.QueryRowContext(ctx, query, peerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSyncStateNotFound
		}
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	return state, nil
}

// SaveSyncState upserts the sync state for a peer.
func (s *Storage) SaveSyncState(ctx context.Context, state *models.SyncState) error {
	clockJSON, err := state.LastSyncedClock.Bytes()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sync_state (peer_node_id, last_synced_vector_clock, last_synced_at)
		VALUES (?, ?, ?)
		ON CONFLICT (peer_node_id) DO UPDATE SET
			last_synced_vector_clock = excluded.last_synced_vector_clock,
			last_synced_at = excluded.last_synced_at
	`

	_, err = s.q.ExecContext(ctx, query,
		state.PeerNodeID,
		string(clockJSON),
		state.LastSyncedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}

	return nil
}

// ListSyncStates returns all known peer states ordered by peer id.
func (s *Storage) ListSyncStates(ctx context.Context) ([]*models.SyncState, error) {
	query := `
		SELECT peer_node_id, last_synced_vector_clock, last_synced_at
		FROM sync_state
		ORDER BY peer_node_id ASC
	`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync states: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var states []*models.SyncState
	for rows.Next() {
		state, err := scanSyncState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return states, nil
}

func scanSyncState(row rowScanner) (*models.SyncState, error) {
	state := &models.SyncState{}
	var clockJSON string
	var syncedAt int64

	if err := row.Scan(&state.PeerNodeID, &clockJSON, &syncedAt); err != nil {
		return nil, err
	}

	clock, err := vclock.Parse([]byte(clockJSON))
	if err != nil {
		return nil, err
	}

	state.LastSyncedClock = clock
	state.LastSyncedAt = time.Unix(syncedAt, 0).UTC()

	return state, nil
}
