package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/peteroluoch/africa-offline-os/internal/models"
	"github.com/peteroluoch/africa-offline-os/internal/resolve"
	"github.com/peteroluoch/africa-offline-os/internal/storage"
	"github.com/peteroluoch/africa-offline-os/internal/transport"
	"github.com/peteroluoch/africa-offline-os/internal/vclock"
	"github.com/peteroluoch/africa-offline-os/pkg/api"
)

// ErrSyncInProgress indicates an attempt to start a second session with a
// peer while one is still active. At most one in-flight session per peer is
// allowed; callers must wait or queue.
var ErrSyncInProgress = errors.New("sync session already in progress with peer")

// Engine orchestrates sync sessions end-to-end: delta computation, change
// application, conflict detection and resolution, and per-peer sync state.
// It is the only component with side effects on persisted sync state.
//
// All collaborators are injected; nothing here references ambient globals, so
// tests can run several node instances side by side.
type Engine struct {
	store    storage.Store
	resolver resolve.Resolver
	logger   *slog.Logger
	nodeID   string

	// mu guards the in-memory clock; gate serializes sessions and local
	// writes against aggregator reads (readers take the R side).
	mu    stdsync.Mutex
	clock vclock.VectorClock
	gate  stdsync.RWMutex

	peersMu  stdsync.Mutex
	inFlight map[string]bool
}

// NewEngine creates a sync engine for the given node identity. The node's
// vector clock is rebuilt from the change log so a restart never regresses
// causal history; initial is merged in as a persisted snapshot hint and may
// be nil.
func NewEngine(ctx context.Context, nodeID string, store storage.Store, resolver resolve.Resolver, initial vclock.VectorClock, logger *slog.Logger) (*Engine, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("%w: node id is empty", models.ErrValidation)
	}
	if resolver == nil {
		resolver = resolve.LastWriteWins{}
	}

	clock := vclock.New().Merge(initial)

	changes, err := store.ChangesSince(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild clock from change log: %w", err)
	}
	for _, c := range changes {
		clock = clock.Merge(c.Clock)
	}

	return &Engine{
		nodeID:   nodeID,
		store:    store,
		resolver: resolver,
		logger:   logger,
		clock:    clock,
		inFlight: make(map[string]bool),
	}, nil
}

// NodeID returns this node's identity.
func (e *Engine) NodeID() string { return e.nodeID }

// Clock returns a snapshot of the node's current vector clock.
func (e *Engine) Clock() vclock.VectorClock {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.Clone()
}

// ReadGate returns the lock aggregation readers must hold so they never
// observe a partially-applied sync session.
func (e *Engine) ReadGate() *stdsync.RWMutex {
	return &e.gate
}

// RecordLocalChange appends a mutation produced by a local domain module:
// the clock advances, the change joins the append-only log, and the merged
// entity state is updated, all in one transaction.
func (e *Engine) RecordLocalChange(ctx context.Context, entityType, entityID string, op models.Operation, payload []byte) (*models.ChangeRecord, error) {
	e.gate.Lock()
	defer e.gate.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := e.clock.Increment(e.nodeID)
	if err != nil {
		if errors.Is(err, vclock.ErrClockOverflow) {
			e.logger.Error("vector clock exhausted, node must be re-provisioned",
				"node_id", e.nodeID, "error", err)
		}
		return nil, err
	}

	record, err := models.NewChangeRecord(entityType, entityID, op, payload, e.nodeID, next)
	if err != nil {
		return nil, err
	}

	err = e.store.WithTx(ctx, func(tx storage.Store) error {
		if err := tx.AppendChange(ctx, record); err != nil {
			return err
		}
		return tx.UpsertEntity(ctx, &models.Entity{
			EntityType:   record.EntityType,
			EntityID:     record.EntityID,
			Payload:      record.Payload,
			Clock:        record.Clock,
			LastChangeID: record.ChangeID,
			Deleted:      record.Operation == models.OpDelete,
			UpdatedAt:    record.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	e.clock = next
	e.logger.Debug("recorded local change",
		"change_id", record.ChangeID,
		"entity", record.EntityKey(),
		"operation", string(record.Operation),
		"clock", record.Clock.String())

	return record, nil
}

// ComputeDelta returns every logged change the given peer clock does not
// cover, in local causal order. Query-only.
func (e *Engine) ComputeDelta(ctx context.Context, peerClock vclock.VectorClock) ([]*models.ChangeRecord, error) {
	return e.store.ChangesSince(ctx, peerClock)
}

// ApplyResult summarizes one application of a remote delta.
type ApplyResult struct {
	AckedClock       vclock.VectorClock
	AppliedChangeIDs []string
	Applied          int
	Conflicts        int
	Deferred         int
	Discarded        int
}

// ApplyChanges applies a remote delta inside a single transaction. Every
// change is validated before anything is written; a failure anywhere rolls
// the whole batch back, leaving sync state, entities, the change log and the
// conflict table untouched.
//
// Per change: an unknown entity or a strictly newer clock applies directly; a
// clock Before or Equal to the entity's is discarded as an idempotent replay;
// a Concurrent clock goes through the conflict resolver. The peer's sync
// state row is updated in the same transaction and never regresses.
func (e *Engine) ApplyChanges(ctx context.Context, peerID string, changes []*models.ChangeRecord, peerClock vclock.VectorClock) (*ApplyResult, error) {
	for _, c := range changes {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}

	e.gate.Lock()
	defer e.gate.Unlock()

	e.mu.Lock()
	working := e.clock.Clone()
	e.mu.Unlock()

	result := &ApplyResult{}

	err := e.store.WithTx(ctx, func(tx storage.Store) error {
		for _, change := range changes {
			if err := e.applyOne(ctx, tx, change, &working, result); err != nil {
				return err
			}
		}

		// Sync state is monotonic: merge, never replace.
		prior := vclock.New()
		if state, err := tx.GetSyncState(ctx, peerID); err == nil {
			prior = state.LastSyncedClock
		} else if !errors.Is(err, storage.ErrSyncStateNotFound) {
			return err
		}

		merged := prior.Merge(working).Merge(peerClock)
		if err := tx.SaveSyncState(ctx, &models.SyncState{
			PeerNodeID:      peerID,
			LastSyncedClock: merged,
			LastSyncedAt:    time.Now().UTC(),
		}); err != nil {
			return err
		}

		result.AckedClock = merged.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.clock = e.clock.Merge(working)
	e.mu.Unlock()

	e.logger.Info("applied remote delta",
		"peer_id", peerID,
		"applied", result.Applied,
		"discarded", result.Discarded,
		"conflicts", result.Conflicts,
		"deferred", result.Deferred)

	return result, nil
}

// applyOne handles a single incoming change inside the session transaction.
func (e *Engine) applyOne(ctx context.Context, tx storage.Store, change *models.ChangeRecord, working *vclock.VectorClock, result *ApplyResult) error {
	// Replayed change ids are already durable: acknowledge and move on.
	if _, err := tx.GetChange(ctx, change.ChangeID); err == nil {
		result.Discarded++
		result.AppliedChangeIDs = append(result.AppliedChangeIDs, change.ChangeID)
		return nil
	} else if !errors.Is(err, storage.ErrChangeNotFound) {
		return err
	}

	entity, err := tx.GetEntity(ctx, change.EntityType, change.EntityID)
	if err != nil {
		if !errors.Is(err, storage.ErrEntityNotFound) {
			return err
		}
		if err := e.applyDirect(ctx, tx, change); err != nil {
			return err
		}
		*working = working.Merge(change.Clock)
		result.Applied++
		result.AppliedChangeIDs = append(result.AppliedChangeIDs, change.ChangeID)
		return nil
	}

	switch change.Clock.Compare(entity.Clock) {
	case vclock.Before, vclock.Equal:
		// Already covered by local state: idempotent replay, no conflict,
		// no duplicate. Still acknowledged as durably known.
		result.Discarded++
		result.AppliedChangeIDs = append(result.AppliedChangeIDs, change.ChangeID)
		return nil

	case vclock.After:
		if err := e.applyDirect(ctx, tx, change); err != nil {
			return err
		}
		*working = working.Merge(change.Clock)
		result.Applied++
		result.AppliedChangeIDs = append(result.AppliedChangeIDs, change.ChangeID)
		return nil

	default: // vclock.Concurrent
		status, err := e.resolveConcurrent(ctx, tx, entity, change, working)
		if err != nil {
			return err
		}
		result.Conflicts++
		if status == resolve.StatusDeferred {
			result.Deferred++
		}
		result.AppliedChangeIDs = append(result.AppliedChangeIDs, change.ChangeID)
		return nil
	}
}

// applyDirect logs a non-conflicting change and updates merged entity state.
func (e *Engine) applyDirect(ctx context.Context, tx storage.Store, change *models.ChangeRecord) error {
	if err := tx.AppendChange(ctx, change); err != nil {
		return err
	}
	return tx.UpsertEntity(ctx, &models.Entity{
		EntityType:   change.EntityType,
		EntityID:     change.EntityID,
		Payload:      change.Payload,
		Clock:        change.Clock,
		LastChangeID: change.ChangeID,
		Deleted:      change.Operation == models.OpDelete,
		UpdatedAt:    change.CreatedAt,
	})
}

// resolveConcurrent handles a change whose clock is concurrent with the local
// entity state. The remote change is always logged (it is real history); what
// happens to the entity depends on the resolver outcome.
func (e *Engine) resolveConcurrent(ctx context.Context, tx storage.Store, entity *models.Entity, change *models.ChangeRecord, working *vclock.VectorClock) (resolve.Status, error) {
	local, err := tx.GetChange(ctx, entity.LastChangeID)
	if err != nil {
		return "", fmt.Errorf("failed to load local competing change %s: %w", entity.LastChangeID, err)
	}

	competing := []*models.ChangeRecord{local, change}

	outcome, err := e.resolver.Resolve(competing)
	if err != nil {
		return "", err
	}

	if err := tx.AppendChange(ctx, change); err != nil {
		return "", err
	}
	*working = working.Merge(change.Clock)

	now := time.Now().UTC()

	if outcome.Status == resolve.StatusDeferred {
		// Keep the local value; persist the conflict for operator review
		// unless a retried session already recorded the same one.
		exists, err := tx.HasUnresolvedConflict(ctx, change.EntityType, change.EntityID,
			[]string{local.ChangeID, change.ChangeID})
		if err != nil {
			return "", err
		}
		if !exists {
			if err := tx.SaveConflict(ctx, &models.Conflict{
				ConflictID:       uuid.New().String(),
				EntityType:       change.EntityType,
				EntityID:         change.EntityID,
				CompetingChanges: competing,
				Strategy:         e.resolver.Strategy(),
				Status:           models.ConflictUnresolved,
				DetectedAt:       now,
			}); err != nil {
				return "", err
			}
		}

		e.logger.Warn("conflict deferred for manual resolution",
			"entity", change.EntityKey(),
			"local_change", local.ChangeID,
			"remote_change", change.ChangeID)
		return resolve.StatusDeferred, nil
	}

	// Automatic resolution: the winning value becomes a new local change so
	// the resolution itself replicates to every peer.
	merged := working.Merge(entity.Clock).Merge(change.Clock)
	next, err := merged.Increment(e.nodeID)
	if err != nil {
		if errors.Is(err, vclock.ErrClockOverflow) {
			e.logger.Error("vector clock exhausted, node must be re-provisioned",
				"node_id", e.nodeID, "error", err)
		}
		return "", err
	}

	resolutionOp := models.OpUpdate
	if outcome.Winner.Operation == models.OpDelete {
		resolutionOp = models.OpDelete
	}

	resolution, err := models.NewChangeRecord(change.EntityType, change.EntityID,
		resolutionOp, outcome.Value, e.nodeID, next)
	if err != nil {
		return "", err
	}

	if err := tx.AppendChange(ctx, resolution); err != nil {
		return "", err
	}
	if err := tx.UpsertEntity(ctx, &models.Entity{
		EntityType:   resolution.EntityType,
		EntityID:     resolution.EntityID,
		Payload:      resolution.Payload,
		Clock:        resolution.Clock,
		LastChangeID: resolution.ChangeID,
		Deleted:      resolutionOp == models.OpDelete,
		UpdatedAt:    resolution.CreatedAt,
	}); err != nil {
		return "", err
	}

	resolvedAt := now
	if err := tx.SaveConflict(ctx, &models.Conflict{
		ConflictID:       uuid.New().String(),
		EntityType:       change.EntityType,
		EntityID:         change.EntityID,
		CompetingChanges: competing,
		Strategy:         e.resolver.Strategy(),
		Status:           models.ConflictResolved,
		ResolvedValue:    outcome.Value,
		DetectedAt:       now,
		ResolvedAt:       &resolvedAt,
	}); err != nil {
		return "", err
	}

	*working = next

	e.logger.Info("conflict resolved automatically",
		"entity", change.EntityKey(),
		"strategy", e.resolver.Strategy(),
		"winner", outcome.Winner.ChangeID,
		"resolution_change", resolution.ChangeID)

	return resolve.StatusResolved, nil
}

// BuildSyncResponse answers a peer's SyncRequest with this node's delta.
//
// The reported clock is snapshotted before the delta is computed. The peer
// merges that clock into its sync state, so the clock must never cover a
// change the delta does not carry: a local write landing between the snapshot
// and the log scan is over-sent at worst (the peer discards the replay next
// session), never silently claimed as delivered.
func (e *Engine) BuildSyncResponse(ctx context.Context, req api.SyncRequest) (*api.SyncResponse, error) {
	if req.NodeID == "" {
		return nil, fmt.Errorf("%w: requesting_node_id is empty", models.ErrValidation)
	}

	snapshot := e.Clock()

	delta, err := e.ComputeDelta(ctx, vclock.VectorClock(req.LastKnownPeerClock))
	if err != nil {
		return nil, err
	}

	return &api.SyncResponse{
		RequestID:    req.RequestID,
		NodeID:       e.nodeID,
		Changes:      toWireChanges(delta),
		CurrentClock: snapshot,
	}, nil
}

// Acknowledge records a peer's confirmation that it durably holds the given
// changes.
func (e *Engine) Acknowledge(ctx context.Context, peerID string, changeIDs []string) error {
	return e.store.MarkAcknowledged(ctx, peerID, changeIDs)
}

// SessionResult summarizes one completed bidirectional sync session.
type SessionResult struct {
	PeerID    string
	Pushed    int
	Pulled    int
	Applied   int
	Conflicts int
	Deferred  int
	Discarded int
}

// SyncWithPeer runs one full sync session against a peer: request the peer's
// delta, apply it transactionally, push our own delta back, exchange acks.
// At most one session per peer may be in flight; a transport failure before
// the local commit leaves all persisted state untouched.
func (e *Engine) SyncWithPeer(ctx context.Context, peerID string, tr transport.Transport) (result *SessionResult, err error) {
	if peerID == "" || peerID == e.nodeID {
		return nil, fmt.Errorf("%w: invalid peer id %q", models.ErrValidation, peerID)
	}

	if !e.tryAcquirePeer(peerID) {
		return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, peerID)
	}
	defer e.releasePeer(peerID)

	requestID := uuid.New().String()
	sess := newSession(peerID, requestID, e.logger)
	defer func() { sess.finish(err) }()

	lastKnown := vclock.New()
	state, err := e.store.GetSyncState(ctx, peerID)
	switch {
	case err == nil:
		lastKnown = state.LastSyncedClock
	case errors.Is(err, storage.ErrSyncStateNotFound):
		err = nil // first contact
	default:
		return nil, err
	}

	req := api.SyncRequest{
		RequestID:          requestID,
		NodeID:             e.nodeID,
		LastKnownPeerClock: lastKnown,
	}

	sess.transition(StateRequestSent)
	sess.transition(StateAwaitingResponse)
	resp, err := tr.SendRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("session aborted: %w", err)
	}

	if resp.NodeID != peerID {
		err = fmt.Errorf("%w: responder identity %q does not match peer %q",
			models.ErrValidation, resp.NodeID, peerID)
		return nil, err
	}

	sess.transition(StateApplyingChanges)
	sess.transition(StateConflictCheck)

	incoming := FromWireChanges(resp.Changes)
	applyRes, err := e.ApplyChanges(ctx, peerID, incoming, vclock.VectorClock(resp.CurrentClock))
	if err != nil {
		return nil, fmt.Errorf("session aborted: %w", err)
	}
	if applyRes.Conflicts > 0 {
		sess.transition(StateResolvingConflicts)
	}

	// Symmetric direction: push our delta so one session syncs both ways.
	delta, err := e.ComputeDelta(ctx, vclock.VectorClock(resp.CurrentClock))
	if err != nil {
		return nil, err
	}

	push := api.SyncPush{
		RequestID: requestID,
		NodeID:    e.nodeID,
		Changes:   toWireChanges(delta),
		Clock:     e.Clock(),
	}

	peerAck, err := tr.SendChanges(ctx, push)
	if err != nil {
		// Our half is already committed; the peer will idempotently discard
		// the re-sent delta on the next session.
		return nil, fmt.Errorf("push failed after local commit: %w", err)
	}

	if err = e.Acknowledge(ctx, peerID, peerAck.AppliedChangeIDs); err != nil {
		return nil, err
	}

	ack := api.SyncAck{
		RequestID:        requestID,
		NodeID:           e.nodeID,
		AckedClock:       applyRes.AckedClock,
		AppliedChangeIDs: applyRes.AppliedChangeIDs,
		Applied:          applyRes.Applied,
		Conflicts:        applyRes.Conflicts,
		Deferred:         applyRes.Deferred,
	}

	sess.transition(StateAckSent)
	if err = tr.SendAck(ctx, ack); err != nil {
		return nil, fmt.Errorf("ack failed after local commit: %w", err)
	}

	result = &SessionResult{
		PeerID:    peerID,
		Pushed:    len(delta),
		Pulled:    len(incoming),
		Applied:   applyRes.Applied,
		Conflicts: applyRes.Conflicts,
		Deferred:  applyRes.Deferred,
		Discarded: applyRes.Discarded,
	}
	return result, nil
}

// ResolveManually records an operator decision for a deferred conflict: the
// conflict row flips to resolved under an optimistic status check and the
// chosen value becomes a new local change so the decision replicates.
func (e *Engine) ResolveManually(ctx context.Context, conflictID string, value []byte) (*models.ChangeRecord, error) {
	conflict, err := e.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.Status != models.ConflictUnresolved {
		return nil, storage.ErrConflictAlreadyResolved
	}

	e.gate.Lock()
	defer e.gate.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := e.clock.Increment(e.nodeID)
	if err != nil {
		return nil, err
	}

	record, err := models.NewChangeRecord(conflict.EntityType, conflict.EntityID,
		models.OpUpdate, value, e.nodeID, next)
	if err != nil {
		return nil, err
	}

	err = e.store.WithTx(ctx, func(tx storage.Store) error {
		if err := tx.ResolveConflict(ctx, conflictID, value); err != nil {
			return err
		}
		if err := tx.AppendChange(ctx, record); err != nil {
			return err
		}

		entityClock := next
		if entity, err := tx.GetEntity(ctx, conflict.EntityType, conflict.EntityID); err == nil {
			entityClock = entity.Clock.Merge(next)
		} else if !errors.Is(err, storage.ErrEntityNotFound) {
			return err
		}

		return tx.UpsertEntity(ctx, &models.Entity{
			EntityType:   conflict.EntityType,
			EntityID:     conflict.EntityID,
			Payload:      value,
			Clock:        entityClock,
			LastChangeID: record.ChangeID,
			UpdatedAt:    record.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	e.clock = next

	e.logger.Info("conflict resolved manually",
		"conflict_id", conflictID,
		"entity", conflict.EntityType+"/"+conflict.EntityID,
		"resolution_change", record.ChangeID)

	return record, nil
}

// UnresolvedConflicts returns the operator review queue.
func (e *Engine) UnresolvedConflicts(ctx context.Context) ([]*models.Conflict, error) {
	return e.store.ListUnresolved(ctx)
}

// PeerStates returns last-successful-sync information per peer.
func (e *Engine) PeerStates(ctx context.Context) ([]*models.SyncState, error) {
	return e.store.ListSyncStates(ctx)
}

func (e *Engine) tryAcquirePeer(peerID string) bool {
	e.peersMu.Lock()
	defer e.peersMu.Unlock()
	if e.inFlight[peerID] {
		return false
	}
	e.inFlight[peerID] = true
	return true
}

func (e *Engine) releasePeer(peerID string) {
	e.peersMu.Lock()
	defer e.peersMu.Unlock()
	delete(e.inFlight, peerID)
}
