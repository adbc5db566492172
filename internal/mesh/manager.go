package mesh

import (
	"context"
	"errors"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/peteroluoch/africa-offline-os/internal/sync"
	"github.com/peteroluoch/africa-offline-os/internal/transport"
)

// SyncRunner is the part of the sync engine the manager drives.
type SyncRunner interface {
	SyncWithPeer(ctx context.Context, peerID string, tr transport.Transport) (*sync.SessionResult, error)
}

// TransportFactory builds a transport for one registered peer.
type TransportFactory func(peer *Peer) transport.Transport

// Manager orchestrates the mesh lifecycle: it keeps one queued sync intent
// per registered peer, drains the queue on an interval, and prunes stale
// items. Because intents are durable, a session owed to an unreachable peer
// is retried across restarts until it succeeds or ages out.
type Manager struct {
	engine     SyncRunner
	registry   *Registry
	queue      *Queue
	transports TransportFactory
	logger     *slog.Logger

	interval time.Duration
	maxAge   time.Duration

	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// NewManager creates a mesh manager. Start must be called to begin syncing.
func NewManager(
	engine SyncRunner,
	registry *Registry,
	queue *Queue,
	transports TransportFactory,
	logger *slog.Logger,
	interval, maxAge time.Duration,
) *Manager {
	return &Manager{
		engine:     engine,
		registry:   registry,
		queue:      queue,
		transports: transports,
		logger:     logger,
		interval:   interval,
		maxAge:     maxAge,
	}
}

// Start launches the background sync loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()

	m.logger.Info("mesh manager started", "interval", m.interval)
}

// Stop halts the background loop and waits for an in-flight pass to finish.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("mesh manager stopped")
}

// TriggerSync queues a high-priority session with one peer, ahead of the
// interval schedule. The next pass picks it up.
func (m *Manager) TriggerSync(peerID string) (uint64, error) {
	if _, err := m.registry.Get(peerID); err != nil {
		return 0, err
	}
	return m.queue.Enqueue(peerID, "manual", PriorityHigh)
}

// RegisterPeer adds a peer and queues an immediate first session.
func (m *Manager) RegisterPeer(peer *Peer) error {
	if err := m.registry.Register(peer); err != nil {
		return err
	}
	_, err := m.queue.Enqueue(peer.NodeID, "registered", PriorityHigh)
	return err
}

// Peers returns the registered peer set.
func (m *Manager) Peers() ([]*Peer, error) {
	return m.registry.List()
}

func (m *Manager) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// First pass immediately, then on the interval.
	m.pass(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pass(ctx)
		}
	}
}

// pass runs one full maintenance cycle: schedule, drain, prune.
func (m *Manager) pass(ctx context.Context) {
	if err := m.scheduleIntervalSyncs(); err != nil {
		m.logger.Error("Failed to schedule interval syncs", "error", err)
	}

	if err := m.drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("Failed to drain sync queue", "error", err)
	}

	pruned, err := m.queue.Prune(m.maxAge)
	if err != nil {
		m.logger.Error("Failed to prune sync queue", "error", err)
	} else if pruned > 0 {
		m.logger.Info("pruned stale sync intents", "count", pruned)
	}
}

// scheduleIntervalSyncs ensures every registered peer has work queued.
func (m *Manager) scheduleIntervalSyncs() error {
	peers, err := m.registry.List()
	if err != nil {
		return err
	}

	for _, peer := range peers {
		pending, err := m.queue.HasPending(peer.NodeID)
		if err != nil {
			return err
		}
		if pending {
			continue
		}
		if _, err := m.queue.Enqueue(peer.NodeID, "interval", PriorityNormal); err != nil {
			return err
		}
	}
	return nil
}

// drain processes pending intents in priority order, one session per peer
// per pass.
func (m *Manager) drain(ctx context.Context) error {
	items, err := m.queue.Pending("", 0)
	if err != nil {
		return err
	}

	done := make(map[string]bool)
	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if done[item.TargetNodeID] {
			continue
		}
		done[item.TargetNodeID] = true

		m.deliver(ctx, item)
	}
	return nil
}

func (m *Manager) deliver(ctx context.Context, item *Item) {
	peer, err := m.registry.Get(item.TargetNodeID)
	if err != nil {
		// Peer was removed; the intent is moot.
		m.logger.Warn("Dropping intent for unknown peer", "peer_id", item.TargetNodeID)
		if err := m.queue.MarkSuccess(item.ID); err != nil {
			m.logger.Error("Failed to drop queue item", "error", err, "item_id", item.ID)
		}
		return
	}

	result, err := m.engine.SyncWithPeer(ctx, peer.NodeID, m.transports(peer))
	switch {
	case err == nil:
		if err := m.queue.MarkSuccess(item.ID); err != nil {
			m.logger.Error("Failed to remove delivered item", "error", err, "item_id", item.ID)
		}
		if err := m.registry.Touch(peer.NodeID); err != nil {
			m.logger.Error("Failed to update peer last seen", "error", err, "peer_id", peer.NodeID)
		}
		m.logger.Info("mesh sync completed",
			"peer_id", peer.NodeID,
			"reason", item.Reason,
			"pulled", result.Pulled,
			"pushed", result.Pushed,
			"conflicts", result.Conflicts,
			"deferred", result.Deferred)

	case errors.Is(err, sync.ErrSyncInProgress):
		// Another session with this peer is active; leave the intent queued.
		m.logger.Debug("sync already in progress", "peer_id", peer.NodeID)

	default:
		if err := m.queue.MarkFailed(item.ID); err != nil {
			m.logger.Error("Failed to record attempt", "error", err, "item_id", item.ID)
		}
		m.logger.Warn("mesh sync failed",
			"peer_id", peer.NodeID,
			"reason", item.Reason,
			"attempts", item.Attempts+1,
			"error", err)
	}
}
