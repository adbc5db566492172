package sync

import (
	"log/slog"
	"time"
)

// SessionState is one step of the per-session protocol state machine.
// A session always starts and terminates at StateIdle; on failure the
// persisted sync state is exactly what it was before the session started.
type SessionState string

const (
	StateIdle               SessionState = "idle"
	StateRequestSent        SessionState = "request_sent"
	StateAwaitingResponse   SessionState = "awaiting_response"
	StateApplyingChanges    SessionState = "applying_changes"
	StateConflictCheck      SessionState = "conflict_check"
	StateResolvingConflicts SessionState = "resolving_conflicts"
	StateAckSent            SessionState = "ack_sent"
)

// session tracks one sync exchange with a peer, for logging and for keeping
// the protocol steps explicit.
type session struct {
	startedAt time.Time
	logger    *slog.Logger
	peerID    string
	requestID string
	state     SessionState
}

func newSession(peerID, requestID string, logger *slog.Logger) *session {
	return &session{
		peerID:    peerID,
		requestID: requestID,
		state:     StateIdle,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// transition moves the session to the next state.
func (s *session) transition(next SessionState) {
	s.logger.Debug("sync session transition",
		"peer_id", s.peerID,
		"request_id", s.requestID,
		"from", string(s.state),
		"to", string(next))
	s.state = next
}

// finish returns the session to idle and logs the outcome.
func (s *session) finish(err error) {
	s.state = StateIdle
	duration := time.Since(s.startedAt)

	if err != nil {
		s.logger.Warn("sync session aborted",
			"peer_id", s.peerID,
			"request_id", s.requestID,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return
	}

	s.logger.Info("sync session completed",
		"peer_id", s.peerID,
		"request_id", s.requestID,
		"duration_ms", duration.Milliseconds())
}
