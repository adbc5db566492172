package transport

import (
	"context"
	"errors"

	"github.com/peteroluoch/africa-offline-os/pkg/api"
)

//go:generate go tool moq -out transport_mock.go . Transport

// Common transport errors. ErrPeerUnreachable signals a network-level failure
// (retry later); ErrPeerRejected means the peer answered with an error and
// retrying the same message will not help.
var (
	ErrPeerUnreachable = errors.New("peer unreachable")
	ErrPeerRejected    = errors.New("peer rejected request")
)

// Transport delivers the sync protocol messages to one peer. Implementations
// must provide reliable, ordered request/response delivery and must
// distinguish "peer unreachable" from "peer responded with error".
type Transport interface {
	// SendRequest opens a session and returns the peer's delta.
	SendRequest(ctx context.Context, req api.SyncRequest) (*api.SyncResponse, error)

	// SendChanges pushes this node's outgoing delta and returns the peer's
	// acknowledgement.
	SendChanges(ctx context.Context, push api.SyncPush) (*api.SyncAck, error)

	// SendAck confirms that the peer's delta was durably applied.
	SendAck(ctx context.Context, ack api.SyncAck) error
}
