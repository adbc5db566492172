package api

// SyncChange carries a single change record on the wire. Large delta sets are
// streamed as a sequence of these rather than one monolithic blob.
//
// The vector clock always serializes as the complete node->counter mapping.
// CreatedAtUnixNano is UTC unix nanoseconds: a single unambiguous time
// representation so last-write-wins tie-breaking is deterministic across
// replicas.
type SyncChange struct {
	ChangeID          string            `json:"change_id"          validate:"required"`
	EntityType        string            `json:"entity_type"        validate:"required"`
	EntityID          string            `json:"entity_id"          validate:"required"`
	Operation         string            `json:"operation"          validate:"required,oneof=create update delete"`
	OriginNode        string            `json:"origin_node_id"     validate:"required"`
	Payload           []byte            `json:"payload"`
	VectorClock       map[string]uint64 `json:"vector_clock"       validate:"required"`
	CreatedAtUnixNano int64             `json:"created_at_unix_nano"`
}

// SyncRequest opens a sync session: "send me everything I'm missing since
// this clock". LastKnownPeerClock is the requester's record of the last
// acknowledged agreement point with the responder.
type SyncRequest struct {
	RequestID          string            `json:"request_id"            validate:"required"`
	NodeID             string            `json:"requesting_node_id"    validate:"required"`
	LastKnownPeerClock map[string]uint64 `json:"last_known_peer_clock"`
}

// SyncResponse returns the responder's delta along with its current clock.
type SyncResponse struct {
	RequestID    string            `json:"request_id"`
	NodeID       string            `json:"responding_node_id"`
	Changes      []SyncChange      `json:"changes"`
	CurrentClock map[string]uint64 `json:"responder_current_clock"`
}

// SyncPush delivers the requester's own outgoing delta to the responder so a
// single session is bidirectional.
type SyncPush struct {
	RequestID string            `json:"request_id"         validate:"required"`
	NodeID    string            `json:"pushing_node_id"    validate:"required"`
	Changes   []SyncChange      `json:"changes"            validate:"dive"`
	Clock     map[string]uint64 `json:"pusher_current_clock"`
}

// SyncAck confirms that changes up to the given clock were durably applied.
// AppliedChangeIDs lists every change id the sender now holds durably,
// including replays it discarded as already known.
type SyncAck struct {
	RequestID        string            `json:"request_id"               validate:"required"`
	NodeID           string            `json:"node_id"                  validate:"required"`
	AckedClock       map[string]uint64 `json:"acknowledged_up_to_clock" validate:"required"`
	AppliedChangeIDs []string          `json:"applied_change_ids"`
	Applied          int               `json:"applied"`
	Conflicts        int               `json:"conflicts"`
	Deferred         int               `json:"deferred"`
}

// ErrorResponse is the body returned by a peer for rejected requests.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
