package api

// ResolveConflictRequest supplies the operator-chosen value for a deferred
// conflict. The value becomes a new local change and replicates like any
// other write.
type ResolveConflictRequest struct {
	Value []byte `json:"value" validate:"required"`
}

// RegisterPeerRequest adds a mesh neighbor to the peer registry.
type RegisterPeerRequest struct {
	NodeID  string `json:"node_id"  validate:"required"`
	BaseURL string `json:"base_url" validate:"required,url"`
	Village string `json:"village"`
}

// TriggerSyncResponse acknowledges a queued manual sync.
type TriggerSyncResponse struct {
	QueueItemID uint64 `json:"queue_item_id"`
}

// PeerStateInfo reports the stored agreement point with one peer.
type PeerStateInfo struct {
	PeerNodeID      string            `json:"peer_node_id"`
	LastSyncedClock map[string]uint64 `json:"last_synced_vector_clock"`
	LastSyncedAt    string            `json:"last_synced_at"`
}

// NodeStatus is the local node's view of its own sync position.
type NodeStatus struct {
	NodeID              string            `json:"node_id"`
	CurrentClock        map[string]uint64 `json:"current_vector_clock"`
	Peers               []PeerStateInfo   `json:"peers"`
	UnresolvedConflicts int               `json:"unresolved_conflicts"`
}
