package orchestrator

import "github.com/amaydixit11/syncd/internal/ids"

// EventKind tags a SyncEvent's active variant.
type EventKind string

const (
	EvtPeerDiscovered EventKind = "peer_discovered"
	EvtSyncStarted    EventKind = "sync_started"
	EvtSyncCompleted  EventKind = "sync_completed"
	EvtSyncFailed     EventKind = "sync_failed"
	EvtEntityUpdated  EventKind = "entity_updated"
)

// SyncEvent is one outbound notification emitted over the orchestrator's
// event channel for the UI/caller to observe.
type SyncEvent struct {
	Kind EventKind

	PeerID     ids.PeerId
	DeviceName string // PeerDiscovered
	EntityID   ids.EntityId // EntityUpdated

	EventsSent     uint64 // SyncCompleted
	EventsReceived uint64 // SyncCompleted

	Error string // SyncFailed
}

func peerDiscovered(peer ids.PeerId, deviceName string) SyncEvent {
	return SyncEvent{Kind: EvtPeerDiscovered, PeerID: peer, DeviceName: deviceName}
}

func syncStarted(peer ids.PeerId) SyncEvent {
	return SyncEvent{Kind: EvtSyncStarted, PeerID: peer}
}

func syncCompleted(peer ids.PeerId, sent, received uint64) SyncEvent {
	return SyncEvent{Kind: EvtSyncCompleted, PeerID: peer, EventsSent: sent, EventsReceived: received}
}

func syncFailed(peer ids.PeerId, err string) SyncEvent {
	return SyncEvent{Kind: EvtSyncFailed, PeerID: peer, Error: err}
}

func entityUpdated(entity ids.EntityId) SyncEvent {
	return SyncEvent{Kind: EvtEntityUpdated, EntityID: entity}
}
