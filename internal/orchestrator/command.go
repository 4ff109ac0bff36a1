package orchestrator

import (
	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/model"
)

// CommandKind tags a SyncCommand's active variant.
type CommandKind string

const (
	CmdRecordLocalEvent  CommandKind = "record_local_event"
	CmdShareEntity       CommandKind = "share_entity"
	CmdShareWithPeer     CommandKind = "share_entity_with_peer"
	CmdSyncEntity        CommandKind = "sync_entity"
	CmdSyncWithPeer      CommandKind = "sync_with_peer"
	CmdShutdown          CommandKind = "shutdown"
)

// SyncCommand is one inbound instruction accepted over the orchestrator's
// command channel. Only the field matching Kind is populated, following
// the same flat-envelope shape as message.SyncMessage.
type SyncCommand struct {
	Kind CommandKind

	Event    model.Event  // RecordLocalEvent
	EntityID ids.EntityId // ShareEntity, ShareEntityWithPeer, SyncEntity
	PeerID   ids.PeerId   // ShareEntityWithPeer, SyncWithPeer
}

func RecordLocalEvent(event model.Event) SyncCommand {
	return SyncCommand{Kind: CmdRecordLocalEvent, Event: event}
}

func ShareEntity(entity ids.EntityId) SyncCommand {
	return SyncCommand{Kind: CmdShareEntity, EntityID: entity}
}

func ShareEntityWithPeer(entity ids.EntityId, peer ids.PeerId) SyncCommand {
	return SyncCommand{Kind: CmdShareWithPeer, EntityID: entity, PeerID: peer}
}

func SyncEntity(entity ids.EntityId) SyncCommand {
	return SyncCommand{Kind: CmdSyncEntity, EntityID: entity}
}

func SyncWithPeerCmd(peer ids.PeerId) SyncCommand {
	return SyncCommand{Kind: CmdSyncWithPeer, PeerID: peer}
}

func Shutdown() SyncCommand { return SyncCommand{Kind: CmdShutdown} }
