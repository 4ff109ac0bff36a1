// Package policy implements the two policy variants that gate every
// protocol action: PersonalSyncPolicy (selective sharing between
// individual peers) and EnterpriseSyncPolicy (role-based ACLs with teams,
// device limits, and an audit trail). Both implement the common Policy
// capability the sync engine and orchestrator consume.
package policy

import (
	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/model"
	"github.com/amaydixit11/syncd/internal/syncerr"
)

// Policy is the capability the sync engine and orchestrator gate every
// protocol action through. Both PersonalSyncPolicy and EnterpriseSyncPolicy
// implement it.
type Policy interface {
	// OnHandshake decides whether to accept a Hello from remote.
	OnHandshake(local, remote ids.PeerId) error
	// OnSyncRequest filters requestedIDs down to what remote may see.
	OnSyncRequest(remote ids.PeerId, requestedIDs []ids.EntityId) []ids.EntityId
	// OnEventSend filters events down to what may be sent to remote for entity.
	OnEventSend(remote ids.PeerId, entity ids.EntityId, events []model.Event) []model.Event
	// OnEventReceive filters events down to what may be applied, given they
	// arrived from remote claiming to cover entity.
	OnEventReceive(remote ids.PeerId, entity ids.EntityId, events []model.Event) []model.Event
	// OnDeviceCheck gates device registration/reuse for remote.
	OnDeviceCheck(remote ids.PeerId, deviceID *ids.DeviceId) error
	// EntitiesForPeer reports the entity set explicitly shared with peer, or
	// ok=false if the policy does not maintain per-peer entity filtering
	// (e.g. enterprise ACLs, which filter per-entity role instead).
	EntitiesForPeer(peer ids.PeerId) (set map[ids.EntityId]struct{}, ok bool)
}

// reasonUnknownPeer is the EnterpriseSyncPolicy handshake denial reason for
// a peer outside its known-peer set.
const reasonUnknownPeer = "unknown peer"

// deniedUnknownPeer is the enterprise policy's on_handshake denial;
// PersonalSyncPolicy.OnHandshake always accepts.
func deniedUnknownPeer() error { return syncerr.Denied(reasonUnknownPeer) }
