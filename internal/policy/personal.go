package policy

import (
	"sync"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/model"
)

// PersonalSyncPolicy implements selective sharing between individual peers:
// two symmetric maps, entity->peers and peer->entities. Until the first
// Share, every send/sync-request action passes through unfiltered (open
// mode). The first Share latches selective sharing on permanently: revoking
// the last remaining share keeps the policy filtering, it never reopens to
// everyone.
type PersonalSyncPolicy struct {
	mu             sync.RWMutex
	engaged        bool
	entityToPeers  map[ids.EntityId]map[ids.PeerId]struct{}
	peerToEntities map[ids.PeerId]map[ids.EntityId]struct{}
}

// NewPersonalSyncPolicy returns an empty (inactive) personal policy.
func NewPersonalSyncPolicy() *PersonalSyncPolicy {
	return &PersonalSyncPolicy{
		entityToPeers:  make(map[ids.EntityId]map[ids.PeerId]struct{}),
		peerToEntities: make(map[ids.PeerId]map[ids.EntityId]struct{}),
	}
}

// Share grants peer access to entity and engages selective sharing.
func (p *PersonalSyncPolicy) Share(entity ids.EntityId, peer ids.PeerId) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.engaged = true
	if p.entityToPeers[entity] == nil {
		p.entityToPeers[entity] = make(map[ids.PeerId]struct{})
	}
	p.entityToPeers[entity][peer] = struct{}{}

	if p.peerToEntities[peer] == nil {
		p.peerToEntities[peer] = make(map[ids.EntityId]struct{})
	}
	p.peerToEntities[peer][entity] = struct{}{}
}

// Unshare revokes peer's access to entity. Revocation only stops future
// propagation; it never deletes what the peer already has.
func (p *PersonalSyncPolicy) Unshare(entity ids.EntityId, peer ids.PeerId) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if peers, ok := p.entityToPeers[entity]; ok {
		delete(peers, peer)
		if len(peers) == 0 {
			delete(p.entityToPeers, entity)
		}
	}
	if entities, ok := p.peerToEntities[peer]; ok {
		delete(entities, entity)
		if len(entities) == 0 {
			delete(p.peerToEntities, peer)
		}
	}
}

// IsActive reports whether selective sharing has ever been engaged. Once a
// single Share happens it stays active: unsharing everything must leave the
// policy filtering (nothing shared with anyone), not fall back to open mode.
func (p *PersonalSyncPolicy) IsActive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.engaged
}

func (p *PersonalSyncPolicy) isActiveLocked() bool {
	return p.engaged
}

// SharedEntities returns the entities currently shared with peer (a copy).
func (p *PersonalSyncPolicy) SharedEntities(peer ids.PeerId) map[ids.EntityId]struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneEntitySet(p.peerToEntities[peer])
}

func cloneEntitySet(s map[ids.EntityId]struct{}) map[ids.EntityId]struct{} {
	out := make(map[ids.EntityId]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// OnHandshake always accepts: the personal policy has no peer allowlist of
// its own.
func (p *PersonalSyncPolicy) OnHandshake(local, remote ids.PeerId) error { return nil }

// OnSyncRequest intersects requestedIDs with the entities shared with
// remote when selective sharing is active; passes through unfiltered
// otherwise.
func (p *PersonalSyncPolicy) OnSyncRequest(remote ids.PeerId, requestedIDs []ids.EntityId) []ids.EntityId {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.isActiveLocked() {
		return requestedIDs
	}
	shared := p.peerToEntities[remote]
	out := make([]ids.EntityId, 0, len(requestedIDs))
	for _, id := range requestedIDs {
		if _, ok := shared[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// OnEventSend passes all events when sharing is inactive (open mode);
// otherwise passes events only for entities explicitly shared with remote.
func (p *PersonalSyncPolicy) OnEventSend(remote ids.PeerId, entity ids.EntityId, events []model.Event) []model.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.isActiveLocked() {
		return events
	}
	if _, ok := p.peerToEntities[remote][entity]; ok {
		return events
	}
	return nil
}

// OnEventReceive always passes: a sender sharing an event with us implies
// they consider it shared.
func (p *PersonalSyncPolicy) OnEventReceive(remote ids.PeerId, entity ids.EntityId, events []model.Event) []model.Event {
	return events
}

// OnDeviceCheck always accepts: personal mode has no device-limit concept.
func (p *PersonalSyncPolicy) OnDeviceCheck(remote ids.PeerId, deviceID *ids.DeviceId) error { return nil }

// EntitiesForPeer reports peer's shared-entity set once selective sharing
// is active, even when the set is empty: an active personal policy always
// constrains the orchestrator's candidate selection to what's explicitly
// shared.
func (p *PersonalSyncPolicy) EntitiesForPeer(peer ids.PeerId) (map[ids.EntityId]struct{}, bool) {
	if !p.IsActive() {
		return nil, false
	}
	return p.SharedEntities(peer), true
}
