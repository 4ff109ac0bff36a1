// Package engine implements the sync protocol state machine: a pure,
// I/O-free construct/handle pair for every SyncMessage variant, plus the
// delta computation and batching. Nothing in this package blocks, spawns a
// goroutine, or touches a network socket — the orchestrator owns all of
// that and calls into the engine as a library.
package engine

import (
	"sync"

	"github.com/amaydixit11/syncd/internal/applicator"
	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/message"
	"github.com/amaydixit11/syncd/internal/model"
	"github.com/amaydixit11/syncd/internal/policy"
	"github.com/amaydixit11/syncd/internal/storage"
)

// AclHandler is invoked instead of the default applicator for ACL-as-CRDT
// payload events.
type AclHandler func(event model.Event) error

// peerState is the engine's per-peer handshake bookkeeping.
type peerState struct {
	connected bool
	deviceID  *ids.DeviceId
}

// Engine is the local peer's protocol state machine. Safe for concurrent
// use: all mutable state is behind mu.
type Engine struct {
	mu sync.RWMutex

	localPeer  ids.PeerId
	deviceName string
	policy     policy.Policy
	aclHandler AclHandler
	schema     applicator.SchemaLookup

	peers  map[ids.PeerId]*peerState
	clocks map[ids.EntityId]ids.HybridTimestamp
}

// New constructs an Engine for localPeer. policy must not be nil; aclHandler
// and schema may be nil (no ACL dispatch / no schema-driven extraction,
// respectively).
func New(localPeer ids.PeerId, deviceName string, p policy.Policy, aclHandler AclHandler, schema applicator.SchemaLookup) *Engine {
	return &Engine{
		localPeer:  localPeer,
		deviceName: deviceName,
		policy:     p,
		aclHandler: aclHandler,
		schema:     schema,
		peers:      make(map[ids.PeerId]*peerState),
		clocks:     make(map[ids.EntityId]ids.HybridTimestamp),
	}
}

// SetAclHandler installs (or clears, with nil) the ACL dispatch handler.
func (e *Engine) SetAclHandler(h AclHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aclHandler = h
}

// LocalPeer returns the engine's own peer id.
func (e *Engine) LocalPeer() ids.PeerId { return e.localPeer }

// ActivePolicy returns the policy the engine was constructed with, so
// callers outside the engine (the orchestrator's reverse-delta application)
// can run the same OnEventReceive gate the engine itself uses.
func (e *Engine) ActivePolicy() policy.Policy { return e.policy }

// ConnectedPeers returns the peers the engine currently considers connected
// (accepted handshake).
func (e *Engine) ConnectedPeers() []ids.PeerId {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ids.PeerId, 0, len(e.peers))
	for p, st := range e.peers {
		if st.connected {
			out = append(out, p)
		}
	}
	return out
}

// RecordEvent folds event's timestamp into the engine's local vector clock
// for its entity, used to populate SyncState's Clock summaries. Called by
// the orchestrator whenever a local or remote event is durably recorded.
func (e *Engine) RecordEvent(event model.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.clocks[event.EntityID]
	if !ok || event.Timestamp.After(cur) {
		e.clocks[event.EntityID] = event.Timestamp
	}
}

// MakeHello builds the Hello message announcing entities the caller wishes
// to sync.
func (e *Engine) MakeHello(entities []ids.EntityId) message.SyncMessage {
	return message.NewHello(e.localPeer, e.deviceName, nil, entities)
}

// MakeHelloWithDevice is MakeHello carrying a device id for device-limit
// enforcement on the remote side.
func (e *Engine) MakeHelloWithDevice(entities []ids.EntityId, deviceID ids.DeviceId) message.SyncMessage {
	return message.NewHello(e.localPeer, e.deviceName, &deviceID, entities)
}

// HandleHello runs policy.OnHandshake, then (if a device id was supplied)
// policy.OnDeviceCheck, and tracks the peer as connected on acceptance.
func (e *Engine) HandleHello(hello *message.Hello) message.SyncMessage {
	if hello.Version != message.ProtocolVersion {
		return message.NewHelloAck(e.localPeer, e.deviceName, false, "protocol version mismatch")
	}

	if err := e.policy.OnHandshake(e.localPeer, hello.PeerID); err != nil {
		return message.NewHelloAck(e.localPeer, e.deviceName, false, reasonOf(err))
	}

	if hello.DeviceID != nil {
		if err := e.policy.OnDeviceCheck(hello.PeerID, hello.DeviceID); err != nil {
			return message.NewHelloAck(e.localPeer, e.deviceName, false, reasonOf(err))
		}
	}

	e.mu.Lock()
	st, ok := e.peers[hello.PeerID]
	if !ok {
		st = &peerState{}
		e.peers[hello.PeerID] = st
	}
	st.connected = true
	st.deviceID = hello.DeviceID
	e.mu.Unlock()

	return message.NewHelloAck(e.localPeer, e.deviceName, true, "")
}

// MakeSyncRequest collects the locally-known event ids for each entity and
// attaches them to a SyncRequest.
func (e *Engine) MakeSyncRequest(entities []ids.EntityId, eventStore storage.EventStore) (message.SyncMessage, error) {
	known := make(map[ids.EntityId][]ids.EventId, len(entities))
	for _, entity := range entities {
		evs, err := eventStore.GetEventsForEntity(entity)
		if err != nil {
			return message.SyncMessage{}, err
		}
		known[entity] = eventIDs(evs)
	}
	return message.NewSyncRequest(entities, known), nil
}

// HandleSyncRequest filters the requested entities through
// policy.OnSyncRequest and reports, for each allowed entity, a Clock
// summary plus the locally-known event ids.
func (e *Engine) HandleSyncRequest(peer ids.PeerId, req *message.SyncRequest, eventStore storage.EventStore) (message.SyncMessage, error) {
	allowed := e.policy.OnSyncRequest(peer, req.EntityIDs)

	clocks := make(map[ids.EntityId]message.Clock, len(allowed))
	known := make(map[ids.EntityId][]ids.EventId, len(allowed))
	for _, entity := range allowed {
		evs, err := eventStore.GetEventsForEntity(entity)
		if err != nil {
			return message.SyncMessage{}, err
		}
		known[entity] = eventIDs(evs)

		e.mu.RLock()
		latest := e.clocks[entity]
		e.mu.RUnlock()
		clocks[entity] = message.Clock{Latest: latest}
	}
	return message.NewSyncState(clocks, known), nil
}

// ComputeEventBatchesForPeer computes the forward delta for entity: local
// events the peer lacks, policy-filtered, split into batches of at most
// message.MaxEventsPerBatch events. An empty result is meaningful: it tells
// the orchestrator either "nothing to send" or "policy denied everything".
func (e *Engine) ComputeEventBatchesForPeer(peer ids.PeerId, entity ids.EntityId, peerKnownIDs map[ids.EventId]struct{}, eventStore storage.EventStore) ([]message.SyncMessage, error) {
	local, err := eventStore.GetEventsForEntity(entity)
	if err != nil {
		return nil, err
	}

	missing := make([]model.Event, 0, len(local))
	for _, ev := range local {
		if _, known := peerKnownIDs[ev.ID]; !known {
			missing = append(missing, ev)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	toSend := e.policy.OnEventSend(peer, entity, missing)
	return batchEvents(entity, toSend), nil
}

// ComputeEventBatches is ComputeEventBatchesForPeer without the policy
// filter; kept for policy-unaware callers. Personal/enterprise code paths
// always use the ForPeer variant.
func (e *Engine) ComputeEventBatches(entity ids.EntityId, peerKnownIDs map[ids.EventId]struct{}, eventStore storage.EventStore) ([]message.SyncMessage, error) {
	local, err := eventStore.GetEventsForEntity(entity)
	if err != nil {
		return nil, err
	}
	missing := make([]model.Event, 0, len(local))
	for _, ev := range local {
		if _, known := peerKnownIDs[ev.ID]; !known {
			missing = append(missing, ev)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	return batchEvents(entity, missing), nil
}

func batchEvents(entity ids.EntityId, events []model.Event) []message.SyncMessage {
	if len(events) == 0 {
		return nil
	}
	var out []message.SyncMessage
	for i := 0; i < len(events); i += message.MaxEventsPerBatch {
		end := i + message.MaxEventsPerBatch
		if end > len(events) {
			end = len(events)
		}
		isFinal := end == len(events)
		out = append(out, message.NewEventBatch(entity, uint32(len(out)), isFinal, events[i:end]))
	}
	return out
}

// HandleEventBatch applies an incoming EventBatch: policy-filter,
// ACL-dispatch or apply, then build an ack carrying the reverse delta.
// Returns the ack plus the ids of entities that actually changed (len 0 or
// 1: this entity, iff applying an event changed it).
func (e *Engine) HandleEventBatch(peer ids.PeerId, batch *message.EventBatch, entityStore storage.EntityStore, eventStore storage.EventStore) (message.SyncMessage, []ids.EntityId, error) {
	allowed := e.policy.OnEventReceive(peer, batch.EntityID, batch.Events)

	e.mu.RLock()
	aclHandler := e.aclHandler
	e.mu.RUnlock()

	var appliedCount uint32
	var updated []ids.EntityId
	seenIDs := make(map[ids.EventId]struct{}, len(batch.Events))
	for _, ev := range batch.Events {
		seenIDs[ev.ID] = struct{}{}
	}

	for _, ev := range allowed {
		if ev.Payload.Kind.IsAclPayload() {
			if aclHandler != nil {
				if err := aclHandler(ev); err != nil {
					return message.SyncMessage{}, nil, err
				}
				if err := eventStore.SaveEvent(ev); err != nil {
					return message.SyncMessage{}, nil, err
				}
				appliedCount++
			}
			continue
		}

		// Persist before applying: convergence is defined over event-id
		// sets, so a received event must land in the log even when the
		// LWW merge decides it is already superseded.
		if err := eventStore.SaveEvent(ev); err != nil {
			return message.SyncMessage{}, nil, err
		}
		changed, err := applicator.Apply(ev, entityStore, e.schema)
		if err != nil {
			return message.SyncMessage{}, nil, err
		}
		appliedCount++
		if changed {
			updated = append(updated, ev.EntityID)
		}
	}

	e.mu.Lock()
	for _, ev := range allowed {
		cur, ok := e.clocks[ev.EntityID]
		if !ok || ev.Timestamp.After(cur) {
			e.clocks[ev.EntityID] = ev.Timestamp
		}
	}
	e.mu.Unlock()

	reverse, err := e.reverseDelta(peer, batch.EntityID, seenIDs, eventStore)
	if err != nil {
		return message.SyncMessage{}, nil, err
	}

	ack := message.NewEventAck(batch.EntityID, batch.BatchSeq, appliedCount, reverse)
	return ack, dedupeEntityIDs(updated), nil
}

// reverseDelta computes the events local holds for entity that peerSeenIDs
// did not reference, policy-filtered and bounded to
// message.MaxReverseDeltaEvents.
func (e *Engine) reverseDelta(peer ids.PeerId, entity ids.EntityId, peerSeenIDs map[ids.EventId]struct{}, eventStore storage.EventStore) ([]model.Event, error) {
	local, err := eventStore.GetEventsForEntity(entity)
	if err != nil {
		return nil, err
	}
	missing := make([]model.Event, 0, len(local))
	for _, ev := range local {
		if _, seen := peerSeenIDs[ev.ID]; !seen {
			missing = append(missing, ev)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	allowed := e.policy.OnEventSend(peer, entity, missing)
	if len(allowed) > message.MaxReverseDeltaEvents {
		allowed = allowed[:message.MaxReverseDeltaEvents]
	}
	return allowed, nil
}

// EventIDSet converts a slice of event ids (as carried on the wire) into
// the set form ComputeEventBatchesForPeer and HandleEventBatch expect.
func EventIDSet(in []ids.EventId) map[ids.EventId]struct{} {
	out := make(map[ids.EventId]struct{}, len(in))
	for _, id := range in {
		out[id] = struct{}{}
	}
	return out
}

func eventIDs(events []model.Event) []ids.EventId {
	out := make([]ids.EventId, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

func dedupeEntityIDs(in []ids.EntityId) []ids.EntityId {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[ids.EntityId]struct{}, len(in))
	out := make([]ids.EntityId, 0, len(in))
	for _, id := range in {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func reasonOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
