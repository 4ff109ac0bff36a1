// Package orchestrator implements the sync orchestrator: the single async
// actor that owns the engine, the two stores, the transport, and the
// configuration, and drives the per-peer sync algorithm on a timer plus an
// inbound command/request loop.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/amaydixit11/syncd/internal/applicator"
	"github.com/amaydixit11/syncd/internal/engine"
	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/logging"
	"github.com/amaydixit11/syncd/internal/message"
	"github.com/amaydixit11/syncd/internal/model"
	"github.com/amaydixit11/syncd/internal/policy"
	"github.com/amaydixit11/syncd/internal/storage"
	"github.com/amaydixit11/syncd/internal/syncerr"
)

// eventChanCapacity bounds the outbound SyncEvent channel. A slow or absent
// consumer never blocks the actor loop: once full, emit logs and discards
// the new notification rather than blocking.
const eventChanCapacity = 256

// commandChanCapacity bounds the inbound SyncCommand channel.
const commandChanCapacity = 64

// Orchestrator is the single actor driving sync for one local replica. All
// of its mutable state (shared_entities, synced_peers) is owned by the
// Run goroutine; callers only ever touch the command/event channels.
type Orchestrator struct {
	localPeer ids.PeerId

	engine      *engine.Engine
	entityStore storage.EntityStore
	eventStore  storage.EventStore
	transport   Transport
	config      Config
	clock       *ids.Clock
	schema      applicator.SchemaLookup
	logger      logging.Logger

	personalPolicy *policy.PersonalSyncPolicy // optional; nil disables the intersection step
	pairing        PairingManager             // optional; nil trusts every discovered peer

	sharedEntities map[ids.EntityId]struct{}
	syncedPeers    map[ids.PeerId]struct{}

	commands chan SyncCommand
	events   chan SyncEvent
}

// New constructs an Orchestrator. personalPolicy and pairing may both be
// nil.
func New(
	localPeer ids.PeerId,
	eng *engine.Engine,
	entityStore storage.EntityStore,
	eventStore storage.EventStore,
	transport Transport,
	cfg Config,
	clock *ids.Clock,
	schema applicator.SchemaLookup,
	personalPolicy *policy.PersonalSyncPolicy,
	pairing PairingManager,
	logger logging.Logger,
) *Orchestrator {
	return &Orchestrator{
		localPeer:      localPeer,
		engine:         eng,
		entityStore:    entityStore,
		eventStore:     eventStore,
		transport:      transport,
		config:         cfg,
		clock:          clock,
		schema:         schema,
		logger:         logging.Default(logger),
		personalPolicy: personalPolicy,
		pairing:        pairing,
		sharedEntities: make(map[ids.EntityId]struct{}),
		syncedPeers:    make(map[ids.PeerId]struct{}),
		commands:       make(chan SyncCommand, commandChanCapacity),
		events:         make(chan SyncEvent, eventChanCapacity),
	}
}

// Commands returns the channel callers send SyncCommand values on.
func (o *Orchestrator) Commands() chan<- SyncCommand { return o.commands }

// Events returns the channel callers receive SyncEvent notifications from.
func (o *Orchestrator) Events() <-chan SyncEvent { return o.events }

// AddSyncedPeer marks peer as one the periodic sync tick should visit.
func (o *Orchestrator) AddSyncedPeer(peer ids.PeerId) { o.syncedPeers[peer] = struct{}{} }

// Preload pre-loads every non-trashed entity id into shared_entities and
// synthesizes a FullSnapshot event for any entity the event store has no
// history for yet, so every discoverable entity has at least one event to
// replicate.
func (o *Orchestrator) Preload() error {
	entities, err := o.entityStore.ListAllEntities(false)
	if err != nil {
		return fmt.Errorf("preload: list entities: %w", err)
	}

	for _, entity := range entities {
		o.sharedEntities[entity.ID] = struct{}{}

		existing, err := o.eventStore.GetEventsForEntity(entity.ID)
		if err != nil {
			return fmt.Errorf("preload: events for %s: %w", entity.ID, err)
		}
		if len(existing) > 0 {
			continue
		}

		ts := o.clock.Tick()
		snapshot := model.NewEvent(entity.ID, o.localPeer, ts, model.Payload{
			Kind:       model.PayloadFullSnapshot,
			EntityType: entity.EntityType,
			JSONData:   entity.Data,
		})
		if err := o.eventStore.SaveEvent(snapshot); err != nil {
			return fmt.Errorf("preload: snapshot for %s: %w", entity.ID, err)
		}
		o.engine.RecordEvent(snapshot)
	}
	return nil
}

// Run is the actor's main loop: select over the command channel, inbound
// transport requests, the discovery tick, and the sync tick, until ctx is
// done or a Shutdown command arrives. It returns promptly on either;
// in-flight transport requests are abandoned, not awaited.
func (o *Orchestrator) Run(ctx context.Context) error {
	syncTicker := newTicker(o.config.SyncInterval)
	defer syncTicker.Stop()
	discoveryTicker := newTicker(o.config.DiscoveryInterval)
	defer discoveryTicker.Stop()

	incoming := o.recvLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case cmd, ok := <-o.commands:
			if !ok {
				return nil
			}
			if cmd.Kind == CmdShutdown {
				return nil
			}
			o.handleCommand(ctx, cmd)

		case req, ok := <-incoming:
			if !ok {
				incoming = nil // transport's request stream closed; stop selecting on it
				continue
			}
			o.handleIncoming(ctx, req)

		case <-syncTicker.C:
			for peer := range o.syncedPeers {
				o.syncWithPeer(ctx, peer)
			}

		case <-discoveryTicker.C:
			o.runDiscoveryTick(ctx)
		}
	}
}

// recvLoop runs transport.RecvRequest in its own goroutine and feeds results
// into a channel the main select can block on alongside the command and
// ticker cases — RecvRequest itself is a blocking await, so it cannot live
// directly in the select without starving the other cases.
func (o *Orchestrator) recvLoop(ctx context.Context) <-chan *IncomingSyncRequest {
	out := make(chan *IncomingSyncRequest)
	go func() {
		defer close(out)
		for {
			req, err := o.transport.RecvRequest(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				o.logger.Printf("recv request: %v", err)
				continue
			}
			if req == nil {
				return // request stream closed
			}
			select {
			case out <- req:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (o *Orchestrator) handleCommand(ctx context.Context, cmd SyncCommand) {
	switch cmd.Kind {
	case CmdRecordLocalEvent:
		o.recordLocalEvent(cmd.Event)

	case CmdShareEntity:
		o.sharedEntities[cmd.EntityID] = struct{}{}

	case CmdShareWithPeer:
		o.sharedEntities[cmd.EntityID] = struct{}{}
		if o.personalPolicy != nil {
			o.personalPolicy.Share(cmd.EntityID, cmd.PeerID)
		}

	case CmdSyncEntity:
		for peer := range o.syncedPeers {
			o.syncWithPeer(ctx, peer)
		}

	case CmdSyncWithPeer:
		o.syncWithPeer(ctx, cmd.PeerID)
	}
}

// recordLocalEvent persists the event, then invalidates the ledger so every
// peer re-checks the entity on next sync — this defeats the race where a
// periodic sync marked the entity synced microseconds before the local
// mutation landed.
func (o *Orchestrator) recordLocalEvent(event model.Event) {
	if err := o.eventStore.SaveEvent(event); err != nil {
		o.logger.Printf("record local event: save: %v", err)
		return
	}
	if err := o.entityStore.InvalidateSyncLedgerForEntity(event.EntityID); err != nil {
		o.logger.Printf("record local event: invalidate ledger: %v", err)
	}
	o.engine.RecordEvent(event)
}

// handleIncoming delegates one inbound request to the engine and replies
// via the transport.
func (o *Orchestrator) handleIncoming(ctx context.Context, req *IncomingSyncRequest) {
	msg := req.Message
	var resp message.SyncMessage

	switch msg.Kind {
	case message.KindHello:
		resp = o.engine.HandleHello(msg.Hello)

	case message.KindSyncRequest:
		out, err := o.engine.HandleSyncRequest(req.PeerID, msg.SyncRequest, o.eventStore)
		if err != nil {
			resp = message.NewError(1, err.Error())
		} else {
			resp = out
		}

	case message.KindEventBatch:
		ack, updated, err := o.engine.HandleEventBatch(req.PeerID, msg.EventBatch, o.entityStore, o.eventStore)
		if err != nil {
			resp = message.NewError(1, err.Error())
		} else {
			resp = ack
			for _, entity := range updated {
				if err := o.entityStore.InvalidateSyncLedgerForEntity(entity); err != nil {
					o.logger.Printf("invalidate ledger after event batch: %v", err)
				}
				o.emit(entityUpdated(entity))
			}
		}

	case message.KindPing:
		resp = message.NewPing(*msg.Ping)

	default:
		resp = message.NewError(2, "unexpected message kind")
	}

	if err := o.transport.SendResponse(ctx, req.ResponseToken, resp); err != nil {
		o.logger.Printf("send response to %s: %v", req.PeerID, err)
	}
}

// runDiscoveryTick polls the transport for newly discovered peers and runs
// each through the pairing gate before it becomes a sync candidate.
func (o *Orchestrator) runDiscoveryTick(ctx context.Context) {
	peers, err := o.transport.DiscoveredPeersAsync(ctx)
	if err != nil {
		o.logger.Printf("discovery: %v", err)
		return
	}

	for _, dp := range peers {
		if _, already := o.syncedPeers[dp.PeerID]; already {
			continue
		}

		if o.pairing != nil {
			o.pairing.UpdateDeviceName(dp.PeerID, dp.DeviceName)
			if !o.pairing.IsTrusted(dp.PeerID) {
				if o.pairing.IsSyncCodeActive() {
					o.pairing.AddPending(dp.PeerID, dp.DeviceName)
				}
				continue
			}
		}

		o.syncedPeers[dp.PeerID] = struct{}{}
		o.emit(peerDiscovered(dp.PeerID, dp.DeviceName))
		if o.config.AutoSync && len(o.sharedEntities) > 0 {
			o.syncWithPeer(ctx, dp.PeerID)
		}
	}
}

// syncWithPeer runs one full sync round against peer: candidate selection,
// Hello/HelloAck, SyncRequest/SyncState, then per-entity event exchange.
func (o *Orchestrator) syncWithPeer(ctx context.Context, peer ids.PeerId) {
	if len(o.sharedEntities) == 0 {
		o.emit(syncCompleted(peer, 0, 0))
		return
	}
	o.emit(syncStarted(peer))

	candidates, err := o.candidateEntities(peer)
	if err != nil {
		o.emit(syncFailed(peer, err.Error()))
		return
	}
	if o.config.MaxEntitiesPerSync > 0 && len(candidates) > o.config.MaxEntitiesPerSync {
		candidates = candidates[:o.config.MaxEntitiesPerSync]
	}

	hello := o.engine.MakeHello(candidates)
	helloResp, err := o.transport.SendRequest(ctx, peer, hello)
	if err != nil {
		o.emit(syncFailed(peer, err.Error()))
		return
	}
	if helloResp.Kind != message.KindHelloAck || helloResp.HelloAck == nil {
		o.emit(syncFailed(peer, "unexpected response to hello"))
		return
	}
	if !helloResp.HelloAck.Accepted {
		o.emit(syncFailed(peer, reasonOrDefault(helloResp.HelloAck.Reason, "rejected")))
		return
	}
	if helloResp.HelloAck.Version != message.ProtocolVersion {
		o.emit(syncFailed(peer, "protocol version mismatch"))
		return
	}

	reqMsg, err := o.engine.MakeSyncRequest(candidates, o.eventStore)
	if err != nil {
		o.emit(syncFailed(peer, err.Error()))
		return
	}
	stateResp, err := o.transport.SendRequest(ctx, peer, reqMsg)
	var state *message.SyncState
	if err != nil || stateResp.Kind != message.KindSyncState || stateResp.SyncState == nil {
		state = &message.SyncState{
			Clocks:        map[ids.EntityId]message.Clock{},
			KnownEventIDs: map[ids.EntityId][]ids.EventId{},
		}
	} else {
		state = stateResp.SyncState
	}

	var sent, received uint64
	synced := make([]ids.EntityId, 0, len(candidates))

	for _, entity := range candidates {
		ok, s, r := o.syncEntity(ctx, peer, entity, state.KnownEventIDs[entity])
		sent += s
		received += r
		if ok {
			synced = append(synced, entity)
		}
	}

	if len(synced) > 0 {
		if err := o.entityStore.MarkEntitiesSynced(peer, synced, nowMillis()); err != nil {
			o.logger.Printf("mark entities synced: %v", err)
		}
	}
	o.emit(syncCompleted(peer, sent, received))
}

// syncEntity exchanges one entity's delta with peer. The bool return
// reports whether the entity should be recorded in the sync ledger.
func (o *Orchestrator) syncEntity(ctx context.Context, peer ids.PeerId, entity ids.EntityId, peerKnown []ids.EventId) (synced bool, sent, received uint64) {
	peerKnownSet := engine.EventIDSet(peerKnown)

	batches, err := o.engine.ComputeEventBatchesForPeer(peer, entity, peerKnownSet, o.eventStore)
	if err != nil {
		o.logger.Printf("compute batches for %s: %v", entity, err)
		return false, 0, 0
	}

	if len(batches) == 0 {
		localEvents, err := o.eventStore.GetEventsForEntity(entity)
		if err != nil {
			o.logger.Printf("events for %s: %v", entity, err)
			return false, 0, 0
		}
		peerHasUnknown := peerHasEventsWeLack(localEvents, peerKnownSet)
		if !peerHasUnknown {
			// Both sides agree. Only record convergence if we actually hold
			// at least one event for this entity — otherwise a pending
			// snapshot might still be in flight and we shouldn't claim sync.
			return len(localEvents) > 0, 0, 0
		}
		// Peer holds ids we don't: send one empty final batch purely to
		// trigger a reverse-delta in its ack.
		batches = []message.SyncMessage{message.NewEventBatch(entity, 0, true, nil)}
	}

	for _, batch := range batches {
		resp, err := o.transport.SendRequest(ctx, peer, batch)
		if err != nil {
			return false, sent, received
		}
		if resp.Kind != message.KindEventAck || resp.EventAck == nil || resp.EventAck.EntityID != entity {
			return false, sent, received
		}
		sent += uint64(resp.EventAck.ReceivedCount)

		for _, ev := range resp.EventAck.Events {
			if err := o.applyRemoteEvent(peer, ev); err != nil {
				o.logger.Printf("apply reverse-delta event %s: %v", ev.ID, err)
				continue
			}
			received++
		}
	}
	return true, sent, received
}

// applyRemoteEvent applies one event received via a reverse-delta,
// respecting policy.OnEventReceive exactly like an inbound EventBatch would.
func (o *Orchestrator) applyRemoteEvent(peer ids.PeerId, ev model.Event) error {
	allowed := o.enginePolicy().OnEventReceive(peer, ev.EntityID, []model.Event{ev})
	if len(allowed) == 0 {
		return nil
	}
	if ev.Payload.Kind.IsAclPayload() {
		return nil // ACL dispatch on the reverse path is handled by the next full EventBatch round
	}
	if err := o.eventStore.SaveEvent(ev); err != nil {
		return err
	}
	changed, err := applicator.Apply(ev, o.entityStore, o.schema)
	if err != nil {
		return err
	}
	o.engine.RecordEvent(ev)
	if changed {
		if err := o.entityStore.InvalidateSyncLedgerForEntity(ev.EntityID); err != nil {
			o.logger.Printf("invalidate ledger after reverse-delta: %v", err)
		}
		o.emit(entityUpdated(ev.EntityID))
	}
	return nil
}

// enginePolicy is a small seam so applyRemoteEvent can reuse the engine's
// installed policy without the engine exposing its full internal state.
func (o *Orchestrator) enginePolicy() policy.Policy { return o.engine.ActivePolicy() }

// candidateEntities queries the ledger for entities needing sync with peer,
// intersected with the personal policy's shared set when selective sharing
// is active.
func (o *Orchestrator) candidateEntities(peer ids.PeerId) ([]ids.EntityId, error) {
	needing, err := o.entityStore.EntitiesNeedingSync(peer)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Storage, fmt.Errorf("entities needing sync: %w", err))
	}

	if o.personalPolicy == nil {
		return filterToShared(needing, o.sharedEntities), nil
	}
	shared, ok := o.personalPolicy.EntitiesForPeer(peer)
	if !ok {
		return filterToShared(needing, o.sharedEntities), nil
	}

	out := make([]ids.EntityId, 0, len(needing))
	for _, id := range needing {
		if _, inShared := o.sharedEntities[id]; !inShared {
			continue
		}
		if _, inPeerShare := shared[id]; inPeerShare {
			out = append(out, id)
		}
	}
	return out, nil
}

func filterToShared(candidates []ids.EntityId, shared map[ids.EntityId]struct{}) []ids.EntityId {
	out := make([]ids.EntityId, 0, len(candidates))
	for _, id := range candidates {
		if _, ok := shared[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func peerHasEventsWeLack(localEvents []model.Event, peerKnown map[ids.EventId]struct{}) bool {
	localIDs := make(map[ids.EventId]struct{}, len(localEvents))
	for _, ev := range localEvents {
		localIDs[ev.ID] = struct{}{}
	}
	for id := range peerKnown {
		if _, ok := localIDs[id]; !ok {
			return true
		}
	}
	return false
}

func reasonOrDefault(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}

// emit delivers ev without blocking the actor loop: a full channel means no
// one is listening, so the notification is dropped and logged rather than
// stalling sync.
func (o *Orchestrator) emit(ev SyncEvent) {
	select {
	case o.events <- ev:
	default:
		o.logger.Printf("event channel full, dropping %s", ev.Kind)
	}
}
