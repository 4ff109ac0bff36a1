package engine

import (
	"encoding/json"
	"testing"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/message"
	"github.com/amaydixit11/syncd/internal/model"
	"github.com/amaydixit11/syncd/internal/policy"
	"github.com/amaydixit11/syncd/internal/storage/sqlite"
)

func newTestEventStore(t *testing.T) *sqlite.EventStore {
	t.Helper()
	store, err := sqlite.NewEventStore(":memory:")
	if err != nil {
		t.Fatalf("new event store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEntityStore(t *testing.T) *sqlite.EntityStore {
	t.Helper()
	store, err := sqlite.NewEntityStore(":memory:")
	if err != nil {
		t.Fatalf("new entity store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHandleHelloAcceptsOpenPolicy(t *testing.T) {
	local := ids.NewPeerId()
	remote := ids.NewPeerId()
	e := New(local, "host", policy.NewPersonalSyncPolicy(), nil, nil)

	resp := e.HandleHello(&message.Hello{Version: message.ProtocolVersion, PeerID: remote, DeviceName: "phone"})
	ack := resp.HelloAck
	if ack == nil || !ack.Accepted {
		t.Fatalf("expected acceptance, got %+v", resp)
	}

	connected := e.ConnectedPeers()
	if len(connected) != 1 || connected[0] != remote {
		t.Fatalf("expected remote marked connected, got %v", connected)
	}
}

func TestHandleHelloRejectsVersionMismatch(t *testing.T) {
	e := New(ids.NewPeerId(), "host", policy.NewPersonalSyncPolicy(), nil, nil)
	resp := e.HandleHello(&message.Hello{Version: message.ProtocolVersion + 1, PeerID: ids.NewPeerId()})
	if resp.HelloAck == nil || resp.HelloAck.Accepted {
		t.Fatalf("expected rejection on version mismatch, got %+v", resp)
	}
}

func TestComputeEventBatchesForPeerSplitsAtBoundary(t *testing.T) {
	eventStore := newTestEventStore(t)
	local := ids.NewPeerId()
	remote := ids.NewPeerId()
	entity := ids.NewEntityId()
	e := New(local, "host", policy.NewPersonalSyncPolicy(), nil, nil)

	total := message.MaxEventsPerBatch + 10
	for i := 0; i < total; i++ {
		ev := model.NewEvent(entity, local, ids.HybridTimestamp{WallTime: uint64(i + 1), Peer: local}, model.Payload{
			Kind: model.PayloadEntityUpdated, EntityType: "note", JSONData: json.RawMessage(`{}`),
		})
		if err := eventStore.SaveEvent(ev); err != nil {
			t.Fatalf("save event: %v", err)
		}
	}

	batches, err := e.ComputeEventBatchesForPeer(remote, entity, map[ids.EventId]struct{}{}, eventStore)
	if err != nil {
		t.Fatalf("compute batches: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches for %d events, got %d", total, len(batches))
	}
	if !batches[1].EventBatch.IsFinal {
		t.Fatal("last batch should be marked final")
	}
	if batches[0].EventBatch.IsFinal {
		t.Fatal("first batch should not be marked final")
	}
	sum := len(batches[0].EventBatch.Events) + len(batches[1].EventBatch.Events)
	if sum != total {
		t.Fatalf("expected %d total events across batches, got %d", total, sum)
	}
}

func TestHandleEventBatchAppliesAndAcksReverseDelta(t *testing.T) {
	entityStore := newTestEntityStore(t)
	eventStoreA := newTestEventStore(t)

	local := ids.NewPeerId()
	remote := ids.NewPeerId()
	entity := ids.NewEntityId()
	e := New(local, "host", policy.NewPersonalSyncPolicy(), nil, nil)

	// local already holds one event the remote doesn't know about.
	localOnly := model.NewEvent(entity, local, ids.HybridTimestamp{WallTime: 1, Peer: local}, model.Payload{
		Kind: model.PayloadEntityCreated, EntityType: "note", JSONData: json.RawMessage(`{"title":"local"}`),
	})
	if err := eventStoreA.SaveEvent(localOnly); err != nil {
		t.Fatalf("save local event: %v", err)
	}

	incoming := model.NewEvent(entity, remote, ids.HybridTimestamp{WallTime: 2, Peer: remote}, model.Payload{
		Kind: model.PayloadEntityUpdated, EntityType: "note", JSONData: json.RawMessage(`{"title":"remote"}`),
	})
	batch := &message.EventBatch{EntityID: entity, BatchSeq: 0, IsFinal: true, Events: []model.Event{incoming}}

	ack, updated, err := e.HandleEventBatch(remote, batch, entityStore, eventStoreA)
	if err != nil {
		t.Fatalf("handle event batch: %v", err)
	}
	if ack.EventAck.ReceivedCount != 1 {
		t.Fatalf("expected 1 applied event, got %d", ack.EventAck.ReceivedCount)
	}
	if len(updated) != 1 || updated[0] != entity {
		t.Fatalf("expected entity reported updated, got %v", updated)
	}
	if len(ack.EventAck.Events) != 1 || ack.EventAck.Events[0].ID != localOnly.ID {
		t.Fatalf("expected reverse-delta to carry the local-only event, got %v", ack.EventAck.Events)
	}

	// The incoming event must have landed in the event log: convergence is
	// defined over event-id sets, not just the materialized entity.
	held, err := eventStoreA.GetEventsForEntity(entity)
	if err != nil {
		t.Fatalf("events after batch: %v", err)
	}
	found := false
	for _, ev := range held {
		if ev.ID == incoming.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("received event should be persisted in the event store")
	}
}

func TestHandleEventBatchPersistsStaleEvents(t *testing.T) {
	entityStore := newTestEntityStore(t)
	eventStore := newTestEventStore(t)

	local := ids.NewPeerId()
	remote := ids.NewPeerId()
	entity := ids.NewEntityId()
	e := New(local, "host", policy.NewPersonalSyncPolicy(), nil, nil)

	newer := model.NewEvent(entity, local, ids.HybridTimestamp{WallTime: 200, Peer: local}, model.Payload{
		Kind: model.PayloadEntityCreated, EntityType: "note", JSONData: json.RawMessage(`{"title":"new"}`),
	})
	if err := eventStore.SaveEvent(newer); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, _, err := e.HandleEventBatch(remote, &message.EventBatch{
		EntityID: entity, IsFinal: true, Events: []model.Event{newer},
	}, entityStore, eventStore); err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	stale := model.NewEvent(entity, remote, ids.HybridTimestamp{WallTime: 100, Peer: remote}, model.Payload{
		Kind: model.PayloadEntityUpdated, EntityType: "note", JSONData: json.RawMessage(`{"title":"old"}`),
	})
	_, updated, err := e.HandleEventBatch(remote, &message.EventBatch{
		EntityID: entity, IsFinal: true, Events: []model.Event{stale},
	}, entityStore, eventStore)
	if err != nil {
		t.Fatalf("stale batch: %v", err)
	}
	if len(updated) != 0 {
		t.Fatalf("stale event should not have changed the entity, got %v", updated)
	}

	held, _ := eventStore.GetEventsForEntity(entity)
	if len(held) != 2 {
		t.Fatalf("both events belong in the log even when one is superseded, got %d", len(held))
	}
	got, err := entityStore.GetEntity(entity)
	if err != nil || got == nil {
		t.Fatalf("get entity: %v", err)
	}
	if string(got.Data) != `{"title":"new"}` {
		t.Fatalf("newer document should have survived, got %s", got.Data)
	}
}

// TestViewerCannotWriteButCanRead exercises the enterprise role split at the
// engine level: a Viewer's inbound events are filtered (with an audit
// record), while outbound events to the same Viewer still flow.
func TestViewerCannotWriteButCanRead(t *testing.T) {
	entityStore := newTestEntityStore(t)
	eventStore := newTestEventStore(t)

	local := ids.NewPeerId()
	viewer := ids.NewPeerId()
	entity := ids.NewEntityId()

	enterprise := policy.NewEnterpriseSyncPolicy(func() uint64 { return 1 })
	enterprise.GrantPeerRole(entity, viewer, model.RoleViewer)
	e := New(local, "host", enterprise, nil, nil)

	ours := model.NewEvent(entity, local, ids.HybridTimestamp{WallTime: 10, Peer: local}, model.Payload{
		Kind: model.PayloadEntityCreated, EntityType: "note", JSONData: json.RawMessage(`{"title":"doc"}`),
	})
	if err := eventStore.SaveEvent(ours); err != nil {
		t.Fatalf("save: %v", err)
	}

	theirs := model.NewEvent(entity, viewer, ids.HybridTimestamp{WallTime: 20, Peer: viewer}, model.Payload{
		Kind: model.PayloadEntityUpdated, EntityType: "note", JSONData: json.RawMessage(`{"title":"vandalized"}`),
	})
	ack, updated, err := e.HandleEventBatch(viewer, &message.EventBatch{
		EntityID: entity, IsFinal: true, Events: []model.Event{theirs},
	}, entityStore, eventStore)
	if err != nil {
		t.Fatalf("handle batch: %v", err)
	}
	if ack.EventAck.ReceivedCount != 0 || len(updated) != 0 {
		t.Fatalf("viewer's write should have been filtered, got count=%d updated=%v", ack.EventAck.ReceivedCount, updated)
	}
	held, _ := eventStore.GetEventsForEntity(entity)
	for _, ev := range held {
		if ev.ID == theirs.ID {
			t.Fatal("filtered event must not reach the event log")
		}
	}

	filtered := false
	for _, entry := range enterprise.AuditLog() {
		if entry.Action == policy.ActionEventReceive && entry.Decision == policy.DecisionFiltered &&
			entry.Peer == viewer && entry.Entity != nil && *entry.Entity == entity {
			filtered = true
		}
	}
	if !filtered {
		t.Fatal("expected an EventReceive/Filtered audit entry for the viewer")
	}

	// Read direction: our event still flows to the viewer.
	batches, err := e.ComputeEventBatchesForPeer(viewer, entity, map[ids.EventId]struct{}{}, eventStore)
	if err != nil {
		t.Fatalf("compute batches: %v", err)
	}
	if len(batches) != 1 || len(batches[0].EventBatch.Events) != 1 || batches[0].EventBatch.Events[0].ID != ours.ID {
		t.Fatalf("viewer should still receive our events, got %v", batches)
	}
}

func TestHandleEventBatchDispatchesAclEvents(t *testing.T) {
	entityStore := newTestEntityStore(t)
	eventStore := newTestEventStore(t)

	local := ids.NewPeerId()
	admin := ids.NewPeerId()
	grantee := ids.NewPeerId()
	entity := ids.NewEntityId()

	enterprise := policy.NewEnterpriseSyncPolicy(func() uint64 { return 1 })
	enterprise.GrantPeerRole(entity, admin, model.RoleAdmin)

	e := New(local, "host", enterprise, func(ev model.Event) error {
		return policy.ApplyAclEvent(enterprise, ev)
	}, nil)

	grant := model.NewEvent(entity, admin, ids.HybridTimestamp{WallTime: 5, Peer: admin}, model.Payload{
		Kind:        model.PayloadAclGrantPeer,
		AclEntityID: entity,
		AclPeer:     grantee,
		AclRole:     model.RoleEditor,
	})
	ack, updated, err := e.HandleEventBatch(admin, &message.EventBatch{
		EntityID: entity, IsFinal: true, Events: []model.Event{grant},
	}, entityStore, eventStore)
	if err != nil {
		t.Fatalf("handle acl batch: %v", err)
	}
	if ack.EventAck.ReceivedCount != 1 {
		t.Fatalf("acl event should count as applied, got %d", ack.EventAck.ReceivedCount)
	}
	if len(updated) != 0 {
		t.Fatalf("acl events never touch entity data, got %v", updated)
	}

	// The grant must now be visible through the policy.
	ev := model.NewEvent(entity, grantee, ids.HybridTimestamp{WallTime: 6, Peer: grantee}, model.Payload{
		Kind: model.PayloadEntityUpdated, EntityType: "note", JSONData: json.RawMessage(`{}`),
	})
	if out := enterprise.OnEventReceive(grantee, entity, []model.Event{ev}); len(out) != 1 {
		t.Fatal("granted editor role should now permit writes")
	}
}
