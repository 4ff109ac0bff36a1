package sqlite

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/model"
)

func newEvStore(t *testing.T) *EventStore {
	t.Helper()
	s, err := NewEventStore(":memory:")
	if err != nil {
		t.Fatalf("new event store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveEventRoundTrip(t *testing.T) {
	s := newEvStore(t)
	entity := ids.NewEntityId()
	peer := ids.NewPeerId()

	ev := model.NewEvent(entity, peer, ids.HybridTimestamp{WallTime: 42, Counter: 3, Peer: peer}, model.Payload{
		Kind:       model.PayloadEntityCreated,
		EntityType: "note",
		JSONData:   json.RawMessage(`{"title":"x"}`),
	})
	if err := s.SaveEvent(ev); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetEventsForEntity(entity)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].ID != ev.ID || got[0].PeerID != peer {
		t.Fatalf("identity mismatch: %+v", got[0])
	}
	if got[0].Timestamp.WallTime != 42 || got[0].Timestamp.Counter != 3 {
		t.Fatalf("timestamp mismatch: %+v", got[0].Timestamp)
	}
	if got[0].Payload.Kind != model.PayloadEntityCreated || string(got[0].Payload.JSONData) != `{"title":"x"}` {
		t.Fatalf("payload mismatch: %+v", got[0].Payload)
	}
}

func TestSaveEventDuplicateIDIsSilentlyIgnored(t *testing.T) {
	s := newEvStore(t)
	entity := ids.NewEntityId()
	peer := ids.NewPeerId()

	ev := model.NewEvent(entity, peer, ids.HybridTimestamp{WallTime: 1, Peer: peer}, model.Payload{
		Kind: model.PayloadEntityCreated, EntityType: "note", JSONData: json.RawMessage(`{}`),
	})
	for i := 0; i < 3; i++ {
		if err := s.SaveEvent(ev); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	got, err := s.GetEventsForEntity(entity)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("duplicate ids must collapse to one row, got %d", len(got))
	}
}

func TestSaveEventConcurrentSameIDIsIdempotent(t *testing.T) {
	s := newEvStore(t)
	entity := ids.NewEntityId()
	peer := ids.NewPeerId()
	ev := model.NewEvent(entity, peer, ids.HybridTimestamp{WallTime: 1, Peer: peer}, model.Payload{
		Kind: model.PayloadEntityCreated, EntityType: "note", JSONData: json.RawMessage(`{}`),
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.SaveEvent(ev); err != nil {
				t.Errorf("concurrent save: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.GetEventsForEntity(entity)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one persisted row, got %d", len(got))
	}
}

func TestGetEventsScopedToEntity(t *testing.T) {
	s := newEvStore(t)
	peer := ids.NewPeerId()
	a, b := ids.NewEntityId(), ids.NewEntityId()

	for i := 0; i < 3; i++ {
		s.SaveEvent(model.NewEvent(a, peer, ids.HybridTimestamp{WallTime: uint64(i), Peer: peer}, model.Payload{
			Kind: model.PayloadEntityUpdated, EntityType: "note", JSONData: json.RawMessage(`{}`),
		}))
	}
	s.SaveEvent(model.NewEvent(b, peer, ids.HybridTimestamp{WallTime: 9, Peer: peer}, model.Payload{
		Kind: model.PayloadEntityCreated, EntityType: "note", JSONData: json.RawMessage(`{}`),
	}))

	got, err := s.GetEventsForEntity(a)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events for a, got %d", len(got))
	}
	for _, ev := range got {
		if ev.EntityID != a {
			t.Fatalf("event for wrong entity leaked in: %+v", ev)
		}
	}
}
