package applicator

import (
	"encoding/json"
	"testing"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/model"
	"github.com/amaydixit11/syncd/internal/storage"
	"github.com/amaydixit11/syncd/internal/storage/sqlite"
)

func newTestStore(t *testing.T) storage.EntityStore {
	t.Helper()
	store, err := sqlite.NewEntityStore(":memory:")
	if err != nil {
		t.Fatalf("new entity store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func event(entity ids.EntityId, peer ids.PeerId, wall uint64, kind model.PayloadKind, data string) model.Event {
	return model.NewEvent(entity, peer, ids.HybridTimestamp{WallTime: wall, Peer: peer}, model.Payload{
		Kind:       kind,
		EntityType: "note",
		JSONData:   json.RawMessage(data),
	})
}

func TestApplyCreateThenOlderUpdateIsNoOp(t *testing.T) {
	store := newTestStore(t)
	entity := ids.NewEntityId()
	peer := ids.NewPeerId()

	created := event(entity, peer, 100, model.PayloadEntityCreated, `{"title":"a"}`)
	changed, err := Apply(created, store, nil)
	if err != nil || !changed {
		t.Fatalf("create: changed=%v err=%v", changed, err)
	}

	stale := event(entity, peer, 50, model.PayloadEntityUpdated, `{"title":"stale"}`)
	changed, err = Apply(stale, store, nil)
	if err != nil {
		t.Fatalf("stale update: %v", err)
	}
	if changed {
		t.Fatal("older update should not have applied")
	}

	got, err := store.GetEntity(entity)
	if err != nil || got == nil {
		t.Fatalf("get entity: %v", err)
	}
	if string(got.Data) != `{"title":"a"}` {
		t.Fatalf("stale update must not have overwritten data, got %s", got.Data)
	}
}

func TestApplyNewerUpdateWins(t *testing.T) {
	store := newTestStore(t)
	entity := ids.NewEntityId()
	peer := ids.NewPeerId()

	Apply(event(entity, peer, 100, model.PayloadEntityCreated, `{"title":"a"}`), store, nil)
	changed, err := Apply(event(entity, peer, 200, model.PayloadEntityUpdated, `{"title":"b"}`), store, nil)
	if err != nil || !changed {
		t.Fatalf("newer update: changed=%v err=%v", changed, err)
	}

	got, _ := store.GetEntity(entity)
	if string(got.Data) != `{"title":"b"}` {
		t.Fatalf("expected newer data to win, got %s", got.Data)
	}
}

func TestApplyDeleteTrashesThenIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	entity := ids.NewEntityId()
	peer := ids.NewPeerId()

	Apply(event(entity, peer, 100, model.PayloadEntityCreated, `{}`), store, nil)
	changed, err := Apply(event(entity, peer, 200, model.PayloadEntityDeleted, ``), store, nil)
	if err != nil || !changed {
		t.Fatalf("delete: changed=%v err=%v", changed, err)
	}

	changed, err = Apply(event(entity, peer, 300, model.PayloadEntityDeleted, ``), store, nil)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if changed {
		t.Fatal("deleting an already-trashed entity should be a no-op")
	}
}

func TestApplyDeleteOfUnknownEntityIsNoOp(t *testing.T) {
	store := newTestStore(t)
	entity := ids.NewEntityId()
	peer := ids.NewPeerId()

	changed, err := Apply(event(entity, peer, 100, model.PayloadEntityDeleted, ``), store, nil)
	if err != nil {
		t.Fatalf("delete unknown: %v", err)
	}
	if changed {
		t.Fatal("deleting an entity with no local row should be a no-op")
	}
}

func TestApplyFullSnapshotIsUnconditional(t *testing.T) {
	store := newTestStore(t)
	entity := ids.NewEntityId()
	peer := ids.NewPeerId()

	Apply(event(entity, peer, 500, model.PayloadEntityCreated, `{"title":"newest"}`), store, nil)
	changed, err := Apply(event(entity, peer, 100, model.PayloadFullSnapshot, `{"title":"snapshot"}`), store, nil)
	if err != nil || !changed {
		t.Fatalf("snapshot: changed=%v err=%v", changed, err)
	}

	got, _ := store.GetEntity(entity)
	if string(got.Data) != `{"title":"snapshot"}` {
		t.Fatalf("snapshot should overwrite unconditionally, got %s", got.Data)
	}
}

func TestApplyRejectsAclPayload(t *testing.T) {
	store := newTestStore(t)
	entity := ids.NewEntityId()
	peer := ids.NewPeerId()

	ev := model.NewEvent(entity, peer, ids.HybridTimestamp{WallTime: 1, Peer: peer}, model.Payload{
		Kind: model.PayloadAclGrantPeer,
	})
	changed, err := Apply(ev, store, nil)
	if err != nil {
		t.Fatalf("acl payload should not error from the default applicator: %v", err)
	}
	if changed {
		t.Fatal("acl payload must never be applied to entity data")
	}
}

func TestApplyUsesSchemaLookupWhenEntityTypeMatches(t *testing.T) {
	store := newTestStore(t)
	entity := ids.NewEntityId()
	peer := ids.NewPeerId()

	schema := model.EntitySchema{
		EntityType: "note",
		IndexedFields: []model.IndexedField{
			{Path: "title", FieldType: model.FieldText, Searchable: true},
		},
		MergeStrategy: model.MergeLwwDocument,
	}
	lookup := func(entityType string) (model.EntitySchema, bool) {
		if entityType == "note" {
			return schema, true
		}
		return model.EntitySchema{}, false
	}

	changed, err := Apply(event(entity, peer, 100, model.PayloadEntityCreated, `{"title":"hello"}`), store, lookup)
	if err != nil || !changed {
		t.Fatalf("create with schema: changed=%v err=%v", changed, err)
	}

	results, err := store.QueryEntities("note", []storage.QueryFilter{{FieldPath: "title", Expected: "hello"}}, false, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected schema-driven title extraction to make the entity queryable, got %d results", len(results))
	}
}
