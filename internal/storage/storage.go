// Package storage defines the persistence contracts for entities and events.
// Concrete backends live in subpackages (see storage/sqlite).
package storage

import (
	"fmt"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/model"
	"github.com/amaydixit11/syncd/pkg/crypto"
)

// ErrNotFound is returned when a lookup by id finds no row.
type ErrNotFound struct {
	ID fmt.Stringer
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("not found: %s", e.ID)
}

// QueryFilter is one equality filter applied against a decrypted entity's
// JSON document at a given pointer path (e.g. "status" or "/status").
type QueryFilter struct {
	FieldPath string
	Expected  interface{}
}

// OrphanSummary describes a group of entities whose (created_by, entity_type)
// pair does not match any currently registered plugin schema.
type OrphanSummary struct {
	CreatedBy  string
	EntityType string
	Count      int
}

// EntityStore exposes the operations the entity store component performs
// over a relational backend: the entities table plus auxiliary tables for
// links, vectors, sync ledger, and cloud/plugin bookkeeping.
type EntityStore interface {
	SaveEntity(entity model.Entity, schema model.EntitySchema) error
	SaveEntityRaw(entity model.Entity) error
	GetEntity(id ids.EntityId) (*model.Entity, error)
	ListEntities(entityType string, includeTrashed bool, limit, offset int) ([]model.Entity, error)
	ListAllEntities(includeTrashed bool) ([]model.Entity, error)
	DeleteEntity(id ids.EntityId) error
	TrashEntity(id ids.EntityId) error
	RestoreEntity(id ids.EntityId) error
	QueryEntities(entityType string, filters []QueryFilter, includeTrashed bool, limit int) ([]model.Entity, error)
	Search(query string, entityTypes []string, limit int) ([]model.Entity, error)

	EntitiesNeedingSync(peer ids.PeerId) ([]ids.EntityId, error)
	MarkEntitiesSynced(peer ids.PeerId, entityIDs []ids.EntityId, nowMs uint64) error
	InvalidateSyncLedgerForEntity(id ids.EntityId) error
	ClearSyncLedgerForPeer(peer ids.PeerId) error

	MigrateUnencrypted() (int, error)
	ReencryptAll(oldKey, newKey crypto.Key) (int, error)

	RunMaintenance() error
	FindOrphanEntities(validTypes [][2]string) ([]OrphanSummary, error)
	DeleteOrphanEntities(validTypes [][2]string) (int, error)

	SaveCloudCursor(key string, value int64) error
	LoadCloudCursors() (map[string]int64, error)
	ClearCloudCursors() error

	Close() error
}

// EventStore is the append-only event log keyed by event id.
type EventStore interface {
	SaveEvent(event model.Event) error
	GetEventsForEntity(id ids.EntityId) ([]model.Event, error)
	Close() error
}
