// Package model defines the replicated data types shared by the storage,
// sync-engine, and policy layers: events, entities, and the schema that
// drives indexed-column extraction at write time.
package model

import (
	"encoding/json"

	"github.com/amaydixit11/syncd/internal/ids"
)

// PayloadKind identifies which variant an Event's payload holds.
type PayloadKind string

const (
	PayloadEntityCreated PayloadKind = "entity_created"
	PayloadEntityUpdated PayloadKind = "entity_updated"
	PayloadEntityDeleted PayloadKind = "entity_deleted"
	PayloadFullSnapshot  PayloadKind = "full_snapshot"
	PayloadAclGrantPeer  PayloadKind = "acl_grant_peer"
	PayloadAclRevokePeer PayloadKind = "acl_revoke_peer"
	PayloadTeamAddPeer   PayloadKind = "team_add_peer"
	PayloadTeamRemovePeer PayloadKind = "team_remove_peer"
)

// IsAclPayload reports whether kind is one of the ACL-as-CRDT payload
// variants, which the applicator never applies directly to entity data.
func (k PayloadKind) IsAclPayload() bool {
	switch k {
	case PayloadAclGrantPeer, PayloadAclRevokePeer, PayloadTeamAddPeer, PayloadTeamRemovePeer:
		return true
	default:
		return false
	}
}

// Payload is the union of fields carried by the different event variants.
// Only the fields relevant to Kind are populated; the rest are zero. A flat
// struct rather than an interface-per-variant keeps events round-tripping
// through JSON without a custom discriminated-union decoder.
type Payload struct {
	Kind PayloadKind `json:"kind"`

	// EntityCreated / EntityUpdated / EntityDeleted / FullSnapshot
	EntityType string          `json:"entity_type,omitempty"`
	JSONData   json.RawMessage `json:"json_data,omitempty"`

	// AclGrantPeer / AclRevokePeer
	AclEntityID ids.EntityId `json:"acl_entity_id,omitempty"`
	AclPeer     ids.PeerId   `json:"acl_peer,omitempty"`
	AclRole     Role         `json:"acl_role,omitempty"`

	// TeamAddPeer / TeamRemovePeer
	TeamID   ids.TeamId `json:"team_id,omitempty"`
	TeamPeer ids.PeerId `json:"team_peer,omitempty"`
}

// Event is a single immutable fact recorded in the append-only event log.
type Event struct {
	ID        ids.EventId        `json:"id"`
	EntityID  ids.EntityId       `json:"entity_id"`
	PeerID    ids.PeerId         `json:"peer_id"` // origin
	Timestamp ids.HybridTimestamp `json:"timestamp"`
	Payload   Payload            `json:"payload"`
}

func NewEvent(entityID ids.EntityId, origin ids.PeerId, ts ids.HybridTimestamp, payload Payload) Event {
	return Event{
		ID:        ids.NewEventId(),
		EntityID:  entityID,
		PeerID:    origin,
		Timestamp: ts,
		Payload:   payload,
	}
}

// Entity is the materialized, mutable document produced by folding an
// entity's events under LWW-document merge.
type Entity struct {
	ID         ids.EntityId    `json:"id"`
	EntityType string          `json:"entity_type"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  uint64          `json:"created_at"`  // unix millis
	ModifiedAt uint64          `json:"modified_at"` // unix millis, authoritative LWW key
	CreatedBy  ids.PeerId      `json:"created_by"`
	IsTrashed  bool            `json:"is_trashed"`
}

// FieldType classifies an IndexedField for extraction and storage.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTag      FieldType = "tag"
	FieldNumber   FieldType = "number"
	FieldBool     FieldType = "bool"
	FieldRelation FieldType = "relation"
	FieldVector   FieldType = "vector"
	FieldEnum     FieldType = "enum"
)

// IndexedField describes one JSON-path field of an entity type that the
// store should extract into an indexed column (or auxiliary table, for
// Relation and Vector) at write time.
type IndexedField struct {
	Path       string    `json:"path"`
	FieldType  FieldType `json:"field_type"`
	Searchable bool      `json:"searchable"`
	VectorDim  int       `json:"vector_dim,omitempty"` // only meaningful when FieldType == FieldVector
}

// MergeStrategy selects how the applicator folds successive events for an
// entity type into its stored document.
type MergeStrategy string

const (
	// MergeLwwDocument replaces the whole document on every accepted event:
	// one whose wall-time is newer than the stored modified_at (ties are
	// not broken by origin peer). The only strategy currently
	// implemented by the applicator; see the Open Questions note in
	// DESIGN.md for the field-merge upgrade path this enumerator leaves
	// room for.
	MergeLwwDocument MergeStrategy = "lww_document"
)

// EntitySchema tells the entity store how to index and merge one entity
// type. Schemas are registered externally (e.g. by a plugin); the core only
// consumes them.
type EntitySchema struct {
	EntityType    string         `json:"entity_type"`
	IndexedFields []IndexedField `json:"indexed_fields"`
	MergeStrategy MergeStrategy  `json:"merge_strategy"`
}

// FieldsOfType returns the subset of the schema's indexed fields matching
// the given type, in declaration order.
func (s EntitySchema) FieldsOfType(t FieldType) []IndexedField {
	var out []IndexedField
	for _, f := range s.IndexedFields {
		if f.FieldType == t {
			out = append(out, f)
		}
	}
	return out
}

// SyncLedgerRow records the last successful exchange of one entity with one
// peer. Primary key is (PeerID, EntityID).
type SyncLedgerRow struct {
	PeerID     ids.PeerId   `json:"peer_id"`
	EntityID   ids.EntityId `json:"entity_id"`
	SyncedAtMs uint64       `json:"synced_at_ms"`
}

// LinkRow is a materialized Relation-field edge between two entities,
// derived from an EntitySchema's Relation fields at write time.
type LinkRow struct {
	SourceType string       `json:"source_type"`
	SourceID   ids.EntityId `json:"source_id"`
	TargetType string       `json:"target_type"`
	TargetID   ids.EntityId `json:"target_id"`
}

// VectorRow is a materialized Vector-field embedding, derived from an
// EntitySchema's Vector fields at write time.
type VectorRow struct {
	EntityID  ids.EntityId `json:"entity_id"`
	FieldPath string       `json:"field_path"`
	Dim       int          `json:"dim"`
	Embedding []float64    `json:"embedding"`
}
