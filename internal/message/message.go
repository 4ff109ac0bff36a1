// Package message defines the version-1 wire protocol the sync engine
// constructs and the orchestrator transports: Hello/HelloAck, SyncRequest/
// SyncState, EventBatch/EventAck, Error, and Ping. Each variant is a plain
// Go struct carried inside SyncMessage's Kind-tagged envelope, so the whole
// protocol round-trips through encoding/json without a custom decoder.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/model"
)

// ProtocolVersion is the only version this engine speaks. A Hello carrying
// a different version is rejected by the receiving engine with a HelloAck
// (accepted=false), which the initiator reports as a SyncFailed.
const ProtocolVersion uint32 = 1

// Kind identifies which variant a SyncMessage envelope carries.
type Kind string

const (
	KindHello        Kind = "hello"
	KindHelloAck     Kind = "hello_ack"
	KindSyncRequest  Kind = "sync_request"
	KindSyncState    Kind = "sync_state"
	KindEventBatch   Kind = "event_batch"
	KindEventAck     Kind = "event_ack"
	KindError        Kind = "error"
	KindPing         Kind = "ping"
)

// SyncMessage is the self-describing envelope for every protocol message.
// Only the field matching Kind is populated.
type SyncMessage struct {
	Kind Kind `json:"kind"`

	Hello       *Hello       `json:"hello,omitempty"`
	HelloAck    *HelloAck    `json:"hello_ack,omitempty"`
	SyncRequest *SyncRequest `json:"sync_request,omitempty"`
	SyncState   *SyncState   `json:"sync_state,omitempty"`
	EventBatch  *EventBatch  `json:"event_batch,omitempty"`
	EventAck    *EventAck    `json:"event_ack,omitempty"`
	ErrorMsg    *Error       `json:"error,omitempty"`
	Ping        *uint64      `json:"ping,omitempty"`
}

// Hello is the first message of a sync round, announcing the local peer
// and the entities it wishes to sync.
type Hello struct {
	Version    uint32         `json:"version"`
	PeerID     ids.PeerId     `json:"peer_id"`
	DeviceName string         `json:"device_name"`
	DeviceID   *ids.DeviceId  `json:"device_id,omitempty"`
	EntityIDs  []ids.EntityId `json:"entity_ids"`
}

// HelloAck answers a Hello. Accepted=false carries Reason explaining the
// policy or version-mismatch denial.
type HelloAck struct {
	Version    uint32     `json:"version"`
	PeerID     ids.PeerId `json:"peer_id"`
	DeviceName string     `json:"device_name"`
	Accepted   bool       `json:"accepted"`
	Reason     string     `json:"reason,omitempty"`
}

// SyncRequest carries the entities the sender wants to sync plus the event
// ids it already holds for each, so the receiver can compute a delta
// without a round-trip just to discover what's missing.
type SyncRequest struct {
	EntityIDs     []ids.EntityId                `json:"entity_ids"`
	KnownEventIDs map[ids.EntityId][]ids.EventId `json:"known_event_ids"`
}

// Clock is a per-entity vector-clock-equivalent summary: here, simply the
// HybridTimestamp of the newest event the sender holds for that entity
// (sufficient for the orchestrator's progress reporting; convergence itself
// is driven by KnownEventIDs, not by this field).
type Clock struct {
	Latest ids.HybridTimestamp `json:"latest"`
}

// SyncState answers a SyncRequest: per allowed entity, a Clock summary plus
// the set of event ids the responder already knows.
type SyncState struct {
	Clocks        map[ids.EntityId]Clock        `json:"clocks"`
	KnownEventIDs map[ids.EntityId][]ids.EventId `json:"known_event_ids"`
}

// EventBatch carries one bounded slice of the delta for a single entity.
// IsFinal marks the last batch in the sequence for that entity.
type EventBatch struct {
	EntityID ids.EntityId  `json:"entity_id"`
	BatchSeq uint32        `json:"batch_seq"`
	IsFinal  bool          `json:"is_final"`
	Events   []model.Event `json:"events"`
}

// EventAck answers one EventBatch. ReceivedCount is how many of the
// batch's events were actually applied (post policy-filtering); Events
// carries up to MaxReverseDeltaEvents events the peer lacks, in the
// opposite direction ("reverse delta").
type EventAck struct {
	EntityID      ids.EntityId  `json:"entity_id"`
	BatchSeq      uint32        `json:"batch_seq"`
	ReceivedCount uint32        `json:"received_count"`
	Events        []model.Event `json:"events"`
}

// Error is a protocol-level error response.
type Error struct {
	Code    uint32 `json:"code"`
	Message string `json:"message"`
}

// MaxEventsPerBatch bounds a forward EventBatch's event count; a delta
// larger than this is split across several batches with only the last
// marked final.
const MaxEventsPerBatch = 256

// MaxReverseDeltaEvents bounds the reverse-delta slice attached to an
// EventAck. Anything beyond it is picked up by the next sync round.
const MaxReverseDeltaEvents = 256

func NewHello(peer ids.PeerId, deviceName string, deviceID *ids.DeviceId, entities []ids.EntityId) SyncMessage {
	return SyncMessage{Kind: KindHello, Hello: &Hello{
		Version: ProtocolVersion, PeerID: peer, DeviceName: deviceName, DeviceID: deviceID, EntityIDs: entities,
	}}
}

func NewHelloAck(peer ids.PeerId, deviceName string, accepted bool, reason string) SyncMessage {
	return SyncMessage{Kind: KindHelloAck, HelloAck: &HelloAck{
		Version: ProtocolVersion, PeerID: peer, DeviceName: deviceName, Accepted: accepted, Reason: reason,
	}}
}

func NewSyncRequest(entities []ids.EntityId, known map[ids.EntityId][]ids.EventId) SyncMessage {
	return SyncMessage{Kind: KindSyncRequest, SyncRequest: &SyncRequest{EntityIDs: entities, KnownEventIDs: known}}
}

func NewSyncState(clocks map[ids.EntityId]Clock, known map[ids.EntityId][]ids.EventId) SyncMessage {
	return SyncMessage{Kind: KindSyncState, SyncState: &SyncState{Clocks: clocks, KnownEventIDs: known}}
}

func NewEventBatch(entity ids.EntityId, seq uint32, isFinal bool, events []model.Event) SyncMessage {
	return SyncMessage{Kind: KindEventBatch, EventBatch: &EventBatch{
		EntityID: entity, BatchSeq: seq, IsFinal: isFinal, Events: events,
	}}
}

func NewEventAck(entity ids.EntityId, seq uint32, receivedCount uint32, events []model.Event) SyncMessage {
	return SyncMessage{Kind: KindEventAck, EventAck: &EventAck{
		EntityID: entity, BatchSeq: seq, ReceivedCount: receivedCount, Events: events,
	}}
}

func NewError(code uint32, msg string) SyncMessage {
	return SyncMessage{Kind: KindError, ErrorMsg: &Error{Code: code, Message: msg}}
}

func NewPing(n uint64) SyncMessage {
	return SyncMessage{Kind: KindPing, Ping: &n}
}

// Encode serializes m to bytes for transport.
func (m SyncMessage) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode sync message: %w", err)
	}
	return b, nil
}

// Decode parses a SyncMessage from bytes.
func Decode(b []byte) (SyncMessage, error) {
	var m SyncMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode sync message: %w", err)
	}
	return m, nil
}
