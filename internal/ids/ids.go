// Package ids defines the opaque identifiers and the hybrid logical clock
// that order events across the replica.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// PeerId identifies a node. Stable for the lifetime of the node.
type PeerId uuid.UUID

// NewPeerId generates a fresh random peer identity.
func NewPeerId() PeerId { return PeerId(uuid.New()) }

// ParsePeerId parses a peer id from its string form.
func ParsePeerId(s string) (PeerId, error) {
	u, err := uuid.Parse(s)
	return PeerId(u), err
}

func (p PeerId) String() string { return uuid.UUID(p).String() }

// MarshalText/UnmarshalText make the id usable both as a JSON value and as
// a JSON map key (encoding/json requires TextMarshaler for non-string keys;
// the wire protocol's known_event_ids maps rely on this).
func (p PeerId) MarshalText() ([]byte, error) { return []byte(p.String()), nil }
func (p *PeerId) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*p = PeerId(u)
	return nil
}

// EntityId identifies a logical entity. Immutable once created.
type EntityId uuid.UUID

func NewEntityId() EntityId { return EntityId(uuid.New()) }

func ParseEntityId(s string) (EntityId, error) {
	u, err := uuid.Parse(s)
	return EntityId(u), err
}

func (e EntityId) String() string { return uuid.UUID(e).String() }
func (e EntityId) MarshalText() ([]byte, error) { return []byte(e.String()), nil }
func (e *EntityId) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*e = EntityId(u)
	return nil
}

// EventId identifies a single event, globally unique. Events sharing an id
// are equal.
type EventId uuid.UUID

func NewEventId() EventId { return EventId(uuid.New()) }

func ParseEventId(s string) (EventId, error) {
	u, err := uuid.Parse(s)
	return EventId(u), err
}

func (e EventId) String() string { return uuid.UUID(e).String() }
func (e EventId) MarshalText() ([]byte, error) { return []byte(e.String()), nil }
func (e *EventId) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*e = EventId(u)
	return nil
}

// DeviceId identifies a single device registered for a peer under the
// enterprise device-limit policy.
type DeviceId uuid.UUID

func NewDeviceId() DeviceId { return DeviceId(uuid.New()) }

func ParseDeviceId(s string) (DeviceId, error) {
	u, err := uuid.Parse(s)
	return DeviceId(u), err
}

func (d DeviceId) String() string { return uuid.UUID(d).String() }
func (d DeviceId) MarshalText() ([]byte, error) { return []byte(d.String()), nil }
func (d *DeviceId) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*d = DeviceId(u)
	return nil
}

// TeamId identifies a named group of peers under the enterprise ACL.
type TeamId uuid.UUID

func NewTeamId() TeamId { return TeamId(uuid.New()) }

func ParseTeamId(s string) (TeamId, error) {
	u, err := uuid.Parse(s)
	return TeamId(u), err
}

func (t TeamId) String() string { return uuid.UUID(t).String() }
func (t TeamId) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
func (t *TeamId) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*t = TeamId(u)
	return nil
}

// HybridTimestamp is a hybrid logical clock entry: wall-clock milliseconds,
// a logical tie-break counter, and the originating peer. Totally ordered;
// monotonic per peer.
type HybridTimestamp struct {
	WallTime uint64 `json:"wall_time"` // unix millis
	Counter  uint32 `json:"counter"`
	Peer     PeerId `json:"peer"`
}

// Compare returns -1, 0, or 1 as ts is less than, equal to, or greater than
// other. Ties break on logical counter, then on peer id bytes — an HLC
// should never produce two distinct timestamps with equal wall-time and
// counter from different peers, but the tie-break keeps the ordering total
// even if it does.
func (ts HybridTimestamp) Compare(other HybridTimestamp) int {
	if ts.WallTime != other.WallTime {
		if ts.WallTime < other.WallTime {
			return -1
		}
		return 1
	}
	if ts.Counter != other.Counter {
		if ts.Counter < other.Counter {
			return -1
		}
		return 1
	}
	a, b := ts.Peer.String(), other.Peer.String()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// After reports whether ts happened strictly after other.
func (ts HybridTimestamp) After(other HybridTimestamp) bool {
	return ts.Compare(other) > 0
}

func (ts HybridTimestamp) String() string {
	return fmt.Sprintf("%d.%d@%s", ts.WallTime, ts.Counter, ts.Peer.String()[:8])
}
