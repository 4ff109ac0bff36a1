package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/model"
	_ "github.com/mattn/go-sqlite3"
)

// EventStore implements storage.EventStore using SQLite. Events are
// append-only: save_event is an INSERT OR IGNORE, so duplicate ids from
// concurrent or repeated delivery are silently accepted.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(path string) (*EventStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(eventSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init event schema: %w", err)
	}
	return &EventStore{db: db}, nil
}

func (s *EventStore) SaveEvent(event model.Event) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("save event: marshal payload: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO events (event_id, entity_id, peer_id, wall_time, counter, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.ID.String(), event.EntityID.String(), event.PeerID.String(),
		event.Timestamp.WallTime, event.Timestamp.Counter, string(payloadJSON))
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

func (s *EventStore) GetEventsForEntity(id ids.EntityId) ([]model.Event, error) {
	rows, err := s.db.Query(`
		SELECT event_id, entity_id, peer_id, wall_time, counter, payload_json
		FROM events WHERE entity_id = ?
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("get events for entity: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var eventID, entityID, peerID, payloadJSON string
		var wallTime uint64
		var counter uint32

		if err := rows.Scan(&eventID, &entityID, &peerID, &wallTime, &counter, &payloadJSON); err != nil {
			return nil, fmt.Errorf("get events for entity: scan: %w", err)
		}

		event, err := decodeEventRow(eventID, entityID, peerID, wallTime, counter, payloadJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

func decodeEventRow(eventID, entityID, peerID string, wallTime uint64, counter uint32, payloadJSON string) (model.Event, error) {
	var event model.Event

	eid, err := ids.ParseEventId(eventID)
	if err != nil {
		return event, fmt.Errorf("decode event: parse event id: %w", err)
	}
	entID, err := ids.ParseEntityId(entityID)
	if err != nil {
		return event, fmt.Errorf("decode event: parse entity id: %w", err)
	}
	pid, err := ids.ParsePeerId(peerID)
	if err != nil {
		return event, fmt.Errorf("decode event: parse peer id: %w", err)
	}
	var payload model.Payload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return event, fmt.Errorf("decode event: unmarshal payload: %w", err)
	}

	event.ID = eid
	event.EntityID = entID
	event.PeerID = pid
	event.Timestamp = ids.HybridTimestamp{WallTime: wallTime, Counter: counter, Peer: pid}
	event.Payload = payload
	return event, nil
}

func (s *EventStore) Close() error { return s.db.Close() }
