// Package sqlite implements the entity and event stores on top of SQLite:
// the entities table with its indexed columns, the append-only event log,
// and the auxiliary link/vector/ledger/cursor tables.
package sqlite

const entitySchema = `
CREATE TABLE IF NOT EXISTS entities (
	id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	data_json TEXT NOT NULL,
	title TEXT,
	body TEXT,
	tags TEXT,
	is_trashed INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	modified_at INTEGER NOT NULL,
	created_by TEXT NOT NULL,
	search_text TEXT
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_modified ON entities(modified_at DESC);
CREATE INDEX IF NOT EXISTS idx_entities_trashed ON entities(is_trashed);

CREATE TABLE IF NOT EXISTS entity_links (
	source_type TEXT NOT NULL,
	source_id TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id TEXT NOT NULL,
	PRIMARY KEY (source_type, source_id, target_type, target_id)
);

CREATE TABLE IF NOT EXISTS entity_vectors (
	entity_id TEXT NOT NULL,
	field_path TEXT NOT NULL,
	dim INTEGER NOT NULL,
	embedding TEXT NOT NULL,
	PRIMARY KEY (entity_id, field_path)
);

CREATE TABLE IF NOT EXISTS sync_ledger (
	peer_id TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	synced_at_ms INTEGER NOT NULL,
	PRIMARY KEY (peer_id, entity_id)
);

CREATE TABLE IF NOT EXISTS cloud_sync_cursors (
	cursor_key TEXT PRIMARY KEY,
	cursor_value INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS plugin_fuel_history (
	plugin_id TEXT NOT NULL,
	fuel_consumed INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plugin_fuel_plugin_id ON plugin_fuel_history(plugin_id);
`

const eventSchema = `
CREATE TABLE IF NOT EXISTS events (
	event_id TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL,
	peer_id TEXT NOT NULL,
	wall_time INTEGER NOT NULL,
	counter INTEGER NOT NULL,
	payload_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id);
`
