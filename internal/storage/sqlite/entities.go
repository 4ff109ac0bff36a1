package sqlite

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/amaydixit11/syncd/internal/encryptor"
	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/model"
	"github.com/amaydixit11/syncd/internal/storage"
	"github.com/amaydixit11/syncd/pkg/crypto"
	_ "github.com/mattn/go-sqlite3"
)

// EntityStore implements storage.EntityStore using SQLite.
type EntityStore struct {
	db        *sql.DB
	encryptor encryptor.DataEncryptor
}

// NewEntityStore opens or creates an entity store at path ("file:memdb?mode=memory&cache=shared"
// or ":memory:" for ephemeral use). Writes fall through to plaintext JSON
// until an encryptor is attached via SetEncryptor.
func NewEntityStore(path string) (*EntityStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open entity store: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and an in-memory
	// database only exists on the connection that created it.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(entitySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init entity schema: %w", err)
	}
	return &EntityStore{db: db, encryptor: encryptor.Passthrough{}}, nil
}

// SetEncryptor swaps the active data encryptor, e.g. once the vault unlocks.
func (s *EntityStore) SetEncryptor(e encryptor.DataEncryptor) {
	s.encryptor = e
}

func (s *EntityStore) encryptDataJSON(entityID ids.EntityId, jsonBytes []byte) (string, error) {
	if !s.encryptor.IsAvailable() {
		return string(jsonBytes), nil
	}
	ciphertext, err := s.encryptor.EncryptBytes(entityID, jsonBytes)
	if err != nil {
		return "", fmt.Errorf("encrypt data_json: %w", err)
	}
	if bytes.Equal(ciphertext, jsonBytes) {
		// Passthrough encryptor: store plaintext so the read fast path (and
		// migrate_unencrypted) keep seeing JSON.
		return string(jsonBytes), nil
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptDataJSON tries a direct JSON parse first (plaintext/legacy rows),
// then falls back to treating raw as base64-wrapped ciphertext.
func (s *EntityStore) decryptDataJSON(raw string) (json.RawMessage, error) {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw), nil
	}
	ciphertext, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode data_json: %w", err)
	}
	plaintext, err := s.encryptor.DecryptBytes(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt data_json: %w", err)
	}
	if !json.Valid(plaintext) {
		return nil, fmt.Errorf("decrypted data_json is not valid JSON")
	}
	return json.RawMessage(plaintext), nil
}

// SaveEntity upserts entity, extracting Text/Tag fields into indexed
// columns and replacing entity_links/entity_vectors rows derived from the
// schema's Relation and Vector fields.
func (s *EntityStore) SaveEntity(entity model.Entity, schema model.EntitySchema) error {
	var data interface{}
	if err := json.Unmarshal(entity.Data, &data); err != nil {
		return fmt.Errorf("save entity: invalid data json: %w", err)
	}

	title := extractField(data, schema.IndexedFields, model.FieldText, "/title")
	body := extractField(data, schema.IndexedFields, model.FieldText, "/body")
	tags := extractTags(data, schema.IndexedFields)

	searchText := strings.TrimSpace(strings.Join(append([]string{title, body}, tags...), " "))

	dataJSON, err := s.encryptDataJSON(entity.ID, entity.Data)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save entity: begin tx: %w", err)
	}
	defer tx.Rollback()

	tagsJSON, _ := json.Marshal(tags)

	_, err = tx.Exec(`
		INSERT INTO entities (id, entity_type, data_json, title, body, tags, is_trashed, created_at, modified_at, created_by, search_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entity_type = excluded.entity_type,
			data_json = excluded.data_json,
			title = excluded.title,
			body = excluded.body,
			tags = excluded.tags,
			is_trashed = excluded.is_trashed,
			modified_at = excluded.modified_at,
			search_text = excluded.search_text
	`, entity.ID.String(), entity.EntityType, dataJSON, nullableString(title), nullableString(body),
		string(tagsJSON), boolToInt(entity.IsTrashed), entity.CreatedAt, entity.ModifiedAt,
		entity.CreatedBy.String(), searchText)
	if err != nil {
		return fmt.Errorf("save entity: upsert: %w", err)
	}

	if err := replaceRelations(tx, entity, schema.IndexedFields); err != nil {
		return err
	}
	if err := replaceVectors(tx, entity, schema.IndexedFields); err != nil {
		return err
	}

	return tx.Commit()
}

// SaveEntityRaw upserts entity without schema-driven field extraction; the
// indexed columns and auxiliary tables are left untouched.
func (s *EntityStore) SaveEntityRaw(entity model.Entity) error {
	dataJSON, err := s.encryptDataJSON(entity.ID, entity.Data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO entities (id, entity_type, data_json, is_trashed, created_at, modified_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entity_type = excluded.entity_type,
			data_json = excluded.data_json,
			is_trashed = excluded.is_trashed,
			modified_at = excluded.modified_at
	`, entity.ID.String(), entity.EntityType, dataJSON, boolToInt(entity.IsTrashed),
		entity.CreatedAt, entity.ModifiedAt, entity.CreatedBy.String())
	if err != nil {
		return fmt.Errorf("save entity raw: %w", err)
	}
	return nil
}

// GetEntity returns the entity by id, decrypting data_json and patching
// is_trashed from the authoritative column, or nil if no such row exists.
func (s *EntityStore) GetEntity(id ids.EntityId) (*model.Entity, error) {
	var idStr, entityType, dataJSON, createdBy string
	var isTrashed int
	var createdAt, modifiedAt uint64

	err := s.db.QueryRow(`
		SELECT id, entity_type, data_json, is_trashed, created_at, modified_at, created_by
		FROM entities WHERE id = ?
	`, id.String()).Scan(&idStr, &entityType, &dataJSON, &isTrashed, &createdAt, &modifiedAt, &createdBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}

	decrypted, err := s.decryptDataJSON(dataJSON)
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	decrypted = patchIsTrashed(decrypted, isTrashed != 0)

	createdByPeer, err := ids.ParsePeerId(createdBy)
	if err != nil {
		return nil, fmt.Errorf("get entity: parse created_by: %w", err)
	}

	return &model.Entity{
		ID:         id,
		EntityType: entityType,
		Data:       decrypted,
		CreatedAt:  createdAt,
		ModifiedAt: modifiedAt,
		CreatedBy:  createdByPeer,
		IsTrashed:  isTrashed != 0,
	}, nil
}

// ListEntities returns entities of entityType ordered by modified_at DESC.
// limit/offset of 0 mean "unbounded"/"no offset".
func (s *EntityStore) ListEntities(entityType string, includeTrashed bool, limit, offset int) ([]model.Entity, error) {
	query := `SELECT id, entity_type, data_json, is_trashed, created_at, modified_at, created_by FROM entities WHERE entity_type = ?`
	args := []interface{}{entityType}
	if !includeTrashed {
		query += " AND is_trashed = 0"
	}
	query += " ORDER BY modified_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	return s.scanEntities(query, args...)
}

// ListAllEntities returns entities of every type, ordered by modified_at
// DESC. Used by the orchestrator's startup preload, which needs every
// discoverable entity regardless of its plugin-registered type.
func (s *EntityStore) ListAllEntities(includeTrashed bool) ([]model.Entity, error) {
	query := `SELECT id, entity_type, data_json, is_trashed, created_at, modified_at, created_by FROM entities`
	if !includeTrashed {
		query += " WHERE is_trashed = 0"
	}
	query += " ORDER BY modified_at DESC"
	return s.scanEntities(query)
}

func (s *EntityStore) scanEntities(query string, args ...interface{}) ([]model.Entity, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var idStr, entityType, dataJSON, createdBy string
		var isTrashed int
		var createdAt, modifiedAt uint64

		if err := rows.Scan(&idStr, &entityType, &dataJSON, &isTrashed, &createdAt, &modifiedAt, &createdBy); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		id, err := ids.ParseEntityId(idStr)
		if err != nil {
			return nil, fmt.Errorf("scan entity: parse id: %w", err)
		}
		decrypted, err := s.decryptDataJSON(dataJSON)
		if err != nil {
			continue // corrupt/undecryptable row: skip rather than fail the whole list
		}
		decrypted = patchIsTrashed(decrypted, isTrashed != 0)
		createdByPeer, err := ids.ParsePeerId(createdBy)
		if err != nil {
			return nil, fmt.Errorf("scan entity: parse created_by: %w", err)
		}

		out = append(out, model.Entity{
			ID:         id,
			EntityType: entityType,
			Data:       decrypted,
			CreatedAt:  createdAt,
			ModifiedAt: modifiedAt,
			CreatedBy:  createdByPeer,
			IsTrashed:  isTrashed != 0,
		})
	}
	return out, rows.Err()
}

// DeleteEntity hard-deletes id, cascading to links, vectors, and ledger rows.
func (s *EntityStore) DeleteEntity(id ids.EntityId) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete entity: begin tx: %w", err)
	}
	defer tx.Rollback()

	idStr := id.String()
	if _, err := tx.Exec(`DELETE FROM entity_links WHERE source_id = ? OR target_id = ?`, idStr, idStr); err != nil {
		return fmt.Errorf("delete entity: links: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM entity_vectors WHERE entity_id = ?`, idStr); err != nil {
		return fmt.Errorf("delete entity: vectors: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sync_ledger WHERE entity_id = ?`, idStr); err != nil {
		return fmt.Errorf("delete entity: ledger: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM entities WHERE id = ?`, idStr); err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	return tx.Commit()
}

func (s *EntityStore) setTrashed(id ids.EntityId, trashed bool) error {
	result, err := s.db.Exec(`UPDATE entities SET is_trashed = ? WHERE id = ?`, boolToInt(trashed), id.String())
	if err != nil {
		return fmt.Errorf("set trashed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set trashed: rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound{ID: id}
	}
	return nil
}

func (s *EntityStore) TrashEntity(id ids.EntityId) error   { return s.setTrashed(id, true) }
func (s *EntityStore) RestoreEntity(id ids.EntityId) error { return s.setTrashed(id, false) }

// QueryEntities fetches all rows of entityType and applies filters against
// the decrypted JSON in memory, since ciphertext is opaque to the query
// engine.
func (s *EntityStore) QueryEntities(entityType string, filters []storage.QueryFilter, includeTrashed bool, limit int) ([]model.Entity, error) {
	if len(filters) == 0 {
		return s.ListEntities(entityType, includeTrashed, limit, 0)
	}

	all, err := s.ListEntities(entityType, includeTrashed, 0, 0)
	if err != nil {
		return nil, err
	}

	var out []model.Entity
	for _, e := range all {
		var data interface{}
		if err := json.Unmarshal(e.Data, &data); err != nil {
			continue
		}
		if matchesAllFilters(data, filters) {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Search performs a case-insensitive LIKE scan against the plaintext
// search_text and title columns. Ciphertext never participates in the
// query: data_json is decrypted only for the matched rows returned.
func (s *EntityStore) Search(query string, entityTypes []string, limit int) ([]model.Entity, error) {
	sqlQuery := `SELECT id, entity_type, data_json, is_trashed, created_at, modified_at, created_by
		FROM entities WHERE is_trashed = 0 AND (LOWER(search_text) LIKE LOWER(?) OR LOWER(title) LIKE LOWER(?))`
	pattern := "%" + query + "%"
	args := []interface{}{pattern, pattern}

	if len(entityTypes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(entityTypes)), ",")
		sqlQuery += fmt.Sprintf(" AND entity_type IN (%s)", placeholders)
		for _, t := range entityTypes {
			args = append(args, t)
		}
	}

	sqlQuery += " ORDER BY modified_at DESC"
	if limit <= 0 {
		limit = 50
	}
	sqlQuery += " LIMIT ?"
	args = append(args, limit)

	return s.scanEntities(sqlQuery, args...)
}

// EntitiesNeedingSync returns ids with no ledger row for peer, or a
// modified_at newer than the last synced_at_ms, ordered by modified_at ASC.
func (s *EntityStore) EntitiesNeedingSync(peer ids.PeerId) ([]ids.EntityId, error) {
	rows, err := s.db.Query(`
		SELECT e.id FROM entities e
		LEFT JOIN sync_ledger l ON l.entity_id = e.id AND l.peer_id = ?
		WHERE l.entity_id IS NULL OR e.modified_at > l.synced_at_ms
		ORDER BY e.modified_at ASC
	`, peer.String())
	if err != nil {
		return nil, fmt.Errorf("entities needing sync: %w", err)
	}
	defer rows.Close()

	var out []ids.EntityId
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, fmt.Errorf("entities needing sync: scan: %w", err)
		}
		id, err := ids.ParseEntityId(idStr)
		if err != nil {
			return nil, fmt.Errorf("entities needing sync: parse: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MarkEntitiesSynced bulk-upserts sync ledger rows recording that entityIDs
// were exchanged with peer as of nowMs.
func (s *EntityStore) MarkEntitiesSynced(peer ids.PeerId, entityIDs []ids.EntityId, nowMs uint64) error {
	if len(entityIDs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("mark entities synced: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, id := range entityIDs {
		_, err := tx.Exec(`
			INSERT INTO sync_ledger (peer_id, entity_id, synced_at_ms) VALUES (?, ?, ?)
			ON CONFLICT(peer_id, entity_id) DO UPDATE SET synced_at_ms = excluded.synced_at_ms
		`, peer.String(), id.String(), nowMs)
		if err != nil {
			return fmt.Errorf("mark entities synced: %w", err)
		}
	}
	return tx.Commit()
}

func (s *EntityStore) InvalidateSyncLedgerForEntity(id ids.EntityId) error {
	_, err := s.db.Exec(`DELETE FROM sync_ledger WHERE entity_id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("invalidate sync ledger: %w", err)
	}
	return nil
}

func (s *EntityStore) ClearSyncLedgerForPeer(peer ids.PeerId) error {
	_, err := s.db.Exec(`DELETE FROM sync_ledger WHERE peer_id = ?`, peer.String())
	if err != nil {
		return fmt.Errorf("clear sync ledger for peer: %w", err)
	}
	return nil
}

// MigrateUnencrypted scans all rows and re-encrypts any whose data_json
// parses as plaintext JSON. Idempotent: already-encrypted rows are skipped.
func (s *EntityStore) MigrateUnencrypted() (int, error) {
	if !s.encryptor.IsAvailable() {
		return 0, fmt.Errorf("migrate unencrypted: encryptor unavailable")
	}

	rows, err := s.db.Query(`SELECT id, data_json FROM entities`)
	if err != nil {
		return 0, fmt.Errorf("migrate unencrypted: %w", err)
	}
	type row struct{ id, raw string }
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.raw); err != nil {
			rows.Close()
			return 0, fmt.Errorf("migrate unencrypted: scan: %w", err)
		}
		all = append(all, r)
	}
	rows.Close()

	migrated := 0
	for _, r := range all {
		if !json.Valid([]byte(r.raw)) {
			continue
		}
		entityID, err := ids.ParseEntityId(r.id)
		if err != nil {
			continue
		}
		encoded, err := s.encryptDataJSON(entityID, []byte(r.raw))
		if err != nil {
			return migrated, fmt.Errorf("migrate unencrypted: %w", err)
		}
		if encoded == r.raw {
			continue
		}
		if _, err := s.db.Exec(`UPDATE entities SET data_json = ? WHERE id = ?`, encoded, r.id); err != nil {
			return migrated, fmt.Errorf("migrate unencrypted: update: %w", err)
		}
		migrated++
	}
	return migrated, nil
}

// ReencryptAll re-wraps every ciphertext row through encryptor.ReencryptBytes
// after a key rotation. Rows that still look like plaintext JSON are left
// untouched: they haven't been encrypted yet.
func (s *EntityStore) ReencryptAll(oldKey, newKey crypto.Key) (int, error) {
	rows, err := s.db.Query(`SELECT id, data_json FROM entities`)
	if err != nil {
		return 0, fmt.Errorf("re-encrypt all: %w", err)
	}
	type row struct{ id, raw string }
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.raw); err != nil {
			rows.Close()
			return 0, fmt.Errorf("re-encrypt all: scan: %w", err)
		}
		all = append(all, r)
	}
	rows.Close()

	count := 0
	for _, r := range all {
		if json.Valid([]byte(r.raw)) {
			continue
		}
		ciphertext, err := base64.StdEncoding.DecodeString(r.raw)
		if err != nil {
			return count, fmt.Errorf("re-encrypt all: decode: %w", err)
		}
		rewrapped, err := s.encryptor.ReencryptBytes(ciphertext, oldKey, newKey)
		if err != nil {
			return count, fmt.Errorf("re-encrypt all: %w", err)
		}
		encoded := base64.StdEncoding.EncodeToString(rewrapped)
		if _, err := s.db.Exec(`UPDATE entities SET data_json = ? WHERE id = ?`, encoded, r.id); err != nil {
			return count, fmt.Errorf("re-encrypt all: update: %w", err)
		}
		count++
	}
	return count, nil
}

// RunMaintenance purges orphaned auxiliary rows, clears transient tables,
// and checkpoints the write-ahead log (a no-op outside WAL mode). Never
// touches entities themselves.
func (s *EntityStore) RunMaintenance() error {
	stmts := []string{
		`DELETE FROM entity_vectors WHERE entity_id NOT IN (SELECT id FROM entities)`,
		`DELETE FROM sync_ledger WHERE entity_id NOT IN (SELECT id FROM entities)`,
		`DELETE FROM entity_links WHERE source_id NOT IN (SELECT id FROM entities) OR target_id NOT IN (SELECT id FROM entities)`,
		`DELETE FROM cloud_sync_cursors`,
		`DELETE FROM plugin_fuel_history`,
		`PRAGMA wal_checkpoint(TRUNCATE)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("run maintenance: %w", err)
		}
	}
	return nil
}

// FindOrphanEntities groups entities by (created_by, entity_type) and
// reports groups absent from validTypes.
func (s *EntityStore) FindOrphanEntities(validTypes [][2]string) ([]storage.OrphanSummary, error) {
	rows, err := s.db.Query(`SELECT created_by, entity_type, COUNT(*) FROM entities GROUP BY created_by, entity_type`)
	if err != nil {
		return nil, fmt.Errorf("find orphan entities: %w", err)
	}
	defer rows.Close()

	known := make(map[[2]string]bool, len(validTypes))
	for _, vt := range validTypes {
		known[vt] = true
	}

	var out []storage.OrphanSummary
	for rows.Next() {
		var createdBy, entityType string
		var count int
		if err := rows.Scan(&createdBy, &entityType, &count); err != nil {
			return nil, fmt.Errorf("find orphan entities: scan: %w", err)
		}
		if !known[[2]string{createdBy, entityType}] {
			out = append(out, storage.OrphanSummary{CreatedBy: createdBy, EntityType: entityType, Count: count})
		}
	}
	return out, rows.Err()
}

// DeleteOrphanEntities deletes every entity whose (created_by, entity_type)
// is absent from validTypes, cascading to auxiliary tables. An empty
// validTypes deletes nothing and returns 0.
func (s *EntityStore) DeleteOrphanEntities(validTypes [][2]string) (int, error) {
	if len(validTypes) == 0 {
		return 0, nil
	}

	var conditions []string
	var args []interface{}
	for _, vt := range validTypes {
		conditions = append(conditions, "(created_by = ? AND entity_type = ?)")
		args = append(args, vt[0], vt[1])
	}
	query := fmt.Sprintf(`SELECT id FROM entities WHERE NOT (%s)`, strings.Join(conditions, " OR "))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete orphan entities: %w", err)
	}
	var orphanIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("delete orphan entities: scan: %w", err)
		}
		orphanIDs = append(orphanIDs, id)
	}
	rows.Close()
	if len(orphanIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("delete orphan entities: begin tx: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(orphanIDs)), ",")
	idArgs := make([]interface{}, len(orphanIDs))
	for i, id := range orphanIDs {
		idArgs[i] = id
	}
	for _, table := range []string{"entity_vectors", "sync_ledger"} {
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE entity_id IN (%s)`, table, placeholders), idArgs...); err != nil {
			return 0, fmt.Errorf("delete orphan entities: %s: %w", table, err)
		}
	}
	linkArgs := append(append([]interface{}{}, idArgs...), idArgs...)
	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM entity_links WHERE source_id IN (%s) OR target_id IN (%s)`, placeholders, placeholders), linkArgs...); err != nil {
		return 0, fmt.Errorf("delete orphan entities: links: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM entities WHERE id IN (%s)`, placeholders), idArgs...); err != nil {
		return 0, fmt.Errorf("delete orphan entities: %w", err)
	}

	return len(orphanIDs), tx.Commit()
}

func (s *EntityStore) SaveCloudCursor(key string, value int64) error {
	_, err := s.db.Exec(`
		INSERT INTO cloud_sync_cursors (cursor_key, cursor_value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(cursor_key) DO UPDATE SET cursor_value = excluded.cursor_value, updated_at = excluded.updated_at
	`, key, value, value)
	if err != nil {
		return fmt.Errorf("save cloud cursor: %w", err)
	}
	return nil
}

func (s *EntityStore) LoadCloudCursors() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT cursor_key, cursor_value FROM cloud_sync_cursors`)
	if err != nil {
		return nil, fmt.Errorf("load cloud cursors: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var value int64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("load cloud cursors: scan: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

func (s *EntityStore) ClearCloudCursors() error {
	_, err := s.db.Exec(`DELETE FROM cloud_sync_cursors`)
	if err != nil {
		return fmt.Errorf("clear cloud cursors: %w", err)
	}
	return nil
}

func (s *EntityStore) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
