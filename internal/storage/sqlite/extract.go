package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/amaydixit11/syncd/internal/model"
	"github.com/amaydixit11/syncd/internal/storage"
)

// extractField looks up preferredPath among indexedFields of targetType
// first, then falls back to the first matching field of that type.
func extractField(data interface{}, indexedFields []model.IndexedField, targetType model.FieldType, preferredPath string) string {
	if v, ok := lookupField(data, indexedFields, targetType, preferredPath); ok {
		return v
	}
	for _, f := range indexedFields {
		if f.FieldType == targetType && f.Path != preferredPath {
			if v, ok := pointerString(data, f.Path); ok {
				return v
			}
		}
	}
	return ""
}

func lookupField(data interface{}, indexedFields []model.IndexedField, targetType model.FieldType, path string) (string, bool) {
	for _, f := range indexedFields {
		if f.Path == path && f.FieldType == targetType {
			return pointerString(data, f.Path)
		}
	}
	return "", false
}

// extractTags collects every string element of every Tag-typed array field.
func extractTags(data interface{}, indexedFields []model.IndexedField) []string {
	var tags []string
	for _, f := range indexedFields {
		if f.FieldType != model.FieldTag {
			continue
		}
		arr, ok := pointerValue(data, f.Path).([]interface{})
		if !ok {
			continue
		}
		for _, item := range arr {
			if s, ok := item.(string); ok {
				tags = append(tags, s)
			}
		}
	}
	return tags
}

// replaceRelations clears and re-derives entity_links rows for entity from
// its schema's Relation fields. A Relation value may be a bare target-id
// string (target type recorded as "_") or an object {type, id}.
func replaceRelations(tx *sql.Tx, entity model.Entity, indexedFields []model.IndexedField) error {
	if _, err := tx.Exec(`DELETE FROM entity_links WHERE source_type = ? AND source_id = ?`,
		entity.EntityType, entity.ID.String()); err != nil {
		return fmt.Errorf("replace relations: clear: %w", err)
	}

	var data interface{}
	if err := json.Unmarshal(entity.Data, &data); err != nil {
		return nil // no valid JSON to extract from; entity still saves
	}

	for _, f := range indexedFields {
		if f.FieldType != model.FieldRelation {
			continue
		}
		val := pointerValue(data, f.Path)
		if val == nil {
			continue
		}
		targetType, targetID, ok := relationTarget(val)
		if !ok {
			continue
		}
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO entity_links (source_type, source_id, target_type, target_id) VALUES (?, ?, ?, ?)
		`, entity.EntityType, entity.ID.String(), targetType, targetID)
		if err != nil {
			return fmt.Errorf("replace relations: insert: %w", err)
		}
	}
	return nil
}

func relationTarget(val interface{}) (targetType, targetID string, ok bool) {
	switch v := val.(type) {
	case string:
		return "_", v, true
	case map[string]interface{}:
		t, tOk := v["type"].(string)
		id, idOk := v["id"].(string)
		if tOk && idOk {
			return t, id, true
		}
	}
	return "", "", false
}

// replaceVectors clears and re-derives entity_vectors rows for entity from
// its schema's Vector fields. An array whose length doesn't match the
// declared dimension, or whose elements aren't all numbers, is skipped
// silently — the entity itself still saves.
func replaceVectors(tx *sql.Tx, entity model.Entity, indexedFields []model.IndexedField) error {
	if _, err := tx.Exec(`DELETE FROM entity_vectors WHERE entity_id = ?`, entity.ID.String()); err != nil {
		return fmt.Errorf("replace vectors: clear: %w", err)
	}

	var data interface{}
	if err := json.Unmarshal(entity.Data, &data); err != nil {
		return nil
	}

	for _, f := range indexedFields {
		if f.FieldType != model.FieldVector {
			continue
		}
		arr, ok := pointerValue(data, f.Path).([]interface{})
		if !ok || len(arr) != f.VectorDim {
			continue
		}
		embedding := make([]float64, len(arr))
		valid := true
		for i, v := range arr {
			n, ok := v.(float64)
			if !ok {
				valid = false
				break
			}
			embedding[i] = n
		}
		if !valid {
			continue
		}
		encoded, err := json.Marshal(embedding)
		if err != nil {
			return fmt.Errorf("replace vectors: marshal: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO entity_vectors (entity_id, field_path, dim, embedding) VALUES (?, ?, ?, ?)
		`, entity.ID.String(), f.Path, f.VectorDim, string(encoded))
		if err != nil {
			return fmt.Errorf("replace vectors: insert: %w", err)
		}
	}
	return nil
}

// patchIsTrashed makes the authoritative is_trashed column win over whatever
// the decrypted document happens to contain: an existing is_trashed key is
// overwritten, and a trashed row gains the key even if the document lacked
// it. Untouched non-trashed documents pass through byte-identical.
func patchIsTrashed(raw json.RawMessage, trashed bool) json.RawMessage {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw // not a JSON object; leave untouched
	}
	existing, ok := obj["is_trashed"]
	if !ok && !trashed {
		return raw
	}
	if b, isBool := existing.(bool); isBool && b == trashed {
		return raw
	}
	obj["is_trashed"] = trashed
	patched, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return patched
}

// matchesAllFilters reports whether data satisfies every filter by equality
// comparison of its JSON-encoded form against the filter's expected value.
func matchesAllFilters(data interface{}, filters []storage.QueryFilter) bool {
	for _, f := range filters {
		actual := pointerValue(data, f.FieldPath)
		if actual == nil || !filterValueEqual(actual, f.Expected) {
			return false
		}
	}
	return true
}

func filterValueEqual(actual, expected interface{}) bool {
	a, err1 := json.Marshal(actual)
	b, err2 := json.Marshal(expected)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(a) == string(b)
}

// pointerPath normalizes a field path into the "/a/b" form expected by
// jsonPointer, accepting both "/a/b" and bare "a" spellings.
func pointerPath(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

// pointerValue resolves a JSON-pointer-ish path against a decoded JSON
// value (map[string]interface{} / []interface{} / scalars).
func pointerValue(data interface{}, path string) interface{} {
	segments := strings.Split(strings.Trim(pointerPath(path), "/"), "/")
	cur := data
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		switch v := cur.(type) {
		case map[string]interface{}:
			next, ok := v[seg]
			if !ok {
				return nil
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			cur = v[idx]
		default:
			return nil
		}
	}
	return cur
}

func pointerString(data interface{}, path string) (string, bool) {
	v := pointerValue(data, path)
	if v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(encoded), true
}
