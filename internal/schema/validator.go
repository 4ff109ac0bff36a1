// Package schema provides optional JSON Schema content validation layered
// on top of a registered model.EntitySchema. Registration of the indexed
// fields an entity type extracts is a plugin-driven concern; this package
// is the thin, separate gojsonschema-backed validator a registrant can
// additionally attach per entity type.
package schema

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError reports one failed JSON Schema constraint.
type ValidationError struct {
	Field       string `json:"field"`
	Description string `json:"description"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Description)
}

// ValidationResult is the outcome of validating one document.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Registry holds compiled JSON Schemas keyed by entity type. An entity type
// with no registered validator always validates.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty validator registry.
func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]*gojsonschema.Schema)}
}

// Register compiles definition as a JSON Schema document and attaches it to
// entityType, replacing any existing validator for that type.
func (r *Registry) Register(entityType string, definition []byte) error {
	loader := gojsonschema.NewBytesLoader(definition)
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", entityType, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[entityType] = compiled
	return nil
}

// Unregister removes entityType's validator, if any.
func (r *Registry) Unregister(entityType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.validators, entityType)
}

// HasValidator reports whether entityType carries a registered schema.
func (r *Registry) HasValidator(entityType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.validators[entityType]
	return ok
}

// Validate checks content (a JSON document) against entityType's registered
// schema. An entity type with no registered schema always passes.
func (r *Registry) Validate(entityType string, content []byte) ValidationResult {
	r.mu.RLock()
	compiled, ok := r.validators[entityType]
	r.mu.RUnlock()
	if !ok {
		return ValidationResult{Valid: true}
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(content))
	if err != nil {
		return ValidationResult{Valid: false, Errors: []ValidationError{
			{Field: "content", Description: fmt.Sprintf("validation error: %v", err)},
		}}
	}
	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	errs := make([]ValidationError, len(result.Errors()))
	for i, e := range result.Errors() {
		errs[i] = ValidationError{Field: e.Field(), Description: e.Description()}
	}
	return ValidationResult{Valid: false, Errors: errs}
}
