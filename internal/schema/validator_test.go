package schema

import "testing"

const noteSchema = `{
	"type": "object",
	"required": ["title"],
	"properties": {
		"title": {"type": "string", "minLength": 1}
	}
}`

func TestValidateUnregisteredTypeAlwaysPasses(t *testing.T) {
	r := NewRegistry()
	result := r.Validate("note", []byte(`{"anything":"goes"}`))
	if !result.Valid {
		t.Fatalf("expected no-op validation for unregistered type, got %+v", result)
	}
}

func TestValidateRegisteredTypeEnforcesSchema(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("note", []byte(noteSchema)); err != nil {
		t.Fatalf("register: %v", err)
	}

	if result := r.Validate("note", []byte(`{"title":"hello"}`)); !result.Valid {
		t.Fatalf("expected valid document to pass, got %+v", result)
	}

	result := r.Validate("note", []byte(`{}`))
	if result.Valid {
		t.Fatal("expected missing required field to fail validation")
	}
	if len(result.Errors) == 0 {
		t.Fatal("expected at least one validation error")
	}
}

func TestUnregisterRemovesValidator(t *testing.T) {
	r := NewRegistry()
	r.Register("note", []byte(noteSchema))
	if !r.HasValidator("note") {
		t.Fatal("expected validator to be registered")
	}

	r.Unregister("note")
	if r.HasValidator("note") {
		t.Fatal("expected validator to be removed")
	}
	if result := r.Validate("note", []byte(`{}`)); !result.Valid {
		t.Fatal("expected unregistered type to pass again")
	}
}
