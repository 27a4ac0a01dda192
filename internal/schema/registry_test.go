package schema

import (
	"encoding/json"
	"errors"
	"testing"
)

const reviewSchema = `{
	"type": "object",
	"required": ["repo"],
	"properties": {
		"repo": {"type": "string", "minLength": 1},
		"depth": {"type": "integer", "minimum": 1}
	}
}`

func TestValidatePassesMatchingPayload(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("code_review", json.RawMessage(reviewSchema)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := reg.Validate("code_review", map[string]any{"repo": "taskhive", "depth": 3})
	if err != nil {
		t.Fatalf("Validate = %v, want nil", err)
	}
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("code_review", json.RawMessage(reviewSchema)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := reg.Validate("code_review", map[string]any{"depth": 3})
	if err == nil {
		t.Fatal("Validate = nil, want validation error")
	}
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if valErr.TaskType != "code_review" {
		t.Fatalf("TaskType = %q, want code_review", valErr.TaskType)
	}
}

func TestValidateSkipsUnregisteredType(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Validate("unknown_type", map[string]any{"anything": true}); err != nil {
		t.Fatalf("Validate for unregistered type = %v, want nil", err)
	}
}

func TestRegisterRejectsBadSchema(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("bad", json.RawMessage(`{"type": 42}`)); err == nil {
		t.Fatal("Register = nil, want compile error")
	}
	if reg.Has("bad") {
		t.Fatal("Has(bad) = true after failed Register")
	}
}

func TestRegisterRejectsEmptyType(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("", json.RawMessage(`{}`)); err == nil {
		t.Fatal("Register with empty type = nil, want error")
	}
}
