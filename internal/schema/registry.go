// Package schema validates task payloads against per-task-type JSON Schemas.
// Task types with no registered schema pass validation unchanged.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry maps task types to compiled JSON Schemas.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles schemaJSON and binds it to taskType, replacing any
// previous schema for that type.
func (r *Registry) Register(taskType string, schemaJSON json.RawMessage) error {
	if taskType == "" {
		return fmt.Errorf("register schema: empty task type")
	}
	// Use jsonschema.UnmarshalJSON for correct number handling (json.Number).
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return fmt.Errorf("unmarshal schema for %s: %w", taskType, err)
	}
	c := jsonschema.NewCompiler()
	resource := taskType + ".schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return fmt.Errorf("add schema resource for %s: %w", taskType, err)
	}
	compiled, err := c.Compile(resource)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", taskType, err)
	}

	r.mu.Lock()
	r.schemas[taskType] = compiled
	r.mu.Unlock()
	return nil
}

// Has reports whether taskType has a registered schema.
func (r *Registry) Has(taskType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[taskType]
	return ok
}

// Types returns the registered task types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		out = append(out, t)
	}
	return out
}

// ValidationError describes a payload that failed its task-type schema.
type ValidationError struct {
	TaskType string
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payload for task type %q: %s", e.TaskType, e.Message)
}

// Validate checks payload against the schema registered for taskType.
// A nil payload validates as an empty JSON object.
func (r *Registry) Validate(taskType string, payload map[string]any) error {
	r.mu.RLock()
	compiled, ok := r.schemas[taskType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	// Round-trip through the library's decoder so numbers validate as
	// json.Number, which the validator requires.
	raw, err := json.Marshal(payload)
	if err != nil {
		return &ValidationError{TaskType: taskType, Message: fmt.Sprintf("marshal payload: %s", err)}
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return &ValidationError{TaskType: taskType, Message: fmt.Sprintf("invalid JSON: %s", err)}
	}
	if err := compiled.Validate(doc); err != nil {
		return &ValidationError{TaskType: taskType, Message: err.Error()}
	}
	return nil
}
