// Package tools holds the callable tools the reasoning step may invoke:
// descriptors with JSON Schemas, a registry, permission-checked invocation
// and a timeout-bounded executor.
package tools

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// Permission describes a capability a tool requires, such as network:outbound.
type Permission struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Descriptor declares the static interface of a tool. InputSchema and
// OutputSchema are JSON Schemas (draft 2020-12); an empty schema skips
// validation.
type Descriptor struct {
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	InputSchema  []byte       `json:"input_schema,omitempty"`
	OutputSchema []byte       `json:"output_schema,omitempty"`
	Permissions  []Permission `json:"permissions,omitempty"`
}

// Tool is a callable unit with schema-validated inputs and outputs.
type Tool interface {
	Describe() Descriptor
	// Invoke runs the tool. args conform to InputSchema and the result must
	// conform to OutputSchema.
	Invoke(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Object builds an object schema from property schemas.
func Object(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

// SchemaBytes marshals a schema for a Descriptor. It panics on failure,
// which only happens for programmer error in a static schema.
func SchemaBytes(s *jsonschema.Schema) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return b
}
