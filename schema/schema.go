package schema

import (
	"github.com/dispatchfabric/fabric/internal/util"
)

// Schema is a JSON-schema subset: {"type": "object", "properties": {...},
// "required": [...]}. Deliberately narrow, matching what
// internal/util.CreateSchema already produced for the teacher's tool
// parameters — this package widens its audience to handler request and
// response payloads, not its expressiveness.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// PropertySchema describes one field's expected JSON type.
type PropertySchema struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// FromStruct derives a Schema from a Go struct via reflection, reusing
// internal/util.CreateSchema's derivation rather than re-deriving
// map[string]any by hand, and only reshaping its untyped result into this
// package's typed Schema/PropertySchema (needed so Validator.Validate has a
// fixed shape to range over instead of type-asserting a bag of `any`s).
func FromStruct(structType any) Schema {
	raw := util.CreateSchema(structType)

	props := map[string]PropertySchema{}
	if rawProps, ok := raw["properties"].(map[string]any); ok {
		for name, v := range rawProps {
			fieldSchema, ok := v.(map[string]any)
			if !ok {
				continue
			}
			p := PropertySchema{}
			if t, ok := fieldSchema["type"].(string); ok {
				p.Type = t
			}
			if d, ok := fieldSchema["description"].(string); ok {
				p.Description = d
			}
			props[name] = p
		}
	}

	var required []string
	if rawRequired, ok := raw["required"].([]string); ok {
		required = rawRequired
	}

	return Schema{Type: "object", Properties: props, Required: required}
}
