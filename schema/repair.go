package schema

import (
	"github.com/dispatchfabric/fabric/core"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Repair opportunistically patches an inbound payload so it has a better
// chance of passing Validate: missing required fields are filled with their
// type's zero value. It never touches fields already present, and it does
// not coerce a present field whose type does not match the schema.
//
// Per SPEC_FULL.md §4.1 stage 2 and the Open Question resolution in
// DESIGN.md, Repair applies only to inbound payloads ahead of stage-2
// validation — the dispatch engine never calls it on stage-6 handler
// outputs, preserving Zero-Trust Re-entry's guarantee that a handler cannot
// have its malformed output silently rewritten into something valid.
func Repair(payload []byte, schemaRef core.SchemaRef) ([]byte, error) {
	s, err := asSchema(schemaRef)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(payload) {
		return nil, core.NewError(core.SchemaViolation, "payload is not valid JSON")
	}

	out := append([]byte(nil), payload...)
	parsed := gjson.ParseBytes(out)

	for _, name := range s.Required {
		if parsed.Get(name).Exists() {
			continue
		}
		prop := s.Properties[name]
		out, err = sjson.SetBytes(out, name, zeroValue(prop.Type))
		if err != nil {
			return nil, err
		}
		parsed = gjson.ParseBytes(out)
	}

	return out, nil
}

func zeroValue(t string) any {
	switch t {
	case "string":
		return ""
	case "integer", "number":
		return 0
	case "boolean":
		return false
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return nil
	}
}
