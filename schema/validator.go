package schema

import (
	"sort"

	"github.com/dispatchfabric/fabric/core"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Validator implements core.SchemaValidator against raw JSON payload bytes.
// It is stateless; callers own schema lifetime (typically bound once per
// core.HandlerRegistration at startup).
type Validator struct{}

var _ core.SchemaValidator = Validator{}

func asSchema(ref core.SchemaRef) (Schema, error) {
	switch s := ref.(type) {
	case Schema:
		return s, nil
	case *Schema:
		return *s, nil
	default:
		return Schema{}, core.NewError(core.SchemaViolation, "schema ref is not a schema.Schema (%T)", ref)
	}
}

// Validate checks that payload, parsed as JSON, satisfies schemaRef: every
// required field present, every declared field's JSON type matching. Extra
// fields not named in the schema are allowed, matching
// internal/util/schema.go's ValidateParameters behavior.
func (Validator) Validate(schemaRef core.SchemaRef, payload []byte) error {
	s, err := asSchema(schemaRef)
	if err != nil {
		return err
	}
	if !gjson.ValidBytes(payload) {
		return core.NewError(core.SchemaViolation, "payload is not valid JSON")
	}

	parsed := gjson.ParseBytes(payload)

	for _, name := range s.Required {
		if !parsed.Get(name).Exists() {
			return core.NewError(core.SchemaViolation, "required field %q is missing", name).WithPath(name)
		}
	}

	for name, prop := range s.Properties {
		field := parsed.Get(name)
		if !field.Exists() {
			continue
		}
		if !matchesType(field, prop.Type) {
			return core.NewError(core.SchemaViolation,
				"field %q expected type %s, got %s", name, prop.Type, field.Type.String()).WithPath(name)
		}
	}

	return nil
}

func matchesType(v gjson.Result, expected string) bool {
	if v.Type == gjson.Null {
		return true
	}
	switch expected {
	case "string":
		return v.Type == gjson.String
	case "integer":
		return v.Type == gjson.Number && v.Num == float64(int64(v.Num))
	case "number":
		return v.Type == gjson.Number
	case "boolean":
		return v.Type == gjson.True || v.Type == gjson.False
	case "array":
		return v.IsArray()
	case "object":
		return v.IsObject()
	default:
		return true
	}
}

// Canonicalize rewrites payload with its top-level object keys in sorted
// order, so two byte-distinct-but-semantically-equal payloads (differing
// only in key order) become byte-identical. The dispatch engine's journal
// payload_hash is computed over the raw payload bytes and does not call
// it. Non-object payloads are returned unchanged.
func Canonicalize(payload []byte) ([]byte, error) {
	if !gjson.ValidBytes(payload) {
		return nil, core.NewError(core.SchemaViolation, "payload is not valid JSON")
	}
	parsed := gjson.ParseBytes(payload)
	if !parsed.IsObject() {
		return payload, nil
	}

	keys := make([]string, 0)
	parsed.ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	sort.Strings(keys)

	out := []byte("{}")
	var err error
	for _, k := range keys {
		out, err = sjson.SetBytes(out, k, parsed.Get(k).Value())
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
