// Package schema implements the payload schema-validation collaborator used
// at dispatch stages 2 and 6 (SPEC_FULL.md §4.1, §6). Validation logic is
// adapted from internal/util/schema.go's reflect-based JSON-schema-subset
// checker, extended to operate on raw wire bytes rather than decoded
// map[string]any parameters, using tidwall/gjson for canonicalization and
// tidwall/sjson for the opt-in Repair stage.
package schema
