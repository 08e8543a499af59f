package schema

import (
	"testing"

	"github.com/dispatchfabric/fabric/core"
	"github.com/stretchr/testify/require"
)

type greetingRequest struct {
	Name string `json:"name" description:"who to greet"`
	Age  int    `json:"age,omitempty"`
}

func TestFromStructRequiredFields(t *testing.T) {
	s := FromStruct(greetingRequest{})
	require.Equal(t, "object", s.Type)
	require.Contains(t, s.Required, "name")
	require.NotContains(t, s.Required, "age", "omitempty fields must not be required")
	require.Equal(t, "string", s.Properties["name"].Type)
	require.Equal(t, "integer", s.Properties["age"].Type)
}

func TestValidateAcceptsWellFormedPayload(t *testing.T) {
	s := FromStruct(greetingRequest{})
	v := Validator{}
	err := v.Validate(s, []byte(`{"name":"ada","age":30}`))
	require.NoError(t, err)
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	s := FromStruct(greetingRequest{})
	v := Validator{}
	err := v.Validate(s, []byte(`{"age":30}`))
	require.Error(t, err)
	var fe *core.FabricError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, core.SchemaViolation, fe.Kind)
}

func TestValidateRejectsWrongType(t *testing.T) {
	s := FromStruct(greetingRequest{})
	v := Validator{}
	err := v.Validate(s, []byte(`{"name":123}`))
	require.Error(t, err)
}

func TestValidateAllowsExtraFields(t *testing.T) {
	s := FromStruct(greetingRequest{})
	v := Validator{}
	err := v.Validate(s, []byte(`{"name":"ada","extra":"ignored"}`))
	require.NoError(t, err)
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	s := FromStruct(greetingRequest{})
	v := Validator{}
	err := v.Validate(s, []byte(`not json`))
	require.Error(t, err)
}

func TestCanonicalizeSortsKeys(t *testing.T) {
	out, err := Canonicalize([]byte(`{"b":2,"a":1}`))
	require.NoError(t, err)
	out2, err := Canonicalize([]byte(`{"a":1,"b":2}`))
	require.NoError(t, err)
	require.Equal(t, string(out), string(out2), "canonicalized output must be order-independent")
}

func TestRepairFillsMissingRequiredField(t *testing.T) {
	s := FromStruct(greetingRequest{})
	out, err := Repair([]byte(`{"age":30}`), s)
	require.NoError(t, err)

	v := Validator{}
	require.NoError(t, v.Validate(s, out))
}
