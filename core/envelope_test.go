package core_test

import (
	"errors"
	"testing"

	"github.com/dispatchfabric/fabric/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     core.Envelope
		wantErr bool
		path    string
	}{
		{
			name: "valid",
			env:  core.NewEnvelope("ns://agent", "AgentTask", []byte("hi"), "user", "root", "coding"),
		},
		{
			name:    "missing namespace",
			env:     core.Envelope{PayloadTag: "t", Sender: "s", ThreadID: "root", Profile: "p"},
			wantErr: true,
			path:    "namespace",
		},
		{
			name:    "missing thread id",
			env:     core.Envelope{Namespace: "ns", PayloadTag: "t", Sender: "s", Profile: "p"},
			wantErr: true,
			path:    "thread_id",
		},
		{
			name:    "thread id must start with root",
			env:     core.Envelope{Namespace: "ns", PayloadTag: "t", Sender: "s", Profile: "p", ThreadID: "not-root"},
			wantErr: true,
			path:    "thread_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var fe *core.FabricError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, core.MalformedEnvelope, fe.Kind)
			assert.Equal(t, tt.path, fe.Path)
		})
	}
}

func TestChildThreadID(t *testing.T) {
	child := core.ChildThreadID("root")
	require.NoError(t, core.ValidateThreadID(child))
	assert.Contains(t, child, "root.")
}

func TestDispatchTableSubset(t *testing.T) {
	parent := core.DispatchTable{"FileReadRequest": {"file-read"}, "AgentResponse": {"user"}}
	child := core.DispatchTable{"FileReadRequest": {"file-read"}}
	assert.True(t, child.IsSubsetOf(parent))

	escalated := core.DispatchTable{"FileWriteRequest": {"file-write"}}
	assert.False(t, escalated.IsSubsetOf(parent))
}

func TestFabricErrorIs(t *testing.T) {
	err := core.NewError(core.RouteNotFound, "no route for tag %q", "X")
	assert.ErrorIs(t, err, &core.FabricError{Kind: core.RouteNotFound})
	assert.NotErrorIs(t, err, &core.FabricError{Kind: core.SchemaViolation})
}
