package router

import (
	"context"
	"testing"

	"github.com/dispatchfabric/fabric/core"
	"github.com/dispatchfabric/fabric/profile"
	"github.com/dispatchfabric/fabric/schema"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder is a deterministic test stand-in for an embedding
// provider: it encodes presence of a fixed vocabulary as a 0/1 vector, so
// cosine similarity behaves predictably without a real model call.
type keywordEmbedder struct {
	vocab []string
}

func (e keywordEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vec := make([]float64, len(e.vocab))
	for i, word := range e.vocab {
		if containsWord(text, word) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func containsWord(text, word string) bool {
	for i := 0; i+len(word) <= len(text); i++ {
		if text[i:i+len(word)] == word {
			return true
		}
	}
	return false
}

type stubFiller struct {
	payload []byte
	err     error
}

func (f stubFiller) Fill(ctx context.Context, schemaRef core.SchemaRef, naturalLanguage string) ([]byte, error) {
	return f.payload, f.err
}

type failThenSucceedFiller struct {
	calls     int
	failUntil int
	payload   []byte
}

func (f *failThenSucceedFiller) Fill(ctx context.Context, schemaRef core.SchemaRef, naturalLanguage string) ([]byte, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return []byte(`{}`), nil // missing required field, fails schema validation downstream
	}
	return f.payload, nil
}

func testSchema() schema.Schema {
	return schema.Schema{
		Type: "object",
		Properties: map[string]schema.PropertySchema{
			"path": {Type: "string"},
		},
		Required: []string{"path"},
	}
}

func newTestRouter(t *testing.T, vocab []string, fillers ...core.FormFiller) (*Router, *profile.Resolver) {
	t.Helper()

	dt, err := profile.BuildDispatchTable([]profile.Route{
		{Tag: "FileOps", Handler: "handlers.file"},
		{Tag: "ShellExec", Handler: "handlers.shell"},
	})
	require.NoError(t, err)

	resolver, err := profile.New(core.Profile{Name: "public", DispatchTable: dt})
	require.NoError(t, err)

	r := New(keywordEmbedder{vocab: vocab}, resolver, schema.Validator{}, func(o *Options) {
		o.Fillers = fillers
	})

	r.Register(core.HandlerRegistration{
		Name:                "handlers.file",
		PayloadTags:         []string{"FileOps"},
		SemanticDescription: "reads and writes files on the filesystem",
		RequestSchema:       testSchema(),
	})
	r.Register(core.HandlerRegistration{
		Name:                "handlers.shell",
		PayloadTags:         []string{"ShellExec"},
		SemanticDescription: "runs shell commands",
		RequestSchema:       testSchema(),
	})

	return r, resolver
}

func TestRouteByIntentSelectsHighestRankedPermittedHandler(t *testing.T) {
	r, _ := newTestRouter(t, []string{"files", "shell"}, stubFiller{payload: []byte(`{"path":"parser.go"}`)})

	plan, err := r.RouteByIntent(context.Background(), "I need to see files on disk", "public", "root")
	require.NoError(t, err)
	require.Equal(t, "handlers.file", plan.Handler)
	require.Equal(t, "FileOps", plan.PayloadTag)
}

func TestRouteByIntentMasksDisallowedHandler(t *testing.T) {
	dt, err := profile.BuildDispatchTable([]profile.Route{{Tag: "ShellExec", Handler: "handlers.shell"}})
	require.NoError(t, err)
	resolver, err := profile.New(core.Profile{Name: "restricted", DispatchTable: dt})
	require.NoError(t, err)

	r := New(keywordEmbedder{vocab: []string{"files", "shell"}}, resolver, schema.Validator{}, func(o *Options) {
		o.Fillers = []core.FormFiller{stubFiller{payload: []byte(`{}`)}}
	})
	r.Register(core.HandlerRegistration{Name: "handlers.file", PayloadTags: []string{"FileOps"}, SemanticDescription: "reads files", RequestSchema: testSchema()})
	r.Register(core.HandlerRegistration{Name: "handlers.shell", PayloadTags: []string{"ShellExec"}, SemanticDescription: "runs shell commands", RequestSchema: nil})

	// Intent ranks handlers.file top, but it's masked out of this profile
	// entirely, so the only permitted candidate (handlers.shell) is chosen.
	plan, err := r.RouteByIntent(context.Background(), "I need to read files", "restricted", "root")
	require.NoError(t, err)
	require.Equal(t, "handlers.shell", plan.Handler)
}

func TestRouteByIntentReturnsNoCapabilityWhenEverythingMasked(t *testing.T) {
	resolver, err := profile.New(core.Profile{Name: "empty", DispatchTable: core.DispatchTable{}})
	require.NoError(t, err)

	r := New(keywordEmbedder{vocab: []string{"files"}}, resolver, schema.Validator{})
	r.Register(core.HandlerRegistration{Name: "handlers.file", PayloadTags: []string{"FileOps"}, SemanticDescription: "reads files"})

	_, err = r.RouteByIntent(context.Background(), "I need to read files", "empty", "root")
	require.Error(t, err)
	var fe *core.FabricError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, core.NoCapability, fe.Kind)
}

func TestRouteByIntentUnknownProfile(t *testing.T) {
	r, _ := newTestRouter(t, []string{"files"})

	_, err := r.RouteByIntent(context.Background(), "I need to read files", "nonexistent", "root")
	require.Error(t, err)
	var fe *core.FabricError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, core.UnknownProfile, fe.Kind)
}

func TestRouteByIntentRetriesLadderOnValidationFailure(t *testing.T) {
	filler := &failThenSucceedFiller{failUntil: 0, payload: []byte(`{"path":"parser.go"}`)}
	r, _ := newTestRouter(t, []string{"files"}, stubFiller{payload: []byte(`{}`)}, filler)

	plan, err := r.RouteByIntent(context.Background(), "I need to read files", "public", "root")
	require.NoError(t, err)
	require.Equal(t, "handlers.file", plan.Handler)
	require.Equal(t, 1, filler.calls)
}

func TestRouteByIntentFormFillFailedWhenLadderExhausted(t *testing.T) {
	r, _ := newTestRouter(t, []string{"files"}, stubFiller{payload: []byte(`{}`)}, stubFiller{payload: []byte(`{}`)})

	_, err := r.RouteByIntent(context.Background(), "I need to read files", "public", "root")
	require.Error(t, err)
	var fe *core.FabricError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, core.FormFillFailed, fe.Kind)
}
