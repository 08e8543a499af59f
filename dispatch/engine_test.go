package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/dispatchfabric/fabric/core"
	"github.com/dispatchfabric/fabric/kernel"
	"github.com/dispatchfabric/fabric/profile"
	"github.com/dispatchfabric/fabric/schema"
	"github.com/stretchr/testify/require"
)

type echoHandler struct{}

func (echoHandler) Handle(payload []byte, ctx *core.HandlerContext) core.Response {
	return core.Reply(payload, "EchoReply")
}

type silentHandler struct{}

func (silentHandler) Handle(payload []byte, ctx *core.HandlerContext) core.Response {
	return core.Silence()
}

type erroringHandler struct{}

func (erroringHandler) Handle(payload []byte, ctx *core.HandlerContext) core.Response {
	return core.ErrorResponse(core.FormFillFailed, "could not fill form")
}

// loopbackHandler replies with a tag that is routed back to a handler on
// the very same thread, the AgentTask -> file-read -> ToolResult pattern
// (§4.1) every real organism uses.
type loopbackHandler struct{ replyTag string }

func (h loopbackHandler) Handle(payload []byte, ctx *core.HandlerContext) core.Response {
	return core.Reply(payload, h.replyTag)
}

func newTestEngine(t *testing.T) (*Engine, *kernel.Kernel, string) {
	t.Helper()
	k, err := kernel.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })

	dt, err := profile.BuildDispatchTable([]profile.Route{
		{Tag: "Greeting", Handler: "handlers.echo"},
		{Tag: "Quiet", Handler: "handlers.silent"},
		{Tag: "Bad", Handler: "handlers.bad"},
	})
	require.NoError(t, err)

	resolver, err := profile.New(core.Profile{
		Name:             "public",
		DispatchTable:    dt,
		JournalRetention: core.RetentionPolicy{Kind: core.RetainForever},
	})
	require.NoError(t, err)

	root, err := k.Threads().Spawn(context.Background(), "", core.Profile{Name: "public", DispatchTable: dt})
	require.NoError(t, err)

	e := New(k.Threads(), k.Context(), k.JournalStore(), resolver, func(o *Options) {
		o.Validator = schema.Validator{}
	})
	e.Register(core.HandlerRegistration{Name: "handlers.echo", Impl: echoHandler{}})
	e.Register(core.HandlerRegistration{Name: "handlers.silent", Impl: silentHandler{}})
	e.Register(core.HandlerRegistration{Name: "handlers.bad", Impl: erroringHandler{}})

	return e, k, root
}

func TestSubmitDeliversToRegisteredHandler(t *testing.T) {
	e, _, root := newTestEngine(t)

	env := core.NewEnvelope("ns://test", "Greeting", []byte(`{"msg":"hi"}`), "caller", root, "public")
	ack, err := e.Submit(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, AckDelivered, ack.Outcome)
}

func TestSubmitRejectsUnroutedTag(t *testing.T) {
	e, _, root := newTestEngine(t)

	env := core.NewEnvelope("ns://test", "NoSuchTag", []byte(`{}`), "caller", root, "public")
	ack, err := e.Submit(context.Background(), env)
	require.Error(t, err)
	require.Equal(t, AckRejected, ack.Outcome)
	var fe *core.FabricError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, core.RouteNotFound, fe.Kind)
}

func TestSubmitRejectsUnknownThread(t *testing.T) {
	e, _, _ := newTestEngine(t)

	env := core.NewEnvelope("ns://test", "Greeting", []byte(`{}`), "caller", "root.bogus", "public")
	ack, err := e.Submit(context.Background(), env)
	require.Error(t, err)
	require.Equal(t, AckRejected, ack.Outcome)
	var fe *core.FabricError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, core.UnknownThread, fe.Kind)
}

func TestSubmitSilenceYieldsAckSilence(t *testing.T) {
	e, _, root := newTestEngine(t)

	env := core.NewEnvelope("ns://test", "Quiet", []byte(`{}`), "caller", root, "public")
	ack, err := e.Submit(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, AckSilence, ack.Outcome)
}

func TestSubmitErrorResponseYieldsRejected(t *testing.T) {
	e, _, root := newTestEngine(t)

	env := core.NewEnvelope("ns://test", "Bad", []byte(`{}`), "caller", root, "public")
	ack, err := e.Submit(context.Background(), env)
	require.Error(t, err)
	require.Equal(t, AckRejected, ack.Outcome)
	var fe *core.FabricError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, core.FormFillFailed, fe.Kind)
}

func TestSubmitJournalsInboundEntry(t *testing.T) {
	e, k, root := newTestEngine(t)

	env := core.NewEnvelope("ns://test", "Greeting", []byte(`{"msg":"hi"}`), "caller", root, "public")
	_, err := e.Submit(context.Background(), env)
	require.NoError(t, err)

	entries, err := k.JournalStore().Scan(0, func(e core.JournalEntry) bool { return e.Handler == "handlers.echo" })
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}

// TestSubmitReentrantSameThreadDoesNotDeadlock exercises the re-entry path
// the other tests in this file never reach: echoHandler's reply tag
// ("EchoReply") has no route, so it hits RouteNotFound before the per-thread
// lock is ever touched twice. Here the output tag DOES route, back onto the
// same thread_id, which must not deadlock on the thread's own dispatch lock
// (§5, §9: no kernel lock may be held across handler invocation or re-entry).
func TestSubmitReentrantSameThreadDoesNotDeadlock(t *testing.T) {
	k, err := kernel.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })

	dt, err := profile.BuildDispatchTable([]profile.Route{
		{Tag: "AgentTask", Handler: "handlers.loopback"},
		{Tag: "ToolResult", Handler: "handlers.echo"},
	})
	require.NoError(t, err)

	resolver, err := profile.New(core.Profile{
		Name:             "public",
		DispatchTable:    dt,
		JournalRetention: core.RetentionPolicy{Kind: core.RetainForever},
	})
	require.NoError(t, err)

	root, err := k.Threads().Spawn(context.Background(), "", core.Profile{Name: "public", DispatchTable: dt})
	require.NoError(t, err)

	e := New(k.Threads(), k.Context(), k.JournalStore(), resolver, func(o *Options) {
		o.Validator = schema.Validator{}
	})
	e.Register(core.HandlerRegistration{Name: "handlers.loopback", Impl: loopbackHandler{replyTag: "ToolResult"}})
	e.Register(core.HandlerRegistration{Name: "handlers.echo", Impl: echoHandler{}})

	env := core.NewEnvelope("ns://test", "AgentTask", []byte(`{"msg":"go"}`), "caller", root, "public")

	type result struct {
		ack Acknowledgement
		err error
	}
	done := make(chan result, 1)
	go func() {
		ack, err := e.Submit(context.Background(), env)
		done <- result{ack, err}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Equal(t, AckDelivered, r.ack.Outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("Submit deadlocked re-entering its own thread_id")
	}
}

func TestSubmitAsyncDeliversAcknowledgement(t *testing.T) {
	e, _, root := newTestEngine(t)

	env := core.NewEnvelope("ns://test", "Greeting", []byte(`{"msg":"hi"}`), "caller", root, "public")
	ackCh := e.SubmitAsync(context.Background(), env)
	ack := <-ackCh
	require.Equal(t, AckDelivered, ack.Outcome)
}
