package core

import "github.com/dispatchfabric/fabric/logging"

// SchemaRef is an opaque handle to a schema. The core treats schemas as
// opaque; concrete format (reflection-derived struct schema, JSON Schema,
// XSD, ...) is a configuration choice made by whatever implements
// SchemaValidator (§6).
type SchemaRef any

// Submitter is the capability a Handler receives to emit further envelopes.
// It is scoped to a single invocation and never held beyond it (§9 "Cyclic
// references between pipeline and handlers").
type Submitter interface {
	Submit(Envelope) error
}

// HandlerContext is the per-invocation context passed to Handle. It exposes
// only what §6 names: thread_id, sender, self_name, plus a submit capability
// and a logger. Handlers never see a reference to the engine itself.
type HandlerContext struct {
	ThreadID string
	Sender   string
	SelfName string

	Submitter Submitter
	Logger    logging.Logger
}

// Submit emits a new envelope through the scoped submit capability.
func (c *HandlerContext) Submit(e Envelope) error {
	return c.Submitter.Submit(e)
}

// Handler is the capability-level abstraction every registered handler
// implements. Handlers are registered values keyed by name, never subtypes
// (§9 "Handler polymorphism") — the engine interacts only through this
// {validate, handle, describe} surface.
type Handler interface {
	// Handle processes one validated, decoded payload and returns exactly
	// one Response variant. Handle must not retain payload or ctx beyond
	// the call.
	Handle(payload []byte, ctx *HandlerContext) Response
}

// HandlerFunc adapts a plain function to the Handler interface, mirroring
// the teacher's FunctionTool validate-then-invoke convenience constructor.
type HandlerFunc func(payload []byte, ctx *HandlerContext) Response

func (f HandlerFunc) Handle(payload []byte, ctx *HandlerContext) Response {
	return f(payload, ctx)
}

// HandlerRegistration is the frozen-after-startup metadata record for one
// handler (§3 "Handler Registration"). A handler MAY register for multiple
// payload tags, but a tag registered twice within the same profile's
// dispatch table is a startup configuration error (§9 Open Questions).
type HandlerRegistration struct {
	Name                string
	PayloadTags         []string
	RequestSchema       SchemaRef
	ResponseSchema      SchemaRef
	Description         string
	SemanticDescription string // falls back to Description when empty (§4.7 Rank)
	Peers               []string

	Impl Handler
}

// EffectiveSemanticDescription returns SemanticDescription, falling back to
// Description when absent, per §4.7 step 1.
func (r HandlerRegistration) EffectiveSemanticDescription() string {
	if r.SemanticDescription != "" {
		return r.SemanticDescription
	}
	return r.Description
}
