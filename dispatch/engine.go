package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dispatchfabric/fabric/core"
	"github.com/dispatchfabric/fabric/logging"
	"github.com/google/uuid"
)

// Options configures an Engine instance using the functional-options
// pattern, the same convention engine.Options used for the teacher's
// Engine.
type Options struct {
	Config    Config
	Validator core.SchemaValidator
	Logger    logging.Logger
}

// Engine is the Envelope & Dispatch Engine: the seven-stage
// submit(envelope) -> Acknowledgement pipeline (§4.1). It owns no state of
// its own beyond the handler registry and a per-thread journal lock; all
// durable state lives behind the Kernel interfaces it is handed at
// construction.
type Engine struct {
	threads  core.ThreadTable
	ctxStore core.ContextStore
	journal  core.Journal
	resolve  core.ProfileResolver

	validator core.SchemaValidator
	log       logging.Logger
	cfg       Config

	mu       sync.RWMutex
	handlers map[string]core.HandlerRegistration

	// threadLocks maps threadID -> *sync.Mutex. The lock orders a thread's
	// Inbound journal appends and delivery marks; it is not held across
	// handler invocation, so handlers for envelopes submitted concurrently
	// on one thread may run in any order.
	threadLocks sync.Map
}

// New builds an Engine over the given Kernel facades and Profile Resolver.
// Unlike engine.New, these four collaborators have no meaningful in-memory
// default: a dispatch engine with no durable backing or no security surface
// isn't a smaller version of the real thing, it's a different component, so
// they are required arguments rather than Options fields.
func New(threads core.ThreadTable, ctxStore core.ContextStore, journal core.Journal, resolver core.ProfileResolver, optFns ...func(*Options)) *Engine {
	opts := Options{Config: DefaultConfig, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Engine{
		threads:   threads,
		ctxStore:  ctxStore,
		journal:   journal,
		resolve:   resolver,
		validator: opts.Validator,
		log:       opts.Logger,
		cfg:       opts.Config,
		handlers:  make(map[string]core.HandlerRegistration),
	}
}

// Register adds a handler to the engine's registry, keyed by its name. A
// second registration under the same name replaces the first, matching
// engine.Engine.Register's behavior for agents.
func (e *Engine) Register(reg core.HandlerRegistration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[reg.Name] = reg
}

func (e *Engine) handler(name string) (core.HandlerRegistration, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	reg, ok := e.handlers[name]
	return reg, ok
}

func (e *Engine) threadLock(threadID string) *sync.Mutex {
	v, _ := e.threadLocks.LoadOrStore(threadID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Submit drives env through the seven-stage pipeline (§4.1) and returns the
// Acknowledgement for that one envelope. Outputs the handler produces
// (Reply/Send/Broadcast) are recursively re-entered synchronously, inside
// this call, up to Config.MaxReentryDepth. A failure further down that
// cascade is logged but does not change this Acknowledgement; env's own
// Acknowledgement is Rejected only when every output of its handler is
// rejected before re-entry (stage 6, size limit, or journal failure).
func (e *Engine) Submit(ctx context.Context, env core.Envelope) (Acknowledgement, error) {
	return e.submit(ctx, env, 0)
}

// SubmitAsync mirrors engine.Engine.Invoke's async channel-delivery
// convenience: it runs Submit in its own goroutine and returns a channel
// that receives exactly one Acknowledgement (or is closed without one if
// ctx is cancelled first).
func (e *Engine) SubmitAsync(ctx context.Context, env core.Envelope) <-chan Acknowledgement {
	out := make(chan Acknowledgement, 1)
	go func() {
		defer close(out)
		ack, err := e.Submit(ctx, env)
		if err != nil {
			e.log.Warn("dispatch.submit.failed", "envelope_id", env.ID, "error", err.Error())
		}
		select {
		case <-ctx.Done():
		case out <- ack:
		}
	}()
	return out
}

func (e *Engine) submit(ctx context.Context, env core.Envelope, depth int) (Acknowledgement, error) {
	ack := Acknowledgement{EnvelopeID: env.ID, ThreadID: env.ThreadID}

	if depth > e.cfg.MaxReentryDepth {
		fe := core.NewError(core.MalformedEnvelope, "re-entry depth exceeded %d, possible dispatch loop", e.cfg.MaxReentryDepth)
		ack.Outcome, ack.Err = AckRejected, fe
		return ack, fe
	}

	// Stage 1: structural validation.
	if err := env.Validate(); err != nil {
		fe := asFabricError(err)
		ack.Outcome, ack.Err = AckRejected, fe
		return ack, fe
	}

	if _, ok := e.threads.Get(env.ThreadID); !ok {
		fe := core.NewError(core.UnknownThread, "thread %q not found", env.ThreadID)
		ack.Outcome, ack.Err = AckRejected, fe
		return ack, fe
	}

	// Stage 3 runs before stage 4's lookup of a concrete handler, but the
	// route itself is resolved here since stage 2 needs the target
	// handler's declared request schema.
	handlerName, ok, err := e.resolve.Resolve(env.Profile, env.PayloadTag)
	if err != nil {
		fe := asFabricError(err)
		ack.Outcome, ack.Err = AckRejected, fe
		return ack, fe
	}
	if !ok {
		fe := core.NewError(core.RouteNotFound, "no route for payload_tag %q under profile %q", env.PayloadTag, env.Profile)
		e.log.Warn("dispatch.route_not_found", "payload_tag", env.PayloadTag, "profile", env.Profile, "thread_id", env.ThreadID)
		ack.Outcome, ack.Err = AckRejected, fe
		return ack, fe
	}

	reg, ok := e.handler(handlerName)
	if !ok {
		fe := core.NewError(core.RouteNotFound, "handler %q is not registered", handlerName)
		ack.Outcome, ack.Err = AckRejected, fe
		return ack, fe
	}

	// Stage 2: payload schema validation, against the target handler's
	// declared request schema.
	if reg.RequestSchema != nil && e.validator != nil {
		if err := e.validator.Validate(reg.RequestSchema, env.Payload); err != nil {
			fe := asFabricError(err)
			ack.Outcome, ack.Err = AckRejected, fe
			return ack, fe
		}
	}

	// §5/§9: the engine MUST NOT hold any kernel lock across handler
	// invocation. The lock only serializes recording this envelope's
	// intent in the journal — the FIFO-ordering-relevant step — and is
	// released before the handler runs. Holding it across Handle (which may
	// block on an LLM call for minutes) or across re-entry would serialize
	// every submission on the thread for that long; worse, a handler whose
	// own output re-enters the SAME thread_id (the entire Reply/Send
	// pattern, e.g. S1's AgentTask -> file-read -> ToolResult) would call
	// threadLock(sameThreadID).Lock() while this call still held it,
	// deadlocking forever. So: acquire, record intent, release — invoke —
	// reacquire only to record the outcome.
	lock := e.threadLock(env.ThreadID)

	lock.Lock()
	_, err = e.journal.Append(ctx, core.JournalEntry{
		ThreadID:    env.ThreadID,
		Direction:   core.Inbound,
		Handler:     handlerName,
		PayloadTag:  env.PayloadTag,
		PayloadHash: payloadHash(env.Payload),
		Retention:   e.retentionFor(env.Profile),
	})
	lock.Unlock()
	if err != nil {
		fe := core.NewError(core.CorruptedWal, "journal append failed: %v", err)
		ack.Outcome, ack.Err = AckRejected, fe
		return ack, fe
	}

	// Stage 4: dispatch. Exactly one handler receives the envelope. No lock
	// is held here, so the handler is free to re-enter this same thread_id.
	invokeStart := time.Now()
	response := reg.Impl.Handle(env.Payload, &core.HandlerContext{
		ThreadID: env.ThreadID,
		Sender:   env.Sender,
		SelfName: handlerName,
		Submitter: submitFunc(func(out core.Envelope) error {
			_, err := e.submit(ctx, out, depth+1)
			return err
		}),
		Logger: e.log,
	})
	if dl, ok := e.log.(logging.DomainLogger); ok {
		dl.LogHandlerInvoke(handlerName, time.Since(invokeStart), response.Kind != core.ResponseError, nil)
	}

	// Stage 5: response classification.
	switch response.Kind {
	case core.ResponseSilence:
		ack.Outcome = AckSilence
		return ack, nil

	case core.ResponseError:
		fe := core.NewError(response.ErrorKind, "%s", response.ErrorMessage).WithHandler(handlerName)
		ack.Outcome, ack.Err = AckRejected, fe
		return ack, fe

	case core.ResponseReply, core.ResponseSend, core.ResponseBroadcast:
		// reenterOutputs itself re-enters the same thread_id (stage 7), so
		// it too must run with the lock released; it only reaches back into
		// threadLock via the recursive e.submit calls it makes.
		deliveredIDs, failed := e.reenterOutputs(ctx, env, handlerName, reg, response.Outputs, depth)

		// Reacquire only to record the outcome: grouping delivery marks.
		if len(deliveredIDs) > 0 && len(deliveredIDs) == len(response.Outputs) {
			lock.Lock()
			// The Kernel's concrete journal exposes MarkDelivered directly;
			// core.Journal intentionally doesn't, since grouping delivery
			// marks is a bookkeeping concern (§3.1, §4.5), not part of the
			// generic append-only surface every Journal implements. Applies
			// to Reply and Send outputs too, not only Broadcast groups:
			// prune_on_delivery only prunes once every dispatched target
			// has a matching Inbound entry, which reenterOutputs has
			// already confirmed by this point.
			if marker, ok := e.journal.(interface {
				MarkDelivered(context.Context, []uint64) error
			}); ok {
				if err := marker.MarkDelivered(ctx, deliveredIDs); err != nil {
					e.log.Warn("dispatch.mark_delivered_failed", "thread_id", env.ThreadID, "error", err.Error())
				}
			}
			lock.Unlock()
		}
		if failed > 0 && failed == len(response.Outputs) {
			fe := core.NewError(core.ResponseSchemaViolation, "all %d outputs from handler %q failed response-schema validation", failed, handlerName).WithHandler(handlerName)
			ack.Outcome, ack.Err = AckRejected, fe
			return ack, fe
		}
		ack.Outcome = AckDelivered
		return ack, nil

	default:
		fe := core.NewError(core.MalformedEnvelope, "handler %q returned unknown response kind %q", handlerName, response.Kind)
		ack.Outcome, ack.Err = AckRejected, fe
		return ack, fe
	}
}

// reenterOutputs validates each output against the producing handler's
// declared response schema (stage 6) and, for those that pass, constructs
// the re-entered envelope and recursively submits it (stage 7). Returns the
// count of outputs that failed validation alongside any journal ids worth
// grouping for Broadcast delivery bookkeeping.
func (e *Engine) reenterOutputs(ctx context.Context, source core.Envelope, handlerName string, reg core.HandlerRegistration, outputs []core.Output, depth int) ([]uint64, int) {
	var delivered []uint64
	failed := 0

	for _, out := range outputs {
		if len(out.Payload) > e.cfg.MaxResponseBytes {
			e.journalRejected(ctx, source, handlerName, out, core.PayloadTooLarge, depth)
			failed++
			continue
		}
		if reg.ResponseSchema != nil && e.validator != nil {
			if err := e.validator.Validate(reg.ResponseSchema, out.Payload); err != nil {
				e.journalRejected(ctx, source, handlerName, out, core.ResponseSchemaViolation, depth)
				failed++
				continue
			}
		}

		// out.Target records the handler's intended addressee for logging
		// and journaling, but delivery itself is always structural: the
		// re-entered envelope's payload_tag is what the active profile's
		// dispatch table routes on (§4.1 stage 3/4), never a name the
		// handler supplies directly. A handler cannot address an arbitrary
		// peer that isn't reachable through its own profile's routes.
		reentered := core.Envelope{
			ID:         newEnvelopeID(),
			Namespace:  source.Namespace,
			PayloadTag: out.PayloadTag,
			Payload:    out.Payload,
			Sender:     handlerName,
			ThreadID:   source.ThreadID,
			Profile:    source.Profile,
		}

		hash := payloadHash(out.Payload)
		entry, err := e.journal.Append(ctx, core.JournalEntry{
			ThreadID:    source.ThreadID,
			Direction:   core.Outbound,
			Handler:     handlerName,
			PayloadTag:  out.PayloadTag,
			PayloadHash: hash,
			Retention:   e.retentionFor(source.Profile),
		})
		if err != nil {
			e.log.Warn("dispatch.reentry.journal_failed", "handler", handlerName, "target_tag", out.PayloadTag, "error", err.Error())
			failed++
			continue
		}

		if _, err := e.submit(ctx, reentered, depth+1); err != nil {
			e.log.Warn("dispatch.reentry.failed", "handler", handlerName, "target_tag", out.PayloadTag, "error", err.Error())
			continue
		}

		// prune_on_delivery (§4.5) only considers an output group delivered
		// once its target actually produced a matching Inbound entry, not
		// merely because the re-entered submit returned without error — so
		// confirm one exists by payload_hash before counting this id.
		if e.hasMatchingInbound(source.ThreadID, hash) {
			delivered = append(delivered, entry.ID)
		}
	}

	return delivered, failed
}

// hasMatchingInbound reports whether an Inbound journal entry with the given
// thread and payload hash exists, the signal prune_on_delivery uses to treat
// an output as actually delivered rather than merely re-submitted (§4.5),
// grounded on original_source/src/kernel/journal.rs's mark_delivered_by_thread
// matching on payload hash within a thread.
func (e *Engine) hasMatchingInbound(threadID, payloadHash string) bool {
	matches, err := e.journal.Scan(0, func(entry core.JournalEntry) bool {
		return entry.ThreadID == threadID && entry.Direction == core.Inbound && entry.PayloadHash == payloadHash
	})
	return err == nil && len(matches) > 0
}

// errorEnvelopeTagSuffix marks a payload_tag as carrying a synthesized
// rejection notice rather than a handler's own output, so a profile can
// register a listener for it if the sender cares to react to the failure.
const errorEnvelopeTagSuffix = ".error"

// rejectedOutputPayload is the JSON body of a synthesized error envelope
// (§4.1 stage 6: "the sender receives a synthesized error").
type rejectedOutputPayload struct {
	OriginalTag string `json:"original_tag"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
}

// journalRejected journals a handler output that failed validation
// (PayloadTooLarge or ResponseSchemaViolation) and re-enters a companion
// error envelope on the same thread so the sender is notified per-output,
// not only when every output in the group fails. Delivery of that envelope
// is structural like any other (§9): with no route for its tag under the
// active profile it is simply logged as undeliverable, same as dropping any
// output with no listener.
func (e *Engine) journalRejected(ctx context.Context, source core.Envelope, handlerName string, out core.Output, kind core.ErrorKind, depth int) {
	e.log.Warn("dispatch.output.rejected", "handler", handlerName, "kind", string(kind), "thread_id", source.ThreadID)
	_, _ = e.journal.Append(ctx, core.JournalEntry{
		ThreadID:    source.ThreadID,
		Direction:   core.Outbound,
		Handler:     handlerName,
		PayloadTag:  out.PayloadTag,
		PayloadHash: payloadHash(out.Payload),
		Retention:   e.retentionFor(source.Profile),
		Flagged:     true,
		Flag:        string(kind),
	})

	payload, err := json.Marshal(rejectedOutputPayload{
		OriginalTag: out.PayloadTag,
		Kind:        string(kind),
		Message:     fmt.Sprintf("output %q from handler %q rejected: %s", out.PayloadTag, handlerName, kind),
	})
	if err != nil {
		return
	}
	errEnv := core.Envelope{
		ID:         newEnvelopeID(),
		Namespace:  source.Namespace,
		PayloadTag: out.PayloadTag + errorEnvelopeTagSuffix,
		Payload:    payload,
		Sender:     handlerName,
		ThreadID:   source.ThreadID,
		Profile:    source.Profile,
	}
	if _, err := e.submit(ctx, errEnv, depth+1); err != nil {
		e.log.Debug("dispatch.output.error_envelope_undelivered", "handler", handlerName, "tag", errEnv.PayloadTag, "error", err.Error())
	}
}

func (e *Engine) retentionFor(profileName string) core.RetentionPolicy {
	policy, err := e.resolve.Retention(profileName)
	if err != nil {
		return core.RetentionPolicy{Kind: core.RetainForever}
	}
	return policy
}

type submitFunc func(core.Envelope) error

func (f submitFunc) Submit(env core.Envelope) error { return f(env) }

func asFabricError(err error) *core.FabricError {
	var fe *core.FabricError
	if errors.As(err, &fe) {
		return fe
	}
	return core.NewError(core.MalformedEnvelope, "%v", err)
}

func payloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func newEnvelopeID() string {
	return uuid.NewString()
}
