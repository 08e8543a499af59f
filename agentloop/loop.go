package agentloop

import (
	"context"
	"encoding/json"

	"github.com/dispatchfabric/fabric/core"
	"github.com/dispatchfabric/fabric/logging"
	"github.com/dispatchfabric/fabric/model"
)

// record is the envelope every context segment this package writes is
// wrapped in, so loadState can tell a conversation turn apart from the
// pending-tool-call control segment using only GetView's opaque bytes (core
// ContextStore.GetView carries no content-type tag of its own, by design —
// §4.4 treats content as opaque outside the owning component). Plain
// encoding/json is used for this, the same choice and justification as
// kernel/records.go's WAL payload shapes: no struct-marshaling library
// appears anywhere in the corpus.
type record struct {
	Kind    string        `json:"kind"`
	Turn    *turn         `json:"turn,omitempty"`
	Pending *pendingState `json:"pending,omitempty"`
}

// Loop is the Agent Loop (§4.8): a core.Handler, in two parts, driving one
// thread's AwaitingTask -> Thinking -> AwaitingToolResults -> ... cycle.
// It holds the same kind of required collaborators dispatch.Engine and
// router.Router do — a loop with no context store to persist history in, or
// no thread table to count iterations against, isn't a smaller agent, it's
// not an agent.
type Loop struct {
	threads  core.ThreadTable
	ctxStore core.ContextStore
	model    model.Model

	cfg     Config
	limiter IterationLimiter
	log     logging.Logger
}

// New builds a Loop over the given Kernel facades and inference model.
func New(threads core.ThreadTable, ctxStore core.ContextStore, m model.Model, optFns ...func(*Options)) *Loop {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Loop{
		threads:  threads,
		ctxStore: ctxStore,
		model:    m,
		cfg:      opts.Config,
		limiter:  IterationLimiter{Max: opts.Config.MaxIterations},
		log:      opts.Logger,
	}
}

// HandleTask implements the "AwaitingTask -> Thinking" transition (§4.8). It
// is meant to be registered under the payload_tag an organism binds to
// AgentTask envelopes.
func (l *Loop) HandleTask(payload []byte, hctx *core.HandlerContext) core.Response {
	var task AgentTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return core.ErrorResponse(core.MalformedEnvelope, "agentloop: invalid AgentTask payload: "+err.Error())
	}

	ctx := context.Background()
	if err := l.appendTurn(ctx, hctx.ThreadID, turn{Role: "user", Text: task.Task}); err != nil {
		return core.ErrorResponse(core.CorruptedWal, "agentloop: failed to record task: "+err.Error())
	}

	return l.think(ctx, hctx.ThreadID)
}

// HandleToolResult implements "AwaitingToolResults -> Thinking", once every
// dispatched tool call for the current round has reported back (§4.8). It
// is meant to be registered under the payload_tag an organism binds to tool
// result envelopes.
func (l *Loop) HandleToolResult(payload []byte, hctx *core.HandlerContext) core.Response {
	var fr core.FunctionResponse
	if err := json.Unmarshal(payload, &fr); err != nil {
		return core.ErrorResponse(core.MalformedEnvelope, "agentloop: invalid tool result payload: "+err.Error())
	}

	ctx := context.Background()
	threadID := hctx.ThreadID

	if err := l.appendTurn(ctx, threadID, turn{Role: "tool", Results: []functionResponse{{
		ID: fr.ID, Name: fr.Name, Response: fr.Response, Error: fr.Error,
	}}}); err != nil {
		return core.ErrorResponse(core.CorruptedWal, "agentloop: failed to record tool result: "+err.Error())
	}

	_, pending, err := l.loadState(threadID)
	if err != nil {
		return core.ErrorResponse(core.CorruptedWal, "agentloop: failed to load state: "+err.Error())
	}
	if pending == nil {
		l.log.Warn("agentloop.tool_result.unexpected", "thread_id", threadID, "call_id", fr.ID)
		return core.Silence()
	}

	if !pending.has(fr.ID) {
		pending.Received = append(pending.Received, fr.ID)
	}
	if !pending.done() {
		if err := l.appendPending(ctx, threadID, *pending); err != nil {
			return core.ErrorResponse(core.CorruptedWal, "agentloop: failed to persist pending state: "+err.Error())
		}
		return core.Silence() // still AwaitingToolResults
	}

	return l.think(ctx, threadID)
}

// think runs one inference call and classifies the response into the
// remaining §4.8 transitions (Thinking -> Done, Thinking -> AwaitingToolResults,
// any state -> Failed).
func (l *Loop) think(ctx context.Context, threadID string) core.Response {
	iteration, err := l.threads.IncrementIteration(ctx, threadID)
	if err != nil {
		return core.ErrorResponse(core.UnknownThread, "agentloop: "+err.Error())
	}
	if l.limiter.Exceeded(iteration) {
		cause := core.NewError(core.IterationCapExceeded, "thread %q reached max_iterations", threadID)
		_ = l.threads.Fail(ctx, threadID, cause)
		return core.ErrorResponse(core.IterationCapExceeded, cause.Message)
	}

	history, _, err := l.loadState(threadID)
	if err != nil {
		return core.ErrorResponse(core.CorruptedWal, "agentloop: failed to load history: "+err.Error())
	}

	req := model.Request{Instructions: l.cfg.SystemPrompt, Contents: buildContents(history), Tools: l.cfg.Tools}
	respCh, errCh := l.model.Generate(ctx, req)

	var final *model.Response
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !resp.Partial {
				r := resp
				final = &r
			}
		case genErr, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if genErr != nil {
				_ = l.threads.Fail(ctx, threadID, genErr)
				return core.ErrorResponse(core.Timeout, "agentloop: inference failed: "+genErr.Error())
			}
		}
	}
	if final == nil {
		_ = l.threads.Fail(ctx, threadID, core.NewError(core.MalformedEnvelope, "model produced no final response"))
		return core.ErrorResponse(core.MalformedEnvelope, "agentloop: model produced no final response")
	}

	calls := extractCalls(final.Content)
	if len(calls) == 0 {
		text := extractText(final.Content)
		if err := l.appendTurn(ctx, threadID, turn{Role: "assistant", Text: text}); err != nil {
			return core.ErrorResponse(core.CorruptedWal, "agentloop: failed to record response: "+err.Error())
		}
		if err := l.threads.Return(ctx, threadID); err != nil {
			l.log.Warn("agentloop.thread_return_failed", "thread_id", threadID, "error", err.Error())
		}
		payload, _ := json.Marshal(AgentResponse{Text: text})
		return core.Reply(payload, AgentResponseTag)
	}

	if err := l.appendTurn(ctx, threadID, turn{Role: "assistant", Calls: calls}); err != nil {
		return core.ErrorResponse(core.CorruptedWal, "agentloop: failed to record tool calls: "+err.Error())
	}

	expected := make([]string, 0, len(calls))
	outputs := make([]core.Output, 0, len(calls))
	for _, c := range calls {
		expected = append(expected, c.ID)
		payload, _ := json.Marshal(core.FunctionCall{ID: c.ID, Name: c.Name, Arguments: string(c.Arguments)})
		outputs = append(outputs, core.Output{Payload: payload, PayloadTag: c.Name})
	}
	if err := l.appendPending(ctx, threadID, pendingState{Expected: expected}); err != nil {
		return core.ErrorResponse(core.CorruptedWal, "agentloop: failed to persist pending state: "+err.Error())
	}

	return core.Broadcast(outputs)
}

func (l *Loop) appendTurn(ctx context.Context, threadID string, t turn) error {
	b, err := json.Marshal(record{Kind: "turn", Turn: &t})
	if err != nil {
		return err
	}
	_, err = l.ctxStore.Append(ctx, threadID, b, core.ContentMessage)
	return err
}

func (l *Loop) appendPending(ctx context.Context, threadID string, p pendingState) error {
	b, err := json.Marshal(record{Kind: "pending", Pending: &p})
	if err != nil {
		return err
	}
	_, err = l.ctxStore.Append(ctx, threadID, b, core.ContentOther)
	return err
}

// loadState reconstructs conversation history and the most recent pending
// tool-call set from the thread's live context view. Segments are appended
// in order, so the last "pending" record present is authoritative.
func (l *Loop) loadState(threadID string) ([]turn, *pendingState, error) {
	views, err := l.ctxStore.GetView(threadID)
	if err != nil {
		return nil, nil, err
	}

	var history []turn
	var pending *pendingState
	for _, v := range views {
		if !v.Present {
			continue
		}
		var rec record
		if err := json.Unmarshal(v.Bytes, &rec); err != nil {
			continue
		}
		switch rec.Kind {
		case "turn":
			if rec.Turn != nil {
				history = append(history, *rec.Turn)
			}
		case "pending":
			pending = rec.Pending
		}
	}
	return history, pending, nil
}

func buildContents(history []turn) []core.Content {
	contents := make([]core.Content, 0, len(history))
	for _, t := range history {
		var parts []core.Part
		if t.Text != "" {
			parts = append(parts, core.TextPart{Text: t.Text})
		}
		for _, c := range t.Calls {
			parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID: c.ID, Name: c.Name, Arguments: string(c.Arguments),
			}})
		}
		for _, r := range t.Results {
			parts = append(parts, core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
				ID: r.ID, Name: r.Name, Response: r.Response, Error: r.Error,
			}})
		}
		contents = append(contents, core.Content{Role: t.Role, Parts: parts})
	}
	return contents
}

func extractText(content core.Content) string {
	var text string
	for _, p := range content.Parts {
		if tp, ok := p.(core.TextPart); ok {
			text += tp.Text
		}
	}
	return text
}

func extractCalls(content core.Content) []functionCall {
	var calls []functionCall
	for _, p := range content.Parts {
		if fc, ok := p.(core.FunctionCallPart); ok {
			calls = append(calls, functionCall{
				ID: fc.FunctionCall.ID, Name: fc.FunctionCall.Name, Arguments: json.RawMessage(fc.FunctionCall.Arguments),
			})
		}
	}
	return calls
}
