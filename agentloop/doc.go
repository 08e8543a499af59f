// Package agentloop implements the Agent Loop (§4.8): the single
// state-machine handler every reasoning agent in the fabric ultimately is.
// AwaitingTask -> Thinking -> AwaitingToolResults -> Thinking -> ... ->
// Done | Failed, one instance of the cycle per thread.
//
// Conversation history is reconstructed on every invocation from the
// Context Store's live view (§4.4) rather than held in an in-memory map,
// so the loop survives a kernel restart exactly as durably as the rest of
// the fabric: there is no agent state anywhere that isn't also a context
// segment. The loop cycle itself and its tool-call/tool-result split are
// grounded on the teacher's flow.BaseFlow.runOnce and agent iteration
// pattern, generalized from BaseFlow's in-process channel loop to two
// separate Handler entry points (task vs. tool result) since a real
// envelope round trip, not a Go channel, separates "dispatch a tool call"
// from "receive its result" here.
package agentloop
