package core

// ResponseKind discriminates the closed set of variants a Handler may return
// (§4.1 stage 5). Handlers are registered values, not subtypes (§9) — the
// engine interacts with a Response purely through this tagged union.
type ResponseKind string

const (
	ResponseReply     ResponseKind = "Reply"
	ResponseSend      ResponseKind = "Send"
	ResponseBroadcast ResponseKind = "Broadcast"
	ResponseSilence   ResponseKind = "Silence"
	ResponseError     ResponseKind = "Error"
)

// Output is one addressed payload produced by a handler, destined to become
// a new Envelope after stage-6 response schema validation.
type Output struct {
	Target     string // handler/sender name the new envelope is addressed to; empty means "back to original sender"
	Payload    []byte
	PayloadTag string
}

// Response is the tagged-variant return value of Handler.Handle.
type Response struct {
	Kind ResponseKind

	// Reply / Send carry exactly one Output (Target empty for Reply).
	// Broadcast carries one Output per target.
	Outputs []Output

	// Error carries a structured failure; only meaningful when Kind == ResponseError.
	ErrorKind    ErrorKind
	ErrorMessage string
}

// Reply constructs a Response addressed back to the original sender.
func Reply(payload []byte, tag string) Response {
	return Response{Kind: ResponseReply, Outputs: []Output{{Payload: payload, PayloadTag: tag}}}
}

// Send constructs a Response addressed to a specific target handler/thread.
func Send(target string, payload []byte, tag string) Response {
	return Response{Kind: ResponseSend, Outputs: []Output{{Target: target, Payload: payload, PayloadTag: tag}}}
}

// Broadcast constructs a Response fanning out to several targets.
func Broadcast(outputs []Output) Response {
	return Response{Kind: ResponseBroadcast, Outputs: outputs}
}

// Silence constructs a Response that produces no payload; the engine
// synthesizes an Ack to the original sender so any awaiter unblocks.
func Silence() Response {
	return Response{Kind: ResponseSilence}
}

// ErrorResponse constructs a Response signalling handler-side failure.
func ErrorResponse(kind ErrorKind, message string) Response {
	return Response{Kind: ResponseError, ErrorKind: kind, ErrorMessage: message}
}
