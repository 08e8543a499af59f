package dispatch

import "github.com/dispatchfabric/fabric/core"

// AckOutcome classifies how a submission was ultimately resolved.
type AckOutcome string

const (
	// AckDelivered means the envelope reached a handler that returned
	// outputs and at least one of them passed response-schema validation;
	// any output that failed is journaled and dropped on its own.
	AckDelivered AckOutcome = "Delivered"
	// AckSilence means the handler returned Silence; the engine synthesized
	// an Ack so the submitter unblocks (§4.1 stage 5).
	AckSilence AckOutcome = "Silence"
	// AckRejected means some stage rejected the envelope before a handler
	// ran, the handler returned an Error response, or every one of the
	// handler's outputs was rejected before re-entry.
	AckRejected AckOutcome = "Rejected"
)

// Acknowledgement is the return value of submit(envelope) (§4.1). It never
// carries handler output bytes directly — those arrive as separate
// re-entered envelopes delivered to their own targets — only the outcome of
// the original submission.
type Acknowledgement struct {
	EnvelopeID string
	ThreadID   string
	Outcome    AckOutcome
	Err        *core.FabricError
}
