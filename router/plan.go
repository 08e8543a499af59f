package router

import "github.com/dispatchfabric/fabric/core"

// DispatchPlan is the Emit-stage output (§4.7 step 5): a filled payload
// ready for the caller to submit through the Dispatch Engine. The router
// never submits it itself — the plan still passes stage 2 schema validation
// like any other envelope, the router never shortcuts that.
type DispatchPlan struct {
	Handler    string
	PayloadTag string
	Payload    []byte
}

// candidate is an internal ranked handler awaiting the Mask step.
type candidate struct {
	reg   core.HandlerRegistration
	score float64
}
