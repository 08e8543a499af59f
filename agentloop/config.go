package agentloop

import (
	"github.com/dispatchfabric/fabric/logging"
	"github.com/dispatchfabric/fabric/model"
)

// Well-known payload tags an organism's routing config binds the loop's two
// handler entry points to (§4.8, §6). Only a naming convention — the wiring
// that binds these tags to a profile's dispatch table lives in organism/.
const (
	AgentResponseTag = "AgentResponse"
	ToolResultTag    = "ToolResult"
)

// Config tunes one Loop instance.
type Config struct {
	// SystemPrompt is prepended as the instructions field of every model
	// request this loop issues (§6 "named prompt blocks" composition is an
	// organism/-level concern; by the time it reaches the loop it is one
	// flattened string).
	SystemPrompt string
	// MaxIterations bounds inference calls per thread (§4.8 testable
	// property 9). Zero means unbounded.
	MaxIterations int
	// Tools declares the function-calling surface offered to the model on
	// every request, one entry per peer handler the organism's dispatch
	// table makes reachable to this agent (SPEC_FULL §3 "peers"). Without
	// this, a real model provider has nothing to call and "Thinking ->
	// AwaitingToolResults" never triggers.
	Tools []model.ToolDefinition
}

// Options configures a Loop using the fabric's functional-options
// convention.
type Options struct {
	Config Config
	Logger logging.Logger
}
