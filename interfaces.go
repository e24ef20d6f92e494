package pipeweaver

import "context"

// Invoker is the tool invocation boundary consumed by the engine. The real
// mechanism (direct call, RPC, subprocess) is pluggable; the engine is
// agnostic to tool internals.
type Invoker interface {
	// Invoke runs the tool identified by toolID against a request payload
	// derived from the run's execution context and returns the tool's
	// response payload.
	Invoke(ctx context.Context, toolID string, request map[string]interface{}) (map[string]interface{}, error)
}

// Agent is the reasoning-agent boundary consumed by the bridge.
type Agent interface {
	// Send opens a round trip: the full conversation history plus the
	// declared capability schemas. The reply may carry structured call
	// requests.
	Send(ctx context.Context, history []ChatMessage, capabilities []FunctionSchema) (*AgentReply, error)

	// SendFollowUp relays the results of the previous reply's call
	// requests and returns the agent's next reply.
	SendFollowUp(ctx context.Context, results []ToolCallResult) (*AgentReply, error)
}

// Engine executes one run over a pipeline snapshot. Implementations must
// run steps strictly sequentially and record every emitted entry on the
// run before starting the next step.
type Engine interface {
	ExecuteRun(ctx context.Context, run *Run) ([]LogEntry, error)
}

// History stores the ordered conversation owned by the bridge. It persists
// across runs until an explicit reset.
type History interface {
	Append(ctx context.Context, msg ChatMessage) error
	Messages(ctx context.Context) ([]ChatMessage, error)
	Reset(ctx context.Context) error
}
