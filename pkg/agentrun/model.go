package agentrun

import "context"

// ModelEventKind discriminates a capability-stream event.
type ModelEventKind string

const (
	ModelTextDelta   ModelEventKind = "text-delta"
	ModelToolCall    ModelEventKind = "tool-call-request"
	ModelFinish      ModelEventKind = "finish"
	ModelError       ModelEventKind = "error"
)

// ModelEvent is one item in the lazy sequence a Stream call produces. The
// driver is model-agnostic: it only orchestrates these events, it never
// generates them.
type ModelEvent struct {
	Kind ModelEventKind

	TextDelta string

	ToolCallID   string
	ToolName     string
	ToolArgs     string // raw JSON

	FinishText string

	Err         error
	Retryable   bool
}

// ToolSpec describes one tool available to the model, after the agent's
// allow/deny policy filter has been applied.
type ToolSpec struct {
	Name        string
	Description string
	Schema      string // raw JSON Schema for the tool's arguments
}

// Prompt is the assembled input to one model call: system events drained
// into a prelude, the flushed inbound composite, and prior-turn transcript
// head per the agent's configured context window.
type Prompt struct {
	SystemPrelude []string
	Inputs        []string
	History       []HistoryTurn
}

// HistoryTurn is one prior exchange carried into the prompt's context
// window.
type HistoryTurn struct {
	Role    string
	Content string
}

// Capability is the model-provider adapter the driver consumes. Concrete
// implementations (HTTP clients to a specific provider) are explicitly out
// of this repository's scope; the driver depends only on this interface.
type Capability interface {
	Stream(ctx context.Context, prompt Prompt, tools []ToolSpec) (<-chan ModelEvent, error)
}
