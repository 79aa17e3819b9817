package llm

// Message is one entry in a conversation history.
type Message struct {
	// Role is "system", "user", "assistant", or "tool".
	Role string

	// Content is the message text.
	Content string

	// Name distinguishes participants when a role has several speakers.
	Name string

	// ToolCalls carries the tool invocations an assistant message requests.
	ToolCalls []ToolCall

	// ToolCallID ties a "tool" message back to the call it answers.
	ToolCallID string
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call.
	ID string

	// Name is the function name.
	Name string

	// Arguments holds the JSON-encoded argument object.
	Arguments string
}

// ToolDefinition describes one tool offered to the model. The same
// definitions serve live sessions and text completions.
type ToolDefinition struct {
	// Name uniquely identifies the tool.
	Name string

	// Description tells the model what the tool does.
	Description string

	// Parameters is the JSON Schema for the tool's input.
	Parameters map[string]any

	// EstimatedDurationMs is the declared p50 latency. A voice turn stalls
	// while a tool runs, so dispatchers use this to pick timeouts.
	EstimatedDurationMs int

	// MaxDurationMs is the declared p99 upper bound, used as a hard timeout.
	MaxDurationMs int

	// Idempotent marks tools that can be retried without side effects.
	Idempotent bool

	// CacheableSeconds is how long a result may be reused, 0 for never.
	CacheableSeconds int
}

// ModelCapabilities reports what the underlying model can do.
type ModelCapabilities struct {
	// ContextWindow caps input plus output tokens.
	ContextWindow int

	// MaxOutputTokens caps a single completion.
	MaxOutputTokens int

	// SupportsToolCalling reports native function calling.
	SupportsToolCalling bool

	// SupportsVision reports image input support.
	SupportsVision bool

	// SupportsStreaming reports streaming completion support.
	SupportsStreaming bool
}
