// Package llm abstracts the text-completion backends behind a single
// Provider interface. Implementations wrap remote APIs (OpenAI, Anthropic,
// Gemini) or local runtimes (Ollama), letting the conversation layer switch
// or fail over without touching any vendor SDK.
//
// Implementations must tolerate concurrent calls and close any channel they
// hand out when the stream ends or the context is cancelled.
package llm

import "context"

// Usage is the backend's token accounting for one exchange. Counts are in
// the model's own token unit, so the same text yields different numbers on
// different backends.
type Usage struct {
	// PromptTokens covers the input messages and system prompt. It is what
	// billing and context budgeting track.
	PromptTokens int

	// CompletionTokens covers the generated response.
	CompletionTokens int

	// TotalTokens is the sum. Some backends report it directly.
	TotalTokens int
}

// CompletionRequest carries one model invocation. Messages must not be
// empty.
type CompletionRequest struct {
	// Messages is the conversation so far, oldest first.
	Messages []Message

	// Tools the model may call. Check Capabilities().SupportsToolCalling
	// before offering any.
	Tools []ToolDefinition

	// Temperature runs 0.0 to 2.0. Zero asks for near-greedy decoding.
	Temperature float64

	// MaxTokens caps the completion length. Zero means backend default.
	MaxTokens int

	// SystemPrompt is injected ahead of the history. Backends without a
	// native system slot prepend it as a "system" role message.
	SystemPrompt string
}

// Chunk is one streamed completion fragment. Text, FinishReason, and
// ToolCalls can appear in any combination on the same chunk.
type Chunk struct {
	// Text is the incremental content, possibly empty.
	Text string

	// FinishReason is set on the last chunk: "stop", "length",
	// "tool_calls", or "error" when the stream died mid-flight.
	FinishReason string

	// ToolCalls are tool invocations the model requests. Streaming
	// backends deliver them assembled, not fragmented.
	ToolCalls []ToolCall
}

// CompletionResponse is the blocking counterpart of a chunk stream.
type CompletionResponse struct {
	// Content is the full reply. Empty when the model only calls tools.
	Content string

	// ToolCalls the caller must execute and feed back as "tool" messages.
	ToolCalls []ToolCall

	// Usage is the token accounting for this exchange.
	Usage Usage
}

// Provider is one text-completion backend.
//
// All methods must honor context cancellation promptly, returning or closing
// their channel as soon as ctx is done.
type Provider interface {
	// StreamCompletion starts a completion and returns the chunk channel,
	// which the implementation closes when generation ends. The error
	// return covers failures to start the stream; later failures arrive as
	// a chunk with FinishReason "error". Callers drain the channel.
	//
	// A nil error implies a non-nil channel.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete blocks for the whole response. Use it when incremental
	// output is not needed.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the context-window cost of messages. The
	// estimate may be approximate but should not undercount, since the
	// conversation layer uses it to stay inside the model's window.
	CountTokens(messages []Message) (int, error)

	// Capabilities describes the underlying model. Constant for the life
	// of the Provider.
	Capabilities() ModelCapabilities
}
