package resilience

import (
	"context"

	"github.com/sirine-ai/sirine/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over across backends. Each
// backend sits behind its own circuit breaker, so a flapping primary is
// skipped until its breaker recovers.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback wraps primary as the preferred backend. Register more
// backends with AddFallback in preference order.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers a backend tried after the ones already registered.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete runs the request on the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a chunk stream on the first healthy backend. Failover
// covers the initial connection only; errors after the stream is up are the
// caller's to handle.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens delegates to the first healthy backend's counter.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary's capabilities. Static metadata does not
// fail over.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	if p, ok := f.group.primary(); ok {
		return p.Capabilities()
	}
	return llm.ModelCapabilities{}
}
