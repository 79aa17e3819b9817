// Package mock provides a test double for llm.Provider.
//
// Configure the response fields before use, then inspect the recorded calls:
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: "D'accord."},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/sirine-ai/sirine/pkg/provider/llm"
)

// Call holds the arguments of one Complete or StreamCompletion invocation.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a scriptable llm.Provider. Zero-value response fields make the
// methods return zero values with nil errors; set the Err fields to inject
// failures. Configure before use, then treat as read-only while the code
// under test runs.
type Provider struct {
	mu sync.Mutex

	// StreamChunks are emitted in order on the StreamCompletion channel,
	// which is then closed.
	StreamChunks []llm.Chunk

	// StreamErr makes StreamCompletion fail without opening a channel.
	StreamErr error

	// CompleteResponse and CompleteErr are returned by Complete.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// TokenCount and CountTokensErr are returned by CountTokens.
	TokenCount     int
	CountTokensErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// StreamCalls and CompleteCalls record invocations in order.
	StreamCalls   []Call
	CompleteCalls []Call
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, Call{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := append([]llm.Chunk(nil), p.StreamChunks...)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, Call{Ctx: ctx, Req: req})
	return p.CompleteResponse, p.CompleteErr
}

func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TokenCount, p.CountTokensErr
}

func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}
