// Package mock provides a test double for the imagen package.
package mock

import (
	"context"
	"sync"

	"github.com/sirine-ai/sirine/pkg/provider/imagen"
)

// Provider is a mock implementation of imagen.Provider.
type Provider struct {
	mu sync.Mutex

	// Img is returned by Generate on success.
	Img imagen.Image

	// GenerateErr, if non-nil, is returned as the error from Generate.
	GenerateErr error

	// Prompts records every prompt passed to Generate.
	Prompts []string
}

// Generate records the prompt and returns Img, GenerateErr.
func (p *Provider) Generate(_ context.Context, prompt string) (imagen.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Prompts = append(p.Prompts, prompt)
	if p.GenerateErr != nil {
		return imagen.Image{}, p.GenerateErr
	}
	return p.Img, nil
}

// GeneratedPrompts returns a snapshot of recorded prompts. Thread-safe.
func (p *Provider) GeneratedPrompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Prompts))
	copy(out, p.Prompts)
	return out
}

var _ imagen.Provider = (*Provider)(nil)
