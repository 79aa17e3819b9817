// Package openai implements the imagen.Provider interface using the OpenAI
// Images API.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sirine-ai/sirine/pkg/provider/imagen"
)

// DefaultModel is the default OpenAI image model.
const DefaultModel = oai.ImageModelDallE3

var _ imagen.Provider = (*Provider)(nil)

// Provider implements imagen.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI image generation Provider.
// If model is empty, DefaultModel (dall-e-3) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai imagen: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Generate implements imagen.Provider.
func (p *Provider) Generate(ctx context.Context, prompt string) (imagen.Image, error) {
	resp, err := p.client.Images.Generate(ctx, oai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          p.model,
		ResponseFormat: oai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return imagen.Image{}, fmt.Errorf("openai imagen: generate: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return imagen.Image{}, fmt.Errorf("openai imagen: empty response")
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return imagen.Image{}, fmt.Errorf("openai imagen: decode image data: %w", err)
	}
	return imagen.Image{MIMEType: "image/png", Data: raw}, nil
}
