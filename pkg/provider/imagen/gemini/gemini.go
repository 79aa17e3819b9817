// Package gemini implements the imagen.Provider interface using the Gemini
// generateContent REST API with an image-output model.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirine-ai/sirine/pkg/provider/imagen"
)

var _ imagen.Provider = (*Provider)(nil)

const (
	defaultModel   = "gemini-2.5-flash-image"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultTimeout = 60 * time.Second
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the image generation model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the API base URL. Used in tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements imagen.Provider against the Gemini REST API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a Gemini image generation provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type generateRequest struct {
	Contents contents `json:"contents"`
}

type contents struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate implements imagen.Provider.
func (p *Provider) Generate(ctx context.Context, prompt string) (imagen.Image, error) {
	body, err := json.Marshal(generateRequest{
		Contents: contents{Parts: []part{{Text: prompt}}},
	})
	if err != nil {
		return imagen.Image{}, fmt.Errorf("gemini imagen: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return imagen.Image{}, fmt.Errorf("gemini imagen: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return imagen.Image{}, fmt.Errorf("gemini imagen: do: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return imagen.Image{}, fmt.Errorf("gemini imagen: read body: %w", err)
	}

	var gr generateResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return imagen.Image{}, fmt.Errorf("gemini imagen: decode: %w", err)
	}
	if gr.Error != nil {
		return imagen.Image{}, fmt.Errorf("gemini imagen: api error %d: %s", gr.Error.Code, gr.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return imagen.Image{}, fmt.Errorf("gemini imagen: status %d", resp.StatusCode)
	}

	for _, c := range gr.Candidates {
		for _, pt := range c.Content.Parts {
			if pt.InlineData == nil {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(pt.InlineData.Data)
			if err != nil {
				return imagen.Image{}, fmt.Errorf("gemini imagen: decode image data: %w", err)
			}
			return imagen.Image{MIMEType: pt.InlineData.MIMEType, Data: raw}, nil
		}
	}
	return imagen.Image{}, fmt.Errorf("gemini imagen: no image in response")
}
