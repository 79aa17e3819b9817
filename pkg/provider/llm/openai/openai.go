// Package openai implements llm.Provider against the official OpenAI Go
// SDK. It exists alongside the anyllm adapter because the native SDK
// surfaces typed request options (organization, per-request timeout) that
// the generic path does not.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/sirine-ai/sirine/pkg/provider/llm"
)

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// clientOptions translates the config into SDK request options.
func (c *config) clientOptions(apiKey string) []option.RequestOption {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
	}
	if c.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(c.organization))
	}
	if c.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: c.timeout,
		}))
	}
	return reqOpts
}

// Option configures a Provider.
type Option func(*config)

// WithBaseURL overrides the API base URL, which also makes the provider
// usable against OpenAI-compatible gateways.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New returns a Provider for the given API key and model.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	return &Provider{
		client: oai.NewClient(cfg.clientOptions(apiKey)...),
		model:  model,
	}, nil
}

// toolCallAccumulator reassembles tool calls streamed as fragments. The API
// splits one call's arguments across many deltas, keyed by index.
type toolCallAccumulator map[int]*llm.ToolCall

func (a toolCallAccumulator) add(idx int, id, name, args string) {
	acc, ok := a[idx]
	if !ok {
		acc = &llm.ToolCall{}
		a[idx] = acc
	}
	if id != "" {
		acc.ID = id
	}
	if name != "" {
		acc.Name = name
	}
	acc.Arguments += args
}

// drain returns the completed calls in index order.
func (a toolCallAccumulator) drain() []llm.ToolCall {
	var out []llm.ToolCall
	for i := 0; i < len(a); i++ {
		if tc, ok := a[i]; ok {
			out = append(out, *tc)
		}
	}
	return out
}

// StreamCompletion implements llm.Provider. Tool call fragments are
// reassembled and emitted with the finishing chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		calls := toolCallAccumulator{}

		for stream.Next() {
			ev := stream.Current()
			if len(ev.Choices) == 0 {
				continue
			}
			choice := ev.Choices[0]

			for _, tc := range choice.Delta.ToolCalls {
				calls.add(int(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)
			}

			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			if choice.FinishReason == "tool_calls" || (choice.FinishReason != "" && len(calls) > 0) {
				out.ToolCalls = calls.drain()
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Complete implements llm.Provider with a single blocking request.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}
	return convertResponse(resp), nil
}

// convertResponse lifts the first choice and usage counters out of an SDK
// completion.
func convertResponse(resp *oai.ChatCompletion) *llm.CompletionResponse {
	choice := resp.Choices[0]
	out := &llm.CompletionResponse{
		Content: choice.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

// CountTokens implements llm.Provider with the rough four-characters-per-token
// heuristic for GPT-series models, plus a small per-message overhead for role
// and formatting tokens.
// TODO: swap in tiktoken-go when per-model accuracy starts to matter.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

// modelFamilies adjusts the default limits per model family. Most specific
// prefix first; the first match wins.
var modelFamilies = []struct {
	prefix string
	apply  func(*llm.ModelCapabilities)
}{
	{"gpt-4o", func(c *llm.ModelCapabilities) {
		c.MaxOutputTokens = 16_384
		c.SupportsVision = true
	}},
	{"gpt-4-turbo", func(c *llm.ModelCapabilities) {
		c.SupportsVision = true
	}},
	{"gpt-4", func(c *llm.ModelCapabilities) {
		c.ContextWindow = 8_192
	}},
	{"gpt-3.5-turbo", func(c *llm.ModelCapabilities) {
		c.ContextWindow = 16_385
	}},
	// o1-mini streams but does not take tools.
	{"o1-mini", func(c *llm.ModelCapabilities) {
		c.MaxOutputTokens = 65_536
		c.SupportsToolCalling = false
	}},
	{"o3-mini", func(c *llm.ModelCapabilities) {
		c.ContextWindow = 200_000
		c.MaxOutputTokens = 100_000
	}},
	{"o1", func(c *llm.ModelCapabilities) {
		c.ContextWindow = 200_000
		c.MaxOutputTokens = 100_000
		c.SupportsVision = true
	}},
	{"o3", func(c *llm.ModelCapabilities) {
		c.ContextWindow = 200_000
		c.MaxOutputTokens = 100_000
		c.SupportsVision = true
	}},
}

// modelCapabilities maps a model name to its limits. Unknown models get
// gpt-4o-class defaults so newly released models work without a code change.
func modelCapabilities(model string) llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}
	lower := strings.ToLower(model)
	for _, fam := range modelFamilies {
		if strings.HasPrefix(lower, fam.prefix) {
			fam.apply(&caps)
			break
		}
	}
	return caps
}

// buildParams translates a CompletionRequest into SDK request params. A
// non-empty SystemPrompt becomes the leading system message.
func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}

	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
		Tools:    convertTools(req.Tools),
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}

func convertTools(defs []llm.ToolDefinition) []oai.ChatCompletionToolParam {
	var tools []oai.ChatCompletionToolParam
	for _, td := range defs {
		tools = append(tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}
	return tools
}

// convertMessage maps one conversation message onto the SDK's union type.
// Assistant messages carry their tool calls; tool messages carry the call ID
// they answer.
func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil

	case "user":
		return oai.UserMessage(m.Content), nil

	case "assistant":
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		if m.Name != "" {
			asst.Name = oai.String(m.Name)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	case "tool":
		return oai.ToolMessage(m.Content, m.ToolCallID), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
