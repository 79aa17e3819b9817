package anyllm

import (
	"strings"

	"github.com/sirine-ai/sirine/pkg/provider/llm"
)

// capsRule binds a model-name pattern to its capabilities. Rules are checked
// in order, so specific names must precede their family catch-alls.
type capsRule struct {
	prefixes []string
	contains []string
	caps     llm.ModelCapabilities
}

func (r capsRule) matches(model string) bool {
	for _, p := range r.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	for _, c := range r.contains {
		if strings.Contains(model, c) {
			return true
		}
	}
	return false
}

var capsRules = []capsRule{
	// OpenAI GPT-4o family.
	{prefixes: []string{"gpt-4o-mini", "gpt-4o"}, caps: llm.ModelCapabilities{
		SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true,
		ContextWindow: 128_000, MaxOutputTokens: 16_384,
	}},
	{prefixes: []string{"gpt-4-turbo"}, caps: llm.ModelCapabilities{
		SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true,
		ContextWindow: 128_000, MaxOutputTokens: 4_096,
	}},
	{prefixes: []string{"gpt-4"}, caps: llm.ModelCapabilities{
		SupportsToolCalling: true, SupportsStreaming: true,
		ContextWindow: 8_192, MaxOutputTokens: 4_096,
	}},
	{prefixes: []string{"gpt-3.5-turbo"}, caps: llm.ModelCapabilities{
		SupportsToolCalling: true, SupportsStreaming: true,
		ContextWindow: 16_385, MaxOutputTokens: 4_096,
	}},

	// OpenAI o-series. o1-mini is the odd one out with no tool calling.
	{prefixes: []string{"o1-mini"}, caps: llm.ModelCapabilities{
		SupportsStreaming: true,
		ContextWindow:     128_000, MaxOutputTokens: 65_536,
	}},
	{prefixes: []string{"o1"}, caps: llm.ModelCapabilities{
		SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true,
		ContextWindow: 200_000, MaxOutputTokens: 100_000,
	}},
	{prefixes: []string{"o3-mini"}, caps: llm.ModelCapabilities{
		SupportsToolCalling: true, SupportsStreaming: true,
		ContextWindow: 200_000, MaxOutputTokens: 100_000,
	}},
	{prefixes: []string{"o3"}, caps: llm.ModelCapabilities{
		SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true,
		ContextWindow: 200_000, MaxOutputTokens: 100_000,
	}},

	// Anthropic Claude.
	{contains: []string{"claude-3-5-sonnet", "claude-3-sonnet", "claude-3-5-haiku", "claude-3-haiku"}, caps: llm.ModelCapabilities{
		SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true,
		ContextWindow: 200_000, MaxOutputTokens: 8_192,
	}},
	{contains: []string{"claude-3-opus"}, caps: llm.ModelCapabilities{
		SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true,
		ContextWindow: 200_000, MaxOutputTokens: 4_096,
	}},
	{prefixes: []string{"claude"}, caps: llm.ModelCapabilities{
		SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true,
		ContextWindow: 200_000, MaxOutputTokens: 8_192,
	}},

	// Google Gemini.
	{contains: []string{"gemini-2.0-flash", "gemini-1.5-flash"}, caps: llm.ModelCapabilities{
		SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true,
		ContextWindow: 1_048_576, MaxOutputTokens: 8_192,
	}},
	{contains: []string{"gemini-1.5-pro"}, caps: llm.ModelCapabilities{
		SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true,
		ContextWindow: 2_097_152, MaxOutputTokens: 8_192,
	}},
	{prefixes: []string{"gemini"}, caps: llm.ModelCapabilities{
		SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true,
		ContextWindow: 128_000, MaxOutputTokens: 8_192,
	}},
}

// defaultCaps covers models the table does not know. Streaming and tool
// calling are assumed since nearly every current chat model has both.
var defaultCaps = llm.ModelCapabilities{
	SupportsToolCalling: true,
	SupportsStreaming:   true,
	ContextWindow:       128_000,
	MaxOutputTokens:     4_096,
}

// modelCapabilities looks up a model's limits by name, case-insensitively.
func modelCapabilities(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, r := range capsRules {
		if r.matches(lower) {
			return r.caps
		}
	}
	return defaultCaps
}
