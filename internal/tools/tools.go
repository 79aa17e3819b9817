// Package tools implements the assistant's function-calling surface: the
// tool schemas advertised to the model and the dispatcher that executes
// incoming tool invocations against the state store.
//
// Dispatch never returns an error to the caller. Every invocation resolves
// to a result string that is sent back to the model, so a failed poster
// generation or a malformed argument payload becomes a spoken explanation
// instead of a dropped turn. Result strings are user-facing and therefore
// written in the assistant's language (French).
package tools

import (
	"context"
	"log/slog"

	"github.com/sirine-ai/sirine/internal/store"
	"github.com/sirine-ai/sirine/pkg/provider/imagen"
	"github.com/sirine-ai/sirine/pkg/provider/live"
	"github.com/sirine-ai/sirine/pkg/provider/llm"
)

// Tool names as advertised to the model.
const (
	ToolGeneratePoster = "generateMarketingPoster"
	ToolReportLead     = "sendSalesLeadReport"
	ToolManageTodo     = "manageTodoList"
)

// resultInvalidArgs is returned when a tool's argument payload cannot be
// decoded or misses a required field.
const resultInvalidArgs = "Arguments invalides."

// Dispatcher routes tool invocations from a live session to their handlers.
//
// All handlers mutate the shared [store.StateStore]; the dispatcher itself
// holds no mutable state and is safe for concurrent use.
type Dispatcher struct {
	store  store.StateStore
	images imagen.Provider
	log    *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for tool execution events.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// NewDispatcher creates a Dispatcher backed by the given state store and
// image generation provider. images may be nil, in which case poster
// generation resolves to its failure string.
func NewDispatcher(st store.StateStore, images imagen.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  st,
		images: images,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Declarations returns the tool schemas offered to the model during session
// setup. Descriptions are part of the prompt and stay in French to match the
// assistant's persona.
func (d *Dispatcher) Declarations() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        ToolReportLead,
			Description: "Enregistre un nouveau prospect (lead) dans le registre commercial.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"customerName": map[string]any{"type": "string"},
					"customerPhone": map[string]any{
						"type":        "string",
						"description": "Le numéro de téléphone du client.",
					},
					"interestedProducts": map[string]any{"type": "string"},
					"summary":            map[string]any{"type": "string"},
					"urgency": map[string]any{
						"type": "string",
						"enum": []string{"normal", "urgent"},
					},
				},
				"required": []string{"customerName", "interestedProducts", "summary"},
			},
			EstimatedDurationMs: 10,
			MaxDurationMs:       50,
		},
		{
			Name:        ToolManageTodo,
			Description: "Ajoute ou modifie des tâches dans la liste administrative.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{
						"type": "string",
						"enum": []string{"add", "list", "complete", "delete"},
					},
					"taskText": map[string]any{"type": "string"},
					"taskId":   map[string]any{"type": "string"},
				},
				"required": []string{"action"},
			},
			EstimatedDurationMs: 10,
			MaxDurationMs:       50,
		},
		{
			Name:        ToolGeneratePoster,
			Description: "Génère un visuel publicitaire haute qualité pour une machine.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"prompt": map[string]any{
						"type":        "string",
						"description": "Le sujet du poster marketing.",
					},
				},
				"required": []string{"prompt"},
			},
			EstimatedDurationMs: 4000,
			MaxDurationMs:       30000,
		},
	}
}

// Dispatch executes a single tool invocation and returns the result string
// to send back to the model. Unknown tool names resolve to a refusal rather
// than an error so the model can recover in conversation.
func (d *Dispatcher) Dispatch(ctx context.Context, inv live.ToolInvocation) string {
	switch inv.Name {
	case ToolGeneratePoster:
		return d.generatePoster(ctx, inv.Args)
	case ToolReportLead:
		return d.reportLead(inv.Args)
	case ToolManageTodo:
		return d.manageTodo(inv.Args)
	default:
		d.log.Warn("unknown tool invocation", "tool", inv.Name, "id", inv.ID)
		return "Outil inconnu."
	}
}
