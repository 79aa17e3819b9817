package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirine-ai/sirine/internal/store"
)

// Result strings for poster generation, spoken back by the model.
const (
	resultPosterOK     = "Poster marketing généré dans le studio."
	resultPosterFailed = "Echec technique de la génération."
)

// posterPromptFormat wraps the model-provided subject into the brand's
// house style before it reaches the image model.
const posterPromptFormat = "Professional commercial photography of %s for T.T.A Distribution Tunis, high-end Italian style, 4k resolution."

type posterArgs struct {
	Prompt string `json:"prompt"`
}

func (d *Dispatcher) generatePoster(ctx context.Context, raw json.RawMessage) string {
	var args posterArgs
	if err := json.Unmarshal(raw, &args); err != nil || args.Prompt == "" {
		d.log.Warn("poster tool called with bad arguments", "err", err)
		return resultInvalidArgs
	}

	if d.images == nil {
		d.store.AddLog(store.LogError, "Échec de génération d'image marketing via AI.")
		return resultPosterFailed
	}

	// Image generation counts as a model request of its own.
	d.store.IncrementRequests()

	img, err := d.images.Generate(ctx, fmt.Sprintf(posterPromptFormat, args.Prompt))
	if err != nil {
		d.log.Error("poster generation failed", "err", err, "prompt", args.Prompt)
		d.store.AddLog(store.LogError, "Échec de génération d'image marketing via AI.")
		return resultPosterFailed
	}

	d.store.AddGeneratedImage(img.DataURI(), args.Prompt)
	d.store.AddLog(store.LogAI, fmt.Sprintf("Studio : Poster généré avec succès pour %q", args.Prompt))
	return resultPosterOK
}
