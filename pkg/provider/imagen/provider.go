// Package imagen defines the Provider interface for image generation
// backends, used by the marketing poster tool.
package imagen

import (
	"context"
	"encoding/base64"
	"fmt"
)

// Image is one generated image.
type Image struct {
	// MIMEType of Data, e.g. "image/png".
	MIMEType string

	// Data is the raw image bytes.
	Data []byte
}

// DataURI renders the image as a data URI suitable for direct display.
func (i Image) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", i.MIMEType, base64.StdEncoding.EncodeToString(i.Data))
}

// Provider is the abstraction over an image generation backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Generate produces one image for the prompt. Implementations should
	// honour ctx cancellation; generation can take tens of seconds.
	Generate(ctx context.Context, prompt string) (Image, error)
}
