package client

import (
	"context"

	"github.com/menta2k/scene-tracker/pkg/types"
)

// VisionClient abstracts the model backend. Describe returns free-form
// text; imgB64 may be empty for text-only prompts (window commentary).
// DetectObjects asks the model for structured object locations.
type VisionClient interface {
	Describe(ctx context.Context, model, prompt, imgB64 string) (string, error)
	DetectObjects(ctx context.Context, model, prompt, imgB64 string) (*types.SceneObjects, error)
}
