// Package detection produces per-frame object detections, either from a
// vision model or from a model-free saliency pass.
package detection

import (
	"context"
	"image"
	"strings"

	"github.com/menta2k/scene-tracker/pkg/client"
	"github.com/menta2k/scene-tracker/pkg/processing"
	"github.com/menta2k/scene-tracker/pkg/types"
)

// DefaultPrompt asks the model for every locatable object as strict JSON.
const DefaultPrompt = `You are an object locator.

Return JSON only:
{
  "objects": [
    {"label": "string", "confidence": 0.0, "x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}
  ]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels); x,y is the box top-left.
- One entry per distinct visible object; tight boxes.
- Label must be one of the allowed labels if provided, else a short lowercase noun.
- If nothing is visible, return {"objects": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Detector produces detections for one frame.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]types.Detection, error)
}

// FilterValid drops detections with degenerate boxes or confidence below
// minConf. Detections without a confidence pass the threshold unconditionally.
func FilterValid(dets []types.Detection, minConf float64) []types.Detection {
	out := dets[:0]
	for _, d := range dets {
		if !d.Box.Valid() {
			continue
		}
		if d.Confidence != nil && *d.Confidence < minConf {
			continue
		}
		out = append(out, d)
	}
	return out
}

// ModelDetector asks a vision model to locate objects in the frame. Labels
// defines the closed class vocabulary: a reported label's position in the
// slice becomes the detection's class id, and unknown labels are dropped.
type ModelDetector struct {
	client client.VisionClient
	model  string
	prompt string
	labels []string
}

// NewModelDetector creates a detector over the given backend and model.
// An empty labels slice accepts every reported object with class id -1.
func NewModelDetector(c client.VisionClient, model string, labels []string) *ModelDetector {
	prompt := DefaultPrompt
	if len(labels) > 0 {
		prompt += "\nAllowed labels: " + strings.Join(labels, ", ")
	}
	return &ModelDetector{client: c, model: model, prompt: prompt, labels: labels}
}

// Detect encodes the frame, queries the model and maps the reported objects
// into pixel-space detections.
func (d *ModelDetector) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	b64, err := processing.EncodeForModel(img)
	if err != nil {
		return nil, err
	}

	scene, err := d.client.DetectObjects(ctx, d.model, d.prompt, b64)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var dets []types.Detection
	for _, obj := range scene.Objects {
		box := obj.ToBox(w, h)
		if !box.Valid() {
			continue
		}
		if len(d.labels) == 0 {
			det := types.Plain(box)
			conf := obj.Confidence
			det.Confidence = &conf
			dets = append(dets, det)
			continue
		}
		class := d.classIndex(obj.Label)
		if class < 0 {
			continue
		}
		dets = append(dets, types.Classified(box, class, obj.Confidence))
	}
	return dets, nil
}

func (d *ModelDetector) classIndex(label string) int {
	label = strings.ToLower(strings.TrimSpace(label))
	for i, l := range d.labels {
		if l == label {
			return i
		}
	}
	return -1
}
