package types

import "fmt"

// Box is an axis-aligned bounding box in pixel coordinates.
// A box is valid only when X2 > X1 and Y2 > Y1.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Valid reports whether the box has positive width and height.
func (b Box) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Width returns the box width in pixels.
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area; non-positive for degenerate boxes.
func (b Box) Area() float64 { return b.Width() * b.Height() }

// Center returns the center point of the box.
func (b Box) Center() (float64, float64) {
	return b.X1 + b.Width()/2, b.Y1 + b.Height()/2
}

// IoU computes the intersection-over-union of two boxes.
// Returns 0 for disjoint boxes and for boxes with non-positive area.
func (b Box) IoU(o Box) float64 {
	if b.Area() <= 0 || o.Area() <= 0 {
		return 0
	}

	x1 := max(b.X1, o.X1)
	y1 := max(b.Y1, o.Y1)
	x2 := min(b.X2, o.X2)
	y2 := min(b.Y2, o.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	inter := (x2 - x1) * (y2 - y1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Fingerprint returns a stable string key for the box, used for
// delivered-annotation dedupe.
func (b Box) Fingerprint() string {
	return fmt.Sprintf("%.1f,%.1f,%.1f,%.1f", b.X1, b.Y1, b.X2, b.Y2)
}

// NormRect is a box in normalized center form: center x/y, width and height
// all in [0,1] relative to the frame dimensions.
type NormRect struct {
	CX float64 `json:"cx"`
	CY float64 `json:"cy"`
	W  float64 `json:"w"`
	H  float64 `json:"h"`
}

// Normalize converts the box to normalized center form relative to a
// frameW×frameH frame. When flipY is set the vertical axis is inverted,
// matching consumers whose origin is bottom-left.
func (b Box) Normalize(frameW, frameH int, flipY bool) NormRect {
	cx, cy := b.Center()
	r := NormRect{
		CX: cx / float64(frameW),
		CY: cy / float64(frameH),
		W:  b.Width() / float64(frameW),
		H:  b.Height() / float64(frameH),
	}
	if flipY {
		r.CY = 1.0 - r.CY
	}
	return r
}

// Detection is one frame-local detector result. ClassID and Confidence are
// optional: a plain region detector leaves both nil, a classifier fills them.
type Detection struct {
	Box        Box      `json:"box"`
	ClassID    *int     `json:"class_id,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Classified builds a detection with class and confidence attached.
func Classified(box Box, classID int, confidence float64) Detection {
	return Detection{Box: box, ClassID: &classID, Confidence: &confidence}
}

// Plain builds a bare-box detection.
func Plain(box Box) Detection {
	return Detection{Box: box}
}

// Class returns the class id or -1 when the detection carries none.
func (d Detection) Class() int {
	if d.ClassID == nil {
		return -1
	}
	return *d.ClassID
}

// Conf returns the confidence or 1.0 when the detection carries none.
func (d Detection) Conf() float64 {
	if d.Confidence == nil {
		return 1.0
	}
	return *d.Confidence
}

// ModelObject is one object reported by a vision model, with a normalized
// top-left box. Field names match the JSON shape the detection prompt asks
// the model to produce.
type ModelObject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
}

// ToBox denormalizes the object's box into pixel coordinates.
func (m ModelObject) ToBox(frameW, frameH int) Box {
	return Box{
		X1: m.X * float64(frameW),
		Y1: m.Y * float64(frameH),
		X2: (m.X + m.W) * float64(frameW),
		Y2: (m.Y + m.H) * float64(frameH),
	}
}

// SceneObjects is the structured payload DetectObjects asks a model for.
type SceneObjects struct {
	Objects []ModelObject `json:"objects"`
}
