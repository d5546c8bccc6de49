package detection

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/menta2k/scene-tracker/pkg/types"
)

// SaliencyConfig holds the tuning weights for the model-free detector.
type SaliencyConfig struct {
	EdgeThreshold  float64 // minimum mean saliency for a window to count
	ContrastWeight float64
	ColorWeight    float64
	MinRegionRatio float64 // minimum region area as a fraction of the frame
	MaxRegions     int
}

// DefaultSaliencyConfig returns the tuning used when no model backend is
// configured.
func DefaultSaliencyConfig() SaliencyConfig {
	return SaliencyConfig{
		EdgeThreshold:  0.01,
		ContrastWeight: 0.3,
		ColorWeight:    0.2,
		MinRegionRatio: 0.05,
		MaxRegions:     10,
	}
}

// SaliencyDetector finds high-contrast regions without a model, for running
// the tracking pipeline against plain camera input. Scores become detection
// confidences so the downstream confidence gate still applies.
type SaliencyDetector struct {
	cfg SaliencyConfig
}

// NewSaliencyDetector creates a detector with default tuning.
func NewSaliencyDetector() *SaliencyDetector {
	return &SaliencyDetector{cfg: DefaultSaliencyConfig()}
}

// NewSaliencyDetectorWithConfig creates a detector with custom tuning.
func NewSaliencyDetectorWithConfig(cfg SaliencyConfig) *SaliencyDetector {
	return &SaliencyDetector{cfg: cfg}
}

// Detect scans the frame with sliding windows over a saliency map and
// returns the highest-scoring regions as unclassified detections.
func (d *SaliencyDetector) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	saliency := d.saliencyMap(img)
	regions := d.scanWindows(saliency, width, height)
	regions = d.filterRegions(regions, width, height)

	if len(regions) > d.cfg.MaxRegions {
		regions = regions[:d.cfg.MaxRegions]
	}

	dets := make([]types.Detection, 0, len(regions))
	for _, r := range regions {
		det := types.Plain(r.box)
		score := r.score
		det.Confidence = &score
		dets = append(dets, det)
	}
	return dets, nil
}

type scoredRegion struct {
	box   types.Box
	score float64
}

// saliencyMap combines per-pixel edge strength and brightness into a single
// score map.
func (d *SaliencyDetector) saliencyMap(img image.Image) [][]float64 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	m := make([][]float64, height)
	for i := range m {
		m[i] = make([]float64, width)
	}

	neighbors := [][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			r1, g1, b1, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			var edgeStrength float64
			for _, off := range neighbors {
				r2, g2, b2, _ := img.At(x+off[0]+bounds.Min.X, y+off[1]+bounds.Min.Y).RGBA()
				dr := float64(r1) - float64(r2)
				dg := float64(g1) - float64(g2)
				db := float64(b1) - float64(b2)
				edgeStrength += math.Sqrt(dr*dr + dg*dg + db*db)
			}
			// 8 neighbors, 16-bit channels
			edgeStrength /= 8.0 * 65535.0

			brightness := (float64(r1) + float64(g1) + float64(b1)) / (3.0 * 65535.0)

			m[y][x] = d.cfg.ContrastWeight*edgeStrength + d.cfg.ColorWeight*brightness
		}
	}
	return m
}

// scanWindows slides square windows of several sizes across the map and
// keeps every window whose mean saliency clears the threshold.
func (d *SaliencyDetector) scanWindows(m [][]float64, width, height int) []scoredRegion {
	var regions []scoredRegion

	windowSizes := []int{width / 20, width / 16, width / 12, width / 8, width / 4}
	for _, size := range windowSizes {
		if size < 10 {
			continue
		}
		step := size / 8
		if step < 1 {
			step = 1
		}
		for y := 0; y <= height-size; y += step {
			for x := 0; x <= width-size; x += step {
				score := windowScore(m, x, y, size, size)
				if score > d.cfg.EdgeThreshold {
					regions = append(regions, scoredRegion{
						box: types.Box{
							X1: float64(x),
							Y1: float64(y),
							X2: float64(x + size),
							Y2: float64(y + size),
						},
						score: score,
					})
				}
			}
		}
	}
	return regions
}

func windowScore(m [][]float64, x, y, w, h int) float64 {
	var total float64
	count := 0
	for ry := y; ry < y+h && ry < len(m); ry++ {
		for rx := x; rx < x+w && rx < len(m[0]); rx++ {
			total += m[ry][rx]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// filterRegions drops regions below the minimum area and sorts the rest by
// score, best first.
func (d *SaliencyDetector) filterRegions(regions []scoredRegion, width, height int) []scoredRegion {
	minArea := float64(width*height) * d.cfg.MinRegionRatio

	filtered := regions[:0]
	for _, r := range regions {
		if r.box.Area() >= minArea {
			filtered = append(filtered, r)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].score > filtered[j].score
	})
	return filtered
}
