package annotate

import (
	"context"
	"image"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/menta2k/scene-tracker/pkg/client"
	"github.com/menta2k/scene-tracker/pkg/processing"
	"github.com/menta2k/scene-tracker/pkg/types"
)

// DefaultPrompt asks the model for a short poetic fragment about the crop.
const DefaultPrompt = `Describe this image fragment in one short evocative sentence.
No preamble, no quotes, at most 12 words.`

// WorkerConfig tunes the annotation producer.
type WorkerConfig struct {
	Interval      time.Duration // how often a new region is attempted
	Timeout       time.Duration // per-description model deadline
	MaxAttempts   int           // region placement attempts per tick
	MaxOverlap    float64       // maximum IoU against active annotations
	MinRegionFrac float64       // region side as a fraction of the frame side
	MaxRegionFrac float64
	Model         string
	Prompt        string
}

// DefaultWorkerConfig returns the producer defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Interval:      10 * time.Second,
		Timeout:       60 * time.Second,
		MaxAttempts:   10,
		MaxOverlap:    0.1,
		MinRegionFrac: 0.15,
		MaxRegionFrac: 0.4,
		Prompt:        DefaultPrompt,
	}
}

// Worker periodically picks an unoccupied region of the latest frame,
// describes it through the model backend and caches the result for the
// frame loop to deliver. Model calls run in their own goroutine so a slow
// backend never stalls the tick loop; Run waits for in-flight calls before
// returning.
type Worker struct {
	cfg    WorkerConfig
	cache  *Cache
	client client.VisionClient
	proc   *processing.Processor
	log    *slog.Logger

	mu    sync.Mutex
	frame image.Image

	wg sync.WaitGroup

	// randFloat is replaceable in tests.
	randFloat func() float64
}

// NewWorker wires the producer to its cache and model backend.
func NewWorker(cfg WorkerConfig, cache *Cache, c client.VisionClient, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		cfg:       cfg,
		cache:     cache,
		client:    c,
		proc:      processing.NewProcessor(),
		log:       log.With("component", "annotate"),
		randFloat: rand.Float64,
	}
}

// SetFrame publishes the latest frame to the worker. Only the most recent
// frame is kept; ticks always describe current imagery.
func (w *Worker) SetFrame(img image.Image) {
	w.mu.Lock()
	w.frame = img
	w.mu.Unlock()
}

func (w *Worker) latestFrame() image.Image {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frame
}

// Run drives the tick loop until the context is canceled, then waits for
// any in-flight model call to finish or time out.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick picks a region and hands it to the model asynchronously.
func (w *Worker) tick(ctx context.Context) {
	img := w.latestFrame()
	if img == nil {
		return
	}

	region, ok := w.pickRegion(img, time.Now())
	if !ok {
		w.log.Debug("no free region found", "attempts", w.cfg.MaxAttempts)
		return
	}

	crop, err := w.proc.CropRegion(img, region)
	if err != nil {
		w.log.Warn("region crop failed", "error", err)
		return
	}
	b64, err := processing.EncodeForModel(crop)
	if err != nil {
		w.log.Warn("region encode failed", "error", err)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		cctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()

		text, err := w.client.Describe(cctx, w.cfg.Model, w.cfg.Prompt, b64)
		if err != nil {
			w.log.Warn("description failed", "error", err)
			return
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}

		if _, fresh := w.cache.Add(region, text, time.Now()); !fresh {
			w.log.Debug("region already described", "fingerprint", region.Fingerprint())
		}
	}()
}

// pickRegion tries up to MaxAttempts random placements, rejecting any that
// overlaps an active annotation beyond MaxOverlap.
func (w *Worker) pickRegion(img image.Image, now time.Time) (types.Box, bool) {
	bounds := img.Bounds()
	fw, fh := float64(bounds.Dx()), float64(bounds.Dy())

	active := w.cache.Active(now)

	for i := 0; i < w.cfg.MaxAttempts; i++ {
		frac := w.cfg.MinRegionFrac + w.randFloat()*(w.cfg.MaxRegionFrac-w.cfg.MinRegionFrac)
		rw := frac * fw
		rh := frac * fh

		x := w.randFloat() * (fw - rw)
		y := w.randFloat() * (fh - rh)
		box := types.Box{X1: x, Y1: y, X2: x + rw, Y2: y + rh}

		if w.overlapsActive(box, active) {
			continue
		}
		return box, true
	}
	return types.Box{}, false
}

func (w *Worker) overlapsActive(box types.Box, active []Annotation) bool {
	for _, a := range active {
		if box.IoU(a.Box) >= w.cfg.MaxOverlap {
			return true
		}
	}
	return false
}
