// Package pipeline drives the per-frame flow: detect, associate, gate,
// aggregate and dispatch.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/menta2k/scene-tracker/internal/utils"
	"github.com/menta2k/scene-tracker/pkg/aggregate"
	"github.com/menta2k/scene-tracker/pkg/annotate"
	"github.com/menta2k/scene-tracker/pkg/client"
	"github.com/menta2k/scene-tracker/pkg/detection"
	"github.com/menta2k/scene-tracker/pkg/events"
	"github.com/menta2k/scene-tracker/pkg/gate"
	"github.com/menta2k/scene-tracker/pkg/processing"
	"github.com/menta2k/scene-tracker/pkg/tracker"
	"github.com/menta2k/scene-tracker/pkg/types"
)

// DefaultCommentPrompt turns a window's mood into one line of commentary.
const DefaultCommentPrompt = `The room has felt %s for the last few minutes.
Write one short reflective sentence about such a room. No preamble, at most 15 words.`

// Frame is one input image with its capture time.
type Frame struct {
	Image image.Image
	Time  time.Time
}

// Config collects the per-stage settings.
type Config struct {
	Tracker       tracker.Config
	Gate          gate.Config
	Aggregate     aggregate.Config
	MinConfidence float64
	Labels        []string // class id → raw label, for window aggregation

	SessionID     string
	CommentModel  string // empty disables window commentary
	CommentPrompt string

	DebugDir   string // empty disables overlay frame dumps
	GCInterval time.Duration
}

// bundler is the optional batch capability of a dispatcher.
type bundler interface {
	PublishBundle(evs []events.Event) error
}

// Pipeline owns the frame loop state. ProcessFrame must be called from a
// single goroutine; the annotation worker runs beside it and shares only
// the cache and the latest frame.
type Pipeline struct {
	cfg      Config
	detector detection.Detector
	tracker  *tracker.Tracker
	gate     *gate.Gate
	agg      *aggregate.Aggregator
	cache    *annotate.Cache // nil when annotation is disabled
	worker   *annotate.Worker
	vision   client.VisionClient // nil disables commentary
	dispatch events.Dispatcher
	proc     *processing.Processor
	log      *slog.Logger

	prevLive map[uint64]struct{}
	lastGC   time.Time
	windows  int

	wg sync.WaitGroup

	frames     atomic.Uint64
	liveTracks atomic.Int64
}

// New assembles a pipeline. cache and worker may be nil together; vision may
// be nil to disable commentary.
func New(cfg Config, det detection.Detector, cache *annotate.Cache, worker *annotate.Worker, vision client.VisionClient, dispatch events.Dispatcher, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if cfg.CommentPrompt == "" {
		cfg.CommentPrompt = DefaultCommentPrompt
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 30 * time.Second
	}
	return &Pipeline{
		cfg:      cfg,
		detector: det,
		tracker:  tracker.New(cfg.Tracker),
		gate:     gate.New(cfg.Gate),
		agg:      aggregate.New(cfg.Aggregate),
		cache:    cache,
		worker:   worker,
		vision:   vision,
		dispatch: dispatch,
		proc:     processing.NewProcessor(),
		log:      log.With("component", "pipeline"),
		prevLive: make(map[uint64]struct{}),
	}
}

// Run consumes frames until the channel closes or the context is canceled,
// announcing the session first. It waits for in-flight commentary before
// returning.
func (p *Pipeline) Run(ctx context.Context, frames <-chan Frame) error {
	ev := events.Announce(p.cfg.SessionID, p.cfg.Aggregate.Interval*time.Duration(p.cfg.Aggregate.SamplesPerSummary), time.Now())
	if err := p.dispatch.Publish(ev); err != nil {
		p.log.Warn("announce failed", "error", err)
	}

	defer p.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if err := p.ProcessFrame(ctx, frame.Image, frame.Time); err != nil {
				p.log.Warn("frame processing failed", "error", err)
			}
		}
	}
}

// ProcessFrame runs one image through the full per-frame flow.
func (p *Pipeline) ProcessFrame(ctx context.Context, img image.Image, now time.Time) error {
	dets, err := p.detector.Detect(ctx, img)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	dets = detection.FilterValid(dets, p.cfg.MinConfidence)

	resolved := p.tracker.Update(dets, now)

	bounds := img.Bounds()
	frameW, frameH := bounds.Dx(), bounds.Dy()

	for _, r := range resolved {
		report, send := p.gate.Decide(r, frameW, frameH, now)
		if !send {
			continue
		}
		ev := events.Position(report.TrackID, report.Class, report.Rect.CX, report.Rect.CY, report.Rect.W, report.Rect.H, now)
		if err := p.dispatch.Publish(ev); err != nil {
			p.log.Warn("position publish failed", "track", report.TrackID, "error", err)
		}
	}

	p.reconcileTracks(now)
	p.observeWindow(resolved)

	if summary, ok := p.agg.Tick(now); ok {
		p.emitWindow(ctx, img, summary, now)
	}

	p.publishAnnotations(img, now)

	if p.worker != nil {
		p.worker.SetFrame(img)
	}

	if now.Sub(p.lastGC) >= p.cfg.GCInterval {
		if dropped := p.gate.GC(now); dropped > 0 {
			p.log.Debug("dropped stale dispatch state", "count", dropped)
		}
		p.lastGC = now
	}

	p.frames.Add(1)
	p.liveTracks.Store(int64(p.tracker.Len()))
	return nil
}

// reconcileTracks forgets gate state for evicted tracks and raises the
// absence event on every frame with zero live tracks.
func (p *Pipeline) reconcileTracks(now time.Time) {
	live := make(map[uint64]struct{})
	for _, id := range p.tracker.LiveIDs() {
		live[id] = struct{}{}
	}
	for id := range p.prevLive {
		if _, ok := live[id]; !ok {
			p.gate.Forget(id)
		}
	}
	p.prevLive = live

	if len(live) == 0 {
		if err := p.dispatch.Publish(events.Absent(now)); err != nil {
			p.log.Warn("absence publish failed", "error", err)
		}
	}
}

// observeWindow feeds the labels of tracks seen this frame to the window
// aggregator.
func (p *Pipeline) observeWindow(resolved []tracker.Resolved) {
	labels := make([]string, 0, len(resolved))
	for _, r := range resolved {
		class := r.Class()
		if class >= 0 && class < len(p.cfg.Labels) {
			labels = append(labels, p.cfg.Labels[class])
		}
	}
	p.agg.Observe(labels)
}

// emitWindow publishes the summary, kicks off commentary and optionally
// dumps a debug overlay.
func (p *Pipeline) emitWindow(ctx context.Context, img image.Image, summary aggregate.Summary, now time.Time) {
	p.windows++
	p.log.Info("window summary", "category", summary.Category, "counts", summary.Counts)

	counts := make([]int, len(p.cfg.Aggregate.Categories))
	for i, c := range p.cfg.Aggregate.Categories {
		counts[i] = summary.Counts[c]
	}
	if err := p.dispatch.Publish(events.Summary(summary.Category, summary.Index, counts, now)); err != nil {
		p.log.Warn("summary publish failed", "error", err)
	}

	if p.vision != nil && p.cfg.CommentModel != "" {
		p.spawnComment(ctx, summary.Category)
	}

	if p.cfg.DebugDir != "" {
		p.dumpOverlay(img, now)
	}
}

// publishAnnotations sends annotations that have not yet gone downstream,
// each region exactly once, batched in a bundle when the sink supports it.
func (p *Pipeline) publishAnnotations(img image.Image, now time.Time) {
	if p.cache == nil {
		return
	}
	fresh := p.cache.TakeUndelivered(now)
	if len(fresh) == 0 {
		return
	}

	bounds := img.Bounds()
	frameW, frameH := bounds.Dx(), bounds.Dy()

	evs := make([]events.Event, 0, len(fresh))
	for _, a := range fresh {
		rect := a.Box.Normalize(frameW, frameH, p.cfg.Gate.FlipY)
		evs = append(evs, events.Annotation(a.Text, rect.CX, rect.CY, rect.W, rect.H, now))
	}

	if b, ok := p.dispatch.(bundler); ok {
		if err := b.PublishBundle(evs); err != nil {
			p.log.Warn("annotation publish failed", "error", err)
		}
		return
	}
	for _, ev := range evs {
		if err := p.dispatch.Publish(ev); err != nil {
			p.log.Warn("annotation publish failed", "error", err)
		}
	}
}

// spawnComment asks the text model for one line about the window's mood,
// off the frame loop.
func (p *Pipeline) spawnComment(ctx context.Context, category string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		cctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()

		prompt := fmt.Sprintf(p.cfg.CommentPrompt, category)
		text, err := p.vision.Describe(cctx, p.cfg.CommentModel, prompt, "")
		if err != nil {
			// Consumers expect the comment slot each window, empty or not.
			p.log.Warn("comment generation failed", "error", err)
			text = ""
		}
		if err := p.dispatch.Publish(events.Comment(text, time.Now())); err != nil {
			p.log.Warn("comment publish failed", "error", err)
		}
	}()
}

// dumpOverlay writes the frame with track and annotation boxes drawn in,
// one file per window.
func (p *Pipeline) dumpOverlay(img image.Image, now time.Time) {
	var trackBoxes, annotationBoxes []types.Box
	for _, tr := range p.tracker.ActiveTracks() {
		trackBoxes = append(trackBoxes, tr.Box)
	}
	if p.cache != nil {
		for _, a := range p.cache.Active(now) {
			annotationBoxes = append(annotationBoxes, a.Box)
		}
	}

	if err := utils.EnsureDir(p.cfg.DebugDir); err != nil {
		p.log.Warn("debug dir unavailable", "dir", p.cfg.DebugDir, "error", err)
		return
	}
	overlay := p.proc.DrawOverlay(img, trackBoxes, annotationBoxes)
	path := filepath.Join(p.cfg.DebugDir, fmt.Sprintf("window_%04d.webp", p.windows))
	if err := p.proc.SaveImage(overlay, path, "webp", 80, false); err != nil {
		p.log.Warn("overlay dump failed", "path", path, "error", err)
	}
}

// Status reports loop counters for the monitor endpoint. Safe to call from
// any goroutine.
func (p *Pipeline) Status() map[string]any {
	status := map[string]any{
		"frames":      p.frames.Load(),
		"live_tracks": p.liveTracks.Load(),
	}
	if p.cache != nil {
		status["annotations"] = p.cache.Len(time.Now())
	}
	return status
}
