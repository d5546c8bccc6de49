// Package scenetracker turns a stream of camera frames into a stream of
// scene events: stable object positions, periodic mood summaries and model
// descriptions of unoccupied regions.
//
// Frames pass through a vision detector, an IoU tracker that keeps object
// identity across frames, and a dispatch gate that reports a track only when
// it is stable and its state has changed. A sampling window aggregates the
// visible labels into a majority mood every few minutes, and a background
// worker describes random free regions of the latest frame through the model
// backend. All events leave as OSC messages over UDP and are mirrored to
// websocket clients for monitoring.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//		"time"
//
//		scenetracker "github.com/menta2k/scene-tracker"
//		"github.com/menta2k/scene-tracker/internal/config"
//		"github.com/menta2k/scene-tracker/pkg/pipeline"
//	)
//
//	func main() {
//		st, err := scenetracker.New(config.Default(), nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		frames := make(chan pipeline.Frame)
//		go func() {
//			for img := range captureFrames() {
//				frames <- pipeline.Frame{Image: img, Time: time.Now()}
//			}
//			close(frames)
//		}()
//
//		if err := st.Run(context.Background(), frames); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The package consists of these main components:
//
// 1. Detection (pkg/detection): per-frame object detection, model-backed or saliency-based
// 2. Tracker (pkg/tracker): IoU association with persistent track identity
// 3. Gate (pkg/gate): stability, cooldown and change-detection debounce
// 4. Aggregate (pkg/aggregate): windowed majority voting over scene labels
// 5. Annotate (pkg/annotate): cached model descriptions of free regions
// 6. OSC / Monitor (pkg/osc, pkg/monitor): UDP event output and a websocket mirror
package scenetracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/scene-tracker/internal/config"
	"github.com/menta2k/scene-tracker/pkg/aggregate"
	"github.com/menta2k/scene-tracker/pkg/annotate"
	"github.com/menta2k/scene-tracker/pkg/client"
	"github.com/menta2k/scene-tracker/pkg/detection"
	"github.com/menta2k/scene-tracker/pkg/events"
	"github.com/menta2k/scene-tracker/pkg/gate"
	"github.com/menta2k/scene-tracker/pkg/llamacpp"
	"github.com/menta2k/scene-tracker/pkg/monitor"
	"github.com/menta2k/scene-tracker/pkg/ollama"
	"github.com/menta2k/scene-tracker/pkg/osc"
	"github.com/menta2k/scene-tracker/pkg/pipeline"
	"github.com/menta2k/scene-tracker/pkg/tracker"
)

// Version of the scene tracker library
const Version = "1.0.0"

// SceneTracker wires the full event pipeline from a configuration.
type SceneTracker struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	worker   *annotate.Worker
	monitor  *monitor.Monitor
	dispatch events.Dispatcher
	log      *slog.Logger

	// SessionID identifies this run in the startup announcement.
	SessionID string
}

// New builds a tracker from the configuration. A nil logger falls back to
// slog.Default.
func New(cfg *config.Config, log *slog.Logger) (*SceneTracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	vc, err := newBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	det, err := newDetector(cfg, vc)
	if err != nil {
		return nil, err
	}

	st := &SceneTracker{
		cfg:       cfg,
		log:       log,
		SessionID: uuid.NewString(),
	}

	oscOut := osc.New(osc.Config{
		Host:        cfg.OSC.Host,
		DefaultPort: cfg.OSC.ObjectPort,
		Routes: map[events.Topic]int{
			events.TopicPosition:   cfg.OSC.ObjectPort,
			events.TopicAbsent:     cfg.OSC.ObjectPort,
			events.TopicSummary:    cfg.OSC.WindowPort,
			events.TopicComment:    cfg.OSC.WindowPort,
			events.TopicAnnotation: cfg.OSC.AnnotationPort,
			events.TopicAnnounce:   cfg.OSC.AnnouncePort,
		},
	}, log)

	dispatch := events.Dispatcher(oscOut)
	if cfg.Monitor.Enabled {
		st.monitor = monitor.New(monitor.Config{Addr: cfg.Monitor.Addr}, func() map[string]any {
			if st.pipeline == nil {
				return nil
			}
			return st.pipeline.Status()
		}, log)
		dispatch = multiWithBundle{Multi: events.Multi{oscOut, st.monitor}, osc: oscOut, mon: st.monitor}
	}
	st.dispatch = dispatch

	var cache *annotate.Cache
	if cfg.Annotate.Enabled {
		cache = annotate.NewCache(annotate.Config{
			TTL:         time.Duration(cfg.Annotate.TTLSec) * time.Second,
			MaxOnscreen: cfg.Annotate.MaxOnscreen,
			DedupeLimit: annotate.DefaultConfig().DedupeLimit,
		})
		wcfg := annotate.DefaultWorkerConfig()
		wcfg.Interval = time.Duration(cfg.Annotate.IntervalSec) * time.Second
		wcfg.MaxOverlap = cfg.Annotate.MaxOverlap
		wcfg.Model = cfg.Backend.VisionModel
		st.worker = annotate.NewWorker(wcfg, cache, vc, log)
	}

	pcfg := pipeline.Config{
		Tracker: tracker.Config{
			IoUThreshold:    cfg.Tracker.IoUThreshold,
			MaxMissedFrames: cfg.Tracker.MaxMissedFrames,
			KeepHistory:     cfg.Tracker.KeepHistory,
			HistoryLimit:    cfg.Tracker.HistoryLimit,
		},
		Gate: gate.Config{
			StableTime:       time.Duration(cfg.Dispatch.StableTimeMs) * time.Millisecond,
			StableConfidence: cfg.Dispatch.StableConfidence,
			ResendCooldown:   time.Duration(cfg.Dispatch.ResendCooldownMs) * time.Millisecond,
			SendOnlyStable:   cfg.Dispatch.SendOnlyStable,
			SendOnlyChanges:  cfg.Dispatch.SendOnlyChanges,
			FlipY:            cfg.Dispatch.FlipY,
			Epsilon:          cfg.Dispatch.Epsilon,
			MaxStateAge:      gate.DefaultConfig().MaxStateAge,
		},
		Aggregate:     windowConfig(cfg),
		MinConfidence: cfg.Detector.MinConfidence,
		Labels:        cfg.Detector.Labels,
		SessionID:     st.SessionID,
		DebugDir:      cfg.DebugDir,
	}
	if cfg.Window.Comment {
		pcfg.CommentModel = cfg.Backend.TextModel
	}

	var commentClient client.VisionClient
	if cfg.Window.Comment {
		commentClient = vc
	}
	st.pipeline = pipeline.New(pcfg, det, cache, st.worker, commentClient, dispatch, log)

	return st, nil
}

// Run drives the frame loop plus the annotation worker and the monitor
// endpoint until the frames channel closes or the context is canceled.
func (st *SceneTracker) Run(ctx context.Context, frames <-chan pipeline.Frame) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	background := 0
	errCh := make(chan error, 2)
	if st.monitor != nil {
		background++
		go func() { errCh <- st.monitor.Run(ctx) }()
	}
	if st.worker != nil {
		background++
		go func() { errCh <- st.worker.Run(ctx) }()
	}

	runErr := st.pipeline.Run(ctx, frames)
	cancel()

	for i := 0; i < background; i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			st.log.Warn("background component stopped", "error", err)
		}
	}

	if st.dispatch != nil {
		if err := st.dispatch.Close(); err != nil {
			st.log.Warn("dispatcher close failed", "error", err)
		}
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// Status exposes the pipeline counters.
func (st *SceneTracker) Status() map[string]any {
	return st.pipeline.Status()
}

// multiWithBundle fans events out to every sink. Bundles go to the OSC
// output as one packet; the monitor gets the member events individually.
type multiWithBundle struct {
	events.Multi
	osc *osc.Dispatcher
	mon *monitor.Monitor
}

func (m multiWithBundle) PublishBundle(evs []events.Event) error {
	errs := []error{m.osc.PublishBundle(evs)}
	for _, ev := range evs {
		errs = append(errs, m.mon.Publish(ev))
	}
	return errors.Join(errs...)
}

func newBackend(cfg config.BackendConfig) (client.VisionClient, error) {
	switch cfg.Kind {
	case "llamacpp":
		return llamacpp.NewClient(cfg.URL)
	default:
		return ollama.NewClient(cfg.URL)
	}
}

func newDetector(cfg *config.Config, vc client.VisionClient) (detection.Detector, error) {
	switch cfg.Detector.Kind {
	case "saliency":
		return detection.NewSaliencyDetector(), nil
	case "model":
		return detection.NewModelDetector(vc, cfg.Backend.VisionModel, cfg.Detector.Labels), nil
	default:
		return nil, fmt.Errorf("unknown detector kind %q", cfg.Detector.Kind)
	}
}

func windowConfig(cfg *config.Config) aggregate.Config {
	acfg := aggregate.DefaultConfig()
	acfg.Interval = cfg.SampleInterval()
	acfg.SamplesPerSummary = cfg.Window.SamplesPerSummary
	return acfg
}
