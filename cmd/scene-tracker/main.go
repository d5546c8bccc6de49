package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	scenetracker "github.com/menta2k/scene-tracker"
	"github.com/menta2k/scene-tracker/internal/config"
	"github.com/menta2k/scene-tracker/internal/utils"
	"github.com/menta2k/scene-tracker/pkg/pipeline"
	"github.com/menta2k/scene-tracker/pkg/processing"
)

func main() {
	var cfgPath, envPath, source, backend, url, visionModel string
	var fps float64
	var saveConfig bool
	var verbose bool

	flag.StringVar(&cfgPath, "config", "", "config file path (JSON); defaults apply when empty")
	flag.StringVar(&envPath, "env", "", ".env file to load before reading the environment")
	flag.StringVar(&source, "source", "", "frame source: image file, directory of images, or URL polled per frame")
	flag.Float64Var(&fps, "fps", 1.0, "frames per second read from the source")
	flag.StringVar(&backend, "backend", "", "override backend kind: ollama or llamacpp")
	flag.StringVar(&url, "url", "", "override backend server URL")
	flag.StringVar(&visionModel, "model", "", "override vision model name")
	flag.BoolVar(&saveConfig, "save-config", false, "write the effective config to the config path and exit")
	flag.BoolVar(&verbose, "verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			log.Fatalf("load env file: %v", err)
		}
	} else {
		// Best effort: a .env beside the binary is optional.
		_ = godotenv.Load()
	}

	cfg := config.Default()
	if cfgPath != "" {
		if loaded, err := config.LoadFromFile(cfgPath); err == nil {
			cfg = loaded
		} else if !saveConfig {
			log.Fatalf("load config: %v", err)
		}
	}
	applyEnv(cfg)
	if backend != "" {
		cfg.Backend.Kind = backend
	}
	if url != "" {
		cfg.Backend.URL = url
	}
	if visionModel != "" {
		cfg.Backend.VisionModel = visionModel
	}

	if saveConfig {
		path := cfgPath
		if path == "" {
			path = config.GetConfigPath()
		}
		if err := cfg.SaveToFile(path); err != nil {
			log.Fatalf("save config: %v", err)
		}
		log.Printf("config written to %s", path)
		return
	}

	if source == "" {
		log.Fatalf("usage: %s -source image|dir|URL [-config config.json] [-backend ollama|llamacpp] [-fps 1.0]", filepath.Base(os.Args[0]))
	}

	st, err := scenetracker.New(cfg, logger)
	if err != nil {
		log.Fatalf("initialize: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	frames := make(chan pipeline.Frame)
	go produceFrames(ctx, source, fps, frames, logger)

	logger.Info("scene tracker starting",
		"session", st.SessionID,
		"backend", cfg.Backend.Kind,
		"detector", cfg.Detector.Kind,
		"source", source)

	if err := st.Run(ctx, frames); err != nil {
		log.Fatalf("run: %v", err)
	}
}

// applyEnv overlays environment variables on the configuration.
func applyEnv(cfg *config.Config) {
	if v := os.Getenv("SCENE_TRACKER_BACKEND"); v != "" {
		cfg.Backend.Kind = v
	}
	if v := os.Getenv("SCENE_TRACKER_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("SCENE_TRACKER_VISION_MODEL"); v != "" {
		cfg.Backend.VisionModel = v
	}
	if v := os.Getenv("SCENE_TRACKER_TEXT_MODEL"); v != "" {
		cfg.Backend.TextModel = v
	}
	if v := os.Getenv("SCENE_TRACKER_OSC_HOST"); v != "" {
		cfg.OSC.Host = v
	}
}

// produceFrames reads images from the source at the requested rate and
// pushes them to the pipeline. A directory is cycled in sorted order; a file
// or URL is re-read every frame so live snapshots work.
func produceFrames(ctx context.Context, source string, fps float64, frames chan<- pipeline.Frame, logger *slog.Logger) {
	defer close(frames)

	if fps <= 0 {
		fps = 1.0
	}
	interval := time.Duration(float64(time.Second) / fps)

	proc := processing.NewProcessor()
	paths := sourcePaths(source)
	idx := 0

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		path := paths[idx%len(paths)]
		idx++

		img, err := proc.LoadImageSmart(path)
		if err != nil {
			logger.Warn("frame load failed", "source", path, "error", err)
			continue
		}

		select {
		case frames <- pipeline.Frame{Image: img, Time: time.Now()}:
		case <-ctx.Done():
			return
		}
	}
}

// sourcePaths expands a directory into its image files; anything else is a
// single repeated source.
func sourcePaths(source string) []string {
	info, err := os.Stat(source)
	if err != nil || !info.IsDir() {
		return []string{source}
	}

	paths, err := utils.ListImageFiles(source)
	if err != nil || len(paths) == 0 {
		return []string{source}
	}
	sort.Strings(paths)
	return paths
}
