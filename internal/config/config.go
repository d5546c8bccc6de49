package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the application configuration
type Config struct {
	Backend  BackendConfig  `json:"backend"`
	Detector DetectorConfig `json:"detector"`
	Tracker  TrackerConfig  `json:"tracker"`
	Dispatch DispatchConfig `json:"dispatch"`
	Window   WindowConfig   `json:"window"`
	Annotate AnnotateConfig `json:"annotate"`
	OSC      OSCConfig      `json:"osc"`
	Monitor  MonitorConfig  `json:"monitor"`
	DebugDir string         `json:"debug_dir,omitempty"`
}

// BackendConfig selects and addresses the model backend
type BackendConfig struct {
	Kind        string `json:"kind"` // "ollama" or "llamacpp"
	URL         string `json:"url"`
	VisionModel string `json:"vision_model"`
	TextModel   string `json:"text_model"`
}

// DetectorConfig holds configuration for per-frame detection
type DetectorConfig struct {
	Kind          string   `json:"kind"` // "model" or "saliency"
	Labels        []string `json:"labels"`
	MinConfidence float64  `json:"min_confidence"`
}

// TrackerConfig holds configuration for box association
type TrackerConfig struct {
	IoUThreshold    float64 `json:"iou_threshold"`
	MaxMissedFrames int     `json:"max_missed_frames"`
	KeepHistory     bool    `json:"keep_history"`
	HistoryLimit    int     `json:"history_limit"`
}

// DispatchConfig holds configuration for the report gate
type DispatchConfig struct {
	StableTimeMs     int     `json:"stable_time_ms"`
	StableConfidence float64 `json:"stable_confidence"`
	ResendCooldownMs int     `json:"resend_cooldown_ms"`
	SendOnlyStable   bool    `json:"send_only_stable"`
	SendOnlyChanges  bool    `json:"send_only_changes"`
	FlipY            bool    `json:"flip_y"`
	Epsilon          float64 `json:"epsilon"`
}

// WindowConfig holds configuration for the summary window
type WindowConfig struct {
	SampleIntervalSec int  `json:"sample_interval_sec"`
	SamplesPerSummary int  `json:"samples_per_summary"`
	Comment           bool `json:"comment"`
}

// AnnotateConfig holds configuration for region annotation
type AnnotateConfig struct {
	Enabled     bool    `json:"enabled"`
	IntervalSec int     `json:"interval_sec"`
	TTLSec      int     `json:"ttl_sec"`
	MaxOnscreen int     `json:"max_onscreen"`
	MaxOverlap  float64 `json:"max_overlap"`
}

// OSCConfig holds the UDP output routing
type OSCConfig struct {
	Host           string `json:"host"`
	ObjectPort     int    `json:"object_port"`
	WindowPort     int    `json:"window_port"`
	AnnotationPort int    `json:"annotation_port"`
	AnnouncePort   int    `json:"announce_port"`
}

// MonitorConfig holds the websocket mirror settings
type MonitorConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Kind:        "ollama",
			URL:         "http://localhost:11434",
			VisionModel: "minicpm-v",
			TextModel:   "llama3.2",
		},
		Detector: DetectorConfig{
			Kind:          "model",
			Labels:        []string{"neutral", "happy", "surprise", "fear", "sad", "angry", "disgust"},
			MinConfidence: 0.25,
		},
		Tracker: TrackerConfig{
			IoUThreshold:    0.3,
			MaxMissedFrames: 30,
			KeepHistory:     true,
			HistoryLimit:    100,
		},
		Dispatch: DispatchConfig{
			StableTimeMs:     500,
			StableConfidence: 0.35,
			ResendCooldownMs: 5000,
			SendOnlyStable:   true,
			SendOnlyChanges:  true,
			FlipY:            true,
			Epsilon:          0.01,
		},
		Window: WindowConfig{
			SampleIntervalSec: 3,
			SamplesPerSummary: 12,
			Comment:           true,
		},
		Annotate: AnnotateConfig{
			Enabled:     true,
			IntervalSec: 10,
			TTLSec:      20,
			MaxOnscreen: 6,
			MaxOverlap:  0.1,
		},
		OSC: OSCConfig{
			Host:           "127.0.0.1",
			ObjectPort:     9000,
			WindowPort:     9001,
			AnnotationPort: 9002,
			AnnouncePort:   9003,
		},
		Monitor: MonitorConfig{
			Enabled: true,
			Addr:    ":8077",
		},
	}
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Backend.Kind != "ollama" && c.Backend.Kind != "llamacpp" {
		return fmt.Errorf("backend.kind must be \"ollama\" or \"llamacpp\"")
	}

	if c.Detector.Kind != "model" && c.Detector.Kind != "saliency" {
		return fmt.Errorf("detector.kind must be \"model\" or \"saliency\"")
	}

	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return fmt.Errorf("detector.min_confidence must be between 0 and 1")
	}

	if c.Tracker.IoUThreshold <= 0 || c.Tracker.IoUThreshold > 1 {
		return fmt.Errorf("tracker.iou_threshold must be between 0 and 1")
	}

	if c.Tracker.MaxMissedFrames < 0 {
		return fmt.Errorf("tracker.max_missed_frames must not be negative")
	}

	if c.Dispatch.StableConfidence < 0 || c.Dispatch.StableConfidence > 1 {
		return fmt.Errorf("dispatch.stable_confidence must be between 0 and 1")
	}

	if c.Dispatch.Epsilon <= 0 {
		return fmt.Errorf("dispatch.epsilon must be positive")
	}

	if c.Window.SampleIntervalSec < 1 {
		return fmt.Errorf("window.sample_interval_sec must be positive")
	}

	if c.Window.SamplesPerSummary < 1 {
		return fmt.Errorf("window.samples_per_summary must be positive")
	}

	if c.Annotate.MaxOnscreen < 1 {
		return fmt.Errorf("annotate.max_onscreen must be positive")
	}

	if c.Annotate.MaxOverlap < 0 || c.Annotate.MaxOverlap > 1 {
		return fmt.Errorf("annotate.max_overlap must be between 0 and 1")
	}

	return nil
}

// SampleInterval returns the window sampling interval as a duration
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.Window.SampleIntervalSec) * time.Second
}

// AggregationInterval returns the length of one full summary window
func (c *Config) AggregationInterval() time.Duration {
	return c.SampleInterval() * time.Duration(c.Window.SamplesPerSummary)
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "scene-tracker", "config.json")
}
