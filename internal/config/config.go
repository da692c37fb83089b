// Package config loads facetracker settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/luojunlin1223/VibeVtuber/internal/log"
	"github.com/luojunlin1223/VibeVtuber/internal/tracker"
	"github.com/luojunlin1223/VibeVtuber/internal/transport"
	"github.com/luojunlin1223/VibeVtuber/internal/utils"
	"github.com/luojunlin1223/VibeVtuber/internal/worker"
)

// DefaultPath is read when no --config flag is given. It may be absent.
const DefaultPath = "facetracker.yaml"

// ─── Sections ───────────────────────────────────────────────────────────

type ModelConfig struct {
	Path                   string  `yaml:"path"`
	Python                 string  `yaml:"python"`
	Script                 string  `yaml:"script"`
	MinDetectionConfidence float64 `yaml:"min_detection_confidence"`
	MinPresenceConfidence  float64 `yaml:"min_presence_confidence"`
	MinTrackingConfidence  float64 `yaml:"min_tracking_confidence"`
	NumFaces               int     `yaml:"num_faces"`
}

type NetworkConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	LogInterval time.Duration `yaml:"log_interval"`
}

type CameraConfig struct {
	Device string `yaml:"device"`
	Format string `yaml:"format"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
}

type SmoothingConfig struct {
	// Alpha is the weight of the current frame: 1 disables smoothing,
	// 0 freezes the output.
	Alpha       float64 `yaml:"alpha"`
	FrameStepMs int     `yaml:"frame_step_ms"`
}

type DebugConfig struct {
	PrintFPS       bool          `yaml:"print_fps"`
	DetailedOutput bool          `yaml:"detailed_output"`
	StatusInterval time.Duration `yaml:"status_interval"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// Config is the top-level structure for facetracker.yaml.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Network   NetworkConfig   `yaml:"network"`
	Camera    CameraConfig    `yaml:"camera"`
	Smoothing SmoothingConfig `yaml:"smoothing"`
	Debug     DebugConfig     `yaml:"debug"`
	Database  DatabaseConfig  `yaml:"database"`
}

// Default returns the built-in settings.
func Default() *Config {
	w := worker.DefaultConfig()
	t := tracker.DefaultConfig()
	return &Config{
		Model: ModelConfig{
			Path:                   w.ModelPath,
			Python:                 w.Python,
			Script:                 w.Script,
			MinDetectionConfidence: w.MinDetectionConfidence,
			MinPresenceConfidence:  w.MinPresenceConfidence,
			MinTrackingConfidence:  w.MinTrackingConfidence,
			NumFaces:               w.NumFaces,
		},
		Network: NetworkConfig{
			Host:        transport.DefaultHost,
			Port:        transport.DefaultPort,
			LogInterval: transport.DefaultOptions().LogInterval,
		},
		Camera: CameraConfig{
			Device: "0",
			Width:  640,
			Height: 480,
			FPS:    30,
		},
		Smoothing: SmoothingConfig{
			Alpha:       t.Alpha,
			FrameStepMs: int(t.FrameStep / time.Millisecond),
		},
		Debug: DebugConfig{
			PrintFPS:       true,
			StatusInterval: time.Second,
		},
	}
}

// ─── Loading ────────────────────────────────────────────────────────────

// Load reads path over the defaults and applies environment overrides. A
// missing file is only an error when the caller named it explicitly.
func Load(path string, explicit bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Network.Host = envStr("FACETRACKER_HOST", c.Network.Host)
	c.Network.Port = envInt("FACETRACKER_PORT", c.Network.Port)
	c.Smoothing.Alpha = envFloat("FACETRACKER_ALPHA", c.Smoothing.Alpha)
	c.Camera.Device = envStr("FACETRACKER_CAMERA", c.Camera.Device)
	c.Model.Path = envStr("FACETRACKER_MODEL", c.Model.Path)
	c.Database.URL = envStr("FACETRACKER_DB", c.Database.URL)
}

// DatabaseURL returns the configured connection string, else one built
// from POSTGRES_* variables, else the local default.
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
			os.Getenv("POSTGRES_USER"),
			os.Getenv("POSTGRES_PASSWORD"),
			host,
			envStr("POSTGRES_PORT", "5432"),
			os.Getenv("POSTGRES_DB"))
	}
	return "postgres://localhost:5432/facetracker"
}

// Validate reports every out-of-range setting.
func (c *Config) Validate() error {
	var errs []error
	if a := c.Smoothing.Alpha; math.IsNaN(a) || a < 0 || a > 1 {
		errs = append(errs, fmt.Errorf("smoothing.alpha must be in [0,1], got %v", a))
	}
	if c.Smoothing.FrameStepMs < 1 {
		errs = append(errs, fmt.Errorf("smoothing.frame_step_ms must be positive, got %d", c.Smoothing.FrameStepMs))
	}
	if c.Network.Host == "" {
		errs = append(errs, errors.New("network.host is empty"))
	}
	if c.Network.Port < 1 || c.Network.Port > 65535 {
		errs = append(errs, fmt.Errorf("network.port must be in [1,65535], got %d", c.Network.Port))
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errs = append(errs, fmt.Errorf("camera resolution must be positive, got %dx%d", c.Camera.Width, c.Camera.Height))
	}
	if c.Camera.FPS <= 0 {
		errs = append(errs, fmt.Errorf("camera.fps must be positive, got %d", c.Camera.FPS))
	}
	for name, v := range map[string]float64{
		"model.min_detection_confidence": c.Model.MinDetectionConfidence,
		"model.min_presence_confidence":  c.Model.MinPresenceConfidence,
		"model.min_tracking_confidence":  c.Model.MinTrackingConfidence,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be in [0,1], got %v", name, v))
		}
	}
	if c.Model.NumFaces < 1 {
		errs = append(errs, fmt.Errorf("model.num_faces must be at least 1, got %d", c.Model.NumFaces))
	}
	return errors.Join(errs...)
}

// ─── Component settings ─────────────────────────────────────────────────

func (c *Config) Tracker() tracker.Config {
	return tracker.Config{
		Alpha:     c.Smoothing.Alpha,
		FrameStep: time.Duration(c.Smoothing.FrameStepMs) * time.Millisecond,
	}
}

func (c *Config) Worker() worker.Config {
	w := worker.DefaultConfig()
	w.Python = c.Model.Python
	w.Script = c.Model.Script
	w.ModelPath = c.Model.Path
	w.MinDetectionConfidence = c.Model.MinDetectionConfidence
	w.MinPresenceConfidence = c.Model.MinPresenceConfidence
	w.MinTrackingConfidence = c.Model.MinTrackingConfidence
	w.NumFaces = c.Model.NumFaces
	return w
}

func (c *Config) Capture() utils.Capture {
	return utils.Capture{
		Device: c.Camera.Device,
		Format: c.Camera.Format,
		Width:  c.Camera.Width,
		Height: c.Camera.Height,
		FPS:    c.Camera.FPS,
	}
}

func (c *Config) Sender() transport.Options {
	return transport.Options{LogInterval: c.Network.LogInterval}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
		log.Warn("ignoring unparsable environment value", "key", key, "value", v, "err", err)
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
		log.Warn("ignoring unparsable environment value", "key", key, "value", v, "err", err)
	}
	return fallback
}
