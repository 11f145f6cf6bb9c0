package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// LaunchMode selects how browser contexts are acquired
type LaunchMode string

const (
	// LaunchLocal starts a managed Chromium on this host
	LaunchLocal LaunchMode = "local"
	// LaunchDocker runs one browserless/chrome container per session
	LaunchDocker LaunchMode = "docker"
)

// Config is the full server configuration, loaded from the environment
// with the HANDOFF_ prefix.
type Config struct {
	Addr string `envconfig:"ADDR" default:":8080"`

	// Browser acquisition
	LaunchMode  LaunchMode `envconfig:"LAUNCH_MODE" default:"local"`
	Headless    bool       `envconfig:"HEADLESS" default:"true"`
	NoSandbox   bool       `envconfig:"NO_SANDBOX" default:"false"`
	Stealth     bool       `envconfig:"STEALTH" default:"true"`
	DockerImage string     `envconfig:"DOCKER_IMAGE" default:"browserless/chrome:latest"`

	// Interactive viewport, in CSS pixels. Frames are captured at exactly
	// this size so client coordinates map 1:1 onto page coordinates.
	ViewportWidth  int `envconfig:"VIEWPORT_WIDTH" default:"600"`
	ViewportHeight int `envconfig:"VIEWPORT_HEIGHT" default:"800"`

	// Streaming
	FrameRate   int `envconfig:"FRAME_RATE" default:"30"`
	JPEGQuality int `envconfig:"JPEG_QUALITY" default:"95"`

	// Lifecycle
	LaunchTimeout  time.Duration `envconfig:"LAUNCH_TIMEOUT" default:"60s"`
	CloseTimeout   time.Duration `envconfig:"CLOSE_TIMEOUT" default:"10s"`
	DetectInterval time.Duration `envconfig:"DETECT_INTERVAL" default:"500ms"`
	// SessionTimeout self-expires idle sessions when non-zero. Zero leaves
	// sessions alive until an explicit stop.
	SessionTimeout time.Duration `envconfig:"SESSION_TIMEOUT" default:"0"`

	// Storage
	StorageDir string `envconfig:"STORAGE_DIR" default:"./storage/sessions"`

	// API rate limiting (start/stop calls per hour per provider)
	RateLimit int `envconfig:"RATE_LIMIT" default:"100"`
	RateBurst int `envconfig:"RATE_BURST" default:"10"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("handoff", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.FrameRate < 1 || cfg.FrameRate > 60 {
		return nil, fmt.Errorf("frame rate must be between 1 and 60, got %d", cfg.FrameRate)
	}
	if cfg.LaunchMode != LaunchLocal && cfg.LaunchMode != LaunchDocker {
		return nil, fmt.Errorf("unknown launch mode %q", cfg.LaunchMode)
	}
	return &cfg, nil
}

// FrameInterval returns the capture interval for the configured frame rate.
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FrameRate)
}
