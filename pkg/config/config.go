// Package config loads service configuration from a YAML file with
// RASTERD_* environment overrides layered on top.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/yaml.v3"
)

// Default values applied before the file and environment are read.
const (
	DefaultMode             = "local"
	DefaultListen           = ":8089"
	DefaultViewportWidth    = 800
	DefaultViewportHeight   = 600
	DefaultTimeoutMs        = 30000
	DefaultReconnectMs      = 1000
	DefaultReconnectRetries = 3
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// Config is the whole service configuration document.
type Config struct {
	// Mode is "local" (launch a browser) or "remote" (attach to one).
	Mode string `yaml:"mode" envconfig:"RASTERD_MODE"`

	// Endpoint is the browser connection string for remote mode, either
	// a ws(s):// direct socket or an http(s):// discovery address.
	Endpoint string `yaml:"endpoint" envconfig:"RASTERD_ENDPOINT"`

	// ExecutablePath points at the browser binary for local mode. Empty
	// means auto-discover.
	ExecutablePath string `yaml:"executable_path" envconfig:"RASTERD_EXECUTABLE_PATH"`

	// ExtraArgs are extra browser command-line flags for local mode.
	ExtraArgs []string `yaml:"extra_args" envconfig:"RASTERD_EXTRA_ARGS"`

	// Proxy is merged into the launch arguments as --proxy-server.
	Proxy string `yaml:"proxy" envconfig:"RASTERD_PROXY"`

	// Headless controls whether the local browser gets a window.
	// Defaults to true.
	Headless *bool `yaml:"headless" envconfig:"RASTERD_HEADLESS"`

	// OnDemand opens the browser session lazily and closes it once no
	// pages remain open.
	OnDemand bool `yaml:"on_demand" envconfig:"RASTERD_ON_DEMAND"`

	// Reconnect bounds automatic reconnection after a dropped session.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// FontPath is a font file served to rendered pages. Empty disables
	// the resource server.
	FontPath string `yaml:"font_path" envconfig:"RASTERD_FONT_PATH"`

	// Viewport is the default render viewport.
	Viewport ViewportConfig `yaml:"viewport"`

	// TimeoutMs bounds individual engine calls (connect, launch,
	// content load) in milliseconds.
	TimeoutMs int `yaml:"timeout_ms" envconfig:"RASTERD_TIMEOUT_MS"`

	// Listen is the HTTP API bind address.
	Listen string `yaml:"listen" envconfig:"RASTERD_LISTEN"`

	// Log configures level and format.
	Log LogConfig `yaml:"log"`
}

// ReconnectConfig mirrors the session reconnect policy.
type ReconnectConfig struct {
	Enabled    bool `yaml:"enabled" envconfig:"RASTERD_RECONNECT_ENABLED"`
	IntervalMs int  `yaml:"interval_ms" envconfig:"RASTERD_RECONNECT_INTERVAL_MS"`
	MaxRetries int  `yaml:"max_retries" envconfig:"RASTERD_RECONNECT_MAX_RETRIES"`
}

// ViewportConfig is the default page size in CSS pixels.
type ViewportConfig struct {
	Width  int `yaml:"width" envconfig:"RASTERD_VIEWPORT_WIDTH"`
	Height int `yaml:"height" envconfig:"RASTERD_VIEWPORT_HEIGHT"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"RASTERD_LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"RASTERD_LOG_FORMAT"`
}

// New returns a config populated with defaults only.
func New() *Config {
	headless := true
	return &Config{
		Mode:     DefaultMode,
		Headless: &headless,
		Reconnect: ReconnectConfig{
			Enabled:    true,
			IntervalMs: DefaultReconnectMs,
			MaxRetries: DefaultReconnectRetries,
		},
		Viewport: ViewportConfig{
			Width:  DefaultViewportWidth,
			Height: DefaultViewportHeight,
		},
		TimeoutMs: DefaultTimeoutMs,
		Listen:    DefaultListen,
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Load builds the effective config: defaults, then the YAML file (when path
// is non-empty), then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := New()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Mode {
	case "local", "remote":
	default:
		return fmt.Errorf("invalid mode %q (want local or remote)", c.Mode)
	}
	if c.Mode == "remote" && c.Endpoint == "" {
		return fmt.Errorf("remote mode requires an endpoint")
	}
	if c.Reconnect.IntervalMs < 0 {
		return fmt.Errorf("reconnect.interval_ms must not be negative")
	}
	if c.Reconnect.MaxRetries < 0 {
		return fmt.Errorf("reconnect.max_retries must not be negative")
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		return fmt.Errorf("viewport dimensions must be positive")
	}
	if c.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms must not be negative")
	}
	return nil
}

// IsHeadless resolves the headless flag with its default.
func (c *Config) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

// Timeout returns the engine call timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ReconnectInterval returns the base backoff as a duration.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Reconnect.IntervalMs) * time.Millisecond
}
