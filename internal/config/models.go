package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bryanchriswhite/Backdrop/internal/logger"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSize is returned when a target size is not strictly positive
var ErrInvalidSize = errors.New("target size must be positive")

// ScalerKind selects the interpolation used to rescale the background image
type ScalerKind string

const (
	ScalerNearest    ScalerKind = "nearest"
	ScalerBilinear   ScalerKind = "bilinear"
	ScalerCatmullRom ScalerKind = "catmullrom"
	ScalerLanczos    ScalerKind = "lanczos"
)

// SourceKind selects where camera frames come from
type SourceKind string

const (
	SourceCamera  SourceKind = "camera"
	SourcePattern SourceKind = "pattern"
)

// SegmenterKind selects the segmentation backend
type SegmenterKind string

const (
	SegmenterRemote    SegmenterKind = "remote"
	SegmenterChromaKey SegmenterKind = "chromakey"
)

// PipelineConfig holds the host-mutable virtual background settings
type PipelineConfig struct {
	Enabled           bool       `json:"enabled" yaml:"enabled"`
	Width             int        `json:"width" yaml:"width"`
	Height            int        `json:"height" yaml:"height"`
	BackgroundURI     string     `json:"background_uri" yaml:"background_uri"`
	BackgroundRefresh string     `json:"background_refresh,omitempty" yaml:"background_refresh,omitempty"` // cron spec, empty disables
	Scaler            ScalerKind `json:"scaler" yaml:"scaler"`
}

// CaptureConfig describes the frame source
type CaptureConfig struct {
	Source SourceKind `json:"source" yaml:"source"`
	Device string     `json:"device" yaml:"device"`
	FPS    int        `json:"fps" yaml:"fps"`
}

// SegmenterConfig describes the segmentation backend
type SegmenterConfig struct {
	Kind      SegmenterKind `json:"kind" yaml:"kind"`
	URL       string        `json:"url,omitempty" yaml:"url,omitempty"`
	TimeoutMS int           `json:"timeout_ms" yaml:"timeout_ms"`
	KeyColor  string        `json:"key_color" yaml:"key_color"` // hex, e.g. "#00ff00"
	Tolerance float64       `json:"tolerance" yaml:"tolerance"`
}

// OutputConfig describes the downstream sinks
type OutputConfig struct {
	JPEGQuality int    `json:"jpeg_quality" yaml:"jpeg_quality"`
	SnapshotDir string `json:"snapshot_dir,omitempty" yaml:"snapshot_dir,omitempty"`
}

// OverlayConfig represents overlay configuration
type OverlayConfig struct {
	Enabled bool                     `json:"enabled" yaml:"enabled"`
	Widgets []map[string]interface{} `json:"widgets" yaml:"widgets"`
}

// Config represents the application configuration
type Config struct {
	Pipeline   PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	Capture    CaptureConfig   `json:"capture" yaml:"capture"`
	Segmenter  SegmenterConfig `json:"segmenter" yaml:"segmenter"`
	Output     OutputConfig    `json:"output" yaml:"output"`
	Overlay    OverlayConfig   `json:"overlay" yaml:"overlay"`
	ServerPort int             `json:"server_port" yaml:"server_port"`
	LogLevel   string          `json:"log_level" yaml:"log_level"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Enabled: false,
			Width:   640,
			Height:  480,
			Scaler:  ScalerNearest,
		},
		Capture: CaptureConfig{
			Source: SourcePattern,
			Device: "/dev/video0",
			FPS:    30,
		},
		Segmenter: SegmenterConfig{
			Kind:      SegmenterChromaKey,
			TimeoutMS: 2000,
			KeyColor:  "#00ff00",
			Tolerance: 0.35,
		},
		Output: OutputConfig{
			JPEGQuality: 90,
		},
		Overlay: OverlayConfig{
			Enabled: false,
			Widgets: []map[string]interface{}{},
		},
		ServerPort: 8080,
		LogLevel:   "info",
	}
}

// ValidateSize rejects non-positive target dimensions
func ValidateSize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: got %dx%d", ErrInvalidSize, width, height)
	}
	return nil
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if err := ValidateSize(c.Pipeline.Width, c.Pipeline.Height); err != nil {
		return err
	}

	switch c.Pipeline.Scaler {
	case ScalerNearest, ScalerBilinear, ScalerCatmullRom, ScalerLanczos:
	default:
		return fmt.Errorf("unknown scaler: %q", c.Pipeline.Scaler)
	}

	switch c.Capture.Source {
	case SourceCamera, SourcePattern:
	default:
		return fmt.Errorf("unknown capture source: %q", c.Capture.Source)
	}
	if c.Capture.FPS <= 0 {
		return fmt.Errorf("capture fps must be positive, got %d", c.Capture.FPS)
	}

	switch c.Segmenter.Kind {
	case SegmenterChromaKey:
	case SegmenterRemote:
		if c.Segmenter.URL == "" {
			return fmt.Errorf("remote segmenter requires a url")
		}
	default:
		return fmt.Errorf("unknown segmenter: %q", c.Segmenter.Kind)
	}

	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be in [1,100], got %d", c.Output.JPEGQuality)
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port: %d", c.ServerPort)
	}
	if !logger.ValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		actualConfigPath = filepath.Join(homeDir, ".config", "backdrop", "config.yaml")
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	// Try to read config file
	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Bool("vb_enabled", m.config.Pipeline.Enabled).
		Int("width", m.config.Pipeline.Width).
		Int("height", m.config.Pipeline.Height).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	// Start from defaults so sections missing from the file keep sane values
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Overlay.Widgets == nil {
		cfg.Overlay.Widgets = []map[string]interface{}{}
	}
	cfg.Pipeline.Scaler = ScalerKind(strings.ToLower(string(cfg.Pipeline.Scaler)))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()

	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}

	// Return a copy to prevent external modification
	cfg := *m.config
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	// Ensure the directory exists
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c := *cfg
	m.mu.Lock()
	m.config = &c
	m.mu.Unlock()
	return m.Save()
}

// mutate applies fn to the stored config under the write lock and persists it
func (m *Manager) mutate(fn func(cfg *Config) error) error {
	m.mu.Lock()
	if m.config == nil {
		m.config = Defaults()
	}
	next := *m.config
	if err := fn(&next); err != nil {
		m.mu.Unlock()
		return err
	}
	m.config = &next
	m.mu.Unlock()
	return m.Save()
}

// SetPipelineEnabled persists the virtual background toggle
func (m *Manager) SetPipelineEnabled(enabled bool) error {
	return m.mutate(func(cfg *Config) error {
		cfg.Pipeline.Enabled = enabled
		return nil
	})
}

// SetTargetSize persists the output size, rejecting non-positive values
func (m *Manager) SetTargetSize(width, height int) error {
	if err := ValidateSize(width, height); err != nil {
		return err
	}
	return m.mutate(func(cfg *Config) error {
		cfg.Pipeline.Width = width
		cfg.Pipeline.Height = height
		return nil
	})
}

// SetBackgroundURI persists the background source ("" selects the bundled default)
func (m *Manager) SetBackgroundURI(uri string) error {
	return m.mutate(func(cfg *Config) error {
		cfg.Pipeline.BackgroundURI = uri
		return nil
	})
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	return m.mutate(func(cfg *Config) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid server port: %d", port)
		}
		cfg.ServerPort = port
		return nil
	})
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	return m.mutate(func(cfg *Config) error {
		if !logger.ValidLevel(level) {
			return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", level)
		}
		cfg.LogLevel = strings.ToLower(level)
		return nil
	})
}

// GetConfigPath returns the config file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
