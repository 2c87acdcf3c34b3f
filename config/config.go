// CLAUDE:SUMMARY YAML configuration for the docview binary (viewer, resize, server, journal, mcp, documents) with defaults and conversion to component configs.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docview/debounce"
	"github.com/hazyhaar/docview/docsvc"
	"github.com/hazyhaar/docview/journal"
	"github.com/hazyhaar/docview/loader"
	"github.com/hazyhaar/docview/viewport"
)

// Config is the top-level docview configuration.
type Config struct {
	Viewer    ViewerConfig  `yaml:"viewer"`
	Resize    ResizeConfig  `yaml:"resize"`
	Server    ServerConfig  `yaml:"server"`
	Journal   JournalConfig `yaml:"journal"`
	MCP       MCPConfig     `yaml:"mcp"`
	Documents docsvc.Config `yaml:"documents"`
}

// ViewerConfig controls rendering and zoom.
type ViewerConfig struct {
	BaseDPI        float64 `yaml:"base_dpi"`
	Margin         float64 `yaml:"margin"`
	FallbackLevel  float64 `yaml:"fallback_level"`
	MinUsableWidth float64 `yaml:"min_usable_width"`
	ZoomMin        float64 `yaml:"zoom_min"`
	ZoomMax        float64 `yaml:"zoom_max"`
	ZoomStep       float64 `yaml:"zoom_step"`
	DefaultZoom    string  `yaml:"default_zoom"` // fit_width | <level>
	InitialWidth   int     `yaml:"initial_width"`
}

// ResizeConfig controls resize debouncing.
type ResizeConfig struct {
	Threshold int           `yaml:"threshold"`
	Settle    time.Duration `yaml:"settle"`
	Tolerance float64       `yaml:"tolerance"`
}

// ServerConfig controls the HTTP shell.
type ServerConfig struct {
	Addr        string        `yaml:"addr"`
	Root        string        `yaml:"root"` // documents are resolved under this directory
	MaxBody     int64         `yaml:"max_body"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// JournalConfig controls the SQLite event journal.
type JournalConfig struct {
	Path          string        `yaml:"path"` // empty disables the journal
	RetentionDays int           `yaml:"retention_days"`
	Buffer        int           `yaml:"buffer"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// MCPConfig controls the MCP tool surface.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if _, err := ParseZoom(cfg.Viewer.DefaultZoom); err != nil {
		return nil, err
	}
	if cfg.Viewer.ZoomMin > cfg.Viewer.ZoomMax {
		return nil, fmt.Errorf("config: zoom_min %.2f exceeds zoom_max %.2f", cfg.Viewer.ZoomMin, cfg.Viewer.ZoomMax)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	v := &c.Viewer
	if v.BaseDPI <= 0 {
		v.BaseDPI = 144
	}
	if v.Margin <= 0 {
		v.Margin = 80
	}
	if v.FallbackLevel <= 0 {
		v.FallbackLevel = 0.8
	}
	if v.MinUsableWidth <= 0 {
		v.MinUsableWidth = 100
	}
	if v.ZoomMin <= 0 {
		v.ZoomMin = 0.1
	}
	if v.ZoomMax <= 0 {
		v.ZoomMax = 5.0
	}
	if v.ZoomStep <= 0 {
		v.ZoomStep = 0.1
	}
	if v.DefaultZoom == "" {
		v.DefaultZoom = "fit_width"
	}
	if v.InitialWidth <= 0 {
		v.InitialWidth = 1024
	}
	if c.Resize.Threshold <= 0 {
		c.Resize.Threshold = 20
	}
	if c.Resize.Settle <= 0 {
		c.Resize.Settle = 600 * time.Millisecond
	}
	if c.Resize.Tolerance <= 0 {
		c.Resize.Tolerance = 0.05
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Server.Root == "" {
		c.Server.Root = "."
	}
	if c.Server.MaxBody <= 0 {
		c.Server.MaxBody = 1 << 20
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Journal.RetentionDays <= 0 {
		c.Journal.RetentionDays = 30
	}
	if c.MCP.Name == "" {
		c.MCP.Name = "docview"
	}
}

// ParseZoom reads "fit_width" or a positive fixed level such as "1.25".
func ParseZoom(s string) (loader.Zoom, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "fit_width" || s == "fit-width" {
		return loader.Zoom{Level: 1, Mode: loader.FitWidth}, nil
	}
	level, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil || level <= 0 {
		return loader.Zoom{}, fmt.Errorf("config: invalid default_zoom %q", s)
	}
	if strings.HasSuffix(s, "%") {
		level /= 100
	}
	return loader.Zoom{Level: level, Mode: loader.Fixed}, nil
}

// ViewportConfig builds the viewport configuration. Handler, Searcher and
// MarkIDs are left for the caller.
func (c *Config) ViewportConfig(logger *slog.Logger) viewport.Config {
	zoom, err := ParseZoom(c.Viewer.DefaultZoom)
	if err != nil {
		zoom = loader.Zoom{Level: 1, Mode: loader.FitWidth}
	}
	return viewport.Config{
		Loader: loader.Config{
			BaseDPI:        c.Viewer.BaseDPI,
			Margin:         c.Viewer.Margin,
			FallbackLevel:  c.Viewer.FallbackLevel,
			MinUsableWidth: c.Viewer.MinUsableWidth,
			Logger:         logger,
		},
		Resize: debounce.Config{
			Threshold: c.Resize.Threshold,
			Settle:    c.Resize.Settle,
			Logger:    logger,
		},
		ZoomTolerance: c.Resize.Tolerance,
		ZoomMin:       c.Viewer.ZoomMin,
		ZoomMax:       c.Viewer.ZoomMax,
		DefaultZoom:   zoom,
		InitialWidth:  c.Viewer.InitialWidth,
		Logger:        logger,
	}
}

// JournalOptions builds the journal configuration.
func (c *Config) JournalOptions(logger *slog.Logger) journal.Config {
	return journal.Config{
		Buffer:        c.Journal.Buffer,
		FlushInterval: c.Journal.FlushInterval,
		Logger:        logger,
	}
}
