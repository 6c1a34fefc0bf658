// Package config handles configuration for desk-runner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/window"
)

// Config represents the workspace configuration (config.yaml).
type Config struct {
	// Flow selection
	Flows       []string `yaml:"flows"`       // Glob patterns for flows
	IncludeTags []string `yaml:"includeTags"` // Tags to include
	ExcludeTags []string `yaml:"excludeTags"` // Tags to exclude

	// Execution settings
	Env        map[string]string `yaml:"env"` // Environment variables
	Retries    int               `yaml:"retries"`
	StopOnFail bool              `yaml:"stopOnFail"`
	Output     string            `yaml:"output"`

	// Application under test
	App     string   `yaml:"app"`     // Executable path
	Args    []string `yaml:"args"`    // Launch arguments
	Backend string   `yaml:"backend"` // Desktop backend (sim)

	Timing    Timing               `yaml:"timing"`
	Artifacts *core.ArtifactConfig `yaml:"artifacts"`
}

// Timing overrides window session budgets. Zero fields keep the defaults;
// durations are in milliseconds.
type Timing struct {
	PopupRetries        int `yaml:"popupRetries"`
	PopupTickMs         int `yaml:"popupTickMs"`
	ReadyRetries        int `yaml:"readyRetries"`
	ReadyTickMs         int `yaml:"readyTickMs"`
	DismissRetries      int `yaml:"dismissRetries"`
	DismissTickMs       int `yaml:"dismissTickMs"`
	FocusRetries        int `yaml:"focusRetries"`
	FocusTickMs         int `yaml:"focusTickMs"`
	IdleTimeoutMs       int `yaml:"idleTimeoutMs"`
	IdleRetries         int `yaml:"idleRetries"`
	IdleTickMs          int `yaml:"idleTickMs"`
	ExpectPopupAttempts int `yaml:"expectPopupAttempts"`
	LaunchRetries       int `yaml:"launchRetries"`
	LaunchTickMs        int `yaml:"launchTickMs"`
	CloseRetries        int `yaml:"closeRetries"`
	CloseTickMs         int `yaml:"closeTickMs"`
	MenuSettleMs        int `yaml:"menuSettleMs"`
	ValueSettleMs       int `yaml:"valueSettleMs"`
}

// WindowConfig applies the overrides to window.DefaultConfig.
func (t Timing) WindowConfig() window.Config {
	c := window.DefaultConfig()
	setInt(&c.PopupRetries, t.PopupRetries)
	setMs(&c.PopupTick, t.PopupTickMs)
	setInt(&c.ReadyRetries, t.ReadyRetries)
	setMs(&c.ReadyTick, t.ReadyTickMs)
	setInt(&c.DismissRetries, t.DismissRetries)
	setMs(&c.DismissTick, t.DismissTickMs)
	setInt(&c.FocusRetries, t.FocusRetries)
	setMs(&c.FocusTick, t.FocusTickMs)
	setMs(&c.IdleTimeout, t.IdleTimeoutMs)
	setInt(&c.IdleRetries, t.IdleRetries)
	setMs(&c.IdleTick, t.IdleTickMs)
	setInt(&c.ExpectPopupAttempts, t.ExpectPopupAttempts)
	setInt(&c.LaunchRetries, t.LaunchRetries)
	setMs(&c.LaunchTick, t.LaunchTickMs)
	setInt(&c.CloseRetries, t.CloseRetries)
	setMs(&c.CloseTick, t.CloseTickMs)
	setMs(&c.MenuSettle, t.MenuSettleMs)
	setMs(&c.ValueSettle, t.ValueSettleMs)
	return c
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setMs(dst *time.Duration, ms int) {
	if ms > 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

// ArtifactConfig returns the configured artifact capture, or the defaults.
func (c *Config) ArtifactConfig() core.ArtifactConfig {
	if c == nil || c.Artifacts == nil {
		return core.DefaultArtifactConfig()
	}
	return *c.Artifacts
}

// Validate checks values yaml cannot reject on its own.
func (c *Config) Validate() error {
	if c.Retries < 0 {
		return fmt.Errorf("%w: retries must not be negative (got %d)", core.ErrInvalidConfig, c.Retries)
	}
	for _, pattern := range c.Flows {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("%w: flows pattern %q: %v", core.ErrInvalidConfig, pattern, err)
		}
	}
	return nil
}

// Load loads configuration from a file. Relative flow patterns are kept as
// written; ResolveFlows interprets them against the config's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try config.yaml first
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try config.yml
	configPath = filepath.Join(dir, "config.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, return empty config
	return &Config{}, nil
}

// ResolveFlows expands the flow patterns relative to baseDir. Matches are
// returned in pattern order without duplicates.
func (c *Config) ResolveFlows(baseDir string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	for _, pattern := range c.Flows {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(baseDir, pattern)
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: flows pattern %q: %v", core.ErrInvalidConfig, pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files, nil
}
