// Package config defines the manas configuration surface. Configuration
// is loaded from .manas/config.json (or a YAML file when given an
// explicit path), overridden by MANAS_* environment variables, and can be
// watched for live reload.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all manas configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`

	// Workspace root; state lives under <workspace>/.manas
	Workspace string `yaml:"workspace" json:"workspace"`

	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	Breaker   BreakerConfig   `yaml:"breaker" json:"breaker"`
	Svapna    SvapnaConfig    `yaml:"svapna" json:"svapna"`
	Report    ReportConfig    `yaml:"report" json:"report"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// LoggingConfig mirrors the logging package's expectations.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode"`
	Categories map[string]bool `yaml:"categories" json:"categories"`
	Level      string          `yaml:"level" json:"level"`
}

// ReportConfig configures the report synthesizer.
type ReportConfig struct {
	// Home is the root directory for consolidated artifacts. Defaults
	// to <workspace>/.manas.
	Home string `yaml:"home" json:"home"`
}

// Default returns a Config carrying all documented defaults.
func Default() *Config {
	wd, _ := os.Getwd()
	return &Config{
		Name:      "manas",
		Version:   "0.1.0",
		Workspace: wd,
		Scheduler: DefaultSchedulerConfig(),
		Retry:     DefaultRetryConfig(),
		Breaker:   DefaultBreakerConfig(),
		Svapna:    DefaultSvapnaConfig(),
		Report:    ReportConfig{},
		Logging:   LoggingConfig{DebugMode: false, Level: "info"},
	}
}

// ManasDir returns the state directory for the configured workspace.
func (c *Config) ManasDir() string {
	return filepath.Join(c.Workspace, ".manas")
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ManasDir(), "manas.db")
}

// ReportHome returns the root for consolidated report artifacts.
func (c *Config) ReportHome() string {
	if c.Report.Home != "" {
		return c.Report.Home
	}
	return c.ManasDir()
}

// Load reads configuration for a workspace: defaults, then
// .manas/config.json if present, then environment overrides.
func Load(workspace string) (*Config, error) {
	cfg := Default()
	if workspace != "" {
		cfg.Workspace = workspace
	}

	path := filepath.Join(cfg.ManasDir(), "config.json")
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads configuration from an explicit JSON or YAML path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid yaml config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid json config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as indented JSON to .manas/config.json.
func (c *Config) Save() error {
	dir := c.ManasDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be >= 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("breaker.success_threshold must be >= 1, got %d", c.Breaker.SuccessThreshold)
	}
	if c.Svapna.MaxSessionsPerCycle < 1 {
		return fmt.Errorf("svapna.max_sessions_per_cycle must be >= 1, got %d", c.Svapna.MaxSessionsPerCycle)
	}
	if c.Svapna.SurpriseThreshold < 0 || c.Svapna.SurpriseThreshold > 1 {
		return fmt.Errorf("svapna.surprise_threshold must be in [0,1], got %v", c.Svapna.SurpriseThreshold)
	}
	if c.Svapna.MinSuccessRate < 0 || c.Svapna.MinSuccessRate > 1 {
		return fmt.Errorf("svapna.min_success_rate must be in [0,1], got %v", c.Svapna.MinSuccessRate)
	}
	return nil
}

// applyEnvOverrides applies MANAS_* environment variables on top of the
// loaded values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MANAS_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("MANAS_DEBUG"); v != "" {
		c.Logging.DebugMode = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("MANAS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MANAS_STRATEGY"); v != "" {
		c.Scheduler.Strategy = v
	}
	if v := os.Getenv("MANAS_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("MANAS_SVAPNA_PROJECT"); v != "" {
		c.Svapna.Project = v
	}
	if v := os.Getenv("MANAS_REPORT_HOME"); v != "" {
		c.Report.Home = v
	}
}
