package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds all configuration for the silver pipeline
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Datasets   []string         `yaml:"datasets"`
	Planner    PlannerConfig    `yaml:"planner"`
	Processing ProcessingConfig `yaml:"processing"`
	Quality    QualityConfig    `yaml:"quality"`
	Slack      SlackConfig      `yaml:"slack"`
}

// PathsConfig holds the data tier locations
type PathsConfig struct {
	Bronze  string `yaml:"bronze"`   // partitioned raw CSV input, read-only
	Silver  string `yaml:"silver"`   // cleaned segment output
	DataDir string `yaml:"data_dir"` // state database and run history
}

// PlannerConfig holds partition selection settings
type PlannerConfig struct {
	StartYear       int `yaml:"start_year"`        // earliest valid partition key
	InitialLoadYear int `yaml:"initial_load_year"` // bootstrap cutoff for initial mode
}

// ProcessingConfig holds engine execution settings
type ProcessingConfig struct {
	Workers           int     `yaml:"workers"`             // parallel partition chains
	RowCountTolerance float64 `yaml:"row_count_tolerance"` // fraction of hint allowed to drift
}

// QualityConfig holds post-merge validation thresholds.
// Thresholds maps dataset -> field -> maximum acceptable null rate (0..1).
type QualityConfig struct {
	DefaultNullThreshold float64                       `yaml:"default_null_threshold"`
	Thresholds           map[string]map[string]float64 `yaml:"thresholds"`
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// DefaultDatasets are the fact datasets carrying a yearly partition key.
// Dimension tables (circuits, drivers, constructors, seasons, status) are
// fully reloaded elsewhere and never pass through this engine.
var DefaultDatasets = []string{
	"results",
	"sprint_results",
	"qualifying",
	"lap_times",
	"pit_stops",
	"driver_standings",
	"constructor_standings",
	"constructor_results",
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes.
func LoadBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no file input.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// DefaultDataDir returns the default data directory for state storage.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".silverpipe")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func (c *Config) applyDefaults() {
	if c.Paths.Bronze == "" {
		c.Paths.Bronze = filepath.Join("data", "bronze")
	} else {
		c.Paths.Bronze = expandTilde(c.Paths.Bronze)
	}
	if c.Paths.Silver == "" {
		c.Paths.Silver = filepath.Join("data", "silver")
	} else {
		c.Paths.Silver = expandTilde(c.Paths.Silver)
	}
	if c.Paths.DataDir == "" {
		home, _ := os.UserHomeDir()
		c.Paths.DataDir = filepath.Join(home, ".silverpipe")
	} else {
		c.Paths.DataDir = expandTilde(c.Paths.DataDir)
	}

	if len(c.Datasets) == 0 {
		c.Datasets = append([]string(nil), DefaultDatasets...)
	}

	if c.Planner.StartYear == 0 {
		c.Planner.StartYear = 1950
	}
	if c.Planner.InitialLoadYear == 0 {
		c.Planner.InitialLoadYear = 2010
	}

	if c.Processing.Workers == 0 {
		cores := runtime.NumCPU()
		c.Processing.Workers = cores - 2
		if c.Processing.Workers < 2 {
			c.Processing.Workers = 2
		}
		if c.Processing.Workers > 8 {
			c.Processing.Workers = 8 // partitions are small, more buys nothing
		}
	}
	if c.Processing.RowCountTolerance == 0 {
		c.Processing.RowCountTolerance = 0.02
	}

	if c.Quality.DefaultNullThreshold == 0 {
		c.Quality.DefaultNullThreshold = 0.5
	}
}

func (c *Config) validate() error {
	if c.Planner.StartYear < 1950 {
		return fmt.Errorf("planner.start_year must be 1950 or later, got %d", c.Planner.StartYear)
	}
	if c.Planner.InitialLoadYear < c.Planner.StartYear {
		return fmt.Errorf("planner.initial_load_year (%d) must not precede start_year (%d)",
			c.Planner.InitialLoadYear, c.Planner.StartYear)
	}
	if c.Processing.Workers < 1 {
		return fmt.Errorf("processing.workers must be positive, got %d", c.Processing.Workers)
	}
	if c.Processing.RowCountTolerance < 0 || c.Processing.RowCountTolerance > 1 {
		return fmt.Errorf("processing.row_count_tolerance must be in [0, 1], got %g", c.Processing.RowCountTolerance)
	}
	if c.Quality.DefaultNullThreshold < 0 || c.Quality.DefaultNullThreshold > 1 {
		return fmt.Errorf("quality.default_null_threshold must be in [0, 1], got %g", c.Quality.DefaultNullThreshold)
	}
	for dataset, fields := range c.Quality.Thresholds {
		for field, v := range fields {
			if v < 0 || v > 1 {
				return fmt.Errorf("quality.thresholds.%s.%s must be in [0, 1], got %g", dataset, field, v)
			}
		}
	}
	seen := make(map[string]bool, len(c.Datasets))
	for _, d := range c.Datasets {
		if d == "" {
			return fmt.Errorf("datasets must not contain empty names")
		}
		if seen[d] {
			return fmt.Errorf("dataset %q listed twice", d)
		}
		seen[d] = true
	}
	return nil
}

// NullThreshold returns the configured null-rate threshold for a field,
// falling back to the default when no per-field override exists.
func (c *Config) NullThreshold(dataset, field string) float64 {
	if fields, ok := c.Quality.Thresholds[dataset]; ok {
		if v, ok := fields[field]; ok {
			return v
		}
	}
	return c.Quality.DefaultNullThreshold
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c // shallow copy
	if sanitized.Slack.WebhookURL != "" {
		sanitized.Slack.WebhookURL = "[REDACTED]"
	}
	return &sanitized
}
