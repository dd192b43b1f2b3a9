// Package config loads the collector's YAML run configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level run configuration.
type Config struct {
	// Logging is the logrus level name.
	Logging string `yaml:"logging" default:"info"`

	// DatabasePath is the sqlite file. Empty disables the database store.
	DatabasePath string `yaml:"database_path" default:"voltio.db"`

	// CSVDir is the directory for per-entity CSV output. Empty disables it.
	CSVDir string `yaml:"csv_dir" default:"data"`

	// CheckpointPath is the JSON checkpoint file used when the database
	// store is disabled. With a database the checkpoints live in sqlite.
	CheckpointPath string `yaml:"checkpoint_path" default:"checkpoints.json"`

	// CatalogPath is the curated entity catalog.
	CatalogPath string `yaml:"catalog_path" default:"catalog.yaml"`

	// Schedule is a cron expression for daemon mode.
	Schedule string `yaml:"schedule" default:"0 6 * * *"`

	// DefaultStart is the collection start when no --from flag is given.
	DefaultStart string `yaml:"default_start" default:"2014-01-01"`

	// MaxPriority filters the catalog; entities above it are skipped.
	MaxPriority int `yaml:"max_priority" default:"3"`

	Validation ValidationConfig `yaml:"validation"`

	ESIOS   SourceConfig `yaml:"esios"`
	AEMET   SourceConfig `yaml:"aemet"`
	Capital SourceConfig `yaml:"capital"`
}

// SourceConfig tunes one upstream API.
type SourceConfig struct {
	BaseURL           string `yaml:"base_url"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	MaxSpanDays       int    `yaml:"max_span_days"`
	Timeout           string `yaml:"timeout" default:"30s"`
}

// ValidationConfig tunes chunk validation.
type ValidationConfig struct {
	// CompletenessWarnRatio is the fraction of expected hourly slots below
	// which a chunk is logged as sparse. Warning only.
	CompletenessWarnRatio float64 `yaml:"completeness_warn_ratio" default:"0.95"`

	// Timezone resolves local calendar days for slot counting.
	Timezone string `yaml:"timezone" default:"Europe/Madrid"`
}

func (c *Config) Validate() error {
	if c.DatabasePath == "" && c.CSVDir == "" {
		return fmt.Errorf("config: at least one of database_path and csv_dir is required")
	}
	if c.MaxPriority < 1 || c.MaxPriority > 5 {
		return fmt.Errorf("config: max_priority must be 1..5, got %d", c.MaxPriority)
	}
	if c.Validation.CompletenessWarnRatio < 0 || c.Validation.CompletenessWarnRatio > 1 {
		return fmt.Errorf("config: completeness_warn_ratio must be 0..1, got %g", c.Validation.CompletenessWarnRatio)
	}
	if _, err := time.LoadLocation(c.Validation.Timezone); err != nil {
		return fmt.Errorf("config: timezone: %w", err)
	}
	if _, err := time.Parse("2006-01-02", c.DefaultStart); err != nil {
		return fmt.Errorf("config: default_start: %w", err)
	}
	for name, src := range map[string]SourceConfig{"esios": c.ESIOS, "aemet": c.AEMET, "capital": c.Capital} {
		if src.RequestsPerMinute < 0 {
			return fmt.Errorf("config: %s: requests_per_minute must not be negative", name)
		}
		if src.Timeout != "" {
			if _, err := time.ParseDuration(src.Timeout); err != nil {
				return fmt.Errorf("config: %s: timeout: %w", name, err)
			}
		}
	}
	return nil
}

// Location returns the validation timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Validation.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TimeoutDuration parses a source timeout, falling back to 30s.
func (s SourceConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Load reads path, fills defaults and validates. A missing file yields the
// defaults. Secrets come from the environment; a .env file is loaded first
// when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, err
	}

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}
	applySourceDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applySourceDefaults fills per-source budgets that differ between sources,
// which struct tags cannot express per field instance.
func applySourceDefaults(cfg *Config) {
	if cfg.ESIOS.RequestsPerMinute == 0 {
		cfg.ESIOS.RequestsPerMinute = 50
	}
	if cfg.AEMET.RequestsPerMinute == 0 {
		cfg.AEMET.RequestsPerMinute = 30
	}
	if cfg.Capital.RequestsPerMinute == 0 {
		cfg.Capital.RequestsPerMinute = 30
	}
	if cfg.ESIOS.MaxSpanDays == 0 {
		cfg.ESIOS.MaxSpanDays = 365
	}
	if cfg.AEMET.MaxSpanDays == 0 {
		cfg.AEMET.MaxSpanDays = 180
	}
	if cfg.Capital.MaxSpanDays == 0 {
		cfg.Capital.MaxSpanDays = 30
	}
}
