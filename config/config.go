// Package config loads engine configuration from a file, environment
// variables, and built-in defaults, in that order of increasing
// precedence for the environment and decreasing for defaults.
//
// Every knob has a default matching the shipped behavior, so an empty
// configuration is a valid one. Environment overrides use the
// SYNCENGINE_ prefix with underscores, e.g. SYNCENGINE_QUEUE_POLL_INTERVAL=5s.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the sync engine.
type Config struct {
	// StorePath is the SQLite database file backing the queue and the
	// analytics buffer.
	StorePath string

	// IngestURL is the analytics batch ingestion endpoint.
	IngestURL string

	// ProbeURL, when set, enables the background reachability probe.
	ProbeURL string

	// MaxRetries is the per-action attempt cap before a queued mutation
	// is dropped.
	MaxRetries int

	// QueuePollInterval is the replay cadence for queued mutations.
	QueuePollInterval time.Duration

	// AnalyticsPollInterval is the delivery cadence for telemetry.
	AnalyticsPollInterval time.Duration

	// BatchSize is how many events go into one ingest request.
	BatchSize int

	// Retention is how long delivered events stay on device.
	Retention time.Duration

	// ProbeInterval is how often the reachability probe runs.
	ProbeInterval time.Duration

	// TransitionWindow is how long the just-went-online/offline notice
	// flags stay raised.
	TransitionWindow time.Duration

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string

	// LogFile, when set, sends logs to a rotated file instead of stderr.
	LogFile string
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		StorePath:             ".syncengine/sync.db",
		MaxRetries:            3,
		QueuePollInterval:     2 * time.Second,
		AnalyticsPollInterval: 5 * time.Minute,
		BatchSize:             50,
		Retention:             30 * 24 * time.Hour,
		ProbeInterval:         10 * time.Second,
		TransitionWindow:      5 * time.Second,
		LogLevel:              "info",
	}
}

// Load reads configuration from the given file (YAML, TOML, or JSON by
// extension), applying SYNCENGINE_* environment overrides on top.
// An empty path skips the file and uses environment plus defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults := Default()

	v.SetDefault("store_path", defaults.StorePath)
	v.SetDefault("ingest_url", defaults.IngestURL)
	v.SetDefault("probe_url", defaults.ProbeURL)
	v.SetDefault("max_retries", defaults.MaxRetries)
	v.SetDefault("queue_poll_interval", defaults.QueuePollInterval)
	v.SetDefault("analytics_poll_interval", defaults.AnalyticsPollInterval)
	v.SetDefault("batch_size", defaults.BatchSize)
	v.SetDefault("retention", defaults.Retention)
	v.SetDefault("probe_interval", defaults.ProbeInterval)
	v.SetDefault("transition_window", defaults.TransitionWindow)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_file", defaults.LogFile)

	v.SetEnvPrefix("SYNCENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		StorePath:             v.GetString("store_path"),
		IngestURL:             v.GetString("ingest_url"),
		ProbeURL:              v.GetString("probe_url"),
		MaxRetries:            v.GetInt("max_retries"),
		QueuePollInterval:     v.GetDuration("queue_poll_interval"),
		AnalyticsPollInterval: v.GetDuration("analytics_poll_interval"),
		BatchSize:             v.GetInt("batch_size"),
		Retention:             v.GetDuration("retention"),
		ProbeInterval:         v.GetDuration("probe_interval"),
		TransitionWindow:      v.GetDuration("transition_window"),
		LogLevel:              v.GetString("log_level"),
		LogFile:               v.GetString("log_file"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.StorePath == "" {
		return fmt.Errorf("store_path is required")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive (got %d)", c.MaxRetries)
	}
	if c.QueuePollInterval <= 0 {
		return fmt.Errorf("queue_poll_interval must be positive (got %s)", c.QueuePollInterval)
	}
	if c.AnalyticsPollInterval <= 0 {
		return fmt.Errorf("analytics_poll_interval must be positive (got %s)", c.AnalyticsPollInterval)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive (got %d)", c.BatchSize)
	}
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive (got %s)", c.Retention)
	}
	return nil
}
