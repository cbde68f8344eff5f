// Package config handles TOML and YAML configuration for scantag.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Store      StoreConfig      `toml:"store" yaml:"store"`
	Quarantine QuarantineConfig `toml:"quarantine" yaml:"quarantine"`
	Tagging    TaggingConfig    `toml:"tagging" yaml:"tagging"`
	Filter     FilterConfig     `toml:"filter" yaml:"filter"`
	Queue      QueueConfig      `toml:"queue" yaml:"queue"`
	OTEL       OTELConfig       `toml:"otel" yaml:"otel"`
	Metrics    ServeConfig      `toml:"metrics" yaml:"metrics"`
	Log        LogConfig        `toml:"log" yaml:"log"`
}

// Store backends.
const (
	BackendS3     = "s3"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// StoreConfig selects and connects the object store.
type StoreConfig struct {
	Backend   string `toml:"backend" yaml:"backend"`
	Region    string `toml:"region" yaml:"region"`
	Profile   string `toml:"profile" yaml:"profile"`
	Endpoint  string `toml:"endpoint" yaml:"endpoint"`
	AccessKey string `toml:"access_key" yaml:"access_key"`
	SecretKey string `toml:"secret_key" yaml:"secret_key"`
	PathStyle bool   `toml:"path_style" yaml:"path_style"`
	Path      string `toml:"path" yaml:"path"` // bolt data directory
}

// QuarantineConfig controls relocation of malicious objects.
type QuarantineConfig struct {
	// Bucket is the quarantine namespace. Empty disables quarantine.
	Bucket       string     `toml:"bucket" yaml:"bucket"`
	DeleteSource bool       `toml:"delete_source" yaml:"delete_source"`
	Policy       string     `toml:"policy" yaml:"policy"`
	Mandatory    bool       `toml:"mandatory" yaml:"mandatory"`
	Poll         PollConfig `toml:"poll" yaml:"poll"`
}

// PollConfig bounds the wait on an asynchronous copy.
type PollConfig struct {
	MaxAttempts int           `toml:"max_attempts" yaml:"max_attempts"`
	DelayStr    string        `toml:"delay" yaml:"delay"`
	Delay       time.Duration `toml:"-" yaml:"-"`
	Backoff     bool          `toml:"backoff" yaml:"backoff"`
}

// TaggingConfig controls how engine tags are spelled.
type TaggingConfig struct {
	Style      string `toml:"style" yaml:"style"`
	Charset    string `toml:"charset" yaml:"charset"`
	MaxTags    int    `toml:"max_tags" yaml:"max_tags"`
	LogChanges bool   `toml:"log_changes" yaml:"log_changes"`
}

// FilterConfig limits which scanned objects are acted on.
type FilterConfig struct {
	ExcludeStores   []string `toml:"exclude_stores" yaml:"exclude_stores"`
	IncludePrefixes []string `toml:"include_prefixes" yaml:"include_prefixes"`
	ExcludePrefixes []string `toml:"exclude_prefixes" yaml:"exclude_prefixes"`
}

// QueueConfig holds scan-result queue settings.
type QueueConfig struct {
	URL             string        `toml:"url" yaml:"url"`
	Endpoint        string        `toml:"endpoint" yaml:"endpoint"`
	MaxMessages     int32         `toml:"max_messages" yaml:"max_messages"`
	Workers         int           `toml:"workers" yaml:"workers"`
	WaitTimeStr     string        `toml:"wait_time" yaml:"wait_time"`
	WaitTime        time.Duration `toml:"-" yaml:"-"`
	VisibilityStr   string        `toml:"visibility" yaml:"visibility"`
	Visibility      time.Duration `toml:"-" yaml:"-"`
	RetryDelayStr   string        `toml:"retry_delay" yaml:"retry_delay"`
	RetryDelay      time.Duration `toml:"-" yaml:"-"`
	ShutdownStr     string        `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	ShutdownTimeout time.Duration `toml:"-" yaml:"-"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint" yaml:"endpoint"`
	Insecure    bool          `toml:"insecure" yaml:"insecure"`
	ServiceName string        `toml:"service_name" yaml:"service_name"`
	Traces      TracesConfig  `toml:"traces" yaml:"traces"`
	Metrics     MetricsConfig `toml:"metrics" yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled" yaml:"enabled"`
	SampleRate float64 `toml:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig holds OTLP metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// ServeConfig holds the Prometheus /metrics and /health listener.
type ServeConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Addr    string `toml:"addr" yaml:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // "console" or "json"
}

// Default returns a configuration with every default applied, for runs
// without a config file.
func Default() (*Config, error) {
	cfg := &Config{}
	return cfg, finish(cfg)
}

// Load reads and parses a config file. Files ending in .yaml or .yml are
// parsed as YAML, everything else as TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func finish(cfg *Config) error {
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return err
	}
	applyDefaults(cfg)
	return parseDurations(cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendS3
	}
	if cfg.Quarantine.Policy == "" {
		cfg.Quarantine.Policy = "deterministic"
	}
	if cfg.Quarantine.Poll.MaxAttempts == 0 {
		cfg.Quarantine.Poll.MaxAttempts = 10
	}
	if cfg.Quarantine.Poll.DelayStr == "" {
		cfg.Quarantine.Poll.DelayStr = "1s"
	}
	if cfg.Tagging.Style == "" {
		cfg.Tagging.Style = "dash"
	}
	if cfg.Tagging.Charset == "" {
		cfg.Tagging.Charset = "s3"
	}
	if cfg.Tagging.MaxTags == 0 {
		cfg.Tagging.MaxTags = 10
	}
	if cfg.Queue.MaxMessages == 0 {
		cfg.Queue.MaxMessages = 10
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.WaitTimeStr == "" {
		cfg.Queue.WaitTimeStr = "20s"
	}
	if cfg.Queue.VisibilityStr == "" {
		cfg.Queue.VisibilityStr = "0s"
	}
	if cfg.Queue.RetryDelayStr == "" {
		cfg.Queue.RetryDelayStr = "30s"
	}
	if cfg.Queue.ShutdownStr == "" {
		cfg.Queue.ShutdownStr = "30s"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "scantag"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

// applyEnv lets deployment environment variables override file settings.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("QUARANTINE_BUCKET"); ok {
		cfg.Quarantine.Bucket = strings.TrimSpace(v)
	}
	if v, ok := lookup("DELETE_MALICIOUS"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse DELETE_MALICIOUS %q: %w", v, err)
		}
		cfg.Quarantine.DeleteSource = b
	}
	if v, ok := lookup("SCAN_RESULTS_QUEUE_URL"); ok && v != "" {
		cfg.Queue.URL = v
	}
	if v, ok := lookup("AWS_REGION"); ok && v != "" {
		cfg.Store.Region = v
	}
	return nil
}

func parseDurations(cfg *Config) error {
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"quarantine.poll.delay", cfg.Quarantine.Poll.DelayStr, &cfg.Quarantine.Poll.Delay},
		{"queue.wait_time", cfg.Queue.WaitTimeStr, &cfg.Queue.WaitTime},
		{"queue.visibility", cfg.Queue.VisibilityStr, &cfg.Queue.Visibility},
		{"queue.retry_delay", cfg.Queue.RetryDelayStr, &cfg.Queue.RetryDelay},
		{"queue.shutdown_timeout", cfg.Queue.ShutdownStr, &cfg.Queue.ShutdownTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = v
	}
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendS3, BackendMemory:
	case BackendBolt:
		if c.Store.Path == "" {
			return fmt.Errorf("store: path required for the bolt backend")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}
	if c.Tagging.MaxTags < 1 {
		return fmt.Errorf("tagging: max_tags must be positive (got %d)", c.Tagging.MaxTags)
	}
	if c.Quarantine.Poll.MaxAttempts < 1 {
		return fmt.Errorf("quarantine: poll.max_attempts must be positive (got %d)", c.Quarantine.Poll.MaxAttempts)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue: workers must be positive (got %d)", c.Queue.Workers)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	return nil
}

// ValidateServe adds the checks that only apply to the queue daemon.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Queue.URL == "" {
		return fmt.Errorf("queue: url required (or SCAN_RESULTS_QUEUE_URL)")
	}
	return nil
}
