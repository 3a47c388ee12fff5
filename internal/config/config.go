// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Images     ImagesConfig     `mapstructure:"images"`
	Events     EventsConfig     `mapstructure:"events"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// CrawlConfig governs the orchestrator.
type CrawlConfig struct {
	CatalogueURL string        `mapstructure:"catalogue_url"`
	Concurrency  int           `mapstructure:"concurrency"`
	RetryFailed  bool          `mapstructure:"retry_failed"`
	UnitTimeout  time.Duration `mapstructure:"unit_timeout"`
	Force        bool          `mapstructure:"force"`
	Vehicles     []string      `mapstructure:"vehicles"`
	OutputDir    string        `mapstructure:"output_dir"`
}

// RetryConfig mirrors crawler.RetryPolicy.
type RetryConfig struct {
	MaxAttempts         int           `mapstructure:"max_attempts"`
	UnitTimeoutAttempts int           `mapstructure:"unit_timeout_attempts"`
	BaseDelay           time.Duration `mapstructure:"base_delay"`
	MaxDelay            time.Duration `mapstructure:"max_delay"`
}

// PaginationConfig tunes the reveal loop.
type PaginationConfig struct {
	MinRevealInterval      time.Duration `mapstructure:"min_reveal_interval"`
	RevealWait             time.Duration `mapstructure:"reveal_wait"`
	PollInterval           time.Duration `mapstructure:"poll_interval"`
	StabilityQuorum        int           `mapstructure:"stability_quorum"`
	StabilityQuorumNoTotal int           `mapstructure:"stability_quorum_no_total"`
	MaxReveals             int           `mapstructure:"max_reveals"`
}

// BrowserConfig configures the headless browser.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	ExecPath          string        `mapstructure:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	PopupTimeout      time.Duration `mapstructure:"popup_timeout"`
	RevealStep        int           `mapstructure:"reveal_step"`
}

// Checkpoint backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// CheckpointConfig selects and configures the checkpoint store.
type CheckpointConfig struct {
	Backend     string        `mapstructure:"backend"`
	Path        string        `mapstructure:"path"`
	DSN         string        `mapstructure:"dsn"`
	Table       string        `mapstructure:"table"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// SinkConfig enables the record and image sinks.
type SinkConfig struct {
	CSV      CSVSinkConfig      `mapstructure:"csv"`
	Postgres PostgresSinkConfig `mapstructure:"postgres"`
	Mongo    MongoSinkConfig    `mapstructure:"mongo"`
	Images   ImageSinkConfig    `mapstructure:"images"`
}

// CSVSinkConfig writes records to a CSV file. An empty path defaults to
// <output_dir>/parts.csv.
type CSVSinkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// PostgresSinkConfig writes records to a Postgres table.
type PostgresSinkConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// MongoSinkConfig writes records to a MongoDB collection.
type MongoSinkConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// Image sink backends.
const (
	ImageBackendLocal = "local"
	ImageBackendGCS   = "gcs"
)

// ImageSinkConfig selects where diagrams are stored. Dir is the local root
// (default <output_dir>); Prefix is prepended to GCS object names.
type ImageSinkConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// ImagesConfig configures diagram download.
type ImagesConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
	RetryWait  time.Duration `mapstructure:"retry_wait"`
	Referer    string        `mapstructure:"referer"`
	CacheSize  int           `mapstructure:"cache_size"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
	MaxBytes   int64         `mapstructure:"max_bytes"`
}

// EventsConfig holds Pub/Sub settings for unit events.
type EventsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the status server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig controls zap.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"catalogue-url": "crawl.catalogue_url",
	"concurrency":   "crawl.concurrency",
	"force":         "crawl.force",
	"retry-failed":  "crawl.retry_failed",
	"vehicle":       "crawl.vehicles",
	"output-dir":    "crawl.output_dir",
	"headless":      "browser.headless",
	"checkpoint":    "checkpoint.backend",
	"log-level":     "logging.level",
	"serve":         "server.enabled",
	"port":          "server.port",
}

// Load builds a Config from defaults, an optional file, CATALOGUE_*
// environment variables and any known flags in flags, in increasing priority.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOGUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register keys so CATALOGUE_* variables reach Unmarshal.
	for _, key := range []string{
		"crawl.catalogue_url", "browser.exec_path", "browser.user_agent",
		"checkpoint.path", "checkpoint.dsn", "sink.csv.path", "sink.postgres.dsn",
		"sink.mongo.uri", "sink.images.dir", "sink.images.bucket", "images.referer",
		"events.project_id", "server.api_key",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("crawl.vehicles", []string{})
	v.SetDefault("crawl.concurrency", 4)
	v.SetDefault("crawl.retry_failed", true)
	v.SetDefault("crawl.unit_timeout", "5m")
	v.SetDefault("crawl.force", false)
	v.SetDefault("crawl.output_dir", "data")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.unit_timeout_attempts", 2)
	v.SetDefault("retry.base_delay", "2s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("pagination.min_reveal_interval", "500ms")
	v.SetDefault("pagination.reveal_wait", "10s")
	v.SetDefault("pagination.poll_interval", "250ms")
	v.SetDefault("pagination.stability_quorum", 2)
	v.SetDefault("pagination.stability_quorum_no_total", 2)
	v.SetDefault("pagination.max_reveals", 200)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.popup_timeout", "10s")
	v.SetDefault("browser.reveal_step", 25)
	v.SetDefault("checkpoint.backend", BackendSQLite)
	v.SetDefault("checkpoint.table", "checkpoints")
	v.SetDefault("checkpoint.busy_timeout", "5s")
	v.SetDefault("sink.csv.enabled", true)
	v.SetDefault("sink.postgres.enabled", false)
	v.SetDefault("sink.mongo.enabled", false)
	v.SetDefault("sink.postgres.table", "parts")
	v.SetDefault("sink.postgres.max_conns", 8)
	v.SetDefault("sink.mongo.database", "catalogue")
	v.SetDefault("sink.mongo.collection", "parts")
	v.SetDefault("sink.images.backend", ImageBackendLocal)
	v.SetDefault("sink.images.prefix", "")
	v.SetDefault("images.enabled", true)
	v.SetDefault("images.timeout", "30s")
	v.SetDefault("images.retry_count", 2)
	v.SetDefault("images.retry_wait", "1s")
	v.SetDefault("images.cache_size", 256)
	v.SetDefault("images.cache_ttl", "30m")
	v.SetDefault("images.max_bytes", 20<<20)
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.topic", "catalogue-unit-events")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "parts-catalogue-crawler")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// applyDerived fills paths that default relative to the output directory.
func (c *Config) applyDerived() {
	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = filepath.Join(c.Crawl.OutputDir, "checkpoints.db")
	}
	if c.Sink.CSV.Path == "" {
		c.Sink.CSV.Path = filepath.Join(c.Crawl.OutputDir, "parts.csv")
	}
	if c.Sink.Images.Dir == "" {
		c.Sink.Images.Dir = c.Crawl.OutputDir
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Crawl.Concurrency <= 0 {
		add("crawl.concurrency must be > 0")
	}
	if c.Crawl.UnitTimeout < 0 {
		add("crawl.unit_timeout must be >= 0")
	}
	if c.Crawl.OutputDir == "" {
		add("crawl.output_dir is required")
	}
	if c.Retry.MaxAttempts <= 0 || c.Retry.UnitTimeoutAttempts <= 0 {
		add("retry.max_attempts and retry.unit_timeout_attempts must be > 0")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		add("retry.max_delay must be >= retry.base_delay >= 0")
	}
	if c.Pagination.StabilityQuorum < 1 || c.Pagination.StabilityQuorumNoTotal < 1 {
		add("pagination stability quorums must be >= 1")
	}
	if c.Pagination.MaxReveals < 1 {
		add("pagination.max_reveals must be >= 1")
	}
	if c.Pagination.RevealWait <= 0 || c.Pagination.PollInterval <= 0 {
		add("pagination.reveal_wait and pagination.poll_interval must be > 0")
	}
	if c.Browser.RevealStep < 0 {
		add("browser.reveal_step must be >= 0")
	}

	switch c.Checkpoint.Backend {
	case BackendSQLite:
		if c.Checkpoint.Path == "" {
			add("checkpoint.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Checkpoint.DSN == "" {
			add("checkpoint.dsn is required for the postgres backend")
		}
	case BackendMemory:
	default:
		add("checkpoint.backend %q is not one of sqlite, postgres, memory", c.Checkpoint.Backend)
	}

	if !c.Sink.CSV.Enabled && !c.Sink.Postgres.Enabled && !c.Sink.Mongo.Enabled {
		add("at least one record sink must be enabled")
	}
	if c.Sink.Postgres.Enabled && c.Sink.Postgres.DSN == "" {
		add("sink.postgres.dsn is required when the postgres sink is enabled")
	}
	if c.Sink.Mongo.Enabled && c.Sink.Mongo.URI == "" {
		add("sink.mongo.uri is required when the mongo sink is enabled")
	}
	if c.Images.Enabled {
		switch c.Sink.Images.Backend {
		case ImageBackendLocal:
		case ImageBackendGCS:
			if c.Sink.Images.Bucket == "" {
				add("sink.images.bucket is required for the gcs backend")
			}
		default:
			add("sink.images.backend %q is not one of local, gcs", c.Sink.Images.Backend)
		}
		if c.Images.MaxBytes <= 0 {
			add("images.max_bytes must be > 0")
		}
	}

	if c.Events.Enabled && (c.Events.ProjectID == "" || c.Events.Topic == "") {
		add("events.project_id and events.topic are required when events are enabled")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server.port must be in 1..65535")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level: %w", err)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		add("telemetry.sample_ratio must be in [0, 1]")
	}
	return errors.Join(errs...)
}

// ValidateCatalogueURL checks the URL a crawl starts from.
func (c Config) ValidateCatalogueURL() error {
	if c.Crawl.CatalogueURL == "" {
		return errors.New("crawl.catalogue_url is required")
	}
	u, err := url.Parse(c.Crawl.CatalogueURL)
	if err != nil {
		return fmt.Errorf("crawl.catalogue_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("crawl.catalogue_url %q must be an absolute http(s) URL", c.Crawl.CatalogueURL)
	}
	return nil
}

// RetryPolicy converts the retry section.
func (c Config) RetryPolicy() crawler.RetryPolicy {
	return crawler.RetryPolicy{
		MaxAttempts:         c.Retry.MaxAttempts,
		UnitTimeoutAttempts: c.Retry.UnitTimeoutAttempts,
		BaseDelay:           c.Retry.BaseDelay,
		MaxDelay:            c.Retry.MaxDelay,
	}
}
