// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageMemory = "memory"
)

// Ledger backends.
const (
	LedgerBlob     = "blob"
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"
)

// Orchestration backends. Empty disables fan-out: oversized ranges fail fast
// with a missing-target error instead of dispatching.
const (
	OrchestrationLocal = "local"
	OrchestrationHTTP  = "http"
	OrchestrationNone  = ""
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Source        SourceConfig        `mapstructure:"source"`
	Parser        ParserConfig        `mapstructure:"parser"`
	Validation    ValidationConfig    `mapstructure:"validation"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Ledger        LedgerConfig        `mapstructure:"ledger"`
	Database      DatabaseConfig      `mapstructure:"database"`
	PubSub        PubSubConfig        `mapstructure:"pubsub"`
	Progress      ProgressConfig      `mapstructure:"progress"`
	Headless      HeadlessConfig      `mapstructure:"headless"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
	Backfill      BackfillConfig      `mapstructure:"backfill"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	ShutdownGraceSeconds  int `mapstructure:"shutdown_grace_seconds"`
}

// RequestTimeout converts the per-request budget to a duration. Pipeline
// invocations run inside a request, so the default is generous.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShutdownGrace converts the drain budget to a duration.
func (c ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourceConfig describes the remote schedule site and how to reach it.
type SourceConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	DateParam         string `mapstructure:"date_param"`
	DateFormat        string `mapstructure:"date_format"`
	UserAgent         string `mapstructure:"user_agent"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	RespectRobots     bool   `mapstructure:"respect_robots"`
	FollowLeagueLinks bool   `mapstructure:"follow_league_links"`
	MaxLeaguePages    int    `mapstructure:"max_league_pages"`
}

// Timeout converts the fetch timeout to a duration.
func (c SourceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ParserConfig tunes grid extraction. Empty values fall back to the parser's
// built-in defaults, which match the known source markup.
type ParserConfig struct {
	GridSelectors    []string `mapstructure:"grid_selectors"`
	TimesSelector    string   `mapstructure:"times_selector"`
	MinColumns       int      `mapstructure:"min_columns"`
	MinLeagueColumns int      `mapstructure:"min_league_columns"`
	TimeLayout       string   `mapstructure:"time_layout"`
	DateTimeLayout   string   `mapstructure:"datetime_layout"`
}

// ValidationConfig carries the domain heuristics as configuration.
type ValidationConfig struct {
	ErrorRateThreshold float64 `mapstructure:"error_rate_threshold"`
	VenuePrefix        string  `mapstructure:"venue_prefix"`
}

// PipelineConfig governs the day pipeline and range runner.
type PipelineConfig struct {
	BatchSize  int `mapstructure:"batch_size"`
	Workers    int `mapstructure:"workers"`
	MaxRetries int `mapstructure:"max_retries"`
}

// OrchestrationConfig selects and tunes the execution backend.
type OrchestrationConfig struct {
	Backend             string                   `mapstructure:"backend"`
	MaxChunkDays        int                      `mapstructure:"max_chunk_days"`
	MaxBatchSize        int                      `mapstructure:"max_batch_size"`
	PollIntervalSeconds int                      `mapstructure:"poll_interval_seconds"`
	PollTimeoutSeconds  int                      `mapstructure:"poll_timeout_seconds"`
	HTTP                HTTPOrchestrationConfig  `mapstructure:"http"`
	Local               LocalOrchestrationConfig `mapstructure:"local"`
}

// PollInterval converts the verifier polling interval to a duration.
func (c OrchestrationConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// PollTimeout converts the verifier polling budget to a duration.
func (c OrchestrationConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSeconds) * time.Second
}

// HTTPOrchestrationConfig points at a remote execution service.
type HTTPOrchestrationConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout converts the client timeout to a duration.
func (c HTTPOrchestrationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LocalOrchestrationConfig sizes the in-process execution engine.
type LocalOrchestrationConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// StorageConfig selects and tunes the object store.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	BaseDir     string `mapstructure:"base_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// LedgerConfig selects the lookup-ledger backend.
type LedgerConfig struct {
	Backend string `mapstructure:"backend"`
	Table   string `mapstructure:"table"`
}

// DatabaseConfig controls the Postgres pool used by the postgres ledger.
type DatabaseConfig struct {
	DSN                 string `mapstructure:"dsn"`
	MaxConns            int    `mapstructure:"max_conns"`
	MinConns            int    `mapstructure:"min_conns"`
	ConnLifetimeMinutes int    `mapstructure:"conn_lifetime_minutes"`
}

// ConnLifetime converts the pool connection lifetime to a duration.
func (c DatabaseConfig) ConnLifetime() time.Duration {
	return time.Duration(c.ConnLifetimeMinutes) * time.Minute
}

// PubSubConfig holds completion event fan-out settings.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig sizes the event hub and the recent-events ring.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
	RecentCapacity int `mapstructure:"recent_capacity"`
}

// MaxBatchWait converts the batch flush interval to a duration.
func (c ProgressConfig) MaxBatchWait() time.Duration {
	return time.Duration(c.MaxBatchWaitMs) * time.Millisecond
}

// HeadlessConfig configures the chromedp fallback fetcher. WaitSelector
// names the element that marks a finished render, typically the schedule
// grid; when empty the fetcher waits for body readiness plus a settle delay.
type HeadlessConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	MaxParallel       int    `mapstructure:"max_parallel"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	MinHTMLBytes      int    `mapstructure:"min_html_bytes"`
	WaitSelector      string `mapstructure:"wait_selector"`
}

// NavTimeout converts the navigation budget to a duration.
func (c HeadlessConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// RateLimitConfig tunes the per-host politeness limiter.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// BackfillConfig schedules the nightly trailing-window re-scrape.
type BackfillConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
	Days    int    `mapstructure:"days"`
	Force   bool   `mapstructure:"force"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment. When path is empty the
// usual search locations are tried and a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCHEDPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/schedpipe/")
		v.AddConfigPath("$HOME/.schedpipe")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 600)
	v.SetDefault("server.shutdown_grace_seconds", 15)

	v.SetDefault("source.date_param", "date")
	v.SetDefault("source.date_format", "01/02/2006")
	v.SetDefault("source.user_agent", "schedpipe/1.0 (+https://github.com/JakeFAU/schedule-pipeline)")
	v.SetDefault("source.timeout_seconds", 15)
	v.SetDefault("source.respect_robots", true)
	v.SetDefault("source.follow_league_links", false)
	v.SetDefault("source.max_league_pages", 10)

	v.SetDefault("validation.error_rate_threshold", 0.10)
	v.SetDefault("validation.venue_prefix", "Field")

	v.SetDefault("pipeline.batch_size", 3)
	v.SetDefault("pipeline.workers", 3)
	v.SetDefault("pipeline.max_retries", 3)

	v.SetDefault("orchestration.backend", OrchestrationLocal)
	v.SetDefault("orchestration.max_chunk_days", 90)
	v.SetDefault("orchestration.max_batch_size", 10)
	v.SetDefault("orchestration.poll_interval_seconds", 10)
	v.SetDefault("orchestration.poll_timeout_seconds", 3600)
	v.SetDefault("orchestration.local.workers", 2)
	v.SetDefault("orchestration.local.queue_size", 64)
	v.SetDefault("orchestration.http.timeout_seconds", 30)

	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.prefix", "data")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")

	v.SetDefault("ledger.backend", LedgerBlob)
	v.SetDefault("ledger.table", "scrape_ledger")

	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.conn_lifetime_minutes", 30)

	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.recent_capacity", 512)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.min_html_bytes", 2048)
	v.SetDefault("headless.wait_selector", "")

	v.SetDefault("ratelimit.rps", 1.0)
	v.SetDefault("ratelimit.burst", 1)

	v.SetDefault("backfill.enabled", false)
	v.SetDefault("backfill.cron", "0 2 * * *")
	v.SetDefault("backfill.days", 3)
	v.SetDefault("backfill.force", true)

	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	if c.Validation.ErrorRateThreshold < 0 || c.Validation.ErrorRateThreshold > 1 {
		return fmt.Errorf("validation.error_rate_threshold must be within [0,1]")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Orchestration.MaxChunkDays < 1 {
		return fmt.Errorf("orchestration.max_chunk_days must be >= 1")
	}
	switch c.Orchestration.Backend {
	case OrchestrationNone, OrchestrationLocal:
	case OrchestrationHTTP:
		if c.Orchestration.HTTP.BaseURL == "" {
			return fmt.Errorf("orchestration.http.base_url is required for the http backend")
		}
	default:
		return fmt.Errorf("orchestration.backend %q is not supported", c.Orchestration.Backend)
	}
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Ledger.Backend {
	case LedgerBlob, LedgerMemory:
	case LedgerPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres ledger")
		}
	default:
		return fmt.Errorf("ledger.backend %q is not supported", c.Ledger.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Backfill.Enabled {
		if c.Backfill.Cron == "" {
			return fmt.Errorf("backfill.cron must be set when backfill is enabled")
		}
		if c.Backfill.Days < 1 {
			return fmt.Errorf("backfill.days must be >= 1")
		}
	}
	return nil
}
