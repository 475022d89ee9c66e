// Package config defines the top-level configuration for insiderwatch and
// provides validation helpers.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/detector"
	"github.com/alanyoungcy/insiderwatch/internal/domain"
	"github.com/alanyoungcy/insiderwatch/internal/pipeline"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by INSIDERWATCH_* environment variables.
type Config struct {
	Kalshi    KalshiConfig    `toml:"kalshi"`
	Storage   StorageConfig   `toml:"storage"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Ingest    IngestConfig    `toml:"ingest"`
	Detection DetectionConfig `toml:"detection"`
	Profiles  ProfilesConfig  `toml:"profiles"`
	Archive   ArchiveConfig   `toml:"archive"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// KalshiConfig holds exchange credentials and client tuning.
type KalshiConfig struct {
	APIKey              string   `toml:"api_key"`
	RSAPrivateKeyPath   string   `toml:"rsa_private_key_path"`
	EncryptedKeyPath    string   `toml:"encrypted_key_path"`
	KeyPassword         string   `toml:"key_password"`
	BaseURL             string   `toml:"base_url"`
	MaxRPS              float64  `toml:"max_rps"`
	RequestTimeout      duration `toml:"request_timeout"`
	MaxConcurrent       int      `toml:"max_concurrent"`
	RetryMaxAttempts    int      `toml:"retry_max_attempts"`
	RetryInitialBackoff duration `toml:"retry_initial_backoff"`
	RetryMaxBackoff     duration `toml:"retry_max_backoff"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver     string `toml:"driver"` // "postgres" or "sqlite"
	SQLitePath string `toml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. With Enabled false every
// Redis-backed component falls back to its in-process version.
type RedisConfig struct {
	Enabled       bool   `toml:"enabled"`
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	PoolSize      int    `toml:"pool_size"`
	MaxRetries    int    `toml:"max_retries"`
	TLSEnabled    bool   `toml:"tls_enabled"`
	RateLimitKey  string `toml:"rate_limit_key"`
	ChannelPrefix string `toml:"channel_prefix"`
}

// S3Config holds S3-compatible object storage parameters for the archive job.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// IngestConfig controls the market and trade ingestion job.
type IngestConfig struct {
	Interval               duration `toml:"interval"`
	Status                 string   `toml:"status"`
	Categories             []string `toml:"categories"`
	PriorityPrefixes       []string `toml:"priority_prefixes"`
	MaxEvents              int      `toml:"max_events"`
	MaxMarkets             int      `toml:"max_markets"`
	TradeLookback          duration `toml:"trade_lookback"`
	TradePageLimit         int      `toml:"trade_page_limit"`
	MaxTradesPerMarket     int      `toml:"max_trades_per_market"`
	MaxConsecutiveFailures int      `toml:"max_consecutive_failures"`
	MaxParseErrors         int      `toml:"max_parse_errors"`
}

// DetectionConfig holds signal thresholds and the detection job interval.
type DetectionConfig struct {
	Interval              duration               `toml:"interval"`
	BaselineWindowDays    int                    `toml:"baseline_window_days"`
	MinBaselineTrades     int                    `toml:"min_baseline_trades"`
	CurrentWindow         duration               `toml:"current_window"`
	VolumeZScoreThreshold float64                `toml:"volume_zscore_threshold"`
	VPINWindowTrades      int                    `toml:"vpin_window_trades"`
	VPINMinTrades         int                    `toml:"vpin_min_trades"`
	WhaleThresholdUSD     float64                `toml:"whale_threshold_usd"`
	WhaleLookback         duration               `toml:"whale_lookback"`
	CorrelationLookback   duration               `toml:"correlation_lookback"`
	CorrelationMinTrades  int                    `toml:"correlation_min_trades"`
	CorrelationThreshold  float64                `toml:"correlation_threshold"`
	DedupWindow           duration               `toml:"dedup_window"`
	BaselineCacheTTL      duration               `toml:"baseline_cache_ttl"`
	Severity              detector.SeverityTable `toml:"severity"`
}

// ProfilesConfig controls the trader profile refresh job.
type ProfilesConfig struct {
	Interval          duration `toml:"interval"`
	LookbackDays      int      `toml:"lookback_days"`
	WhaleThresholdUSD float64  `toml:"whale_threshold_usd"`
}

// ArchiveConfig controls the monthly export to object storage.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// SchedulerConfig controls job locking and whole-job retries.
type SchedulerConfig struct {
	JobLockTTL      duration `toml:"job_lock_ttl"`
	JobMaxRetries   int      `toml:"job_max_retries"`
	JobRetryInitial duration `toml:"job_retry_initial"`
	JobRetryMax     duration `toml:"job_retry_max"`
	RunOnStart      bool     `toml:"run_on_start"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	APIKey         string   `toml:"api_key"`
	RateLimitRPS   float64  `toml:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	MinSeverity       string `toml:"min_severity"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so that BurntSushi/toml can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	return Config{
		Kalshi: KalshiConfig{
			BaseURL:             "https://api.elections.kalshi.com/trade-api/v2",
			MaxRPS:              10,
			RequestTimeout:      duration{30 * time.Second},
			MaxConcurrent:       5,
			RetryMaxAttempts:    3,
			RetryInitialBackoff: duration{2 * time.Second},
			RetryMaxBackoff:     duration{10 * time.Second},
		},
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "insiderwatch.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "insiderwatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:       false,
			Addr:          "localhost:6379",
			PoolSize:      10,
			MaxRetries:    3,
			RateLimitKey:  "kalshi:api:ratelimit:global",
			ChannelPrefix: "insiderwatch:",
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Ingest: IngestConfig{
			Interval:               duration{5 * time.Minute},
			Status:                 "open",
			PriorityPrefixes:       slices.Clone(pipeline.DefaultPriorityPrefixes),
			MaxMarkets:             500,
			TradeLookback:          duration{24 * time.Hour},
			TradePageLimit:         1000,
			MaxTradesPerMarket:     5000,
			MaxConsecutiveFailures: 20,
			MaxParseErrors:         50,
		},
		Detection: DetectionConfig{
			Interval:              duration{5 * time.Minute},
			BaselineWindowDays:    30,
			MinBaselineTrades:     10,
			CurrentWindow:         duration{time.Hour},
			VolumeZScoreThreshold: 3.0,
			VPINWindowTrades:      50,
			VPINMinTrades:         10,
			WhaleThresholdUSD:     3000,
			WhaleLookback:         duration{24 * time.Hour},
			CorrelationLookback:   duration{time.Hour},
			CorrelationMinTrades:  10,
			CorrelationThreshold:  0.7,
			DedupWindow:           duration{time.Hour},
			BaselineCacheTTL:      duration{5 * time.Minute},
			Severity:              detector.DefaultSeverityTable(),
		},
		Profiles: ProfilesConfig{
			Interval:          duration{time.Hour},
			LookbackDays:      30,
			WhaleThresholdUSD: 1000,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Scheduler: SchedulerConfig{
			JobLockTTL:      duration{30 * time.Minute},
			JobMaxRetries:   3,
			JobRetryInitial: duration{5 * time.Second},
			JobRetryMax:     duration{time.Minute},
			RunOnStart:      true,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		Notify: NotifyConfig{
			MinSeverity: string(domain.SeverityCritical),
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Modes lists the accepted values for Config.Mode.
var Modes = []string{"full", "scheduler", "server", "ingest", "detect", "profiles", "archive"}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsExchange reports whether the mode talks to the Kalshi API.
func (c *Config) NeedsExchange() bool {
	switch strings.ToLower(c.Mode) {
	case "full", "scheduler", "ingest":
		return true
	}
	return false
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	modeOK := false
	for _, m := range Modes {
		if strings.EqualFold(c.Mode, m) {
			modeOK = true
		}
	}
	if !modeOK {
		add("unknown mode %q (valid: %s)", c.Mode, strings.Join(Modes, ", "))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Kalshi
	if c.NeedsExchange() {
		if c.Kalshi.APIKey == "" {
			add("kalshi: api_key is required for mode %s", c.Mode)
		}
		if c.Kalshi.RSAPrivateKeyPath == "" && c.Kalshi.EncryptedKeyPath == "" {
			add("kalshi: either rsa_private_key_path or encrypted_key_path must be set for mode %s", c.Mode)
		}
		if c.Kalshi.RSAPrivateKeyPath == "" && c.Kalshi.EncryptedKeyPath != "" && c.Kalshi.KeyPassword == "" {
			add("kalshi: key_password is required when encrypted_key_path is set")
		}
	}
	if c.Kalshi.BaseURL == "" {
		add("kalshi: base_url must not be empty")
	}
	if c.Kalshi.MaxRPS <= 0 {
		add("kalshi: max_rps must be > 0")
	}
	if c.Kalshi.MaxConcurrent < 1 {
		add("kalshi: max_concurrent must be >= 1")
	}
	if c.Kalshi.RetryMaxAttempts < 1 {
		add("kalshi: retry_max_attempts must be >= 1")
	}
	if c.Kalshi.RetryInitialBackoff.Duration > c.Kalshi.RetryMaxBackoff.Duration {
		add("kalshi: retry_initial_backoff must not exceed retry_max_backoff")
	}

	// Storage
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			add("storage: sqlite_path must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		add("storage: unknown driver %q (valid: sqlite, postgres)", c.Storage.Driver)
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// Ingest
	if c.Ingest.Interval.Duration <= 0 {
		add("ingest: interval must be > 0")
	}
	if c.Ingest.TradeLookback.Duration <= 0 {
		add("ingest: trade_lookback must be > 0")
	}
	if c.Ingest.TradePageLimit < 1 || c.Ingest.TradePageLimit > 1000 {
		add("ingest: trade_page_limit must be 1-1000, got %d", c.Ingest.TradePageLimit)
	}
	if c.Ingest.MaxConsecutiveFailures < 1 {
		add("ingest: max_consecutive_failures must be >= 1")
	}

	// Detection
	d := c.Detection
	if d.Interval.Duration <= 0 {
		add("detection: interval must be > 0")
	}
	if d.BaselineWindowDays < 1 {
		add("detection: baseline_window_days must be >= 1")
	}
	if d.MinBaselineTrades < 2 {
		add("detection: min_baseline_trades must be >= 2")
	}
	if d.CurrentWindow.Duration <= 0 {
		add("detection: current_window must be > 0")
	}
	if d.VPINMinTrades < 1 || d.VPINWindowTrades < d.VPINMinTrades {
		add("detection: need 1 <= vpin_min_trades <= vpin_window_trades")
	}
	if d.WhaleThresholdUSD <= 0 {
		add("detection: whale_threshold_usd must be > 0")
	}
	if d.CorrelationMinTrades < 2 {
		add("detection: correlation_min_trades must be >= 2")
	}
	if d.CorrelationThreshold <= 0 || d.CorrelationThreshold > 1 {
		add("detection: correlation_threshold must be in (0, 1]")
	}
	if d.DedupWindow.Duration <= 0 {
		add("detection: dedup_window must be > 0")
	}
	if err := d.Severity.Validate(); err != nil {
		add("detection: %v", err)
	}

	// Profiles
	if c.Profiles.Interval.Duration <= 0 {
		add("profiles: interval must be > 0")
	}
	if c.Profiles.LookbackDays < 1 {
		add("profiles: lookback_days must be >= 1")
	}
	if c.Profiles.WhaleThresholdUSD <= 0 {
		add("profiles: whale_threshold_usd must be > 0")
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.RetentionDays < 1 {
			add("archive: retention_days must be >= 1")
		}
		if _, err := pipeline.ParseCron(c.Archive.Cron); err != nil {
			add("archive: %v", err)
		}
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when archive is enabled")
		}
	}

	// Scheduler
	if c.Scheduler.JobLockTTL.Duration <= 0 {
		add("scheduler: job_lock_ttl must be > 0")
	}
	if c.Scheduler.JobMaxRetries < 0 {
		add("scheduler: job_max_retries must be >= 0")
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitRPS < 0 {
		add("server: rate_limit_rps must be >= 0")
	}

	// Notify
	if _, err := domain.ParseSeverity(c.Notify.MinSeverity); err != nil {
		add("notify: min_severity: %v", err)
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		add("notify: telegram_chat_id is required when telegram_token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
