package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INSIDERWATCH_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies INSIDERWATCH_* environment variable overrides,
// and returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known INSIDERWATCH_* environment variables
// and overwrites the corresponding Config fields when a variable is set.
// This lets operators inject secrets at deploy time without touching the
// TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Kalshi ──
	setStr(&cfg.Kalshi.APIKey, "KALSHI_API_KEY")
	setStr(&cfg.Kalshi.RSAPrivateKeyPath, "KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.EncryptedKeyPath, "KALSHI_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Kalshi.KeyPassword, "KALSHI_KEY_PASSWORD")
	setStr(&cfg.Kalshi.BaseURL, "KALSHI_BASE_URL")
	setFloat64(&cfg.Kalshi.MaxRPS, "KALSHI_MAX_RPS")
	setDuration(&cfg.Kalshi.RequestTimeout, "KALSHI_REQUEST_TIMEOUT")
	setInt(&cfg.Kalshi.MaxConcurrent, "KALSHI_MAX_CONCURRENT")
	setInt(&cfg.Kalshi.RetryMaxAttempts, "KALSHI_RETRY_MAX_ATTEMPTS")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "STORAGE_DRIVER")
	setStr(&cfg.Storage.SQLitePath, "STORAGE_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.RateLimitKey, "REDIS_RATE_LIMIT_KEY")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Ingest ──
	setDuration(&cfg.Ingest.Interval, "INGEST_INTERVAL")
	setStr(&cfg.Ingest.Status, "INGEST_STATUS")
	setStringSlice(&cfg.Ingest.Categories, "INGEST_CATEGORIES")
	setStringSlice(&cfg.Ingest.PriorityPrefixes, "INGEST_PRIORITY_PREFIXES")
	setInt(&cfg.Ingest.MaxEvents, "INGEST_MAX_EVENTS")
	setInt(&cfg.Ingest.MaxMarkets, "INGEST_MAX_MARKETS")
	setDuration(&cfg.Ingest.TradeLookback, "INGEST_TRADE_LOOKBACK")

	// ── Detection ──
	setDuration(&cfg.Detection.Interval, "DETECTION_INTERVAL")
	setFloat64(&cfg.Detection.VolumeZScoreThreshold, "DETECTION_VOLUME_ZSCORE_THRESHOLD")
	setFloat64(&cfg.Detection.WhaleThresholdUSD, "DETECTION_WHALE_THRESHOLD_USD")
	setFloat64(&cfg.Detection.CorrelationThreshold, "DETECTION_CORRELATION_THRESHOLD")

	// ── Profiles ──
	setDuration(&cfg.Profiles.Interval, "PROFILES_INTERVAL")
	setFloat64(&cfg.Profiles.WhaleThresholdUSD, "PROFILES_WHALE_THRESHOLD_USD")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.MinSeverity, "NOTIFY_MIN_SEVERITY")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when EnvPrefix+key is
// present and non-empty.
// ---------------------------------------------------------------------------

func getenv(key string) string { return os.Getenv(EnvPrefix + key) }

func setStr(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
