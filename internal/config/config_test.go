package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// validServerConfig passes Validate without exchange credentials.
func validServerConfig() Config {
	cfg := Defaults()
	cfg.Mode = "server"
	return cfg
}

func TestDefaults_ValidForServerMode(t *testing.T) {
	cfg := validServerConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "detect"

[ingest]
interval = "90s"
priority_prefixes = ["KXBTC"]

[detection]
whale_threshold_usd = 5000.0
dedup_window = "2h"

[detection.severity]
critical = 9.0
high = 7.5
medium = 5.0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "detect" {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if cfg.Ingest.Interval.Duration != 90*time.Second {
		t.Errorf("Ingest.Interval = %v", cfg.Ingest.Interval)
	}
	if len(cfg.Ingest.PriorityPrefixes) != 1 || cfg.Ingest.PriorityPrefixes[0] != "KXBTC" {
		t.Errorf("PriorityPrefixes = %v", cfg.Ingest.PriorityPrefixes)
	}
	if cfg.Detection.WhaleThresholdUSD != 5000 || cfg.Detection.DedupWindow.Duration != 2*time.Hour {
		t.Errorf("Detection = %+v", cfg.Detection)
	}
	if cfg.Detection.Severity.Critical != 9 || cfg.Detection.Severity.High != 7.5 {
		t.Errorf("Severity = %+v", cfg.Detection.Severity)
	}
	// Untouched sections keep their defaults.
	if cfg.Detection.VPINWindowTrades != 50 || cfg.Profiles.WhaleThresholdUSD != 1000 {
		t.Errorf("defaults lost: vpin=%d profiles=%v", cfg.Detection.VPINWindowTrades, cfg.Profiles.WhaleThresholdUSD)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeTOML(t, `mode = "server"`)
	t.Setenv("INSIDERWATCH_KALSHI_API_KEY", "key-123")
	t.Setenv("INSIDERWATCH_DETECTION_INTERVAL", "10m")
	t.Setenv("INSIDERWATCH_INGEST_CATEGORIES", "Politics, Economics ,")
	t.Setenv("INSIDERWATCH_REDIS_ENABLED", "true")
	t.Setenv("INSIDERWATCH_SERVER_PORT", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Kalshi.APIKey != "key-123" {
		t.Errorf("APIKey = %q", cfg.Kalshi.APIKey)
	}
	if cfg.Detection.Interval.Duration != 10*time.Minute {
		t.Errorf("Detection.Interval = %v", cfg.Detection.Interval)
	}
	if got := strings.Join(cfg.Ingest.Categories, "|"); got != "Politics|Economics" {
		t.Errorf("Categories = %q", got)
	}
	if !cfg.Redis.Enabled {
		t.Error("Redis.Enabled not overridden")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("unparseable override should be ignored, Port = %d", cfg.Server.Port)
	}
}

func TestLoad_BadFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeTOML(t, `[detection]
interval = "soon"`)); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "verbose"
	cfg.Storage.Driver = "mysql"
	cfg.Detection.Severity.High = 9
	cfg.Notify.MinSeverity = "urgent"
	cfg.Archive.Enabled = true
	cfg.Archive.Cron = "61 * * * *"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "verbose"`,
		`unknown driver "mysql"`,
		"medium <= high <= critical",
		"min_severity",
		"archive:",
		"s3: bucket",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_ExchangeModesNeedCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "ingest"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "kalshi: api_key") {
		t.Fatalf("err = %v", err)
	}

	cfg.Kalshi.APIKey = "k"
	cfg.Kalshi.EncryptedKeyPath = "/etc/insiderwatch/key.json"
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_password") {
		t.Fatalf("err = %v", err)
	}

	cfg.Kalshi.KeyPassword = "pw"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validServerConfig()
	cfg.Kalshi.APIKey = "key"
	cfg.Kalshi.KeyPassword = "pw"
	cfg.Postgres.Password = "secret"
	cfg.Notify.TelegramToken = "tg"
	cfg.Server.APIKey = ""

	out := RedactedConfig(&cfg)
	for name, got := range map[string]string{
		"kalshi.api_key":        out.Kalshi.APIKey,
		"kalshi.key_password":   out.Kalshi.KeyPassword,
		"postgres.password":     out.Postgres.Password,
		"notify.telegram_token": out.Notify.TelegramToken,
	} {
		if got != redacted {
			t.Errorf("%s = %q", name, got)
		}
	}
	if out.Server.APIKey != "" {
		t.Errorf("empty secret should stay empty, got %q", out.Server.APIKey)
	}
	if cfg.Kalshi.APIKey != "key" {
		t.Error("original mutated")
	}

	out.Server.CORSOrigins[0] = "changed"
	if cfg.Server.CORSOrigins[0] == "changed" {
		t.Error("CORSOrigins shares backing array")
	}
}
