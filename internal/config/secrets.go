package config

import "slices"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Kalshi.APIKey)
	redact(&out.Kalshi.KeyPassword)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Ingest.Categories = slices.Clone(cfg.Ingest.Categories)
	out.Ingest.PriorityPrefixes = slices.Clone(cfg.Ingest.PriorityPrefixes)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
