package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Exchange
	out.Exchange = cfg.Exchange
	redact(&out.Exchange.ApiKey)
	redact(&out.Exchange.ApiSecret)
	redact(&out.Exchange.SecretPassword)

	// Supabase
	out.Supabase = cfg.Supabase
	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Exchange.Mirrors != nil {
		out.Exchange.Mirrors = make([]string, len(cfg.Exchange.Mirrors))
		copy(out.Exchange.Mirrors, cfg.Exchange.Mirrors)
	}
	if cfg.Engine.Symbols != nil {
		out.Engine.Symbols = make([]string, len(cfg.Engine.Symbols))
		copy(out.Engine.Symbols, cfg.Engine.Symbols)
	}
	if cfg.Engine.MinNotionals != nil {
		out.Engine.MinNotionals = make(map[string]float64, len(cfg.Engine.MinNotionals))
		for k, v := range cfg.Engine.MinNotionals {
			out.Engine.MinNotionals[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
