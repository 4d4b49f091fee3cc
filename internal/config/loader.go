package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CRYPTUM_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CRYPTUM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.ApiKey, "CRYPTUM_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "CRYPTUM_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedSecretPath, "CRYPTUM_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "CRYPTUM_EXCHANGE_SECRET_PASSWORD")
	setStr(&cfg.Exchange.ProxyURL, "CRYPTUM_EXCHANGE_PROXY_URL")
	setStringSlice(&cfg.Exchange.Mirrors, "CRYPTUM_EXCHANGE_MIRRORS")
	setStr(&cfg.Exchange.AltDataURL, "CRYPTUM_EXCHANGE_ALT_DATA_URL")
	setDuration(&cfg.Exchange.AttemptTimeout, "CRYPTUM_EXCHANGE_ATTEMPT_TIMEOUT")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "CRYPTUM_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "CRYPTUM_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "CRYPTUM_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "CRYPTUM_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "CRYPTUM_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "CRYPTUM_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "CRYPTUM_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "CRYPTUM_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "CRYPTUM_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "CRYPTUM_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "CRYPTUM_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CRYPTUM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CRYPTUM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CRYPTUM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CRYPTUM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CRYPTUM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CRYPTUM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CRYPTUM_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CRYPTUM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CRYPTUM_S3_REGION")
	setStr(&cfg.S3.Bucket, "CRYPTUM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CRYPTUM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CRYPTUM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CRYPTUM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CRYPTUM_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setStr(&cfg.Engine.AccountID, "CRYPTUM_ENGINE_ACCOUNT_ID")
	setStringSlice(&cfg.Engine.Symbols, "CRYPTUM_ENGINE_SYMBOLS")
	setStr(&cfg.Engine.QuoteAsset, "CRYPTUM_ENGINE_QUOTE_ASSET")
	setDuration(&cfg.Engine.CycleInterval, "CRYPTUM_ENGINE_CYCLE_INTERVAL")
	setFloat64(&cfg.Engine.MinAmountPerPair, "CRYPTUM_ENGINE_MIN_AMOUNT_PER_PAIR")
	setFloat64(&cfg.Engine.MaxAmountPerPair, "CRYPTUM_ENGINE_MAX_AMOUNT_PER_PAIR")

	// ── Risk ──
	setFloat64(&cfg.Risk.StopLossPercent, "CRYPTUM_RISK_STOP_LOSS_PERCENT")
	setFloat64(&cfg.Risk.TakeProfitPercent, "CRYPTUM_RISK_TAKE_PROFIT_PERCENT")
	setFloat64(&cfg.Risk.MaxAllocationPerPairPercent, "CRYPTUM_RISK_MAX_ALLOCATION_PER_PAIR_PERCENT")
	setFloat64(&cfg.Risk.SafetyReservePercent, "CRYPTUM_RISK_SAFETY_RESERVE_PERCENT")
	setFloat64(&cfg.Risk.MinConfidence, "CRYPTUM_RISK_MIN_CONFIDENCE")
	setFloat64(&cfg.Risk.MinTrendStrength, "CRYPTUM_RISK_MIN_TREND_STRENGTH")
	setInt(&cfg.Risk.CooldownMinutes, "CRYPTUM_RISK_COOLDOWN_MINUTES")

	// ── Orchestrator ──
	setDuration(&cfg.Orchestrator.HeartbeatInterval, "CRYPTUM_ORCHESTRATOR_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Orchestrator.PollInterval, "CRYPTUM_ORCHESTRATOR_POLL_INTERVAL")
	setDuration(&cfg.Orchestrator.IntelInterval, "CRYPTUM_ORCHESTRATOR_INTEL_INTERVAL")
	setBool(&cfg.Orchestrator.SingleInstance, "CRYPTUM_ORCHESTRATOR_SINGLE_INSTANCE")
	setDuration(&cfg.Orchestrator.LockTTL, "CRYPTUM_ORCHESTRATOR_LOCK_TTL")

	// ── Intel ──
	setStr(&cfg.Intel.FilePath, "CRYPTUM_INTEL_FILE_PATH")
	setStr(&cfg.Intel.URL, "CRYPTUM_INTEL_URL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CRYPTUM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CRYPTUM_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CRYPTUM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CRYPTUM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CRYPTUM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CRYPTUM_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "CRYPTUM_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "CRYPTUM_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "CRYPTUM_ARCHIVE_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "CRYPTUM_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
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
