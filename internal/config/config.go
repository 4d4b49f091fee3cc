// Package config defines the top-level configuration for the cryptum engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CRYPTUM_* environment variables.
type Config struct {
	Exchange     ExchangeConfig     `toml:"exchange"`
	Supabase     SupabaseConfig     `toml:"supabase"`
	Redis        RedisConfig        `toml:"redis"`
	S3           S3Config           `toml:"s3"`
	Engine       EngineConfig       `toml:"engine"`
	Risk         RiskConfig         `toml:"risk"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Intel        IntelConfig        `toml:"intel"`
	Server       ServerConfig       `toml:"server"`
	Notify       NotifyConfig       `toml:"notify"`
	Archive      ArchiveConfig      `toml:"archive"`
	LogLevel     string             `toml:"log_level"`
}

// ExchangeConfig holds exchange API credentials and the endpoint fallback
// chain. Exactly one of ApiSecret or EncryptedSecretPath provides the signing
// secret.
type ExchangeConfig struct {
	ApiKey              string   `toml:"api_key"`
	ApiSecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	ProxyURL            string   `toml:"proxy_url"`
	Mirrors             []string `toml:"mirrors"`
	AltDataURL          string   `toml:"alt_data_url"`
	AttemptTimeout      duration `toml:"attempt_timeout"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
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

// RedisConfig holds Redis connection parameters. Redis is optional: with
// Enabled false the engine runs without the quote cache, the rate limiter
// degrades to pass-through, and the single-instance lock is skipped.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the trade
// archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig holds the trade-cycle parameters.
type EngineConfig struct {
	AccountID        string             `toml:"account_id"`
	Symbols          []string           `toml:"symbols"`
	QuoteAsset       string             `toml:"quote_asset"`
	CycleInterval    duration           `toml:"cycle_interval"`
	MinAmountPerPair float64            `toml:"min_amount_per_pair"`
	MaxAmountPerPair float64            `toml:"max_amount_per_pair"`
	MinNotionals     map[string]float64 `toml:"min_notionals"`
}

// RiskConfig holds the baseline risk parameters the adaptive bands scale
// from.
type RiskConfig struct {
	StopLossPercent             float64 `toml:"stop_loss_percent"`
	TakeProfitPercent           float64 `toml:"take_profit_percent"`
	MaxAllocationPerPairPercent float64 `toml:"max_allocation_per_pair_percent"`
	SafetyReservePercent        float64 `toml:"safety_reserve_percent"`
	MinConfidence               float64 `toml:"min_confidence"`
	MinTrendStrength            float64 `toml:"min_trend_strength"`
	CooldownMinutes             int     `toml:"cooldown_minutes"`
}

// OrchestratorConfig holds the reconciliation loop timer intervals.
type OrchestratorConfig struct {
	HeartbeatInterval duration `toml:"heartbeat_interval"`
	PollInterval      duration `toml:"poll_interval"`
	IntelInterval     duration `toml:"intel_interval"`
	SingleInstance    bool     `toml:"single_instance"`
	LockTTL           duration `toml:"lock_ttl"`
}

// IntelConfig points at the external intelligence override document. Both
// sources are optional; file wins over URL when both are set.
type IntelConfig struct {
	FilePath string `toml:"file_path"`
	URL      string `toml:"url"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds the loopback health endpoint parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig holds the cold-storage trade archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			Mirrors: []string{
				"https://api.binance.com",
				"https://api1.binance.com",
				"https://api2.binance.com",
				"https://api3.binance.com",
				"https://api4.binance.com",
			},
			AltDataURL:     "https://api.coingecko.com",
			AttemptTimeout: duration{5 * time.Second},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cryptum-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			AccountID:        "default",
			Symbols:          []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
			QuoteAsset:       "USDT",
			CycleInterval:    duration{time.Minute},
			MinAmountPerPair: 10,
			MaxAmountPerPair: 150,
			MinNotionals:     map[string]float64{},
		},
		Risk: RiskConfig{
			StopLossPercent:             2.0,
			TakeProfitPercent:           3.0,
			MaxAllocationPerPairPercent: 25.0,
			SafetyReservePercent:        10.0,
			MinConfidence:               60,
			MinTrendStrength:            0.3,
			CooldownMinutes:             30,
		},
		Orchestrator: OrchestratorConfig{
			HeartbeatInterval: duration{5 * time.Minute},
			PollInterval:      duration{30 * time.Second},
			IntelInterval:     duration{10 * time.Minute},
			SingleInstance:    true,
			LockTTL:           duration{2 * time.Minute},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8002,
		},
		Notify: NotifyConfig{
			Events: []string{"engine_started", "engine_stopped", "circuit_open", "risk_mode_change", "order_failed", "error"},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.ApiKey == "" {
		errs = append(errs, "exchange: api_key must not be empty")
	}
	if c.Exchange.ApiSecret == "" && c.Exchange.EncryptedSecretPath == "" {
		errs = append(errs, "exchange: either api_secret or encrypted_secret_path must be set")
	}
	if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
		errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
	}
	if len(c.Exchange.Mirrors) == 0 {
		errs = append(errs, "exchange: at least one mirror endpoint is required")
	}
	if c.Exchange.AttemptTimeout.Duration <= 0 {
		errs = append(errs, "exchange: attempt_timeout must be positive")
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 {
		errs = append(errs, "supabase: pool_min_conns must be >= 0")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Engine
	if c.Engine.AccountID == "" {
		errs = append(errs, "engine: account_id must not be empty")
	}
	if len(c.Engine.Symbols) == 0 {
		errs = append(errs, "engine: at least one symbol is required")
	}
	if c.Engine.QuoteAsset == "" {
		errs = append(errs, "engine: quote_asset must not be empty")
	}
	if c.Engine.CycleInterval.Duration <= 0 {
		errs = append(errs, "engine: cycle_interval must be positive")
	}
	if c.Engine.MinAmountPerPair <= 0 {
		errs = append(errs, "engine: min_amount_per_pair must be > 0")
	}
	if c.Engine.MaxAmountPerPair < c.Engine.MinAmountPerPair {
		errs = append(errs, "engine: max_amount_per_pair must be >= min_amount_per_pair")
	}

	// Risk
	if c.Risk.StopLossPercent <= 0 || c.Risk.StopLossPercent >= 100 {
		errs = append(errs, "risk: stop_loss_percent must be in (0, 100)")
	}
	if c.Risk.TakeProfitPercent <= 0 {
		errs = append(errs, "risk: take_profit_percent must be > 0")
	}
	if c.Risk.MaxAllocationPerPairPercent <= 0 || c.Risk.MaxAllocationPerPairPercent > 100 {
		errs = append(errs, "risk: max_allocation_per_pair_percent must be in (0, 100]")
	}
	if c.Risk.SafetyReservePercent < 0 || c.Risk.SafetyReservePercent >= 100 {
		errs = append(errs, "risk: safety_reserve_percent must be in [0, 100)")
	}
	if c.Risk.MinConfidence < 0 || c.Risk.MinConfidence > 100 {
		errs = append(errs, "risk: min_confidence must be in [0, 100]")
	}
	if c.Risk.MinTrendStrength < 0 || c.Risk.MinTrendStrength > 1 {
		errs = append(errs, "risk: min_trend_strength must be in [0, 1]")
	}
	if c.Risk.CooldownMinutes < 0 {
		errs = append(errs, "risk: cooldown_minutes must be >= 0")
	}

	// Orchestrator
	if c.Orchestrator.PollInterval.Duration <= 0 {
		errs = append(errs, "orchestrator: poll_interval must be positive")
	}
	if c.Orchestrator.HeartbeatInterval.Duration <= 0 {
		errs = append(errs, "orchestrator: heartbeat_interval must be positive")
	}
	if c.Orchestrator.IntelInterval.Duration <= 0 {
		errs = append(errs, "orchestrator: intel_interval must be positive")
	}
	if c.Orchestrator.SingleInstance && !c.Redis.Enabled {
		errs = append(errs, "orchestrator: single_instance requires redis to be enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
