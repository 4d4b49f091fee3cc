package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/cryptumbot/cryptum/internal/blob/s3"
	"github.com/cryptumbot/cryptum/internal/cache/redis"
	"github.com/cryptumbot/cryptum/internal/config"
	"github.com/cryptumbot/cryptum/internal/crypto"
	"github.com/cryptumbot/cryptum/internal/domain"
	"github.com/cryptumbot/cryptum/internal/exchange"
	"github.com/cryptumbot/cryptum/internal/notify"
	"github.com/cryptumbot/cryptum/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application needs.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	TradingConfigStore domain.TradingConfigStore
	TradingModeStore   domain.TradingModeStore
	TradeStore         domain.TradeStore
	BotStatusStore     domain.BotStatusStore

	// Caches (nil when Redis is disabled)
	QuoteCache  domain.QuoteCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Remote access
	Exchange domain.Exchange

	// Cold storage (nil when the archive is disabled)
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (Supabase) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.TradingConfigStore = postgres.NewTradingConfigStore(pool)
	deps.TradingModeStore = postgres.NewTradingModeStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.BotStatusStore = postgres.NewBotStatusStore(pool)

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.QuoteCache = redis.NewQuoteCache(redisClient, redis.DefaultQuoteTTL)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- Exchange client ---
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:           cfg.Exchange.ApiSecret,
		EncryptedSecretPath: cfg.Exchange.EncryptedSecretPath,
		SecretPassword:      cfg.Exchange.SecretPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: exchange secret: %w", err)
	}
	deps.Exchange = exchange.New(exchange.ClientConfig{
		ProxyURL:       cfg.Exchange.ProxyURL,
		Mirrors:        cfg.Exchange.Mirrors,
		AltDataURL:     cfg.Exchange.AltDataURL,
		APIKey:         cfg.Exchange.ApiKey,
		AttemptTimeout: cfg.Exchange.AttemptTimeout.Duration,
	}, crypto.NewSigner(secret), deps.QuoteCache, deps.RateLimiter, logger)

	// --- S3 trade archive (optional) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			postgres.NewTradeStore(pool),
			cfg.Archive.RetentionDays,
			cfg.Archive.Interval.Duration,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, notify.ParseEvents(cfg.Notify.Events), logger)

	return deps, cleanup, nil
}
