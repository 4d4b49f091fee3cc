package domain

import (
	"context"
	"time"
)

// TradingConfigStore reads and updates per-account strategy configuration.
type TradingConfigStore interface {
	Get(ctx context.Context, accountID string) (TradingConfig, error)
	UpdateRiskParams(ctx context.Context, accountID string, params AdaptiveRiskParams) error
	MarkAdjusted(ctx context.Context, accountID string, at time.Time) error
}

// TradingModeStore reads the persisted DEMO/REAL mode record.
type TradingModeStore interface {
	Get(ctx context.Context, accountID string) (*TradingModeState, error)
}

// TradeStore persists trade history and serves the trailing windows the
// metrics aggregator consumes.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) (int64, error)
	Close(ctx context.Context, id int64, exitPrice, profitLoss float64, closedAt time.Time) error
	ListClosedSince(ctx context.Context, accountID string, since time.Time) ([]Trade, error)
	ListOpen(ctx context.Context, accountID string) ([]Trade, error)
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]Trade, error)
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
}

// BotStatusStore serves the remotely declared desired state and receives the
// orchestrator's heartbeat.
type BotStatusStore interface {
	GetDesiredState(ctx context.Context, accountID string) (RemoteDesiredState, error)
	UpdateHeartbeat(ctx context.Context, hb Heartbeat) error
}

// QuoteCache is a short-lived cache in front of the remote access layer so
// repeated validation calls within the TTL avoid redundant network round
// trips. A miss is signalled with ErrNotFound.
type QuoteCache interface {
	GetTicker(ctx context.Context, symbol string) (Ticker24h, error)
	SetTicker(ctx context.Context, ticker Ticker24h) error
}

// RateLimiter bounds the request rate against a remote provider.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locks so only one engine instance runs
// per account.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter writes an object to cold storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}
