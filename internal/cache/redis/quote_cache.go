package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cryptumbot/cryptum/internal/domain"
)

// DefaultQuoteTTL keeps successful ticker fetches around just long enough to
// absorb repeated validation calls within one cycle.
const DefaultQuoteTTL = 60 * time.Second

// QuoteCache implements domain.QuoteCache using JSON values with a short TTL.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. A
// non-positive ttl falls back to DefaultQuoteTTL.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(symbol string) string {
	return keyPrefix + "quote:" + symbol
}

// SetTicker stores a ticker under its symbol with the configured TTL.
func (qc *QuoteCache) SetTicker(ctx context.Context, ticker domain.Ticker24h) error {
	data, err := json.Marshal(ticker)
	if err != nil {
		return fmt.Errorf("redis: marshal ticker %s: %w", ticker.Symbol, err)
	}
	if err := qc.rdb.Set(ctx, quoteKey(ticker.Symbol), data, qc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set ticker %s: %w", ticker.Symbol, err)
	}
	return nil
}

// GetTicker retrieves a cached ticker, returning domain.ErrNotFound on a
// miss or expiry.
func (qc *QuoteCache) GetTicker(ctx context.Context, symbol string) (domain.Ticker24h, error) {
	data, err := qc.rdb.Get(ctx, quoteKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Ticker24h{}, domain.ErrNotFound
		}
		return domain.Ticker24h{}, fmt.Errorf("redis: get ticker %s: %w", symbol, err)
	}

	var ticker domain.Ticker24h
	if err := json.Unmarshal(data, &ticker); err != nil {
		return domain.Ticker24h{}, fmt.Errorf("redis: unmarshal ticker %s: %w", symbol, err)
	}
	return ticker, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
