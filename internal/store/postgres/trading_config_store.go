package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptumbot/cryptum/internal/domain"
)

// TradingConfigStore implements domain.TradingConfigStore using PostgreSQL.
type TradingConfigStore struct {
	pool *pgxpool.Pool
}

// NewTradingConfigStore creates a new TradingConfigStore backed by the given
// connection pool.
func NewTradingConfigStore(pool *pgxpool.Pool) *TradingConfigStore {
	return &TradingConfigStore{pool: pool}
}

// Get retrieves the trading configuration for one account.
func (s *TradingConfigStore) Get(ctx context.Context, accountID string) (domain.TradingConfig, error) {
	const query = `
		SELECT account_id, stop_loss_percent, take_profit_percent, leverage,
		       min_confidence, active, last_adjusted_at, updated_at
		FROM trading_configs WHERE account_id = $1`

	var cfg domain.TradingConfig
	err := s.pool.QueryRow(ctx, query, accountID).Scan(
		&cfg.AccountID, &cfg.StopLossPercent, &cfg.TakeProfitPercent,
		&cfg.Leverage, &cfg.MinConfidence, &cfg.Active,
		&cfg.LastAdjustedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradingConfig{}, domain.ErrNotFound
		}
		return domain.TradingConfig{}, fmt.Errorf("postgres: get trading config %s: %w", accountID, err)
	}
	return cfg, nil
}

// UpdateRiskParams writes the derived stop-loss/take-profit pair back to the
// account's configuration so the dashboard reflects the engine's current
// posture.
func (s *TradingConfigStore) UpdateRiskParams(ctx context.Context, accountID string, params domain.AdaptiveRiskParams) error {
	const query = `
		UPDATE trading_configs
		SET stop_loss_percent = $2, take_profit_percent = $3,
		    min_confidence = $4, updated_at = NOW()
		WHERE account_id = $1`

	tag, err := s.pool.Exec(ctx, query, accountID,
		params.StopLossPercent, params.TakeProfitPercent, params.MinConfidence)
	if err != nil {
		return fmt.Errorf("postgres: update risk params %s: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkAdjusted records a strategy adjustment, resetting the metrics window.
func (s *TradingConfigStore) MarkAdjusted(ctx context.Context, accountID string, at time.Time) error {
	const query = `
		UPDATE trading_configs SET last_adjusted_at = $2, updated_at = NOW()
		WHERE account_id = $1`

	tag, err := s.pool.Exec(ctx, query, accountID, at)
	if err != nil {
		return fmt.Errorf("postgres: mark adjusted %s: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.TradingConfigStore = (*TradingConfigStore)(nil)
