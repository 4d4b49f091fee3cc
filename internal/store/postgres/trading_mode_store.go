package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptumbot/cryptum/internal/domain"
)

// TradingModeStore implements domain.TradingModeStore using PostgreSQL. Mode
// changes are a user action performed elsewhere; the engine only reads.
type TradingModeStore struct {
	pool *pgxpool.Pool
}

// NewTradingModeStore creates a new TradingModeStore backed by the given
// connection pool.
func NewTradingModeStore(pool *pgxpool.Pool) *TradingModeStore {
	return &TradingModeStore{pool: pool}
}

// Get retrieves the mode record for one account. A missing row returns
// (nil, nil): the guard treats absent state as simulation.
func (s *TradingModeStore) Get(ctx context.Context, accountID string) (*domain.TradingModeState, error) {
	const query = `
		SELECT account_id, mode, demo_balance, real_mode_confirmed_at, updated_at
		FROM trading_modes WHERE account_id = $1`

	var state domain.TradingModeState
	err := s.pool.QueryRow(ctx, query, accountID).Scan(
		&state.AccountID, &state.Mode, &state.DemoBalance,
		&state.RealModeConfirmedAt, &state.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get trading mode %s: %w", accountID, err)
	}
	return &state, nil
}

// Compile-time interface check.
var _ domain.TradingModeStore = (*TradingModeStore)(nil)
