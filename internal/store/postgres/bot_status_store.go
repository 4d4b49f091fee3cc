package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptumbot/cryptum/internal/domain"
)

// BotStatusStore implements domain.BotStatusStore using PostgreSQL. The
// desired-state columns are written by the dashboard; the engine reads them
// and writes only the heartbeat columns.
type BotStatusStore struct {
	pool *pgxpool.Pool
}

// NewBotStatusStore creates a new BotStatusStore backed by the given
// connection pool.
func NewBotStatusStore(pool *pgxpool.Pool) *BotStatusStore {
	return &BotStatusStore{pool: pool}
}

// GetDesiredState retrieves the remotely declared desired state for one
// account.
func (s *BotStatusStore) GetDesiredState(ctx context.Context, accountID string) (domain.RemoteDesiredState, error) {
	const query = `
		SELECT account_id, is_powered_on, test_mode, test_balance,
		       take_profit_percent, stop_loss_percent, updated_at
		FROM bot_status WHERE account_id = $1`

	var state domain.RemoteDesiredState
	err := s.pool.QueryRow(ctx, query, accountID).Scan(
		&state.ID, &state.IsPoweredOn, &state.TestMode, &state.TestBalance,
		&state.TakeProfitPercent, &state.StopLossPercent, &state.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RemoteDesiredState{}, domain.ErrNotFound
		}
		return domain.RemoteDesiredState{}, fmt.Errorf("postgres: get desired state %s: %w", accountID, err)
	}
	return state, nil
}

// UpdateHeartbeat upserts the liveness timestamp for one account.
func (s *BotStatusStore) UpdateHeartbeat(ctx context.Context, hb domain.Heartbeat) error {
	const query = `
		INSERT INTO bot_status (account_id, last_heartbeat, heartbeat_instance)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE SET
			last_heartbeat     = EXCLUDED.last_heartbeat,
			heartbeat_instance = EXCLUDED.heartbeat_instance`

	if _, err := s.pool.Exec(ctx, query, hb.AccountID, hb.BeatAt, hb.InstanceID); err != nil {
		return fmt.Errorf("postgres: update heartbeat %s: %w", hb.AccountID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BotStatusStore = (*BotStatusStore)(nil)
