package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptumbot/cryptum/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, account_id, symbol, side, quantity, entry_price,
	exit_price, profit_loss, status, client_order_id, simulated, opened_at, closed_at`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(
			&t.ID, &t.AccountID, &t.Symbol, &t.Side, &t.Quantity,
			&t.EntryPrice, &t.ExitPrice, &t.ProfitLoss, &t.Status,
			&t.ClientOrderID, &t.Simulated, &t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert appends a new trade row and returns its ID.
func (s *TradeStore) Insert(ctx context.Context, trade domain.Trade) (int64, error) {
	const query = `
		INSERT INTO trades (account_id, symbol, side, quantity, entry_price,
			exit_price, profit_loss, status, client_order_id, simulated, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		trade.AccountID, trade.Symbol, trade.Side, trade.Quantity,
		trade.EntryPrice, trade.ExitPrice, trade.ProfitLoss, trade.Status,
		trade.ClientOrderID, trade.Simulated, trade.OpenedAt, trade.ClosedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert trade %s: %w", trade.Symbol, err)
	}
	return id, nil
}

// Close marks an open trade closed with its final P/L. Closed rows are
// immutable afterwards.
func (s *TradeStore) Close(ctx context.Context, id int64, exitPrice, profitLoss float64, closedAt time.Time) error {
	const query = `
		UPDATE trades
		SET exit_price = $2, profit_loss = $3, status = 'closed', closed_at = $4
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, exitPrice, profitLoss, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: close trade %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListClosedSince returns the account's closed trades with closed_at at or
// after since, oldest first.
func (s *TradeStore) ListClosedSince(ctx context.Context, accountID string, since time.Time) ([]domain.Trade, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM trades
		WHERE account_id = $1 AND status = 'closed' AND closed_at >= $2
		ORDER BY closed_at ASC`, tradeSelectCols)

	rows, err := s.pool.Query(ctx, query, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades: %w", err)
	}
	return trades, nil
}

// ListOpen returns the account's open trades, oldest first.
func (s *TradeStore) ListOpen(ctx context.Context, accountID string) ([]domain.Trade, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM trades
		WHERE account_id = $1 AND status = 'open'
		ORDER BY opened_at ASC`, tradeSelectCols)

	rows, err := s.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open trades: %w", err)
	}
	return trades, nil
}

// ListClosedBefore returns closed trades older than before, for archival.
func (s *TradeStore) ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Trade, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM trades
		WHERE status = 'closed' AND closed_at < $1
		ORDER BY closed_at ASC
		LIMIT $2`, tradeSelectCols)

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before %s: %w", before, err)
	}
	return trades, nil
}

// DeleteClosedBefore removes closed trades older than before, returning the
// number of rows deleted. Called only after a successful archive upload.
func (s *TradeStore) DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM trades WHERE status = 'closed' AND closed_at < $1`

	tag, err := s.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
