// Package domain defines the core types shared by every layer of the cryptum
// engine: trade history, risk verdicts, budget distributions, trading-mode
// state, and the interfaces implemented by the store, cache, and exchange
// layers.
package domain

import "time"

// TradeSide indicates whether a trade opened long or short.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// TradeStatus tracks the trade lifecycle.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// Trade is a single trade record as persisted by the account store. Closed
// trades are immutable; the engine only ever appends new rows and marks open
// rows closed.
type Trade struct {
	ID            int64
	AccountID     string
	Symbol        string
	Side          TradeSide
	Quantity      float64
	EntryPrice    float64
	ExitPrice     *float64
	ProfitLoss    *float64 // nil while the trade is open
	Status        TradeStatus
	ClientOrderID string
	Simulated     bool // true for DEMO-mode executions
	OpenedAt      time.Time
	ClosedAt      *time.Time
}

// TradeOutcome is the read-only projection of a closed trade consumed by the
// metrics aggregator. ProfitLoss is always resolved (never nil) here.
type TradeOutcome struct {
	Symbol     string
	ProfitLoss float64
	ClosedAt   time.Time
}

// Outcome converts a closed trade into its aggregation projection. It returns
// false for trades that are still open.
func (t Trade) Outcome() (TradeOutcome, bool) {
	if t.Status != TradeStatusClosed || t.ProfitLoss == nil || t.ClosedAt == nil {
		return TradeOutcome{}, false
	}
	return TradeOutcome{
		Symbol:     t.Symbol,
		ProfitLoss: *t.ProfitLoss,
		ClosedAt:   *t.ClosedAt,
	}, true
}

// TradeMetrics summarizes a trailing window of closed trades. It is always a
// projection recomputed on demand, never persisted.
type TradeMetrics struct {
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	TotalProfitLoss  float64
	AvgProfitLoss    float64
	WinRate          float64 // percent, 0 when TotalTrades == 0
	ConsecutiveLosses int     // losing streak counted back from the most recent trade
	MaxDrawdown      float64 // worst peak-to-trough of cumulative P/L, as a positive amount
	DailyLossPercent float64 // today's realized loss relative to the baseline balance, positive = loss
}
