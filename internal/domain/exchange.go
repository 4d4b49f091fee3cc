package domain

import (
	"context"
	"time"
)

// Ticker24h is the canonical 24-hour market statistics shape. Responses from
// alternate providers are translated into this shape by the remote access
// layer.
type Ticker24h struct {
	Symbol             string
	LastPrice          float64
	PriceChangePercent float64
	HighPrice          float64
	LowPrice           float64
	QuoteVolume        float64
	FetchedAt          time.Time
}

// Balance is a single asset balance on the exchange account.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// OrderRequest carries the inputs for one order placement. ClientOrderID is
// generated by the engine so retries stay idempotent on the exchange side.
type OrderRequest struct {
	Symbol        string
	Side          TradeSide
	Quantity      float64
	Price         float64 // 0 for market orders
	ClientOrderID string
}

// OrderResult is the outcome of an order placement or cancellation.
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Status        string
	ExecutedQty   float64
	AvgPrice      float64
	TransactTime  time.Time
}

// Exchange is the opaque remote trading surface. The engine treats each
// operation as succeed-or-fail; error kinds are mapped by the implementation.
type Exchange interface {
	GetTicker24h(ctx context.Context, symbol string) (Ticker24h, error)
	GetBalance(ctx context.Context, asset string) (Balance, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// SignalSource produces the ranked trade candidates for one cycle. The
// indicator math behind the ranking is a black box to the engine.
type SignalSource interface {
	Opportunities(ctx context.Context, symbols []string) ([]TradingOpportunity, error)
}
