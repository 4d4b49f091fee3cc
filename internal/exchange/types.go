package exchange

import (
	"strconv"
	"time"

	"github.com/cryptumbot/cryptum/internal/domain"
)

// apiTicker24h is the provider's 24-hour statistics payload.
type apiTicker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	QuoteVolume        string `json:"quoteVolume"`
}

func (t apiTicker24h) toDomain(now time.Time) domain.Ticker24h {
	return domain.Ticker24h{
		Symbol:             t.Symbol,
		LastPrice:          parseFloat(t.LastPrice),
		PriceChangePercent: parseFloat(t.PriceChangePercent),
		HighPrice:          parseFloat(t.HighPrice),
		LowPrice:           parseFloat(t.LowPrice),
		QuoteVolume:        parseFloat(t.QuoteVolume),
		FetchedAt:          now,
	}
}

// apiAccount is the signed account-information payload.
type apiAccount struct {
	Balances []apiBalance `json:"balances"`
}

type apiBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// apiOrderResult is the order placement/query payload.
type apiOrderResult struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	CumQuoteQty   string `json:"cummulativeQuoteQty"`
	TransactTime  int64  `json:"transactTime"`
}

func (r apiOrderResult) toDomain() domain.OrderResult {
	executed := parseFloat(r.ExecutedQty)
	avg := 0.0
	if executed > 0 {
		avg = parseFloat(r.CumQuoteQty) / executed
	}
	return domain.OrderResult{
		OrderID:       strconv.FormatInt(r.OrderID, 10),
		ClientOrderID: r.ClientOrderID,
		Status:        r.Status,
		ExecutedQty:   executed,
		AvgPrice:      avg,
		TransactTime:  time.UnixMilli(r.TransactTime),
	}
}

// geckoMarket is one entry of the alternate provider's /coins/markets
// response. Its schema differs from the canonical shape and is translated
// before leaving this package.
type geckoMarket struct {
	Symbol             string  `json:"symbol"`
	CurrentPrice       float64 `json:"current_price"`
	High24h            float64 `json:"high_24h"`
	Low24h             float64 `json:"low_24h"`
	PriceChangePct24h  float64 `json:"price_change_percentage_24h"`
	TotalVolume        float64 `json:"total_volume"`
}

func (g geckoMarket) toDomain(symbol string, now time.Time) domain.Ticker24h {
	return domain.Ticker24h{
		Symbol:             symbol,
		LastPrice:          g.CurrentPrice,
		PriceChangePercent: g.PriceChangePct24h,
		HighPrice:          g.High24h,
		LowPrice:           g.Low24h,
		QuoteVolume:        g.TotalVolume,
		FetchedAt:          now,
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
