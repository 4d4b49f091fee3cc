// Package signal produces the ranked trading opportunities consumed by the
// budget distributor. The scoring here is deliberately simple momentum
// ranking; richer indicator math plugs in behind the same interface.
package signal

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/cryptumbot/cryptum/internal/domain"
)

// defaultMinNotional is the exchange-imposed minimum order value used when a
// symbol has no explicit override.
const defaultMinNotional = 10.0

// strengthSaturation is the 24h move, in percent, at which trend strength
// reaches 1. A 5% daily move is already a strong regime for the majors.
const strengthSaturation = 5.0

// TickerSource derives opportunities from 24-hour exchange statistics. One
// unreachable symbol is skipped, not fatal; the cycle proceeds with the
// symbols that answered.
type TickerSource struct {
	exchange     domain.Exchange
	minNotionals map[string]float64
	logger       *slog.Logger
}

// NewTickerSource creates a TickerSource. minNotionals may be nil; symbols
// without an entry use the exchange-wide default.
func NewTickerSource(exchange domain.Exchange, minNotionals map[string]float64, logger *slog.Logger) *TickerSource {
	return &TickerSource{
		exchange:     exchange,
		minNotionals: minNotionals,
		logger:       logger.With(slog.String("component", "signal_source")),
	}
}

// Opportunities fetches 24h statistics for each symbol and scores them into
// candidates. Symbols whose fetch fails are logged and skipped.
func (s *TickerSource) Opportunities(ctx context.Context, symbols []string) ([]domain.TradingOpportunity, error) {
	opportunities := make([]domain.TradingOpportunity, 0, len(symbols))

	for _, symbol := range symbols {
		ticker, err := s.exchange.GetTicker24h(ctx, symbol)
		if err != nil {
			s.logger.Warn("ticker fetch failed, skipping symbol",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		opportunities = append(opportunities, s.score(ticker))
	}

	if len(opportunities) == 0 && len(symbols) > 0 {
		return nil, fmt.Errorf("signal: no symbols reachable out of %d", len(symbols))
	}
	return opportunities, nil
}

// score converts 24h statistics into a confidence-ranked opportunity.
// Confidence grows with momentum and saturates at 95 so no candidate ever
// looks like a certainty.
func (s *TickerSource) score(t domain.Ticker24h) domain.TradingOpportunity {
	change := t.PriceChangePercent

	trend := "sideways"
	switch {
	case change > 0.5:
		trend = "up"
	case change < -0.5:
		trend = "down"
	}

	confidence := math.Min(50+math.Abs(change)*5, 95)
	strength := math.Min(math.Abs(change)/strengthSaturation, 1)

	predicted := t.LastPrice
	if trend == "up" {
		predicted = t.LastPrice * (1 + math.Abs(change)/200)
	} else if trend == "down" {
		predicted = t.LastPrice * (1 - math.Abs(change)/200)
	}

	return domain.TradingOpportunity{
		Symbol:         t.Symbol,
		MinNotional:    s.minNotional(t.Symbol),
		Confidence:     confidence,
		PredictedPrice: predicted,
		Trend:          trend,
		TrendStrength:  strength,
	}
}

func (s *TickerSource) minNotional(symbol string) float64 {
	if v, ok := s.minNotionals[symbol]; ok && v > 0 {
		return v
	}
	return defaultMinNotional
}

// Compile-time interface check.
var _ domain.SignalSource = (*TickerSource)(nil)
