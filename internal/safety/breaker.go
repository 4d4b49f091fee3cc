// Package safety implements the circuit breaker that gates new trade
// execution on trailing performance.
package safety

import (
	"fmt"
	"log/slog"

	"github.com/cryptumbot/cryptum/internal/domain"
)

// Thresholds holds the tunable bounds for the breaker rules. Zero-value
// fields fall back to the defaults in DefaultThresholds.
type Thresholds struct {
	MinTradesForAnalysis int     // minimum sample before any verdict
	CriticalWinRate      float64 // percent; below this the breaker opens
	MinWinRate           float64 // percent; below this a warning is issued
	CriticalLossPercent  float64 // daily loss percent; above this the breaker opens
	MaxDailyLossPercent  float64 // daily loss percent; above this a warning is issued
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinTradesForAnalysis: 10,
		CriticalWinRate:      20,
		MinWinRate:           30,
		CriticalLossPercent:  10,
		MaxDailyLossPercent:  5,
	}
}

// Breaker classifies aggregated metrics into a safety verdict. It is
// stateless: Evaluate must be called immediately before every trade cycle so
// a strategy adjustment that moved the metrics window is always reflected.
type Breaker struct {
	thresholds Thresholds
	logger     *slog.Logger
}

// New creates a Breaker. Unset threshold fields take the defaults.
func New(t Thresholds, logger *slog.Logger) *Breaker {
	def := DefaultThresholds()
	if t.MinTradesForAnalysis <= 0 {
		t.MinTradesForAnalysis = def.MinTradesForAnalysis
	}
	if t.CriticalWinRate <= 0 {
		t.CriticalWinRate = def.CriticalWinRate
	}
	if t.MinWinRate <= 0 {
		t.MinWinRate = def.MinWinRate
	}
	if t.CriticalLossPercent <= 0 {
		t.CriticalLossPercent = def.CriticalLossPercent
	}
	if t.MaxDailyLossPercent <= 0 {
		t.MaxDailyLossPercent = def.MaxDailyLossPercent
	}
	return &Breaker{
		thresholds: t,
		logger:     logger.With(slog.String("component", "circuit_breaker")),
	}
}

// Evaluate applies the ordered breaker rules to the given metrics; the first
// matching rule wins. Below the minimum sample the verdict is always closed
// with severity none: blocking on noise at low volume is worse than the
// occasional bad streak.
func (b *Breaker) Evaluate(m domain.TradeMetrics) domain.CircuitBreakerStatus {
	t := b.thresholds

	if m.TotalTrades < t.MinTradesForAnalysis {
		return domain.CircuitBreakerStatus{
			IsOpen:   false,
			Severity: domain.SeverityNone,
			Reason:   fmt.Sprintf("insufficient sample: %d of %d trades", m.TotalTrades, t.MinTradesForAnalysis),
			Metrics:  m,
		}
	}

	status := domain.CircuitBreakerStatus{Severity: domain.SeverityNone, Metrics: m}

	switch {
	case m.WinRate < t.CriticalWinRate:
		status.IsOpen = true
		status.Severity = domain.SeverityCritical
		status.Reason = fmt.Sprintf("win rate %.1f%% below critical threshold %.1f%%", m.WinRate, t.CriticalWinRate)
	case m.DailyLossPercent > t.CriticalLossPercent:
		status.IsOpen = true
		status.Severity = domain.SeverityCritical
		status.Reason = fmt.Sprintf("daily loss %.1f%% above critical threshold %.1f%%", m.DailyLossPercent, t.CriticalLossPercent)
	case m.WinRate < t.MinWinRate:
		status.Severity = domain.SeverityWarning
		status.Reason = fmt.Sprintf("win rate %.1f%% below minimum %.1f%%", m.WinRate, t.MinWinRate)
	case m.DailyLossPercent > t.MaxDailyLossPercent:
		status.Severity = domain.SeverityWarning
		status.Reason = fmt.Sprintf("daily loss %.1f%% above maximum %.1f%%", m.DailyLossPercent, t.MaxDailyLossPercent)
	}

	if status.IsOpen {
		b.logger.Warn("circuit breaker open",
			slog.String("reason", status.Reason),
			slog.Float64("win_rate", m.WinRate),
			slog.Float64("daily_loss_percent", m.DailyLossPercent),
		)
	}

	return status
}
