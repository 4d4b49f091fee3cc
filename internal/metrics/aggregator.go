// Package metrics turns a trailing window of closed trade outcomes into the
// summary statistics the circuit breaker and adaptive risk engine consume.
package metrics

import (
	"sort"
	"time"

	"github.com/cryptumbot/cryptum/internal/domain"
)

// DefaultWindow is the trailing window length used when no strategy
// adjustment has happened more recently.
const DefaultWindow = 7 * 24 * time.Hour

// WindowStart returns the start of the statistical window: the later of
// now-7d and the last strategy-adjustment timestamp. Tightening a policy
// therefore resets the statistical basis instead of penalizing the adjusted
// strategy for pre-adjustment losses.
func WindowStart(now time.Time, lastAdjustment *time.Time) time.Time {
	start := now.Add(-DefaultWindow)
	if lastAdjustment != nil && lastAdjustment.After(start) {
		return *lastAdjustment
	}
	return start
}

// Aggregate computes TradeMetrics over the given closed outcomes.
// baselineBalance is the equity reference used for the daily-loss percentage;
// when it is zero or negative the daily-loss percentage stays zero. An empty
// window yields all-zero metrics, never a division by zero.
func Aggregate(outcomes []domain.TradeOutcome, baselineBalance float64, now time.Time) domain.TradeMetrics {
	m := domain.TradeMetrics{TotalTrades: len(outcomes)}
	if len(outcomes) == 0 {
		return m
	}

	// Chronological order for streak and drawdown passes.
	sorted := make([]domain.TradeOutcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ClosedAt.Before(sorted[j].ClosedAt)
	})

	var cumulative, peak, maxDrawdown, todayLoss float64
	dayStart := now.Truncate(24 * time.Hour)

	for _, o := range sorted {
		if o.ProfitLoss > 0 {
			m.WinningTrades++
		} else {
			m.LosingTrades++
		}
		m.TotalProfitLoss += o.ProfitLoss

		cumulative += o.ProfitLoss
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDrawdown {
			maxDrawdown = dd
		}

		if !o.ClosedAt.Before(dayStart) && o.ProfitLoss < 0 {
			todayLoss += -o.ProfitLoss
		}
	}

	m.AvgProfitLoss = m.TotalProfitLoss / float64(m.TotalTrades)
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	m.MaxDrawdown = maxDrawdown
	m.ConsecutiveLosses = lossStreak(sorted)
	if baselineBalance > 0 {
		m.DailyLossPercent = todayLoss / baselineBalance * 100
	}

	return m
}

// lossStreak counts back-to-back losing trades from the most recent outcome.
// The streak breaks at the first winning trade.
func lossStreak(chronological []domain.TradeOutcome) int {
	streak := 0
	for i := len(chronological) - 1; i >= 0; i-- {
		if chronological[i].ProfitLoss > 0 {
			break
		}
		streak++
	}
	return streak
}
