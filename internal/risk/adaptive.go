// Package risk maps a consecutive-loss streak to a progressively conservative
// parameter set layered on a caller-supplied baseline configuration.
package risk

import (
	"fmt"

	"github.com/cryptumbot/cryptum/internal/domain"
)

// Baseline is the strategy configuration the scaling factors are applied to.
// The engine never hardcodes absolute values, so it can sit on top of any
// baseline.
type Baseline struct {
	StopLossPercent             float64
	TakeProfitPercent           float64
	MaxAllocationPerPairPercent float64
	SafetyReservePercent        float64
	MinConfidence               float64 // 0-100
	MinTrendStrength            float64 // 0-1
	CooldownMinutes             int
}

// Scaling factors per band. Stop loss and allocation only ever shrink with
// the streak; take profit and entry thresholds only ever grow.
const (
	cautiousStopLossFactor   = 0.8
	cautiousTakeProfitFactor = 1.2
	cautiousAllocationFactor = 0.8
	cautiousConfidenceFactor = 1.3
	cautiousTrendFactor      = 1.5

	defensiveStopLossFactor   = 0.6
	defensiveTakeProfitFactor = 1.4
	defensiveAllocationFactor = 0.6
	defensiveConfidenceFactor = 1.5
	defensiveTrendFactor      = 1.8
)

// DeriveParams returns the parameter set for the given consecutive-loss
// streak. It is pure and total: defined for every non-negative streak, and
// negative inputs are treated as zero.
func DeriveParams(baseline Baseline, streak int) domain.AdaptiveRiskParams {
	if streak < 0 {
		streak = 0
	}

	switch {
	case streak <= 1:
		return domain.AdaptiveRiskParams{
			StopLossPercent:             baseline.StopLossPercent,
			TakeProfitPercent:           baseline.TakeProfitPercent,
			MaxAllocationPerPairPercent: baseline.MaxAllocationPerPairPercent,
			SafetyReservePercent:        baseline.SafetyReservePercent,
			MinConfidence:               baseline.MinConfidence,
			MinTrendStrength:            baseline.MinTrendStrength,
			CooldownMinutes:             baseline.CooldownMinutes,
			Mode:                        domain.RiskModeNormal,
			Reason:                      "baseline parameters",
		}
	case streak == 2:
		return domain.AdaptiveRiskParams{
			StopLossPercent:             baseline.StopLossPercent * cautiousStopLossFactor,
			TakeProfitPercent:           baseline.TakeProfitPercent * cautiousTakeProfitFactor,
			MaxAllocationPerPairPercent: baseline.MaxAllocationPerPairPercent * cautiousAllocationFactor,
			SafetyReservePercent:        baseline.SafetyReservePercent,
			MinConfidence:               capConfidence(baseline.MinConfidence * cautiousConfidenceFactor),
			MinTrendStrength:            capTrend(baseline.MinTrendStrength * cautiousTrendFactor),
			CooldownMinutes:             baseline.CooldownMinutes,
			Mode:                        domain.RiskModeCautious,
			Reason:                      "2 consecutive losses: tightened entries, reduced exposure",
		}
	default:
		return domain.AdaptiveRiskParams{
			StopLossPercent:             baseline.StopLossPercent * defensiveStopLossFactor,
			TakeProfitPercent:           baseline.TakeProfitPercent * defensiveTakeProfitFactor,
			MaxAllocationPerPairPercent: baseline.MaxAllocationPerPairPercent * defensiveAllocationFactor,
			SafetyReservePercent:        baseline.SafetyReservePercent,
			MinConfidence:               capConfidence(baseline.MinConfidence * defensiveConfidenceFactor),
			MinTrendStrength:            capTrend(baseline.MinTrendStrength * defensiveTrendFactor),
			CooldownMinutes:             baseline.CooldownMinutes * 2,
			Mode:                        domain.RiskModeDefensive,
			Reason:                      fmt.Sprintf("%d consecutive losses: defensive posture", streak),
		}
	}
}

// HasModeChanged reports whether the derived mode differs between two streak
// values. Used to decide whether to notify about a regime change, never to
// gate trading.
func HasModeChanged(baseline Baseline, prevStreak, currStreak int) bool {
	return DeriveParams(baseline, prevStreak).Mode != DeriveParams(baseline, currStreak).Mode
}

func capConfidence(v float64) float64 {
	if v > 100 {
		return 100
	}
	return v
}

func capTrend(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
