package domain

// CircuitSeverity classifies how far trailing performance has drifted out of
// bounds.
type CircuitSeverity string

const (
	SeverityNone     CircuitSeverity = "none"
	SeverityWarning  CircuitSeverity = "warning"
	SeverityCritical CircuitSeverity = "critical"
)

// CircuitBreakerStatus is the verdict issued by the circuit breaker for one
// validation call. IsOpen == true is the only state that forbids new trades;
// a warning is advisory. The status is recomputed on every call and never
// cached across strategy adjustments.
type CircuitBreakerStatus struct {
	IsOpen   bool
	Severity CircuitSeverity
	Reason   string
	Metrics  TradeMetrics
}

// RiskMode names the band the adaptive risk engine derived from the current
// loss streak.
type RiskMode string

const (
	RiskModeNormal    RiskMode = "normal"
	RiskModeCautious  RiskMode = "cautious"
	RiskModeDefensive RiskMode = "defensive"
)

// AdaptiveRiskParams is a concrete parameter set derived from a baseline
// strategy configuration and a consecutive-loss streak. As the streak grows,
// stop loss and per-pair allocation shrink while take profit and required
// confidence grow.
type AdaptiveRiskParams struct {
	StopLossPercent             float64
	TakeProfitPercent           float64
	MaxAllocationPerPairPercent float64
	SafetyReservePercent        float64
	MinConfidence               float64 // entry threshold, 0-100
	MinTrendStrength            float64 // entry threshold, 0-1
	CooldownMinutes             int
	Mode                        RiskMode
	Reason                      string
}

// TradingOpportunity is a candidate trade produced by an external signal
// generator. Read-only to the budget algorithm.
type TradingOpportunity struct {
	Symbol         string
	MinNotional    float64
	Confidence     float64 // 0-100
	PredictedPrice float64
	Trend          string  // "up", "down", "sideways"
	TrendStrength  float64 // 0-1, magnitude of the move behind Trend
}

// SkippedPair records why an opportunity was excluded from a distribution.
type SkippedPair struct {
	Symbol string
	Reason string
}

// BudgetDistribution is the result of sizing a cycle's candidate trades
// against the available budget. Invariants: TotalBudgetUsed never exceeds the
// budget it was computed from, and AmountPerPair satisfies the minimum
// notional of every opportunity in TradesToExecute.
type BudgetDistribution struct {
	AmountPerPair   float64
	TradesToExecute []TradingOpportunity
	TotalBudgetUsed float64
	SkippedPairs    []SkippedPair
}
