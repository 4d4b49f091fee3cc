package domain

import "time"

// TradingMode selects simulated or live order execution.
type TradingMode string

const (
	ModeDemo TradingMode = "DEMO"
	ModeReal TradingMode = "REAL"
)

// TradingModeState is the persisted mode record owned by the account store.
// The guard only reads it and derives validity; mode changes are a user
// action performed through the store.
type TradingModeState struct {
	AccountID           string
	Mode                TradingMode
	DemoBalance         float64
	RealModeConfirmedAt *time.Time
	UpdatedAt           time.Time
}

// RemoteDesiredState is the remotely declared desired state polled by the
// orchestrator. The local run state must converge to IsPoweredOn within one
// polling interval.
type RemoteDesiredState struct {
	ID                string
	IsPoweredOn       bool
	TestMode          bool
	TestBalance       float64
	TakeProfitPercent float64
	StopLossPercent   float64
	UpdatedAt         time.Time
}

// TradingConfig is the per-account strategy configuration record.
type TradingConfig struct {
	AccountID         string
	StopLossPercent   float64
	TakeProfitPercent float64
	Leverage          float64
	MinConfidence     float64
	Active            bool
	LastAdjustedAt    *time.Time // strategy-adjustment timestamp, resets the metrics window
	UpdatedAt         time.Time
}

// Heartbeat is the liveness record the orchestrator writes on a timer and an
// external monitor consumes.
type Heartbeat struct {
	AccountID  string
	InstanceID string
	BeatAt     time.Time
}
