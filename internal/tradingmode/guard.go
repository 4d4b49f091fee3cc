// Package tradingmode decides whether the next order must be simulated or
// live. Every ambiguous path resolves to simulation; live execution is the
// single narrow path through a fresh explicit confirmation.
package tradingmode

import (
	"fmt"
	"time"

	"github.com/cryptumbot/cryptum/internal/domain"
)

// ConfirmationTTL is how long a REAL-mode confirmation stays valid.
const ConfirmationTTL = 5 * time.Minute

// Validation is the result of checking a mode against its confirmation.
type Validation struct {
	IsValid bool
	Reason  string
}

// Validate checks whether the given mode may execute live orders right now.
// DEMO is always valid. REAL requires a confirmation timestamp strictly
// within the last five minutes.
func Validate(mode domain.TradingMode, confirmedAt *time.Time, now time.Time) Validation {
	if mode != domain.ModeReal {
		return Validation{IsValid: true}
	}
	if confirmedAt == nil {
		return Validation{Reason: "REAL mode has no confirmation"}
	}
	age := now.Sub(*confirmedAt)
	if age >= ConfirmationTTL {
		return Validation{Reason: fmt.Sprintf("REAL mode confirmation expired %s ago", age-ConfirmationTTL)}
	}
	return Validation{IsValid: true}
}

// ShouldExecuteInDemo reports whether the next order must be simulated.
// Absent state, DEMO mode, and invalid REAL confirmations all fall back to
// simulation.
func ShouldExecuteInDemo(state *domain.TradingModeState, now time.Time) bool {
	if state == nil {
		return true
	}
	if state.Mode != domain.ModeReal {
		return true
	}
	return !Validate(state.Mode, state.RealModeConfirmedAt, now).IsValid
}
