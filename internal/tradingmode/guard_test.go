package tradingmode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptumbot/cryptum/internal/domain"
)

var now = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func TestValidateDemoAlwaysValid(t *testing.T) {
	v := Validate(domain.ModeDemo, nil, now)
	require.True(t, v.IsValid, v.Reason)
}

func TestValidateRealWithoutConfirmation(t *testing.T) {
	v := Validate(domain.ModeReal, nil, now)
	require.False(t, v.IsValid)
	assert.Contains(t, v.Reason, "no confirmation")
}

func TestValidateRealFreshConfirmation(t *testing.T) {
	confirmed := now.Add(-4 * time.Minute)
	v := Validate(domain.ModeReal, &confirmed, now)
	require.True(t, v.IsValid, v.Reason)
}

// The window is strict: a confirmation exactly five minutes old is expired.
func TestValidateRealBoundaryExpired(t *testing.T) {
	confirmed := now.Add(-ConfirmationTTL)
	v := Validate(domain.ModeReal, &confirmed, now)
	require.False(t, v.IsValid)
}

func TestValidateRealStaleConfirmation(t *testing.T) {
	confirmed := now.Add(-time.Hour)
	v := Validate(domain.ModeReal, &confirmed, now)
	require.False(t, v.IsValid)
	assert.Contains(t, v.Reason, "expired")
}

func TestShouldExecuteInDemo(t *testing.T) {
	fresh := now.Add(-time.Minute)
	stale := now.Add(-time.Hour)

	cases := []struct {
		name  string
		state *domain.TradingModeState
		want  bool
	}{
		{"nil state", nil, true},
		{"demo mode", &domain.TradingModeState{Mode: domain.ModeDemo}, true},
		{"unknown mode", &domain.TradingModeState{Mode: domain.TradingMode("PAPER")}, true},
		{"real unconfirmed", &domain.TradingModeState{Mode: domain.ModeReal}, true},
		{"real stale", &domain.TradingModeState{Mode: domain.ModeReal, RealModeConfirmedAt: &stale}, true},
		{"real confirmed", &domain.TradingModeState{Mode: domain.ModeReal, RealModeConfirmedAt: &fresh}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ShouldExecuteInDemo(tc.state, now))
		})
	}
}
