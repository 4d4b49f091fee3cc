package safety

import (
	"io"
	"log/slog"
	"testing"

	"github.com/cryptumbot/cryptum/internal/domain"
)

func testBreaker() *Breaker {
	return New(DefaultThresholds(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEvaluateInsufficientSample(t *testing.T) {
	b := testBreaker()

	// 9 trades with a catastrophic win rate must still not trip the breaker.
	m := domain.TradeMetrics{TotalTrades: 9, WinRate: 0, DailyLossPercent: 50}
	status := b.Evaluate(m)

	if status.IsOpen {
		t.Fatal("breaker opened below the minimum sample")
	}
	if status.Severity != domain.SeverityNone {
		t.Errorf("Severity = %q, want none", status.Severity)
	}
}

func TestEvaluateCriticalWinRate(t *testing.T) {
	b := testBreaker()

	m := domain.TradeMetrics{TotalTrades: 20, WinRate: 15}
	status := b.Evaluate(m)

	if !status.IsOpen {
		t.Fatal("breaker stayed closed at 15% win rate")
	}
	if status.Severity != domain.SeverityCritical {
		t.Errorf("Severity = %q, want critical", status.Severity)
	}
}

func TestEvaluateCriticalDailyLoss(t *testing.T) {
	b := testBreaker()

	m := domain.TradeMetrics{TotalTrades: 20, WinRate: 60, DailyLossPercent: 12}
	status := b.Evaluate(m)

	if !status.IsOpen {
		t.Fatal("breaker stayed closed at 12% daily loss")
	}
	if status.Severity != domain.SeverityCritical {
		t.Errorf("Severity = %q, want critical", status.Severity)
	}
}

func TestEvaluateWarningWinRate(t *testing.T) {
	b := testBreaker()

	m := domain.TradeMetrics{TotalTrades: 20, WinRate: 25}
	status := b.Evaluate(m)

	if status.IsOpen {
		t.Fatal("breaker opened at warning-level win rate")
	}
	if status.Severity != domain.SeverityWarning {
		t.Errorf("Severity = %q, want warning", status.Severity)
	}
}

func TestEvaluateWarningDailyLoss(t *testing.T) {
	b := testBreaker()

	m := domain.TradeMetrics{TotalTrades: 20, WinRate: 60, DailyLossPercent: 7}
	status := b.Evaluate(m)

	if status.IsOpen {
		t.Fatal("breaker opened at warning-level daily loss")
	}
	if status.Severity != domain.SeverityWarning {
		t.Errorf("Severity = %q, want warning", status.Severity)
	}
}

func TestEvaluateHealthy(t *testing.T) {
	b := testBreaker()

	m := domain.TradeMetrics{TotalTrades: 20, WinRate: 60, DailyLossPercent: 1}
	status := b.Evaluate(m)

	if status.IsOpen || status.Severity != domain.SeverityNone {
		t.Errorf("healthy metrics produced %+v", status)
	}
	if status.Reason != "" {
		t.Errorf("Reason = %q, want empty", status.Reason)
	}
}

// Rule order matters: a critical win rate wins over a warning-level daily
// loss even though both match.
func TestEvaluateOrderedRules(t *testing.T) {
	b := testBreaker()

	m := domain.TradeMetrics{TotalTrades: 20, WinRate: 15, DailyLossPercent: 7}
	status := b.Evaluate(m)

	if !status.IsOpen || status.Severity != domain.SeverityCritical {
		t.Fatalf("status = %+v, want open critical", status)
	}
}
