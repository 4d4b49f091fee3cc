package intel

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cryptumbot/cryptum/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseParams() domain.AdaptiveRiskParams {
	return domain.AdaptiveRiskParams{
		StopLossPercent:             2,
		TakeProfitPercent:           3,
		MaxAllocationPerPairPercent: 25,
		SafetyReservePercent:        10,
		MinConfidence:               60,
		MinTrendStrength:            0.3,
		CooldownMinutes:             30,
		Mode:                        domain.RiskModeNormal,
	}
}

func TestMergeNilOverride(t *testing.T) {
	current := baseParams()
	merged := Merge(current, nil)
	if merged != current {
		t.Fatalf("nil override changed params: got %+v", merged)
	}
}

func TestMergePartialOverride(t *testing.T) {
	sl := 1.5
	cooldown := 45
	merged := Merge(baseParams(), &Override{
		StopLossPercent: &sl,
		CooldownMinutes: &cooldown,
	})

	if merged.StopLossPercent != 1.5 {
		t.Errorf("StopLossPercent = %v, want 1.5", merged.StopLossPercent)
	}
	if merged.CooldownMinutes != 45 {
		t.Errorf("CooldownMinutes = %v, want 45", merged.CooldownMinutes)
	}
	// Untouched fields keep their current values.
	if merged.TakeProfitPercent != 3 {
		t.Errorf("TakeProfitPercent = %v, want 3", merged.TakeProfitPercent)
	}
	if merged.MinConfidence != 60 {
		t.Errorf("MinConfidence = %v, want 60", merged.MinConfidence)
	}
	if merged.Mode != domain.RiskModeNormal {
		t.Errorf("Mode = %v, want normal", merged.Mode)
	}
}

func TestMergeAllFields(t *testing.T) {
	sl, tp, alloc, conf, trend := 1.0, 5.0, 15.0, 80.0, 0.6
	cooldown := 90
	merged := Merge(baseParams(), &Override{
		StopLossPercent:             &sl,
		TakeProfitPercent:           &tp,
		MaxAllocationPerPairPercent: &alloc,
		MinConfidence:               &conf,
		MinTrendStrength:            &trend,
		CooldownMinutes:             &cooldown,
	})

	if merged.StopLossPercent != 1 || merged.TakeProfitPercent != 5 ||
		merged.MaxAllocationPerPairPercent != 15 || merged.MinConfidence != 80 ||
		merged.MinTrendStrength != 0.6 || merged.CooldownMinutes != 90 {
		t.Fatalf("full override not applied: %+v", merged)
	}
}

func TestFetchFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.json")
	doc := `{"stop_loss_percent": 1.2, "min_confidence": 75, "generated_at": "2026-08-29T12:00:00Z"}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	f := NewFetcher(path, "", testLogger())
	o := f.Fetch(context.Background())
	if o == nil {
		t.Fatal("expected override, got nil")
	}
	if o.StopLossPercent == nil || *o.StopLossPercent != 1.2 {
		t.Errorf("StopLossPercent = %v, want 1.2", o.StopLossPercent)
	}
	if o.MinConfidence == nil || *o.MinConfidence != 75 {
		t.Errorf("MinConfidence = %v, want 75", o.MinConfidence)
	}
	if o.TakeProfitPercent != nil {
		t.Errorf("TakeProfitPercent should be absent, got %v", *o.TakeProfitPercent)
	}
	if o.GeneratedAt != "2026-08-29T12:00:00Z" {
		t.Errorf("GeneratedAt = %q", o.GeneratedAt)
	}
}

func TestFetchMissingFile(t *testing.T) {
	f := NewFetcher(filepath.Join(t.TempDir(), "absent.json"), "", testLogger())
	if o := f.Fetch(context.Background()); o != nil {
		t.Fatalf("expected nil for missing file, got %+v", o)
	}
}

func TestFetchMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	f := NewFetcher(path, "", testLogger())
	if o := f.Fetch(context.Background()); o != nil {
		t.Fatalf("expected nil for malformed document, got %+v", o)
	}
}

func TestFetchFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"take_profit_percent": 4.5}`))
	}))
	defer srv.Close()

	f := NewFetcher("", srv.URL, testLogger())
	o := f.Fetch(context.Background())
	if o == nil || o.TakeProfitPercent == nil || *o.TakeProfitPercent != 4.5 {
		t.Fatalf("unexpected override: %+v", o)
	}
}

func TestFetchURLNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher("", srv.URL, testLogger())
	if o := f.Fetch(context.Background()); o != nil {
		t.Fatalf("expected nil on 404, got %+v", o)
	}
}

func TestFetchFilePrecedesURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"min_confidence": 10}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "override.json")
	if err := os.WriteFile(path, []byte(`{"min_confidence": 90}`), 0o600); err != nil {
		t.Fatal(err)
	}

	f := NewFetcher(path, srv.URL, testLogger())
	o := f.Fetch(context.Background())
	if o == nil || o.MinConfidence == nil || *o.MinConfidence != 90 {
		t.Fatalf("file should win over URL: %+v", o)
	}
}
