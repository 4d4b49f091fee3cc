package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cryptumbot/cryptum/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memWriter struct {
	objects map[string][]byte
	err     error
}

func (m *memWriter) Write(_ context.Context, key string, data []byte, _ string) error {
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

type memArchiveStore struct {
	trades  []domain.Trade // closed, ordered by closed_at ascending
	deletes []time.Time
}

func (m *memArchiveStore) ListClosedBefore(_ context.Context, before time.Time, limit int) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range m.trades {
		if t.ClosedAt.Before(before) {
			out = append(out, t)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memArchiveStore) DeleteClosedBefore(_ context.Context, before time.Time) (int64, error) {
	m.deletes = append(m.deletes, before)
	var kept []domain.Trade
	var deleted int64
	for _, t := range m.trades {
		if t.ClosedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	m.trades = kept
	return deleted, nil
}

func closedTrade(id int64, closedAt time.Time) domain.Trade {
	pl := 1.0
	exit := 101.0
	return domain.Trade{
		ID:         id,
		AccountID:  "acct",
		Symbol:     "BTCUSDT",
		Status:     domain.TradeStatusClosed,
		Quantity:   1,
		EntryPrice: 100,
		ExitPrice:  &exit,
		ProfitLoss: &pl,
		ClosedAt:   &closedAt,
	}
}

func TestArchiveOnceMovesOldTrades(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -100)
	recent := now.AddDate(0, 0, -10)

	store := &memArchiveStore{trades: []domain.Trade{
		closedTrade(1, old),
		closedTrade(2, old.Add(time.Hour)),
		closedTrade(3, recent),
	}}
	writer := &memWriter{}

	a := NewArchiver(writer, nil, store, 90, time.Hour, testLogger())
	moved, err := a.ArchiveOnce(context.Background(), now)
	if err != nil {
		t.Fatalf("ArchiveOnce: %v", err)
	}
	if moved != 2 {
		t.Errorf("moved = %d, want 2", moved)
	}
	if len(store.trades) != 1 || store.trades[0].ID != 3 {
		t.Errorf("remaining trades = %+v, want only the recent one", store.trades)
	}
	if len(writer.objects) != 1 {
		t.Fatalf("uploaded %d objects, want 1", len(writer.objects))
	}
	for key, data := range writer.objects {
		if !strings.HasPrefix(key, "archive/trades/") || !strings.HasSuffix(key, ".jsonl") {
			t.Errorf("unexpected key %q", key)
		}
		if got := bytes.Count(data, []byte("\n")); got != 2 {
			t.Errorf("object has %d lines, want 2", got)
		}
	}
}

func TestArchiveOnceNothingToArchive(t *testing.T) {
	now := time.Now().UTC()
	store := &memArchiveStore{trades: []domain.Trade{closedTrade(1, now.Add(-time.Hour))}}
	writer := &memWriter{}

	a := NewArchiver(writer, nil, store, 90, time.Hour, testLogger())
	moved, err := a.ArchiveOnce(context.Background(), now)
	if err != nil {
		t.Fatalf("ArchiveOnce: %v", err)
	}
	if moved != 0 {
		t.Errorf("moved = %d, want 0", moved)
	}
	if len(writer.objects) != 0 {
		t.Errorf("uploaded %d objects, want 0", len(writer.objects))
	}
}

func TestArchiveOnceUploadFailureKeepsRows(t *testing.T) {
	now := time.Now().UTC()
	store := &memArchiveStore{trades: []domain.Trade{closedTrade(1, now.AddDate(0, 0, -100))}}
	writer := &memWriter{err: errors.New("bucket unavailable")}

	a := NewArchiver(writer, nil, store, 90, time.Hour, testLogger())
	if _, err := a.ArchiveOnce(context.Background(), now); err == nil {
		t.Fatal("expected upload error")
	}
	if len(store.trades) != 1 {
		t.Error("rows deleted despite failed upload")
	}
	if len(store.deletes) != 0 {
		t.Errorf("delete called %d times after failed upload", len(store.deletes))
	}
}

func TestArchiveDeleteCutoffCoversBatch(t *testing.T) {
	now := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	last := now.AddDate(0, 0, -95)
	store := &memArchiveStore{trades: []domain.Trade{
		closedTrade(1, last.Add(-time.Hour)),
		closedTrade(2, last),
	}}

	a := NewArchiver(&memWriter{}, nil, store, 90, time.Hour, testLogger())
	if _, err := a.ArchiveOnce(context.Background(), now); err != nil {
		t.Fatalf("ArchiveOnce: %v", err)
	}
	if len(store.deletes) != 1 {
		t.Fatalf("deletes = %d, want 1", len(store.deletes))
	}
	// The cutoff must fall strictly after the last archived trade so the
	// boundary row itself is removed.
	if !store.deletes[0].After(last) {
		t.Errorf("delete cutoff %v not after batch boundary %v", store.deletes[0], last)
	}
}

func TestArchiveKeyLayout(t *testing.T) {
	boundary := time.Date(2026, 8, 15, 9, 30, 45, 0, time.UTC)
	got := archiveKey(boundary)
	want := "archive/trades/2026-08/20260815T093045Z.jsonl"
	if got != want {
		t.Errorf("archiveKey = %q, want %q", got, want)
	}
}

func TestMarshalJSONL(t *testing.T) {
	type row struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	data, err := marshalJSONL([]row{
		{Name: "a", URL: "https://example.com/?x=1&y=2"},
		{Name: "b"},
	})
	if err != nil {
		t.Fatalf("marshalJSONL: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	// HTML escaping is off so URLs stay readable.
	if !strings.Contains(lines[0], "x=1&y=2") {
		t.Errorf("ampersand escaped: %s", lines[0])
	}
}
