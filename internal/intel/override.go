// Package intel loads the externally produced parameter-override document
// and merges it over the engine's running parameters. The document is
// optional: absence or a parse failure degrades to "no override", never an
// error surfaced to the caller.
package intel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cryptumbot/cryptum/internal/domain"
)

// Override is the optimized-parameter document. Every field is optional;
// only present fields replace the current values.
type Override struct {
	StopLossPercent             *float64 `json:"stop_loss_percent"`
	TakeProfitPercent           *float64 `json:"take_profit_percent"`
	MaxAllocationPerPairPercent *float64 `json:"max_allocation_per_pair_percent"`
	MinConfidence               *float64 `json:"min_confidence"`
	MinTrendStrength            *float64 `json:"min_trend_strength"`
	CooldownMinutes             *int     `json:"cooldown_minutes"`
	GeneratedAt                 string   `json:"generated_at"`
}

// Fetcher resolves the override document from a local file or a remote URL.
type Fetcher struct {
	path       string
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher. Either path or url may be empty; when both
// are set the file takes precedence and the URL is the fallback.
func NewFetcher(path, url string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		path:       path,
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With(slog.String("component", "intel")),
	}
}

// Fetch returns the current override document, or nil when no document is
// available. Malformed documents are logged and treated as absent.
func (f *Fetcher) Fetch(ctx context.Context) *Override {
	if f.path != "" {
		if o := f.fromFile(); o != nil {
			return o
		}
	}
	if f.url != "" {
		return f.fromURL(ctx)
	}
	return nil
}

func (f *Fetcher) fromFile() *Override {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("override file unreadable", slog.String("path", f.path), slog.String("error", err.Error()))
		}
		return nil
	}
	return f.decode(data, f.path)
}

func (f *Fetcher) fromURL(ctx context.Context) *Override {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		f.logger.Warn("override request build failed", slog.String("error", err.Error()))
		return nil
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Warn("override fetch failed", slog.String("url", f.url), slog.String("error", err.Error()))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Warn("override fetch non-2xx", slog.String("url", f.url), slog.Int("status", resp.StatusCode))
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		f.logger.Warn("override read failed", slog.String("error", err.Error()))
		return nil
	}
	return f.decode(data, f.url)
}

func (f *Fetcher) decode(data []byte, source string) *Override {
	var o Override
	if err := json.Unmarshal(data, &o); err != nil {
		f.logger.Warn("override document malformed, ignoring",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return &o
}

// Merge applies the override over current field by field, preferring present
// override values and keeping current values everywhere else. A nil override
// returns current unchanged.
func Merge(current domain.AdaptiveRiskParams, o *Override) domain.AdaptiveRiskParams {
	if o == nil {
		return current
	}
	merged := current
	if o.StopLossPercent != nil {
		merged.StopLossPercent = *o.StopLossPercent
	}
	if o.TakeProfitPercent != nil {
		merged.TakeProfitPercent = *o.TakeProfitPercent
	}
	if o.MaxAllocationPerPairPercent != nil {
		merged.MaxAllocationPerPairPercent = *o.MaxAllocationPerPairPercent
	}
	if o.MinConfidence != nil {
		merged.MinConfidence = *o.MinConfidence
	}
	if o.MinTrendStrength != nil {
		merged.MinTrendStrength = *o.MinTrendStrength
	}
	if o.CooldownMinutes != nil {
		merged.CooldownMinutes = *o.CooldownMinutes
	}
	return merged
}
