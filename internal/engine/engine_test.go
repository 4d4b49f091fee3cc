package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cryptumbot/cryptum/internal/budget"
	"github.com/cryptumbot/cryptum/internal/domain"
	"github.com/cryptumbot/cryptum/internal/notify"
	"github.com/cryptumbot/cryptum/internal/safety"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeExchange struct {
	tickers      map[string]domain.Ticker24h
	balance      domain.Balance
	orders       []domain.OrderRequest
	placeErr     error
	balanceCalls int
}

func (f *fakeExchange) GetTicker24h(_ context.Context, symbol string) (domain.Ticker24h, error) {
	t, ok := f.tickers[symbol]
	if !ok {
		return domain.Ticker24h{}, domain.ErrAllSourcesDown
	}
	return t, nil
}

func (f *fakeExchange) GetBalance(_ context.Context, asset string) (domain.Balance, error) {
	f.balanceCalls++
	return f.balance, nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if f.placeErr != nil {
		return domain.OrderResult{}, f.placeErr
	}
	f.orders = append(f.orders, req)
	return domain.OrderResult{
		OrderID:       "1",
		ClientOrderID: req.ClientOrderID,
		Status:        "FILLED",
		ExecutedQty:   req.Quantity,
	}, nil
}

func (f *fakeExchange) CancelOrder(context.Context, string, string) error { return nil }

type fakeSignals struct {
	opps []domain.TradingOpportunity
	err  error
}

func (f *fakeSignals) Opportunities(context.Context, []string) ([]domain.TradingOpportunity, error) {
	return f.opps, f.err
}

type fakeTradeStore struct {
	open     []domain.Trade
	closed   []domain.Trade
	inserted []domain.Trade
	closes   []int64
	nextID   int64
}

func (f *fakeTradeStore) Insert(_ context.Context, t domain.Trade) (int64, error) {
	f.nextID++
	t.ID = f.nextID
	f.inserted = append(f.inserted, t)
	return t.ID, nil
}

func (f *fakeTradeStore) Close(_ context.Context, id int64, exitPrice, profitLoss float64, closedAt time.Time) error {
	f.closes = append(f.closes, id)
	return nil
}

func (f *fakeTradeStore) ListClosedSince(_ context.Context, _ string, since time.Time) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range f.closed {
		if t.ClosedAt != nil && !t.ClosedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTradeStore) ListOpen(context.Context, string) ([]domain.Trade, error) {
	return f.open, nil
}

func (f *fakeTradeStore) ListClosedBefore(context.Context, time.Time, int) ([]domain.Trade, error) {
	return nil, nil
}

func (f *fakeTradeStore) DeleteClosedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeModeStore struct {
	state *domain.TradingModeState
}

func (f *fakeModeStore) Get(context.Context, string) (*domain.TradingModeState, error) {
	return f.state, nil
}

type fakeConfigStore struct {
	cfg domain.TradingConfig
}

func (f *fakeConfigStore) Get(context.Context, string) (domain.TradingConfig, error) {
	return f.cfg, nil
}

func (f *fakeConfigStore) UpdateRiskParams(context.Context, string, domain.AdaptiveRiskParams) error {
	return nil
}

func (f *fakeConfigStore) MarkAdjusted(context.Context, string, time.Time) error { return nil }

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	engine   *Engine
	exchange *fakeExchange
	trades   *fakeTradeStore
	modes    *fakeModeStore
	configs  *fakeConfigStore
	signals  *fakeSignals
}

func closedLoss(amount float64, closedAt time.Time) domain.Trade {
	pl := -amount
	return domain.Trade{
		Symbol:     "BTCUSDT",
		Status:     domain.TradeStatusClosed,
		ProfitLoss: &pl,
		ClosedAt:   &closedAt,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ex := &fakeExchange{
		tickers: map[string]domain.Ticker24h{},
		balance: domain.Balance{Asset: "USDT", Free: 1000},
	}
	trades := &fakeTradeStore{}
	modes := &fakeModeStore{state: &domain.TradingModeState{Mode: domain.ModeDemo, DemoBalance: 1000}}
	configs := &fakeConfigStore{cfg: domain.TradingConfig{AccountID: "acct", Active: true}}
	signals := &fakeSignals{}

	logger := testLogger()
	eng := New(
		Config{
			AccountID:     "acct",
			Symbols:       []string{"BTCUSDT", "ETHUSDT"},
			QuoteAsset:    "USDT",
			CycleInterval: time.Minute,
			SizingLimits:  budget.Limits{MinAmountPerPair: 10, MaxAmountPerPair: 150},
		},
		ex, signals, trades, modes, configs,
		safety.New(safety.DefaultThresholds(), logger),
		notify.NewNotifier(nil, nil, logger),
		domain.AdaptiveRiskParams{
			StopLossPercent:             2,
			TakeProfitPercent:           3,
			MaxAllocationPerPairPercent: 25,
			SafetyReservePercent:        10,
			MinConfidence:               60,
			MinTrendStrength:            0.3,
			CooldownMinutes:             30,
			Mode:                        domain.RiskModeNormal,
		},
		logger,
	)
	return &harness{engine: eng, exchange: ex, trades: trades, modes: modes, configs: configs, signals: signals}
}

// ---------------------------------------------------------------------------
// Cycle gating
// ---------------------------------------------------------------------------

func TestCycleSkipsInactiveAccount(t *testing.T) {
	h := newHarness(t)
	h.configs.cfg.Active = false
	h.signals.opps = []domain.TradingOpportunity{{Symbol: "BTCUSDT", Confidence: 95, PredictedPrice: 100, Trend: "up", TrendStrength: 0.8}}

	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.trades.inserted) != 0 {
		t.Errorf("inactive account opened %d trades", len(h.trades.inserted))
	}
}

func TestCycleDemoExecutionSkipsExchange(t *testing.T) {
	h := newHarness(t)
	h.signals.opps = []domain.TradingOpportunity{
		{Symbol: "BTCUSDT", Confidence: 95, PredictedPrice: 100, Trend: "up", TrendStrength: 0.8},
	}

	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.trades.inserted) != 1 {
		t.Fatalf("inserted %d trades, want 1", len(h.trades.inserted))
	}
	trade := h.trades.inserted[0]
	if !trade.Simulated {
		t.Error("DEMO trade not marked simulated")
	}
	if len(h.exchange.orders) != 0 {
		t.Errorf("DEMO execution placed %d live orders", len(h.exchange.orders))
	}
	if trade.ClientOrderID == "" {
		t.Error("missing client order ID")
	}
}

func TestCycleConfidenceAndTrendFilter(t *testing.T) {
	h := newHarness(t)
	h.signals.opps = []domain.TradingOpportunity{
		{Symbol: "LOWCONF", Confidence: 40, PredictedPrice: 10, Trend: "up", TrendStrength: 0.8},
		{Symbol: "DOWNTREND", Confidence: 95, PredictedPrice: 10, Trend: "down", TrendStrength: 0.8},
		{Symbol: "WEAKTREND", Confidence: 95, PredictedPrice: 10, Trend: "up", TrendStrength: 0.1},
		{Symbol: "GOOD", Confidence: 80, PredictedPrice: 10, Trend: "up", TrendStrength: 0.8},
	}

	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.trades.inserted) != 1 {
		t.Fatalf("inserted %d trades, want 1", len(h.trades.inserted))
	}
	if h.trades.inserted[0].Symbol != "GOOD" {
		t.Errorf("executed %s, want GOOD", h.trades.inserted[0].Symbol)
	}
}

func TestCycleTrendStrengthTightensWithParams(t *testing.T) {
	h := newHarness(t)
	h.signals.opps = []domain.TradingOpportunity{
		{Symbol: "BTCUSDT", Confidence: 95, PredictedPrice: 100, Trend: "up", TrendStrength: 0.4},
	}

	// Passes the baseline threshold.
	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.trades.inserted) != 1 {
		t.Fatalf("inserted %d trades under baseline threshold, want 1", len(h.trades.inserted))
	}

	// A tightened threshold filters the same candidate out.
	params := h.engine.Params()
	params.MinTrendStrength = 0.5
	h.engine.SetParams(params)
	h.trades.inserted = nil

	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.trades.inserted) != 0 {
		t.Errorf("weak trend passed a tightened threshold: %d trades", len(h.trades.inserted))
	}
}

func TestCycleBreakerOpenBlocksEntries(t *testing.T) {
	h := newHarness(t)
	// 20 losses in the window: win rate 0 over a sufficient sample.
	closedAt := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 20; i++ {
		h.trades.closed = append(h.trades.closed, closedLoss(1, closedAt))
	}
	h.signals.opps = []domain.TradingOpportunity{
		{Symbol: "BTCUSDT", Confidence: 95, PredictedPrice: 100, Trend: "up", TrendStrength: 0.8},
	}

	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.trades.inserted) != 0 {
		t.Errorf("open breaker allowed %d entries", len(h.trades.inserted))
	}
}

func TestCycleBreakerOpenStillSweepsExits(t *testing.T) {
	h := newHarness(t)
	closedAt := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 20; i++ {
		h.trades.closed = append(h.trades.closed, closedLoss(1, closedAt))
	}
	// Open simulated position now 5% under its entry, past the 2% stop.
	h.trades.open = []domain.Trade{{
		ID: 7, Symbol: "ETHUSDT", Quantity: 1, EntryPrice: 100,
		Status: domain.TradeStatusOpen, Simulated: true,
	}}
	h.exchange.tickers["ETHUSDT"] = domain.Ticker24h{Symbol: "ETHUSDT", LastPrice: 95}

	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.trades.closes) != 1 || h.trades.closes[0] != 7 {
		t.Fatalf("stop loss not executed under open breaker: closes = %v", h.trades.closes)
	}
}

func TestCycleCooldownAfterRecentLoss(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	// Small loss streak: not enough to trip the breaker (insufficient
	// sample) but enough to arm the cooldown.
	h.trades.closed = []domain.Trade{
		closedLoss(1, now.Add(-20*time.Minute)),
		closedLoss(1, now.Add(-10*time.Minute)),
	}
	h.signals.opps = []domain.TradingOpportunity{
		{Symbol: "BTCUSDT", Confidence: 95, PredictedPrice: 100, Trend: "up", TrendStrength: 0.8},
	}

	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.trades.inserted) != 0 {
		t.Errorf("cooldown did not block entries: %d trades", len(h.trades.inserted))
	}
}

func TestCycleCooldownExpires(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	h.trades.closed = []domain.Trade{
		closedLoss(1, now.Add(-2*time.Hour)),
		closedLoss(1, now.Add(-90*time.Minute)),
	}
	h.signals.opps = []domain.TradingOpportunity{
		{Symbol: "BTCUSDT", Confidence: 95, PredictedPrice: 100, Trend: "up", TrendStrength: 0.8},
	}

	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.trades.inserted) != 1 {
		t.Errorf("expired cooldown still blocking: %d trades", len(h.trades.inserted))
	}
}

// ---------------------------------------------------------------------------
// REAL-mode execution
// ---------------------------------------------------------------------------

func realState(confirmedAt time.Time) *domain.TradingModeState {
	return &domain.TradingModeState{Mode: domain.ModeReal, RealModeConfirmedAt: &confirmedAt}
}

func TestCycleRealModePlacesLiveOrder(t *testing.T) {
	h := newHarness(t)
	h.modes.state = realState(time.Now().UTC().Add(-time.Minute))
	h.signals.opps = []domain.TradingOpportunity{
		{Symbol: "BTCUSDT", Confidence: 95, PredictedPrice: 100, Trend: "up", TrendStrength: 0.8},
	}

	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.exchange.orders) != 1 {
		t.Fatalf("placed %d live orders, want 1", len(h.exchange.orders))
	}
	if h.exchange.orders[0].Side != domain.TradeSideBuy {
		t.Errorf("side = %q", h.exchange.orders[0].Side)
	}
	if len(h.trades.inserted) != 1 || h.trades.inserted[0].Simulated {
		t.Error("live trade recorded as simulated")
	}
	if h.exchange.balanceCalls == 0 {
		t.Error("REAL mode never queried the live balance")
	}
}

func TestCycleStaleRealConfirmationFallsBackToDemo(t *testing.T) {
	h := newHarness(t)
	h.modes.state = realState(time.Now().UTC().Add(-time.Hour))
	h.signals.opps = []domain.TradingOpportunity{
		{Symbol: "BTCUSDT", Confidence: 95, PredictedPrice: 100, Trend: "up", TrendStrength: 0.8},
	}

	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.exchange.orders) != 0 {
		t.Error("stale REAL confirmation placed a live order")
	}
	if len(h.trades.inserted) != 1 || !h.trades.inserted[0].Simulated {
		t.Error("stale REAL confirmation did not fall back to simulation")
	}
}

func TestCycleOrderFailureDoesNotRecordTrade(t *testing.T) {
	h := newHarness(t)
	h.modes.state = realState(time.Now().UTC().Add(-time.Minute))
	h.exchange.placeErr = errors.New("boom")
	h.signals.opps = []domain.TradingOpportunity{
		{Symbol: "BTCUSDT", Confidence: 95, PredictedPrice: 100, Trend: "up", TrendStrength: 0.8},
	}

	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.trades.inserted) != 0 {
		t.Errorf("rejected order recorded %d trades", len(h.trades.inserted))
	}
}

func TestCycleRateLimitAbandonsCycle(t *testing.T) {
	h := newHarness(t)
	h.modes.state = realState(time.Now().UTC().Add(-time.Minute))
	h.exchange.placeErr = &domain.RemoteError{
		Kind:       domain.KindRateLimited,
		RetryAfter: time.Minute,
		Err:        errors.New("too many requests"),
	}
	h.signals.opps = []domain.TradingOpportunity{
		{Symbol: "BTCUSDT", Confidence: 95, PredictedPrice: 100, Trend: "up", TrendStrength: 0.8},
		{Symbol: "ETHUSDT", Confidence: 90, PredictedPrice: 50, Trend: "up", TrendStrength: 0.8},
	}

	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.trades.inserted) != 0 {
		t.Errorf("rate-limited cycle recorded %d trades", len(h.trades.inserted))
	}
}

// ---------------------------------------------------------------------------
// Exit management
// ---------------------------------------------------------------------------

func TestExitTakeProfit(t *testing.T) {
	h := newHarness(t)
	h.trades.open = []domain.Trade{{
		ID: 3, Symbol: "BTCUSDT", Quantity: 0.5, EntryPrice: 100,
		Status: domain.TradeStatusOpen, Simulated: true,
	}}
	// 4% over entry, past the 3% take profit.
	h.exchange.tickers["BTCUSDT"] = domain.Ticker24h{Symbol: "BTCUSDT", LastPrice: 104}

	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.trades.closes) != 1 || h.trades.closes[0] != 3 {
		t.Fatalf("take profit not executed: closes = %v", h.trades.closes)
	}
}

func TestExitHoldsInsideBand(t *testing.T) {
	h := newHarness(t)
	h.trades.open = []domain.Trade{{
		ID: 3, Symbol: "BTCUSDT", Quantity: 0.5, EntryPrice: 100,
		Status: domain.TradeStatusOpen, Simulated: true,
	}}
	h.exchange.tickers["BTCUSDT"] = domain.Ticker24h{Symbol: "BTCUSDT", LastPrice: 101}

	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.trades.closes) != 0 {
		t.Errorf("position inside the band was closed: %v", h.trades.closes)
	}
}

func TestExitRealPositionSellsFirst(t *testing.T) {
	h := newHarness(t)
	h.trades.open = []domain.Trade{{
		ID: 9, Symbol: "BTCUSDT", Quantity: 0.5, EntryPrice: 100,
		Status: domain.TradeStatusOpen, Simulated: false,
	}}
	h.exchange.tickers["BTCUSDT"] = domain.Ticker24h{Symbol: "BTCUSDT", LastPrice: 90}

	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.exchange.orders) != 1 || h.exchange.orders[0].Side != domain.TradeSideSell {
		t.Fatalf("live exit did not place a sell order: %+v", h.exchange.orders)
	}
	if len(h.trades.closes) != 1 || h.trades.closes[0] != 9 {
		t.Fatalf("live exit not recorded: closes = %v", h.trades.closes)
	}
}

// ---------------------------------------------------------------------------
// Sizing
// ---------------------------------------------------------------------------

func TestCycleRespectsSafetyReserve(t *testing.T) {
	h := newHarness(t)
	h.signals.opps = []domain.TradingOpportunity{
		{Symbol: "BTCUSDT", Confidence: 95, PredictedPrice: 100, Trend: "up", TrendStrength: 0.8},
		{Symbol: "ETHUSDT", Confidence: 90, PredictedPrice: 50, Trend: "up", TrendStrength: 0.8},
	}

	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	var committed float64
	for _, tr := range h.trades.inserted {
		committed += tr.Quantity * tr.EntryPrice
	}
	// DEMO balance 1000, 10% reserve: at most 900 may be committed.
	if committed > 900.0001 {
		t.Errorf("committed %.2f, want <= 900 (10%% reserve on 1000)", committed)
	}
}

func TestCycleParamsUpdateTakesEffect(t *testing.T) {
	h := newHarness(t)

	p := h.engine.Params()
	p.MinConfidence = 99
	h.engine.SetParams(p)

	h.signals.opps = []domain.TradingOpportunity{
		{Symbol: "BTCUSDT", Confidence: 95, PredictedPrice: 100, Trend: "up", TrendStrength: 0.8},
	}
	if err := h.engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(h.trades.inserted) != 0 {
		t.Errorf("raised confidence floor ignored: %d trades", len(h.trades.inserted))
	}
}
