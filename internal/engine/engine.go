// Package engine runs the trade-execution cycle: safety gate, parameter
// application, position sizing, and order placement. The orchestrator owns
// the engine's lifecycle; the engine owns nothing but its working risk
// parameters.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cryptumbot/cryptum/internal/budget"
	"github.com/cryptumbot/cryptum/internal/domain"
	"github.com/cryptumbot/cryptum/internal/metrics"
	"github.com/cryptumbot/cryptum/internal/notify"
	"github.com/cryptumbot/cryptum/internal/safety"
	"github.com/cryptumbot/cryptum/internal/tradingmode"
)

// Config holds the static parameters of one engine instance.
type Config struct {
	AccountID     string
	Symbols       []string
	QuoteAsset    string // e.g. "USDT"
	CycleInterval time.Duration
	SizingLimits  budget.Limits
}

// Engine executes trade cycles for a single account. All mutable state is
// the working parameter set, guarded by a mutex so the orchestrator can push
// updates while a cycle is in flight.
type Engine struct {
	cfg      Config
	exchange domain.Exchange
	signals  domain.SignalSource
	trades   domain.TradeStore
	modes    domain.TradingModeStore
	configs  domain.TradingConfigStore
	breaker  *safety.Breaker
	notifier *notify.Notifier
	logger   *slog.Logger

	mu             sync.Mutex
	params         domain.AdaptiveRiskParams
	breakerWasOpen bool
}

// New creates an Engine with the given dependencies and initial parameters.
func New(
	cfg Config,
	ex domain.Exchange,
	signals domain.SignalSource,
	trades domain.TradeStore,
	modes domain.TradingModeStore,
	configs domain.TradingConfigStore,
	breaker *safety.Breaker,
	notifier *notify.Notifier,
	initial domain.AdaptiveRiskParams,
	logger *slog.Logger,
) *Engine {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = time.Minute
	}
	return &Engine{
		cfg:      cfg,
		exchange: ex,
		signals:  signals,
		trades:   trades,
		modes:    modes,
		configs:  configs,
		breaker:  breaker,
		notifier: notifier,
		params:   initial,
		logger:   logger.With(slog.String("component", "engine")),
	}
}

// Params returns a copy of the current working parameter set.
func (e *Engine) Params() domain.AdaptiveRiskParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// SetParams replaces the working parameter set. Called by the orchestrator
// after adaptive re-evaluation or an intelligence merge; the next cycle
// picks the new values up.
func (e *Engine) SetParams(p domain.AdaptiveRiskParams) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = p
}

// Run executes trade cycles on a ticker until ctx is cancelled. A failed
// cycle is logged and the loop continues on the next tick; only context
// cancellation ends the loop.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started",
		slog.String("account", e.cfg.AccountID),
		slog.Duration("cycle_interval", e.cfg.CycleInterval),
	)

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped", slog.String("account", e.cfg.AccountID))
			return ctx.Err()
		case <-ticker.C:
			if err := e.runCycle(ctx); err != nil {
				e.logger.Error("trade cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runCycle performs one gate → size → execute pass. Safety-policy blocks
// (open breaker, invalid REAL confirmation, empty distribution) are normal
// control flow and return nil.
func (e *Engine) runCycle(ctx context.Context) error {
	now := time.Now().UTC()

	cfg, err := e.configs.Get(ctx, e.cfg.AccountID)
	if err != nil {
		return fmt.Errorf("engine: load trading config: %w", err)
	}
	if !cfg.Active {
		e.logger.Debug("account inactive, skipping cycle")
		return nil
	}

	modeState, err := e.modes.Get(ctx, e.cfg.AccountID)
	if err != nil {
		return fmt.Errorf("engine: load trading mode: %w", err)
	}
	demo := tradingmode.ShouldExecuteInDemo(modeState, now)

	// Exits run before the safety gate: an open circuit breaker halts new
	// entries, it must never trap a position past its stop loss.
	e.manageExits(ctx, e.Params(), now)

	available, err := e.availableBalance(ctx, modeState, demo)
	if err != nil {
		return fmt.Errorf("engine: resolve balance: %w", err)
	}

	// The breaker is evaluated fresh immediately before every execution
	// attempt; a status from a previous cycle may predate a strategy
	// adjustment that moved the metrics window.
	m, lastLossAt, err := e.windowMetrics(ctx, cfg, available, now)
	if err != nil {
		return fmt.Errorf("engine: aggregate metrics: %w", err)
	}
	status := e.breaker.Evaluate(m)
	if status.IsOpen {
		e.noteBreakerOpen(ctx, status)
		return nil
	}
	e.clearBreakerOpen()

	params := e.Params()

	if inCooldown(m, params, lastLossAt, now) {
		e.logger.Debug("cooldown active, skipping cycle",
			slog.Int("consecutive_losses", m.ConsecutiveLosses),
			slog.Int("cooldown_minutes", params.CooldownMinutes),
		)
		return nil
	}

	opportunities, err := e.signals.Opportunities(ctx, e.cfg.Symbols)
	if err != nil {
		return fmt.Errorf("engine: fetch opportunities: %w", err)
	}

	eligible := make([]domain.TradingOpportunity, 0, len(opportunities))
	for _, opp := range opportunities {
		if opp.Confidence >= params.MinConfidence &&
			opp.Trend == "up" &&
			opp.TrendStrength >= params.MinTrendStrength {
			eligible = append(eligible, opp)
		}
	}
	if len(eligible) == 0 {
		e.logger.Debug("no eligible opportunities this cycle",
			slog.Int("candidates", len(opportunities)),
		)
		return nil
	}

	distributor := budget.New(e.cycleLimits(available, params))
	dist := e.distribute(distributor, eligible, available, params)
	if ok, reason := distributor.Validate(dist); !ok {
		e.logger.Info("distribution rejected", slog.String("reason", reason))
		return nil
	}

	return e.execute(ctx, dist, demo, now)
}

// availableBalance resolves the capital envelope for this cycle: the demo
// balance less open simulated exposure, or the live free balance.
func (e *Engine) availableBalance(ctx context.Context, modeState *domain.TradingModeState, demo bool) (float64, error) {
	if demo {
		base := 10_000.0
		if modeState != nil && modeState.DemoBalance > 0 {
			base = modeState.DemoBalance
		}
		open, err := e.trades.ListOpen(ctx, e.cfg.AccountID)
		if err != nil {
			return 0, err
		}
		for _, t := range open {
			base -= t.Quantity * t.EntryPrice
		}
		if base < 0 {
			base = 0
		}
		return base, nil
	}

	bal, err := e.exchange.GetBalance(ctx, e.cfg.QuoteAsset)
	if err != nil {
		return 0, err
	}
	return bal.Free, nil
}

// windowMetrics aggregates the closed trades in the current evaluation
// window and reports when the most recent loss closed, for cooldown
// enforcement.
func (e *Engine) windowMetrics(ctx context.Context, cfg domain.TradingConfig, baseline float64, now time.Time) (domain.TradeMetrics, time.Time, error) {
	since := metrics.WindowStart(now, cfg.LastAdjustedAt)
	closed, err := e.trades.ListClosedSince(ctx, e.cfg.AccountID, since)
	if err != nil {
		return domain.TradeMetrics{}, time.Time{}, err
	}

	var lastLossAt time.Time
	outcomes := make([]domain.TradeOutcome, 0, len(closed))
	for _, t := range closed {
		o, ok := t.Outcome()
		if !ok {
			continue
		}
		outcomes = append(outcomes, o)
		if o.ProfitLoss < 0 && o.ClosedAt.After(lastLossAt) {
			lastLossAt = o.ClosedAt
		}
	}
	return metrics.Aggregate(outcomes, baseline, now), lastLossAt, nil
}

// cycleLimits derives this cycle's sizing bounds: the static configuration
// tightened by the adaptive per-pair allocation cap.
func (e *Engine) cycleLimits(available float64, params domain.AdaptiveRiskParams) budget.Limits {
	limits := e.cfg.SizingLimits
	if params.MaxAllocationPerPairPercent > 0 {
		perPair := available * params.MaxAllocationPerPairPercent / 100
		if limits.MaxAmountPerPair <= 0 || perPair < limits.MaxAmountPerPair {
			limits.MaxAmountPerPair = perPair
		}
	}
	return limits
}

func (e *Engine) distribute(distributor *budget.Distributor, eligible []domain.TradingOpportunity, available float64, params domain.AdaptiveRiskParams) domain.BudgetDistribution {
	envelope := available
	if params.SafetyReservePercent > 0 {
		envelope = available * (1 - params.SafetyReservePercent/100)
	}
	dist := distributor.Distribute(eligible, envelope)

	for _, skipped := range dist.SkippedPairs {
		e.logger.Debug("pair skipped",
			slog.String("symbol", skipped.Symbol),
			slog.String("reason", skipped.Reason),
		)
	}
	return dist
}

// execute places one order per included pair. DEMO executions are recorded
// without touching the exchange; REAL executions place a live market order
// first and record only what the exchange accepted.
func (e *Engine) execute(ctx context.Context, dist domain.BudgetDistribution, demo bool, now time.Time) error {
	for _, opp := range dist.TradesToExecute {
		if opp.PredictedPrice <= 0 {
			e.logger.Warn("opportunity without a price, skipping", slog.String("symbol", opp.Symbol))
			continue
		}
		clientID := uuid.New().String()
		quantity := dist.AmountPerPair / opp.PredictedPrice

		trade := domain.Trade{
			AccountID:     e.cfg.AccountID,
			Symbol:        opp.Symbol,
			Side:          domain.TradeSideBuy,
			Quantity:      quantity,
			EntryPrice:    opp.PredictedPrice,
			Status:        domain.TradeStatusOpen,
			ClientOrderID: clientID,
			Simulated:     demo,
			OpenedAt:      now,
		}

		if !demo {
			result, err := e.exchange.PlaceOrder(ctx, domain.OrderRequest{
				Symbol:        opp.Symbol,
				Side:          domain.TradeSideBuy,
				Quantity:      quantity,
				ClientOrderID: clientID,
			})
			if err != nil {
				e.logger.Error("order placement failed",
					slog.String("symbol", opp.Symbol),
					slog.String("error", err.Error()),
				)
				_ = e.notifier.Notify(ctx, notify.EventOrderFailed, "Order failed",
					fmt.Sprintf("%s: %v", opp.Symbol, err))
				if after, limited := domain.IsRateLimited(err); limited {
					// Back off for the rest of this cycle rather than
					// hammering the remaining pairs into the same limit.
					e.logger.Warn("rate limited, abandoning cycle",
						slog.Duration("retry_after", after),
					)
					return nil
				}
				continue
			}
			if result.ExecutedQty > 0 {
				trade.Quantity = result.ExecutedQty
			}
			if result.AvgPrice > 0 {
				trade.EntryPrice = result.AvgPrice
			}
		}

		if _, err := e.trades.Insert(ctx, trade); err != nil {
			return fmt.Errorf("engine: record trade %s: %w", opp.Symbol, err)
		}

		e.logger.Info("trade opened",
			slog.String("symbol", opp.Symbol),
			slog.Float64("notional", dist.AmountPerPair),
			slog.Bool("simulated", demo),
		)
		_ = e.notifier.Notify(ctx, notify.EventOrderPlaced, "Trade opened",
			fmt.Sprintf("%s %.2f %s (simulated=%t)", opp.Symbol, dist.AmountPerPair, e.cfg.QuoteAsset, demo))
	}
	return nil
}

// manageExits sweeps open positions and closes any that crossed the current
// stop-loss or take-profit band. Failures on one position never block the
// rest of the sweep.
func (e *Engine) manageExits(ctx context.Context, params domain.AdaptiveRiskParams, now time.Time) {
	open, err := e.trades.ListOpen(ctx, e.cfg.AccountID)
	if err != nil {
		e.logger.Error("list open trades failed", slog.String("error", err.Error()))
		return
	}

	for _, t := range open {
		ticker, err := e.exchange.GetTicker24h(ctx, t.Symbol)
		if err != nil {
			e.logger.Warn("exit check skipped, ticker unavailable",
				slog.String("symbol", t.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}

		price := ticker.LastPrice
		stopLoss := t.EntryPrice * (1 - params.StopLossPercent/100)
		takeProfit := t.EntryPrice * (1 + params.TakeProfitPercent/100)
		if price > stopLoss && price < takeProfit {
			continue
		}

		if !t.Simulated {
			if _, err := e.exchange.PlaceOrder(ctx, domain.OrderRequest{
				Symbol:        t.Symbol,
				Side:          domain.TradeSideSell,
				Quantity:      t.Quantity,
				ClientOrderID: uuid.New().String(),
			}); err != nil {
				e.logger.Error("exit order failed",
					slog.String("symbol", t.Symbol),
					slog.String("error", err.Error()),
				)
				continue
			}
		}

		profitLoss := (price - t.EntryPrice) * t.Quantity
		if err := e.trades.Close(ctx, t.ID, price, profitLoss, now); err != nil {
			e.logger.Error("close trade failed",
				slog.Int64("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		e.logger.Info("trade closed",
			slog.String("symbol", t.Symbol),
			slog.Float64("exit_price", price),
			slog.Float64("profit_loss", profitLoss),
		)
	}
}

// inCooldown reports whether the adaptive cooldown still covers the most
// recent loss. A cooldown only applies while the account is actually on a
// losing streak.
func inCooldown(m domain.TradeMetrics, params domain.AdaptiveRiskParams, lastLossAt, now time.Time) bool {
	if m.ConsecutiveLosses == 0 || params.CooldownMinutes <= 0 || lastLossAt.IsZero() {
		return false
	}
	return now.Sub(lastLossAt) < time.Duration(params.CooldownMinutes)*time.Minute
}

func (e *Engine) noteBreakerOpen(ctx context.Context, status domain.CircuitBreakerStatus) {
	e.mu.Lock()
	first := !e.breakerWasOpen
	e.breakerWasOpen = true
	e.mu.Unlock()

	if first {
		e.logger.Warn("trading halted by circuit breaker", slog.String("reason", status.Reason))
		_ = e.notifier.Notify(ctx, notify.EventCircuitOpen, "Circuit breaker open", status.Reason)
	}
}

func (e *Engine) clearBreakerOpen() {
	e.mu.Lock()
	e.breakerWasOpen = false
	e.mu.Unlock()
}
