// Package app provides the top-level application lifecycle for the cryptum
// engine. It wires together stores, caches, the exchange client, and
// notifications, then runs the reconciliation loop, health endpoint, and
// trade archiver until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cryptumbot/cryptum/internal/budget"
	"github.com/cryptumbot/cryptum/internal/config"
	"github.com/cryptumbot/cryptum/internal/domain"
	"github.com/cryptumbot/cryptum/internal/engine"
	"github.com/cryptumbot/cryptum/internal/intel"
	"github.com/cryptumbot/cryptum/internal/orchestrator"
	"github.com/cryptumbot/cryptum/internal/risk"
	"github.com/cryptumbot/cryptum/internal/safety"
	"github.com/cryptumbot/cryptum/internal/server"
	"github.com/cryptumbot/cryptum/internal/signal"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, assembles the
// engine and orchestrator, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("account", a.cfg.Engine.AccountID),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	baseline := risk.Baseline{
		StopLossPercent:             a.cfg.Risk.StopLossPercent,
		TakeProfitPercent:           a.cfg.Risk.TakeProfitPercent,
		MaxAllocationPerPairPercent: a.cfg.Risk.MaxAllocationPerPairPercent,
		SafetyReservePercent:        a.cfg.Risk.SafetyReservePercent,
		MinConfidence:               a.cfg.Risk.MinConfidence,
		MinTrendStrength:            a.cfg.Risk.MinTrendStrength,
		CooldownMinutes:             a.cfg.Risk.CooldownMinutes,
	}

	eng := engine.New(
		engine.Config{
			AccountID:     a.cfg.Engine.AccountID,
			Symbols:       a.cfg.Engine.Symbols,
			QuoteAsset:    a.cfg.Engine.QuoteAsset,
			CycleInterval: a.cfg.Engine.CycleInterval.Duration,
			SizingLimits: budget.Limits{
				MinAmountPerPair: a.cfg.Engine.MinAmountPerPair,
				MaxAmountPerPair: a.cfg.Engine.MaxAmountPerPair,
			},
		},
		deps.Exchange,
		signal.NewTickerSource(deps.Exchange, a.cfg.Engine.MinNotionals, a.logger),
		deps.TradeStore,
		deps.TradingModeStore,
		deps.TradingConfigStore,
		safety.New(safety.DefaultThresholds(), a.logger),
		deps.Notifier,
		risk.DeriveParams(baseline, 0),
		a.logger,
	)

	var fetcher *intel.Fetcher
	if a.cfg.Intel.FilePath != "" || a.cfg.Intel.URL != "" {
		fetcher = intel.NewFetcher(a.cfg.Intel.FilePath, a.cfg.Intel.URL, a.logger)
	}

	var locks domain.LockManager
	if a.cfg.Orchestrator.SingleInstance {
		locks = deps.LockManager
	}

	orch := orchestrator.New(
		orchestrator.Config{
			AccountID:         a.cfg.Engine.AccountID,
			HeartbeatInterval: a.cfg.Orchestrator.HeartbeatInterval.Duration,
			PollInterval:      a.cfg.Orchestrator.PollInterval.Duration,
			IntelInterval:     a.cfg.Orchestrator.IntelInterval.Duration,
			LockTTL:           a.cfg.Orchestrator.LockTTL.Duration,
		},
		eng,
		deps.BotStatusStore,
		deps.TradingConfigStore,
		deps.TradeStore,
		fetcher,
		locks,
		baseline,
		deps.Notifier,
		a.logger,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := orch.Run(gctx)
		if gctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("orchestrator: %w", err)
	})

	if a.cfg.Server.Enabled {
		healthSrv := server.New(server.Config{Port: a.cfg.Server.Port}, orch, a.logger)
		g.Go(func() error {
			err := healthSrv.Start()
			if gctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("health server: %w", err)
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return healthSrv.Shutdown(shutdownCtx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			err := deps.Archiver.Run(gctx)
			if gctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
