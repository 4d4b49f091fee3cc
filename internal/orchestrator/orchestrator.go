// Package orchestrator runs the reconciliation loop: it converges the local
// engine run state to the remotely declared desired state, emits heartbeats,
// and periodically re-derives the engine's risk parameters.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cryptumbot/cryptum/internal/domain"
	"github.com/cryptumbot/cryptum/internal/engine"
	"github.com/cryptumbot/cryptum/internal/intel"
	"github.com/cryptumbot/cryptum/internal/metrics"
	"github.com/cryptumbot/cryptum/internal/notify"
	"github.com/cryptumbot/cryptum/internal/risk"
)

// Config holds the orchestrator timer intervals and identity.
type Config struct {
	AccountID         string
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	IntelInterval     time.Duration
	LockTTL           time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.IntelInterval <= 0 {
		c.IntelInterval = 10 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	return c
}

// Snapshot is the orchestrator state exposed to the health endpoint.
type Snapshot struct {
	IsRunning     bool
	LastHeartbeat time.Time
}

// Orchestrator owns the engine run state. All transitions of that state
// happen inside the reconcile task; every other task only reads it.
type Orchestrator struct {
	cfg        Config
	instanceID string
	engine     *engine.Engine
	status     domain.BotStatusStore
	configs    domain.TradingConfigStore
	trades     domain.TradeStore
	intel      *intel.Fetcher
	locks      domain.LockManager // nil when single-instance guarding is off
	baseline   risk.Baseline
	notifier   *notify.Notifier
	logger     *slog.Logger

	// per-task serialization: a slow tick must never overlap itself
	pollMu      sync.Mutex
	heartbeatMu sync.Mutex
	intelMu     sync.Mutex

	mu            sync.Mutex
	running       bool
	stopEngine    context.CancelFunc
	engineDone    chan struct{}
	lastHeartbeat time.Time
	prevStreak    int
	override      *intel.Override
}

// New creates an Orchestrator. locks may be nil to disable the
// single-instance guard.
func New(
	cfg Config,
	eng *engine.Engine,
	status domain.BotStatusStore,
	configs domain.TradingConfigStore,
	trades domain.TradeStore,
	intelFetcher *intel.Fetcher,
	locks domain.LockManager,
	baseline risk.Baseline,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		instanceID: uuid.New().String(),
		engine:     eng,
		status:     status,
		configs:    configs,
		trades:     trades,
		intel:      intelFetcher,
		locks:      locks,
		baseline:   baseline,
		notifier:   notifier,
		logger:     logger.With(slog.String("component", "orchestrator")),
	}
}

// Snapshot returns the current run state for the health endpoint.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{IsRunning: o.running, LastHeartbeat: o.lastHeartbeat}
}

// Run executes the reconciliation loop until ctx is cancelled. It reconciles
// once at startup so a desired state that is already powered on brings the
// engine up without waiting for the first poll tick.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.locks != nil {
		release, err := o.locks.Acquire(ctx, "orchestrator:"+o.cfg.AccountID, o.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("orchestrator: another instance holds the lock for account %s: %w", o.cfg.AccountID, err)
			}
			return fmt.Errorf("orchestrator: acquire instance lock: %w", err)
		}
		defer release()
	}

	o.logger.Info("reconciliation loop starting",
		slog.String("account", o.cfg.AccountID),
		slog.String("instance", o.instanceID),
		slog.Duration("poll_interval", o.cfg.PollInterval),
		slog.Duration("heartbeat_interval", o.cfg.HeartbeatInterval),
		slog.Duration("intel_interval", o.cfg.IntelInterval),
	)

	o.runTask(ctx, "reconcile", &o.pollMu, o.reconcileTick)
	o.runTask(ctx, "heartbeat", &o.heartbeatMu, o.heartbeatTick)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.tickLoop(gctx, "reconcile", o.cfg.PollInterval, &o.pollMu, o.reconcileTick)
		return nil
	})
	g.Go(func() error {
		o.tickLoop(gctx, "heartbeat", o.cfg.HeartbeatInterval, &o.heartbeatMu, o.heartbeatTick)
		return nil
	})
	g.Go(func() error {
		o.tickLoop(gctx, "intel", o.cfg.IntelInterval, &o.intelMu, o.intelTick)
		return nil
	})
	_ = g.Wait()

	o.shutdown()
	o.logger.Info("reconciliation loop stopped")
	return ctx.Err()
}

// tickLoop runs one timer task until ctx is cancelled. Errors stay inside
// the task boundary: they are logged and the task resumes on the next tick.
func (o *Orchestrator) tickLoop(ctx context.Context, name string, interval time.Duration, mu *sync.Mutex, task func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runTask(ctx, name, mu, task)
		}
	}
}

// runTask executes one tick body under the task's own mutex. TryLock keeps a
// slow run from being overlapped by the next tick; contended ticks are
// skipped, not queued.
func (o *Orchestrator) runTask(ctx context.Context, name string, mu *sync.Mutex, task func(context.Context) error) {
	if !mu.TryLock() {
		o.logger.Debug("previous run still in progress, skipping tick", slog.String("task", name))
		return
	}
	defer mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("task panicked",
				slog.String("task", name),
				slog.Any("panic", r),
			)
		}
	}()

	if err := task(ctx); err != nil {
		o.logger.Error("task failed",
			slog.String("task", name),
			slog.String("error", err.Error()),
		)
	}
}

// reconcileTick fetches the desired state and converges the local run state
// to it. The fetch completes before any transition decision is made.
func (o *Orchestrator) reconcileTick(ctx context.Context) error {
	desired, err := o.status.GetDesiredState(ctx, o.cfg.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// no desired-state record means powered off
			desired = domain.RemoteDesiredState{}
		} else {
			return fmt.Errorf("orchestrator: fetch desired state: %w", err)
		}
	}
	o.Reconcile(ctx, desired)
	return nil
}

// Reconcile applies one reconciliation pass: stop when powered off while
// running, start when powered on while stopped, otherwise do nothing.
// Repeated calls with an unchanged desired state never restart the engine.
func (o *Orchestrator) Reconcile(ctx context.Context, desired domain.RemoteDesiredState) {
	// The transition happens under o.mu; the notification goes out after the
	// lock is released. Senders do sequential network I/O and Snapshot serves
	// the health endpoint off the same mutex, so a slow webhook must never
	// sit between the watchdog and its status probe.
	var event notify.Event
	var title, body string

	o.mu.Lock()
	switch {
	case !desired.IsPoweredOn && o.running:
		o.stopEngineLocked()
		o.logger.Info("engine stopped by desired state", slog.String("desired_id", desired.ID))
		event, title, body = notify.EventEngineStopped, "Engine stopped",
			"desired state powered off"

	case desired.IsPoweredOn && !o.running:
		params := o.startupParams(desired)
		o.engine.SetParams(params)
		o.startEngineLocked(ctx)
		o.logger.Info("engine started by desired state",
			slog.String("desired_id", desired.ID),
			slog.Bool("test_mode", desired.TestMode),
		)
		event, title, body = notify.EventEngineStarted, "Engine started",
			fmt.Sprintf("test_mode=%t", desired.TestMode)
	}
	o.mu.Unlock()

	if event != "" {
		_ = o.notifier.Notify(ctx, event, title, body)
	}
}

// startupParams derives the engine's initial parameter set from the desired
// state, falling back to the compiled baseline for any missing field.
func (o *Orchestrator) startupParams(desired domain.RemoteDesiredState) domain.AdaptiveRiskParams {
	params := risk.DeriveParams(o.baseline, 0)
	if desired.StopLossPercent > 0 {
		params.StopLossPercent = desired.StopLossPercent
	}
	if desired.TakeProfitPercent > 0 {
		params.TakeProfitPercent = desired.TakeProfitPercent
	}
	return params
}

func (o *Orchestrator) startEngineLocked(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.stopEngine = cancel
	o.engineDone = done
	o.running = true

	go func() {
		defer close(done)
		if err := o.engine.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("engine exited with error", slog.String("error", err.Error()))
		}
	}()
}

func (o *Orchestrator) stopEngineLocked() {
	if o.stopEngine != nil {
		o.stopEngine()
		<-o.engineDone
		o.stopEngine = nil
		o.engineDone = nil
	}
	o.running = false
}

// heartbeatTick writes the liveness record and remembers the beat for the
// health endpoint.
func (o *Orchestrator) heartbeatTick(ctx context.Context) error {
	now := time.Now().UTC()
	err := o.status.UpdateHeartbeat(ctx, domain.Heartbeat{
		AccountID:  o.cfg.AccountID,
		InstanceID: o.instanceID,
		BeatAt:     now,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: write heartbeat: %w", err)
	}

	o.mu.Lock()
	o.lastHeartbeat = now
	o.mu.Unlock()
	return nil
}

// intelTick re-derives the adaptive parameters from the current losing
// streak, layers the external intelligence override on top, and pushes the
// result into the running engine.
func (o *Orchestrator) intelTick(ctx context.Context) error {
	if o.intel != nil {
		o.mu.Lock()
		o.override = o.intel.Fetch(ctx)
		o.mu.Unlock()
	}

	streak, err := o.currentStreak(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	prev := o.prevStreak
	o.prevStreak = streak
	override := o.override
	o.mu.Unlock()

	params := intel.Merge(risk.DeriveParams(o.baseline, streak), override)
	o.engine.SetParams(params)

	if risk.HasModeChanged(o.baseline, prev, streak) {
		o.logger.Warn("risk regime changed",
			slog.String("mode", string(params.Mode)),
			slog.Int("consecutive_losses", streak),
			slog.String("reason", params.Reason),
		)
		_ = o.notifier.Notify(ctx, notify.EventRiskModeChange, "Risk regime changed",
			fmt.Sprintf("%s (%s)", params.Mode, params.Reason))
	}

	if err := o.configs.UpdateRiskParams(ctx, o.cfg.AccountID, params); err != nil {
		return fmt.Errorf("orchestrator: persist risk params: %w", err)
	}
	return nil
}

func (o *Orchestrator) currentStreak(ctx context.Context) (int, error) {
	cfg, err := o.configs.Get(ctx, o.cfg.AccountID)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: load trading config: %w", err)
	}
	now := time.Now().UTC()
	closed, err := o.trades.ListClosedSince(ctx, o.cfg.AccountID, metrics.WindowStart(now, cfg.LastAdjustedAt))
	if err != nil {
		return 0, fmt.Errorf("orchestrator: list closed trades: %w", err)
	}
	outcomes := make([]domain.TradeOutcome, 0, len(closed))
	for _, t := range closed {
		if out, ok := t.Outcome(); ok {
			outcomes = append(outcomes, out)
		}
	}
	return metrics.Aggregate(outcomes, 0, now).ConsecutiveLosses, nil
}

// shutdown stops the engine before the process exits.
func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		o.stopEngineLocked()
		o.logger.Info("engine stopped for shutdown")
	}
}
