package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// cycleRunner is the interface the Orchestrator drives. Implemented by
// *Engine; tests inject fakes.
type cycleRunner interface {
	RunCycle(ctx context.Context) (*CycleReport, error)
}

// OrchestratorConfig holds the inputs for NewOrchestrator. The trigger
// channels are optional; a nil channel simply never fires. Hooks are
// optional callbacks the application can use for a transient "syncing"
// indicator.
type OrchestratorConfig struct {
	Engine   cycleRunner
	Interval time.Duration

	Online      <-chan struct{} // connectivity reconnect events
	Auth        <-chan struct{} // sign-in / token-refresh events
	LocalChange <-chan struct{} // local datastore write events

	OnCycleStart func()
	OnCycleEnd   func()

	Logger *slog.Logger
}

// Orchestrator schedules sync cycles: a recurring timer plus external
// triggers, with single-flight execution. A trigger arriving while a
// cycle is in flight is dropped, not queued — the running cycle will
// already observe any state the trigger announced, or the next timer
// tick will.
type Orchestrator struct {
	cfg      *OrchestratorConfig
	inFlight atomic.Bool
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. It does not start the timer;
// call Run for watch mode or Sync for a one-shot cycle.
func NewOrchestrator(cfg *OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{cfg: cfg, logger: logger}
}

// Sync runs one cycle if none is in flight; otherwise it is a no-op.
// Safe to call from any goroutine and safe against panics: the in-flight
// guard is always cleared, so a failed cycle can never leave the engine
// permanently unable to sync.
func (o *Orchestrator) Sync(ctx context.Context) {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.logger.Debug("sync cycle already in flight, skipping trigger")
		return
	}

	defer o.inFlight.Store(false)

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("sync cycle panicked", slog.Any("panic", r))
		}
	}()

	if o.cfg.OnCycleStart != nil {
		o.cfg.OnCycleStart()
	}

	if o.cfg.OnCycleEnd != nil {
		defer o.cfg.OnCycleEnd()
	}

	if _, err := o.cfg.Engine.RunCycle(ctx); err != nil {
		// Logged only; the next tick or trigger retries.
		o.logger.Error("sync cycle failed", slog.String("error", err.Error()))
	}
}

// Run executes the watch loop: an immediate cycle, then cycles on every
// timer tick or trigger until ctx is canceled. Returns nil on cancel.
//
// A cycle that writes pulled rows retriggers the LocalChange watcher
// once; the follow-up cycle finds nothing to do and goes quiet, so the
// loop cannot spin.
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := o.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	o.logger.Info("orchestrator starting", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Local copies so a closed trigger channel can be disabled (a nil
	// channel blocks forever in select instead of spinning).
	online, auth, localChange := o.cfg.Online, o.cfg.Auth, o.cfg.LocalChange

	o.Sync(ctx)

	for {
		select {
		case <-ticker.C:
			o.Sync(ctx)

		case _, ok := <-online:
			if !ok {
				online = nil
				continue
			}

			o.logger.Info("connectivity restored, triggering sync")
			o.Sync(ctx)

		case _, ok := <-auth:
			if !ok {
				auth = nil
				continue
			}

			o.logger.Info("identity changed, triggering sync")
			o.Sync(ctx)

		case _, ok := <-localChange:
			if !ok {
				localChange = nil
				continue
			}

			o.logger.Debug("local datastore changed, triggering sync")
			o.Sync(ctx)

		case <-ctx.Done():
			o.logger.Info("orchestrator stopped")
			return nil
		}
	}
}
