package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Config holds the collaborators for NewEngine. All are required except
// Logger.
type Config struct {
	Store    LocalStore
	Remote   RemoteStore
	Schema   SchemaClassifier
	Identity Identity
	Cursors  CursorStore
	PageSize int
	Logger   *slog.Logger
}

// Engine runs one full sync cycle: push, then pull, then — after a clean
// pull — the reconciliation sweep. Push always precedes pull so a
// just-pushed local change is not clobbered by a pull that predates it.
type Engine struct {
	store   LocalStore
	pusher  *Pusher
	puller  *Puller
	sweeper *Sweeper
	logger  *slog.Logger
}

// NewEngine wires the three pipelines over shared collaborators.
func NewEngine(cfg *Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:   cfg.Store,
		pusher:  NewPusher(cfg.Store, cfg.Remote, cfg.Schema, cfg.Identity, logger),
		puller:  NewPuller(cfg.Store, cfg.Remote, cfg.Identity, cfg.Cursors, cfg.PageSize, logger),
		sweeper: NewSweeper(cfg.Store, cfg.Remote, cfg.PageSize, logger),
		logger:  logger,
	}
}

// CycleReport summarizes one sync cycle.
type CycleReport struct {
	Push     *PushReport
	Pull     *PullReport
	Sweep    *SweepReport
	Duration time.Duration
}

// RunCycle executes push → pull → sweep. Push failures are already
// isolated per entry and never abort the cycle. A pull network abort is
// returned as an error; the sweep only runs after a pull with no table
// errors, because diffing against a partially-fetched remote view would
// delete rows that are merely unseen.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	start := time.Now()

	report := &CycleReport{}
	report.Push = e.pusher.Run(ctx)

	pull, err := e.puller.Run(ctx)
	report.Pull = pull
	if err != nil {
		report.Duration = time.Since(start)
		return report, fmt.Errorf("engine: %w", err)
	}

	if pull.TableErrors == 0 {
		sweep, sweepErr := e.sweeper.Run(ctx)
		if sweepErr != nil {
			// The sweep is advisory cleanup; a failure is logged and the
			// next clean cycle retries it.
			e.logger.Warn("reconciliation sweep failed", slog.String("error", sweepErr.Error()))
		} else {
			report.Sweep = sweep
		}
	}

	report.Duration = time.Since(start)

	e.logger.Info("sync cycle complete",
		slog.Int("pushed", report.Push.Pushed),
		slog.Int("push_failed", report.Push.Failed),
		slog.Int("pulled", report.Pull.Rows),
		slog.Bool("cursor_advanced", report.Pull.Advanced),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}
