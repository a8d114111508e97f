package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/openfittrack/fitsync/internal/remote"
)

// Pull retry policy: up to maxPullAttempts per page with linearly
// increasing backoff (attempt index × backoffUnit).
const (
	maxPullAttempts    = 3
	defaultBackoffUnit = 500 * time.Millisecond
	defaultPageSize    = 100
)

// Puller fetches remote rows changed since the per-identity watermark and
// applies them locally, table by table, page by page. Sequential by
// design: no concurrent tables, no concurrent pages.
type Puller struct {
	store    LocalStore
	remote   RemoteStore
	identity Identity
	cursors  CursorStore
	logger   *slog.Logger

	pageSize    int
	backoffUnit time.Duration
	nowFunc     func() time.Time // injectable for tests
}

// NewPuller creates a pull pipeline. pageSize <= 0 selects the default.
func NewPuller(store LocalStore, remoteStore RemoteStore, identity Identity, cursors CursorStore, pageSize int, logger *slog.Logger) *Puller {
	if logger == nil {
		logger = slog.Default()
	}

	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &Puller{
		store:       store,
		remote:      remoteStore,
		identity:    identity,
		cursors:     cursors,
		logger:      logger,
		pageSize:    pageSize,
		backoffUnit: defaultBackoffUnit,
		nowFunc:     time.Now,
	}
}

// PullReport summarizes one pull phase.
type PullReport struct {
	Rows        int    // rows applied locally
	TableErrors int    // tables that recorded a non-network error
	Advanced    bool   // whether the watermark moved
	Watermark   string // watermark after the cycle
}

// Run executes the pull phase. A permanent network failure aborts the
// whole phase with an error — a total outage must not mark partial
// progress as complete. Table-local errors stop only that table and are
// counted; the watermark then stays put for the cycle so no unseen row is
// ever skipped.
func (p *Puller) Run(ctx context.Context) (*PullReport, error) {
	identityKey := p.identityKey()

	watermark, err := p.cursors.Get(identityKey)
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}

	p.logger.Info("pull starting",
		slog.String("identity", identityKey),
		slog.String("watermark", watermark),
	)

	report := &PullReport{Watermark: watermark}
	authenticated := p.identity.UserID() != ""

	var maxSeen time.Time

	for _, table := range AllTables() {
		meta := table.Meta()

		if !meta.Public && !authenticated {
			continue
		}

		tableMax, rows, tableErr := p.pullTable(ctx, table, watermark)
		report.Rows += rows

		if tableErr != nil {
			if errors.Is(tableErr, remote.ErrNetwork) {
				// Total outage — propagate, cursor untouched.
				return report, fmt.Errorf("pull aborted: %w", tableErr)
			}

			report.TableErrors++
			p.logger.Warn("table pull failed",
				slog.String("table", meta.LocalName),
				slog.String("error", tableErr.Error()),
			)

			continue
		}

		if tableMax.After(maxSeen) {
			maxSeen = tableMax
		}
	}

	p.advanceCursor(identityKey, watermark, maxSeen, report)

	return report, nil
}

// identityKey returns the watermark key for the current identity.
func (p *Puller) identityKey() string {
	if uid := p.identity.UserID(); uid != "" {
		return uid
	}

	return anonIdentity
}

// pullTable pages through one table's changes past the watermark.
// Returns the maximum date-field value seen and the row count applied.
func (p *Puller) pullTable(ctx context.Context, table Table, watermark string) (time.Time, int, error) {
	meta := table.Meta()

	var (
		maxSeen time.Time
		applied int
		offset  int
	)

	for {
		page, err := p.fetchPage(ctx, meta, watermark, offset)
		if err != nil {
			return maxSeen, applied, err
		}

		if len(page) == 0 {
			return maxSeen, applied, nil
		}

		// Remote is authoritative for pulled rows: overwrite, synced=1.
		if err := p.store.UpsertSyncedRows(ctx, table, page); err != nil {
			return maxSeen, applied, fmt.Errorf("apply page: %w", err)
		}

		applied += len(page)

		for _, row := range page {
			if ts, ok := parseTimestamp(row[meta.DateField]); ok && ts.After(maxSeen) {
				maxSeen = ts
			}
		}

		if len(page) < p.pageSize {
			return maxSeen, applied, nil
		}

		offset += p.pageSize
	}
}

// fetchPage runs one range query with bounded retry. Transient failures
// (5xx family, throttling, network blips) back off linearly and retry;
// anything else exits the loop immediately.
func (p *Puller) fetchPage(ctx context.Context, meta TableMeta, watermark string, offset int) ([]map[string]any, error) {
	var page []map[string]any

	backoff := retry.WithMaxRetries(maxPullAttempts-1, p.linearBackoff())

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		rows, err := p.remote.Select(ctx, remote.SelectQuery{
			Table:     meta.RemoteName,
			DateField: meta.DateField,
			After:     watermark,
			Limit:     p.pageSize,
			Offset:    offset,
		})
		if err != nil {
			if remote.IsTransient(err) {
				return retry.RetryableError(err)
			}

			return err
		}

		page = rows

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch page (offset %d): %w", offset, err)
	}

	return page, nil
}

// linearBackoff returns a backoff whose nth delay is n × backoffUnit.
func (p *Puller) linearBackoff() retry.Backoff {
	var attempt int64

	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * p.backoffUnit, false
	})
}

// advanceCursor applies the cursor advancement rules:
//
//   - any table error: no advance — the whole cycle retries from the same
//     point, preferring duplicate work over skipped rows;
//   - rows pulled cleanly: advance to the cycle-wide maximum timestamp;
//   - zero rows, zero errors: advance to the current wall clock — the
//     absence of any row past the old watermark proves we are caught up.
//
// The watermark never regresses regardless of branch.
func (p *Puller) advanceCursor(identityKey, watermark string, maxSeen time.Time, report *PullReport) {
	if report.TableErrors > 0 {
		p.logger.Info("watermark held due to pull errors",
			slog.Int("table_errors", report.TableErrors),
		)

		return
	}

	target := maxSeen
	if report.Rows == 0 {
		target = p.nowFunc().UTC()
	}

	if prev, ok := parseTimestamp(watermark); ok && !target.After(prev) {
		return
	}

	next := target.Format(time.RFC3339Nano)

	if err := p.cursors.Set(identityKey, next); err != nil {
		p.logger.Error("persisting watermark failed", slog.String("error", err.Error()))
		return
	}

	report.Advanced = true
	report.Watermark = next

	p.logger.Info("watermark advanced",
		slog.String("identity", identityKey),
		slog.String("watermark", next),
		slog.Int("rows", report.Rows),
	)
}
