package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openfittrack/fitsync/internal/remote"
)

// Sweeper detects remote deletions the incremental pull cannot see: there
// is no tombstone channel, so a row deleted on the server simply stops
// appearing. After a clean pull, the sweeper compares the full remote id
// set of the shared foods table against the local rows confirmed synced
// and removes any local id the server no longer has.
type Sweeper struct {
	store    LocalStore
	remote   RemoteStore
	logger   *slog.Logger
	pageSize int
}

// NewSweeper creates a reconciliation sweeper.
func NewSweeper(store LocalStore, remoteStore RemoteStore, pageSize int, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}

	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &Sweeper{
		store:    store,
		remote:   remoteStore,
		logger:   logger,
		pageSize: pageSize,
	}
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Checked int // local synced rows examined
	Removed int // local rows deleted as remotely gone
}

// Run performs the divergence check. Only rows marked synced are
// candidates: an unsynced row is a pending local creation the server
// legitimately does not have yet.
func (s *Sweeper) Run(ctx context.Context) (*SweepReport, error) {
	meta := sweepTable.Meta()
	report := &SweepReport{}

	localIDs, err := s.store.ListSyncedIDs(ctx, sweepTable)
	if err != nil {
		return nil, fmt.Errorf("sweep: list local ids: %w", err)
	}

	report.Checked = len(localIDs)
	if len(localIDs) == 0 {
		return report, nil
	}

	remoteIDs, err := s.scanRemoteIDs(ctx, meta)
	if err != nil {
		return nil, fmt.Errorf("sweep: scan remote ids: %w", err)
	}

	var missing []string

	for _, id := range localIDs {
		if !remoteIDs[id] {
			missing = append(missing, id)
		}
	}

	if len(missing) == 0 {
		return report, nil
	}

	// All-or-nothing delete so an interrupted sweep never half-applies.
	if err := s.store.DeleteRecords(ctx, sweepTable, missing); err != nil {
		return nil, fmt.Errorf("sweep: delete stale rows: %w", err)
	}

	report.Removed = len(missing)

	s.logger.Info("reconciliation sweep removed stale rows",
		slog.String("table", meta.LocalName),
		slog.Int("removed", report.Removed),
	)

	return report, nil
}

// scanRemoteIDs pages through the full remote table collecting ids.
func (s *Sweeper) scanRemoteIDs(ctx context.Context, meta TableMeta) (map[string]bool, error) {
	ids := make(map[string]bool)
	offset := 0

	for {
		page, err := s.remote.Select(ctx, remote.SelectQuery{
			Table:     meta.RemoteName,
			DateField: meta.DateField,
			Limit:     s.pageSize,
			Offset:    offset,
		})
		if err != nil {
			return nil, err
		}

		for _, row := range page {
			if id := recordID(row); id != "" {
				ids[id] = true
			}
		}

		if len(page) < s.pageSize {
			return ids, nil
		}

		offset += s.pageSize
	}
}
