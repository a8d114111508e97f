package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// MissingQueueEntries computes the queue entries that should exist but do
// not: one create entry per unsynced local row with no matching entry
// already queued. A row matches an existing entry when the entry targets
// the same table with action create and an equal payload primary key.
//
// Pure function of its inputs — the live recovery path and tests share it.
func MissingQueueEntries(table Table, rows []map[string]any, queue []*QueueEntry, now int64) []*QueueEntry {
	queued := make(map[string]bool)

	for _, entry := range queue {
		if entry.Table == table && entry.Action == ActionCreate {
			if id := recordID(entry.Payload); id != "" {
				queued[id] = true
			}
		}
	}

	var missing []*QueueEntry

	for _, row := range rows {
		id := recordID(row)
		if id == "" || queued[id] {
			continue
		}

		missing = append(missing, &QueueEntry{
			ID:         uuid.NewString(),
			Table:      table,
			Action:     ActionCreate,
			Payload:    row,
			EnqueuedAt: now,
		})
	}

	return missing
}

// RequeueUnsynced rebuilds queue entries for local rows whose synced flag
// is clear but which have no pending entry — recovery for the case where
// a local write landed in the record cache without being durably queued.
// Returns the number of entries recreated.
func (e *Engine) RequeueUnsynced(ctx context.Context) (int, error) {
	queue, err := e.store.ListQueue(ctx)
	if err != nil {
		return 0, fmt.Errorf("requeue: list queue: %w", err)
	}

	now := NowNano()
	total := 0

	for _, table := range AllTables() {
		rows, err := e.store.ListUnsynced(ctx, table)
		if err != nil {
			return total, fmt.Errorf("requeue: list unsynced %s: %w", table, err)
		}

		for _, entry := range MissingQueueEntries(table, rows, queue, now) {
			if err := e.store.Enqueue(ctx, entry); err != nil {
				return total, fmt.Errorf("requeue: enqueue %s/%s: %w", table, recordID(entry.Payload), err)
			}

			total++
		}
	}

	if total > 0 {
		e.logger.Info("requeued unsynced rows", slog.Int("entries", total))
	}

	return total, nil
}
