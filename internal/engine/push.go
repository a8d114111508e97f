package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// errEntryDropped signals that a queue entry was intentionally discarded
// (malformed reference) rather than delivered. Internal to the push loop.
var errEntryDropped = errors.New("queue entry dropped")

// invalidRefLiterals are parent-reference values that can never resolve:
// serialization artifacts of a missing id. A child row carrying one is
// unrecoverable and must not be retried forever.
var invalidRefLiterals = map[string]bool{"": true, "null": true, "undefined": true}

// Pusher drains the mutation queue against the remote store in
// dependency-aware order. Processing is sequential — one entry awaited
// fully before the next — to preserve cross-table ordering.
type Pusher struct {
	store    LocalStore
	remote   RemoteStore
	schema   SchemaClassifier
	identity Identity
	logger   *slog.Logger
}

// NewPusher creates a push pipeline over the given collaborators.
func NewPusher(store LocalStore, remote RemoteStore, schema SchemaClassifier, identity Identity, logger *slog.Logger) *Pusher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Pusher{
		store:    store,
		remote:   remote,
		schema:   schema,
		identity: identity,
		logger:   logger,
	}
}

// PushReport summarizes one queue drain.
type PushReport struct {
	Pushed  int // entries confirmed and removed
	Failed  int // entries left queued for the next cycle
	Dropped int // entries discarded (malformed reference, missing delete id)
}

// Run drains the queue. Per-entry failures are isolated: the entry stays
// queued, the failure is counted, and the drain continues — one bad entry
// never blocks the rest.
func (p *Pusher) Run(ctx context.Context) *PushReport {
	report := &PushReport{}

	entries, err := p.store.ListQueue(ctx)
	if err != nil {
		p.logger.Error("listing mutation queue failed", "error", err.Error())
		return report
	}

	if len(entries) == 0 {
		return report
	}

	sortQueue(entries)

	p.logger.Info("push starting", slog.Int("queued", len(entries)))

	// User meal rows are loaded once per drain for meal-type matching.
	meals := p.loadMeals(ctx)

	for _, entry := range entries {
		err := p.pushEntry(ctx, entry, meals)

		switch {
		case err == nil:
			report.Pushed++
		case errors.Is(err, errEntryDropped):
			report.Dropped++
		default:
			report.Failed++
			p.logger.Warn("push entry failed, will retry next cycle",
				slog.String("entry_id", entry.ID),
				slog.String("table", entry.Table.String()),
				slog.String("action", string(entry.Action)),
				slog.String("error", err.Error()),
			)
		}
	}

	p.logger.Info("push finished",
		slog.Int("pushed", report.Pushed),
		slog.Int("failed", report.Failed),
		slog.Int("dropped", report.Dropped),
	)

	return report
}

// loadMeals reads the user's configured meals; a read failure degrades to
// vocabulary-only meal matching rather than failing the drain.
func (p *Pusher) loadMeals(ctx context.Context) []map[string]any {
	meals, err := p.store.ListRecords(ctx, TableMeals)
	if err != nil {
		p.logger.Warn("loading meals for meal-type matching failed", "error", err.Error())
		return nil
	}

	return meals
}

// pushEntry delivers a single mutation. On success the queue entry is
// removed and the local record confirmed.
func (p *Pusher) pushEntry(ctx context.Context, entry *QueueEntry, meals []map[string]any) error {
	meta := entry.Table.Meta()

	if entry.Action == ActionDelete {
		return p.pushDelete(ctx, entry, meta)
	}

	payload := normalizePayload(entry.Payload)

	if dropped, err := p.guardParentRef(ctx, entry, meta, payload); dropped || err != nil {
		if err != nil {
			return err
		}

		return errEntryDropped
	}

	applyOwnership(meta, payload, p.identity.UserID())

	if entry.Table == TableLogs {
		if label, ok := payload[mealTypeField].(string); ok {
			payload[mealTypeField] = canonicalMealType(label, meals)
		}
	}

	if err := p.upsertWithSchemaRetry(ctx, meta.RemoteName, payload); err != nil {
		return err
	}

	return p.confirm(ctx, entry, recordID(payload))
}

// pushDelete issues a delete-by-id. A queue entry without a resolvable id
// is a no-op: logged, discarded, never an error.
func (p *Pusher) pushDelete(ctx context.Context, entry *QueueEntry, meta TableMeta) error {
	id := recordID(entry.Payload)
	if id == "" {
		p.logger.Warn("delete entry has no id, discarding",
			slog.String("entry_id", entry.ID),
			slog.String("table", meta.LocalName),
		)

		if err := p.store.DeleteQueueEntry(ctx, entry.ID); err != nil {
			return fmt.Errorf("discard idless delete: %w", err)
		}

		return errEntryDropped
	}

	if err := p.remote.DeleteByID(ctx, meta.RemoteName, id); err != nil {
		return fmt.Errorf("remote delete: %w", err)
	}

	if err := p.store.DeleteQueueEntry(ctx, entry.ID); err != nil {
		return fmt.Errorf("remove delete entry: %w", err)
	}

	return nil
}

// guardParentRef drops child entries whose parent reference is a
// syntactically invalid literal. The entry and the malformed local row are
// removed together — transactionally — because retrying can never succeed.
// Returns (true, nil) when the entry was dropped.
func (p *Pusher) guardParentRef(ctx context.Context, entry *QueueEntry, meta TableMeta, payload map[string]any) (bool, error) {
	if meta.ParentRef == "" {
		return false, nil
	}

	ref, _ := payload[meta.ParentRef].(string)
	if !invalidRefLiterals[ref] {
		return false, nil
	}

	id := recordID(payload)

	p.logger.Warn("dropping entry with malformed parent reference",
		slog.String("entry_id", entry.ID),
		slog.String("table", meta.LocalName),
		slog.String("field", meta.ParentRef),
		slog.String("value", ref),
		slog.String("record_id", id),
	)

	if err := p.store.DropEntryAndRecord(ctx, entry.ID, entry.Table, id); err != nil {
		return false, fmt.Errorf("malformed reference cleanup: %w", err)
	}

	return true, nil
}

// upsertWithSchemaRetry writes the payload, stripping columns the remote
// schema reports as missing and retrying. The loop terminates: every
// retry removes one field, and an error naming a column not present in
// the payload is terminal.
func (p *Pusher) upsertWithSchemaRetry(ctx context.Context, remoteName string, payload map[string]any) error {
	for {
		err := p.remote.Upsert(ctx, remoteName, payload)
		if err == nil {
			return nil
		}

		column := p.schema.MissingColumn(err)
		if column == "" {
			return fmt.Errorf("remote upsert: %w", err)
		}

		if _, present := payload[column]; !present {
			return fmt.Errorf("remote upsert: schema reports missing column %q not in payload: %w", column, err)
		}

		p.logger.Warn("remote schema lacks column, stripping and retrying",
			slog.String("table", remoteName),
			slog.String("column", column),
		)

		delete(payload, column)
	}
}

// confirm removes the queue entry and flags the local record synced.
// The flag write is a direct local mutation — it must not re-enqueue.
func (p *Pusher) confirm(ctx context.Context, entry *QueueEntry, id string) error {
	if err := p.store.DeleteQueueEntry(ctx, entry.ID); err != nil {
		return fmt.Errorf("remove confirmed entry: %w", err)
	}

	if id == "" {
		return nil
	}

	if err := p.store.MarkSynced(ctx, entry.Table, id); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}

	return nil
}
