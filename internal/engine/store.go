package engine

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// 64 MiB WAL journal size limit.
const walJournalSizeLimit = 67108864

// Store implements LocalStore on an embedded SQLite database in WAL mode.
// Records are stored generically — one row per (table, id) with a JSON
// payload — because the engine treats payloads as opaque snapshots; the
// application's query layer owns the real per-entity schema.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	queueStmts  queueStatements
	recordStmts recordStatements
}

type queueStatements struct {
	list, insert, delete *sql.Stmt
}

type recordStatements struct {
	get, upsert, markSynced, list, listUnsynced, listSyncedIDs, delete *sql.Stmt
}

// NewStore opens the database at dbPath, applies migrations, and prepares
// all repeated statements. Use ":memory:" for tests.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening local datastore", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// An in-memory database exists per connection; pin the pool to one so
	// every statement sees the same data.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	return nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("engine: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("engine: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("engine: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// --- SQL constants ---

const (
	sqlListQueue = `SELECT id, table_name, action, payload, enqueued_at
		FROM sync_queue ORDER BY enqueued_at ASC`

	sqlInsertQueue = `INSERT INTO sync_queue
		(id, table_name, action, payload, enqueued_at)
		VALUES (?, ?, ?, ?, ?)`

	sqlDeleteQueue = `DELETE FROM sync_queue WHERE id = ?`

	sqlGetRecord = `SELECT payload FROM records
		WHERE table_name = ? AND id = ?`

	sqlUpsertRecord = `INSERT INTO records
		(table_name, id, payload, synced, date_value) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(table_name, id) DO UPDATE SET
			payload    = excluded.payload,
			synced     = excluded.synced,
			date_value = excluded.date_value`

	sqlMarkSynced = `UPDATE records SET synced = 1
		WHERE table_name = ? AND id = ?`

	sqlListRecords = `SELECT id, payload FROM records
		WHERE table_name = ?`

	sqlListUnsynced = `SELECT id, payload FROM records
		WHERE table_name = ? AND synced = 0`

	sqlListSyncedIDs = `SELECT id FROM records
		WHERE table_name = ? AND synced = 1`

	sqlDeleteRecord = `DELETE FROM records
		WHERE table_name = ? AND id = ?`
)

// stmtDef maps a SQL string to the prepared statement pointer it populates.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

func (s *Store) prepareStatements(ctx context.Context) error {
	defs := []stmtDef{
		{&s.queueStmts.list, sqlListQueue, "listQueue"},
		{&s.queueStmts.insert, sqlInsertQueue, "insertQueue"},
		{&s.queueStmts.delete, sqlDeleteQueue, "deleteQueue"},
		{&s.recordStmts.get, sqlGetRecord, "getRecord"},
		{&s.recordStmts.upsert, sqlUpsertRecord, "upsertRecord"},
		{&s.recordStmts.markSynced, sqlMarkSynced, "markSynced"},
		{&s.recordStmts.list, sqlListRecords, "listRecords"},
		{&s.recordStmts.listUnsynced, sqlListUnsynced, "listUnsynced"},
		{&s.recordStmts.listSyncedIDs, sqlListSyncedIDs, "listSyncedIDs"},
		{&s.recordStmts.delete, sqlDeleteRecord, "deleteRecord"},
	}

	for i := range defs {
		stmt, err := s.db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

// --- Queue methods ---

// ListQueue returns all pending mutations ordered by enqueue time.
// Rows referencing unknown tables or carrying unparseable payloads are
// skipped with a warning — one corrupt row must not wedge the queue.
func (s *Store) ListQueue(ctx context.Context) ([]*QueueEntry, error) {
	rows, err := s.queueStmts.list.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var entries []*QueueEntry

	for rows.Next() {
		var (
			id, tableName, action, payload string
			enqueuedAt                     int64
		)

		if err := rows.Scan(&id, &tableName, &action, &payload, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}

		table, ok := TableByLocalName(tableName)
		if !ok {
			s.logger.Warn("skipping queue entry for unknown table",
				"entry_id", id, "table", tableName)

			continue
		}

		decoded, err := decodePayload(payload)
		if err != nil {
			s.logger.Warn("skipping queue entry with corrupt payload",
				"entry_id", id, "table", tableName, "error", err.Error())

			continue
		}

		entries = append(entries, &QueueEntry{
			ID:         id,
			Table:      table,
			Action:     Action(action),
			Payload:    decoded,
			EnqueuedAt: enqueuedAt,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue rows: %w", err)
	}

	return entries, nil
}

// decodePayload parses a queue payload. Delete entries may carry a bare id
// string instead of an object; both shapes normalize to a map.
func decodePayload(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)

	if strings.HasPrefix(trimmed, `"`) {
		var id string
		if err := json.Unmarshal([]byte(trimmed), &id); err != nil {
			return nil, err
		}

		return map[string]any{"id": id}, nil
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
		return nil, err
	}

	return m, nil
}

// Enqueue inserts a pending mutation.
func (s *Store) Enqueue(ctx context.Context, entry *QueueEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("encode queue payload: %w", err)
	}

	_, err = s.queueStmts.insert.ExecContext(ctx,
		entry.ID, entry.Table.Meta().LocalName, string(entry.Action),
		string(payload), entry.EnqueuedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", entry.ID, err)
	}

	return nil
}

// DeleteQueueEntry removes a confirmed or abandoned entry.
func (s *Store) DeleteQueueEntry(ctx context.Context, id string) error {
	if _, err := s.queueStmts.delete.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("delete queue entry %s: %w", id, err)
	}

	return nil
}

// --- Record methods ---

// GetRecord returns one record's payload, or (nil, nil) when absent.
func (s *Store) GetRecord(ctx context.Context, table Table, id string) (map[string]any, error) {
	var payload string

	err := s.recordStmts.get.QueryRowContext(ctx, table.Meta().LocalName, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get record %s/%s: %w", table, id, err)
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("decode record %s/%s: %w", table, id, err)
	}

	return m, nil
}

// MarkSynced sets a record's synced flag after a confirmed push.
func (s *Store) MarkSynced(ctx context.Context, table Table, id string) error {
	if _, err := s.recordStmts.markSynced.ExecContext(ctx, table.Meta().LocalName, id); err != nil {
		return fmt.Errorf("mark synced %s/%s: %w", table, id, err)
	}

	return nil
}

// UpsertSyncedRows overwrites local records with pulled remote rows in one
// transaction, marking each synced — the remote side is authoritative for
// pulled data.
func (s *Store) UpsertSyncedRows(ctx context.Context, table Table, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}

	meta := table.Meta()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}

	stmt := tx.StmtContext(ctx, s.recordStmts.upsert)

	for i, row := range rows {
		id := recordID(row)
		if id == "" {
			s.logger.Warn("skipping pulled row without id", "table", meta.LocalName)
			continue
		}

		payload, encErr := json.Marshal(row)
		if encErr != nil {
			rollbackErr := tx.Rollback()
			return fmt.Errorf("encode pulled row %d (%s): %w (rollback: %v)",
				i, meta.LocalName, encErr, rollbackErr)
		}

		dateValue, _ := row[meta.DateField].(string)

		if _, execErr := stmt.ExecContext(ctx, meta.LocalName, id, string(payload), 1, dateValue); execErr != nil {
			rollbackErr := tx.Rollback()
			return fmt.Errorf("upsert pulled row %s/%s: %w (rollback: %v)",
				meta.LocalName, id, execErr, rollbackErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pulled rows: %w", err)
	}

	s.logger.Debug("applied pulled rows", "table", meta.LocalName, "count", len(rows))

	return nil
}

// scanPayloadRows collects (id, payload) rows into decoded maps. The id
// column is merged into the payload so callers always see the primary key.
func (s *Store) scanPayloadRows(rows *sql.Rows, table string) ([]map[string]any, error) {
	var records []map[string]any

	for rows.Next() {
		var id, payload string

		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}

		var m map[string]any
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			s.logger.Warn("skipping record with corrupt payload",
				"table", table, "id", id, "error", err.Error())

			continue
		}

		m["id"] = id
		records = append(records, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}

	return records, nil
}

// ListRecords returns every record in a table.
func (s *Store) ListRecords(ctx context.Context, table Table) ([]map[string]any, error) {
	name := table.Meta().LocalName

	rows, err := s.recordStmts.list.QueryContext(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("list records %s: %w", name, err)
	}
	defer rows.Close()

	return s.scanPayloadRows(rows, name)
}

// ListUnsynced returns records still pending remote confirmation.
func (s *Store) ListUnsynced(ctx context.Context, table Table) ([]map[string]any, error) {
	name := table.Meta().LocalName

	rows, err := s.recordStmts.listUnsynced.QueryContext(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("list unsynced %s: %w", name, err)
	}
	defer rows.Close()

	return s.scanPayloadRows(rows, name)
}

// ListSyncedIDs returns the primary keys of all confirmed records in a
// table. Consumed by the reconciliation sweep.
func (s *Store) ListSyncedIDs(ctx context.Context, table Table) ([]string, error) {
	name := table.Meta().LocalName

	rows, err := s.recordStmts.listSyncedIDs.QueryContext(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("list synced ids %s: %w", name, err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan synced id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate synced ids: %w", err)
	}

	return ids, nil
}

// DeleteRecords removes a set of records in one transaction — all or
// nothing, so the sweep can never leave a half-applied deletion.
func (s *Store) DeleteRecords(ctx context.Context, table Table, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	name := table.Meta().LocalName

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}

	stmt := tx.StmtContext(ctx, s.recordStmts.delete)

	for _, id := range ids {
		if _, execErr := stmt.ExecContext(ctx, name, id); execErr != nil {
			rollbackErr := tx.Rollback()
			return fmt.Errorf("delete record %s/%s: %w (rollback: %v)", name, id, execErr, rollbackErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit deletes: %w", err)
	}

	s.logger.Debug("deleted records", "table", name, "count", len(ids))

	return nil
}

// DropEntryAndRecord removes a queue entry and its local record in one
// transaction. Used for malformed-reference cleanup, where retaining
// either half would leave a child row pointing at nothing or an entry that
// retries forever.
func (s *Store) DropEntryAndRecord(ctx context.Context, entryID string, table Table, recordID string) error {
	name := table.Meta().LocalName

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin drop tx: %w", err)
	}

	if _, execErr := tx.StmtContext(ctx, s.queueStmts.delete).ExecContext(ctx, entryID); execErr != nil {
		rollbackErr := tx.Rollback()
		return fmt.Errorf("drop queue entry %s: %w (rollback: %v)", entryID, execErr, rollbackErr)
	}

	if recordID != "" {
		if _, execErr := tx.StmtContext(ctx, s.recordStmts.delete).ExecContext(ctx, name, recordID); execErr != nil {
			rollbackErr := tx.Rollback()
			return fmt.Errorf("drop record %s/%s: %w (rollback: %v)", name, recordID, execErr, rollbackErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit drop: %w", err)
	}

	return nil
}

// --- Maintenance ---

// Close closes all prepared statements and the database connection.
func (s *Store) Close() error {
	s.logger.Info("closing local datastore")

	stmts := []*sql.Stmt{
		s.queueStmts.list, s.queueStmts.insert, s.queueStmts.delete,
		s.recordStmts.get, s.recordStmts.upsert, s.recordStmts.markSynced,
		s.recordStmts.list, s.recordStmts.listUnsynced,
		s.recordStmts.listSyncedIDs, s.recordStmts.delete,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if err := s.db.Close(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("close store: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Compile-time interface check.
var _ LocalStore = (*Store)(nil)
