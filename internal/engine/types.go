// Package engine implements the offline-first synchronization core: the
// durable mutation queue, the push and pull pipelines, ownership and
// payload normalization rules, the reconciliation sweep, and the
// single-flight orchestrator that schedules cycles.
package engine

import (
	"context"
	"time"

	"github.com/openfittrack/fitsync/internal/remote"
)

// Action is the kind of mutation a queue entry carries.
type Action string

// Actions as stored in the sync_queue action column.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// priority orders actions for the push drain: creates are flushed before
// updates and deletes so a record referencing a created-but-not-yet-pushed
// row never arrives at the server orphaned, and a same-cycle create+delete
// pair cannot race.
func (a Action) priority() int {
	switch a {
	case ActionCreate:
		return 0
	case ActionUpdate:
		return 1
	case ActionDelete:
		return 2
	default:
		return 3
	}
}

// QueueEntry is one pending local mutation. An entry exists exactly until
// the push pipeline confirms it against the remote store.
type QueueEntry struct {
	ID         string
	Table      Table
	Action     Action
	Payload    map[string]any
	EnqueuedAt int64 // Unix nanoseconds
}

// Ownership classifies how a table's user_id column is treated on push.
type Ownership int

const (
	// OwnershipNone strips any user_id field before transmission.
	OwnershipNone Ownership = iota
	// OwnershipSoft fills user_id only when missing or a placeholder.
	OwnershipSoft
	// OwnershipStrict force-overwrites user_id with the acting identity.
	OwnershipStrict
)

// Table enumerates the synchronized entity types. Each variant carries
// static metadata via Meta(); adding a table without extending the switch
// there is a compile-visible omission, unlike a string-keyed lookup.
type Table int

const (
	TableUserProfiles Table = iota
	TableMeals
	TableFoods
	TableIngredients
	TableActivities
	TableWorkouts
	TableWorkoutLogEntries
	TableWorkoutSets
	TableLogs
)

// TableMeta is the static per-table policy consulted by both pipelines.
type TableMeta struct {
	LocalName  string
	RemoteName string

	// DateField is the column driving incremental pulls: updated_at for
	// entities that change after creation, created_at for append-only ones.
	DateField string

	// Public tables are pulled even without an authenticated identity.
	Public bool

	Ownership Ownership

	// Shareable marks entities (foods, activities) that may be flagged
	// public by their creator; such rows keep the creator's user_id.
	Shareable bool

	// CreateDepth is the dependency depth used to order creates: parents
	// before children across tables.
	CreateDepth int

	// ParentRef names the payload field referencing the parent record, or
	// "" for top-level tables. Used by the malformed-reference guard.
	ParentRef string
}

// Meta returns the static metadata for the table. Exhaustive by
// construction — an unknown Table panics, which only happens on a
// programming error, never on runtime data.
func (t Table) Meta() TableMeta {
	switch t {
	case TableUserProfiles:
		return TableMeta{
			LocalName: "user_profiles", RemoteName: "user_profiles",
			DateField: "updated_at", Ownership: OwnershipStrict, CreateDepth: 0,
		}
	case TableMeals:
		return TableMeta{
			LocalName: "meals", RemoteName: "meals",
			DateField: "updated_at", Ownership: OwnershipStrict, CreateDepth: 1,
		}
	case TableFoods:
		return TableMeta{
			LocalName: "foods", RemoteName: "foods",
			DateField: "updated_at", Public: true, Ownership: OwnershipSoft,
			Shareable: true, CreateDepth: 1,
		}
	case TableIngredients:
		return TableMeta{
			LocalName: "ingredients", RemoteName: "ingredients",
			DateField: "updated_at", Ownership: OwnershipSoft,
			CreateDepth: 2, ParentRef: "food_id",
		}
	case TableActivities:
		return TableMeta{
			LocalName: "activities", RemoteName: "activities",
			DateField: "updated_at", Public: true, Ownership: OwnershipSoft,
			Shareable: true, CreateDepth: 1,
		}
	case TableWorkouts:
		return TableMeta{
			LocalName: "workouts", RemoteName: "workouts",
			DateField: "updated_at", Ownership: OwnershipStrict, CreateDepth: 1,
		}
	case TableWorkoutLogEntries:
		return TableMeta{
			LocalName: "workout_log_entries", RemoteName: "workout_log_entries",
			DateField: "created_at", Ownership: OwnershipStrict,
			CreateDepth: 2, ParentRef: "workout_id",
		}
	case TableWorkoutSets:
		return TableMeta{
			LocalName: "workout_sets", RemoteName: "workout_sets",
			DateField: "created_at", Ownership: OwnershipStrict,
			CreateDepth: 3, ParentRef: "log_entry_id",
		}
	case TableLogs:
		// The one local table whose remote name differs.
		return TableMeta{
			LocalName: "logs", RemoteName: "daily_logs",
			DateField: "created_at", Ownership: OwnershipStrict, CreateDepth: 2,
		}
	default:
		panic("engine: unknown table")
	}
}

// String returns the local table name.
func (t Table) String() string {
	return t.Meta().LocalName
}

// AllTables returns every synchronized table in pull order.
func AllTables() []Table {
	return []Table{
		TableUserProfiles,
		TableMeals,
		TableFoods,
		TableIngredients,
		TableActivities,
		TableWorkouts,
		TableWorkoutLogEntries,
		TableWorkoutSets,
		TableLogs,
	}
}

// TableByLocalName resolves a local table name to its Table variant.
func TableByLocalName(name string) (Table, bool) {
	for _, t := range AllTables() {
		if t.Meta().LocalName == name {
			return t, true
		}
	}

	return 0, false
}

// sweepTable is the globally-shared table the reconciliation sweep scans
// for remote deletions invisible to the incremental pull.
const sweepTable = TableFoods

// --- Collaborator interfaces ---
// Defined at the consumer per "accept interfaces, return structs".
// *Store (store.go) satisfies LocalStore; remote.Client satisfies
// RemoteStore; cursorfile.Store satisfies CursorStore.

// LocalStore is the embedded datastore contract the engine requires:
// keyed lookup, filtered queries, and transactional multi-table writes.
type LocalStore interface {
	// Queue
	ListQueue(ctx context.Context) ([]*QueueEntry, error)
	Enqueue(ctx context.Context, entry *QueueEntry) error
	DeleteQueueEntry(ctx context.Context, id string) error

	// Records
	GetRecord(ctx context.Context, table Table, id string) (map[string]any, error)
	MarkSynced(ctx context.Context, table Table, id string) error
	UpsertSyncedRows(ctx context.Context, table Table, rows []map[string]any) error
	ListRecords(ctx context.Context, table Table) ([]map[string]any, error)
	ListUnsynced(ctx context.Context, table Table) ([]map[string]any, error)
	ListSyncedIDs(ctx context.Context, table Table) ([]string, error)

	// Transactional multi-table writes
	DeleteRecords(ctx context.Context, table Table, ids []string) error
	DropEntryAndRecord(ctx context.Context, entryID string, table Table, recordID string) error
}

// RemoteStore is the relational backend contract: upsert-by-primary-key,
// delete-by-id, and filtered range queries with stable two-column ordering.
// remote.Client satisfies it; the query type is shared because the engine
// already depends on the remote package for error classification.
type RemoteStore interface {
	Upsert(ctx context.Context, table string, row map[string]any) error
	DeleteByID(ctx context.Context, table, id string) error
	Select(ctx context.Context, q remote.SelectQuery) ([]map[string]any, error)
}

// CursorStore persists the per-identity pull watermark.
type CursorStore interface {
	Get(identity string) (string, error)
	Set(identity, watermark string) error
}

// Identity resolves the acting user.
type Identity interface {
	// UserID returns the authenticated user id, or "" when anonymous.
	UserID() string
}

// SchemaClassifier recognizes schema-drift write failures. MissingColumn
// returns the column the backend reported as absent, or "" when the error
// is not a schema mismatch. Keeping this behind an interface confines the
// backend-specific message parsing to one swappable implementation.
type SchemaClassifier interface {
	MissingColumn(err error) string
}

// --- Shared small helpers ---

// anonIdentity keys the watermark for unauthenticated pulls.
const anonIdentity = "public"

// syncedField is the local-only flag column; stripped before transmission.
const syncedField = "synced"

// ownerField is the ownership column shared by all owned tables.
const ownerField = "user_id"

// NowNano returns the current time as Unix nanoseconds.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// recordID extracts the primary key from a payload.
func recordID(payload map[string]any) string {
	id, _ := payload["id"].(string)
	return id
}

// parseTimestamp parses a remote date-field value. The backend emits
// RFC 3339 with or without fractional seconds.
func parseTimestamp(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}
