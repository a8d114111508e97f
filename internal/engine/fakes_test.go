package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/openfittrack/fitsync/internal/remote"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.Default()
}

// memStore is an in-memory LocalStore for pipeline tests.
type memStore struct {
	mu      sync.Mutex
	queue   []*QueueEntry
	records map[Table]map[string]*memRecord

	listQueueErr error
	enqueueErr   error

	// drops records DropEntryAndRecord calls as "entryID|table|recordID".
	drops []string
}

type memRecord struct {
	payload map[string]any
	synced  bool
}

func newMemStore() *memStore {
	return &memStore{records: make(map[Table]map[string]*memRecord)}
}

func (m *memStore) putRecord(table Table, payload map[string]any, synced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.records[table] == nil {
		m.records[table] = make(map[string]*memRecord)
	}

	m.records[table][recordID(payload)] = &memRecord{payload: payload, synced: synced}
}

func (m *memStore) ListQueue(_ context.Context) ([]*QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listQueueErr != nil {
		return nil, m.listQueueErr
	}

	out := make([]*QueueEntry, len(m.queue))
	copy(out, m.queue)

	sort.SliceStable(out, func(i, j int) bool { return out[i].EnqueuedAt < out[j].EnqueuedAt })

	return out, nil
}

func (m *memStore) Enqueue(_ context.Context, entry *QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enqueueErr != nil {
		return m.enqueueErr
	}

	m.queue = append(m.queue, entry)

	return nil
}

func (m *memStore) DeleteQueueEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range m.queue {
		if e.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return nil
		}
	}

	return nil
}

func (m *memStore) GetRecord(_ context.Context, table Table, id string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[table][id]
	if !ok {
		return nil, nil
	}

	return rec.payload, nil
}

func (m *memStore) MarkSynced(_ context.Context, table Table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[table][id]; ok {
		rec.synced = true
	}

	return nil
}

func (m *memStore) UpsertSyncedRows(_ context.Context, table Table, rows []map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.records[table] == nil {
		m.records[table] = make(map[string]*memRecord)
	}

	for _, row := range rows {
		if id := recordID(row); id != "" {
			m.records[table][id] = &memRecord{payload: row, synced: true}
		}
	}

	return nil
}

func (m *memStore) ListRecords(_ context.Context, table Table) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []map[string]any
	for _, rec := range m.records[table] {
		out = append(out, rec.payload)
	}

	return out, nil
}

func (m *memStore) ListUnsynced(_ context.Context, table Table) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []map[string]any

	for _, rec := range m.records[table] {
		if !rec.synced {
			out = append(out, rec.payload)
		}
	}

	return out, nil
}

func (m *memStore) ListSyncedIDs(_ context.Context, table Table) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string

	for id, rec := range m.records[table] {
		if rec.synced {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	return ids, nil
}

func (m *memStore) DeleteRecords(_ context.Context, table Table, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.records[table], id)
	}

	return nil
}

func (m *memStore) DropEntryAndRecord(ctx context.Context, entryID string, table Table, recordID string) error {
	if err := m.DeleteQueueEntry(ctx, entryID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records[table], recordID)
	m.drops = append(m.drops, fmt.Sprintf("%s|%s|%s", entryID, table, recordID))

	return nil
}

var _ LocalStore = (*memStore)(nil)

// remoteUpsert captures one Upsert call with a copy of the payload.
type remoteUpsert struct {
	table string
	row   map[string]any
}

// fakeRemote is a scriptable RemoteStore.
type fakeRemote struct {
	mu      sync.Mutex
	upserts []remoteUpsert
	deletes []string

	upsertErr func(table string, row map[string]any) error
	deleteErr error
	selectFn  func(q remote.SelectQuery) ([]map[string]any, error)
}

func (f *fakeRemote) Upsert(_ context.Context, table string, row map[string]any) error {
	if f.upsertErr != nil {
		if err := f.upsertErr(table, row); err != nil {
			return err
		}
	}

	copied := make(map[string]any, len(row))
	for k, v := range row {
		copied[k] = v
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.upserts = append(f.upserts, remoteUpsert{table: table, row: copied})

	return nil
}

func (f *fakeRemote) DeleteByID(_ context.Context, table, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.deletes = append(f.deletes, table+"/"+id)

	return nil
}

func (f *fakeRemote) Select(_ context.Context, q remote.SelectQuery) ([]map[string]any, error) {
	if f.selectFn != nil {
		return f.selectFn(q)
	}

	return nil, nil
}

var _ RemoteStore = (*fakeRemote)(nil)

// lastUpsert returns the most recent upsert, failing the test when none exists.
func (f *fakeRemote) lastUpsert(t *testing.T) remoteUpsert {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.upserts) == 0 {
		t.Fatal("expected at least one remote upsert")
	}

	return f.upserts[len(f.upserts)-1]
}

// fakeIdentity returns a fixed user id ("" means anonymous).
type fakeIdentity string

func (f fakeIdentity) UserID() string { return string(f) }

// memCursors is an in-memory CursorStore.
type memCursors struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
	sets   int
}

func newMemCursors() *memCursors {
	return &memCursors{values: make(map[string]string)}
}

func (c *memCursors) Get(identity string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.values[identity], nil
}

func (c *memCursors) Set(identity, watermark string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.setErr != nil {
		return c.setErr
	}

	c.values[identity] = watermark
	c.sets++

	return nil
}

// noDriftSchema never classifies an error as schema drift.
type noDriftSchema struct{}

func (noDriftSchema) MissingColumn(error) string { return "" }
