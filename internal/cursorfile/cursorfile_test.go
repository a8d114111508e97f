package cursorfile

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewStore(dir, slog.Default())

	// Unknown identity reads as empty.
	got, err := store.Get("u1")
	if err != nil {
		t.Fatalf("Get empty: %v", err)
	}

	if got != "" {
		t.Errorf("watermark = %q, want empty", got)
	}

	if err := store.Set("u1", "2026-08-31T09:00:00Z"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err = store.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if got != "2026-08-31T09:00:00Z" {
		t.Errorf("watermark = %q, want the saved value", got)
	}

	// A second Store over the same directory sees the persisted value.
	again := NewStore(dir, slog.Default())

	got, err = again.Get("u1")
	if err != nil {
		t.Fatalf("Get via new store: %v", err)
	}

	if got != "2026-08-31T09:00:00Z" {
		t.Errorf("watermark after reopen = %q", got)
	}
}

func TestStore_IdentitiesAreIndependent(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir(), slog.Default())

	if err := store.Set("u1", "a"); err != nil {
		t.Fatalf("Set u1: %v", err)
	}

	if err := store.Set("public", "b"); err != nil {
		t.Fatalf("Set public: %v", err)
	}

	for identity, want := range map[string]string{"u1": "a", "public": "b"} {
		got, err := store.Get(identity)
		if err != nil {
			t.Fatalf("Get %s: %v", identity, err)
		}

		if got != want {
			t.Errorf("Get(%s) = %q, want %q", identity, got, want)
		}
	}
}

func TestStore_SanitizesIdentity(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewStore(dir, slog.Default())

	if err := store.Set("weird/../id", "w"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := store.Get("weird/../id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if got != "w" {
		t.Errorf("watermark = %q, want w", got)
	}

	// The file must live inside the cursor directory.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}

	if filepath.Dir(filepath.Join(dir, entries[0].Name())) != dir {
		t.Error("cursor file escaped its directory")
	}
}

func TestStore_OverwriteReplacesValue(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir(), slog.Default())

	for _, v := range []string{"first", "second", "third"} {
		if err := store.Set("u1", v); err != nil {
			t.Fatalf("Set %q: %v", v, err)
		}
	}

	got, err := store.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if got != "third" {
		t.Errorf("watermark = %q, want third", got)
	}
}
