package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceQuiet is how long the watcher waits after the last write before
// signaling — the UI layer commits a burst of writes per user action.
const debounceQuiet = 500 * time.Millisecond

// DBWatcher watches the local datastore file and emits a debounced signal
// when it changes, so watch mode picks up local mutations without waiting
// for the next timer tick. The directory is watched (not the file itself)
// because SQLite rotates WAL and journal files alongside the database.
type DBWatcher struct {
	watcher *fsnotify.Watcher
	base    string // database file name; WAL/SHM siblings share the prefix
	events  chan struct{}
	logger  *slog.Logger
}

// NewDBWatcher creates a watcher for the database at dbPath.
func NewDBWatcher(dbPath string, logger *slog.Logger) (*DBWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("engine: creating watcher: %w", err)
	}

	if err := w.Add(filepath.Dir(dbPath)); err != nil {
		w.Close()
		return nil, fmt.Errorf("engine: watching %s: %w", filepath.Dir(dbPath), err)
	}

	return &DBWatcher{
		watcher: w,
		base:    filepath.Base(dbPath),
		events:  make(chan struct{}, 1),
		logger:  logger,
	}, nil
}

// Events returns the debounced change channel. Capacity one: a pending
// signal already means "changed since you last looked".
func (d *DBWatcher) Events() <-chan struct{} {
	return d.events
}

// Run processes filesystem events until ctx is canceled.
func (d *DBWatcher) Run(ctx context.Context) error {
	defer d.watcher.Close()

	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return nil
			}

			if !d.relevant(ev) {
				continue
			}

			if debounce == nil {
				debounce = time.NewTimer(debounceQuiet)
				fire = debounce.C
			} else {
				debounce.Reset(debounceQuiet)
			}

		case <-fire:
			debounce = nil
			fire = nil

			select {
			case d.events <- struct{}{}:
			default:
			}

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return nil
			}

			d.logger.Warn("datastore watcher error", slog.String("error", err.Error()))

		case <-ctx.Done():
			return nil
		}
	}
}

// relevant reports whether an event concerns the database or one of its
// WAL/journal siblings.
func (d *DBWatcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}

	return strings.HasPrefix(filepath.Base(ev.Name), d.base)
}
