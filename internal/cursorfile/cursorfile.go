// Package cursorfile persists the pull watermark outside the datastore.
// One small JSON file per identity, replaced atomically on every write so
// a crash mid-save can never corrupt or regress the cursor.
package cursorfile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const fileMode = 0o600

// Store reads and writes watermark files under a single directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a Store rooted at dir. The directory is created lazily
// on first write.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{dir: dir, logger: logger}
}

// payload is the on-disk file shape. A named field (rather than a bare
// string) leaves room for future metadata without a format break.
type payload struct {
	Watermark string `json:"watermark"`
}

// path maps an identity to its cursor file. Identities are user ids or the
// literal "public"; both are filesystem-safe, but separators are replaced
// defensively since ids come from the backend.
func (s *Store) path(identity string) string {
	safe := strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(identity)
	return filepath.Join(s.dir, safe+".cursor.json")
}

// Get returns the persisted watermark for an identity, or "" when none
// has been saved yet.
func (s *Store) Get(identity string) (string, error) {
	data, err := os.ReadFile(s.path(identity))
	if os.IsNotExist(err) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("cursorfile: reading %s: %w", identity, err)
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("cursorfile: decoding %s: %w", identity, err)
	}

	return p.Watermark, nil
}

// Set persists the watermark for an identity via write-to-temp + rename.
func (s *Store) Set(identity, watermark string) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("cursorfile: creating %s: %w", s.dir, err)
	}

	data, err := json.Marshal(payload{Watermark: watermark})
	if err != nil {
		return fmt.Errorf("cursorfile: encoding %s: %w", identity, err)
	}

	target := s.path(identity)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return fmt.Errorf("cursorfile: writing %s: %w", identity, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("cursorfile: replacing %s: %w", identity, err)
	}

	s.logger.Debug("watermark saved", "identity", identity, "watermark", watermark)

	return nil
}
