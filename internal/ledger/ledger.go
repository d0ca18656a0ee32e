// Package ledger persists the set of row fingerprints that have been
// confirmed present in the remote store.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/Noob4Eternity/chokidar/internal/schema"
)

// stateFile is the on-disk layout. Field names match the state files written
// by earlier releases so existing installations keep their history.
type stateFile struct {
	ProcessedHashes []string  `json:"processedHashes"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

// Ledger is a persisted set of fingerprints. It only grows.
type Ledger struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu          sync.RWMutex
	hashes      map[schema.Fingerprint]struct{}
	lastUpdated time.Time
}

// LoadOrEmpty loads the ledger at path. A missing, unreadable or corrupt file
// yields an empty ledger; the latter two are logged as warnings.
func LoadOrEmpty(path string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		path:   path,
		logger: logger,
		now:    time.Now,
		hashes: make(map[schema.Fingerprint]struct{}),
	}

	// #nosec G304 - path comes from service configuration
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("no sync state found, starting fresh", "path", path)
		return l
	}
	if err != nil {
		logger.Warn("failed to read sync state, starting fresh", "path", path, "error", err)
		return l
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Warn("sync state is corrupt, starting fresh", "path", path, "error", err)
		return l
	}

	for _, h := range state.ProcessedHashes {
		l.hashes[schema.Fingerprint(h)] = struct{}{}
	}
	l.lastUpdated = state.LastUpdated
	logger.Info("loaded sync state", "path", path, "processed", len(l.hashes))
	return l
}

// Path returns the state file path.
func (l *Ledger) Path() string {
	return l.path
}

// Contains reports whether fp has been recorded.
func (l *Ledger) Contains(fp schema.Fingerprint) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.hashes[fp]
	return ok
}

// Add records fp in memory. Call Persist to write it out.
func (l *Ledger) Add(fp schema.Fingerprint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hashes[fp] = struct{}{}
}

// Len returns the number of recorded fingerprints.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.hashes)
}

// LastUpdated returns the time of the last successful Persist, or the time
// stored in the file that was loaded.
func (l *Ledger) LastUpdated() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastUpdated
}

// Persist writes the full set to disk atomically. On failure the in-memory
// set is left as is.
func (l *Ledger) Persist() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	state := stateFile{
		ProcessedHashes: make([]string, 0, len(l.hashes)),
		LastUpdated:     now,
	}
	for h := range l.hashes {
		state.ProcessedHashes = append(state.ProcessedHashes, string(h))
	}
	slices.Sort(state.ProcessedHashes)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sync state: %w", err)
	}
	if err := writeFileAtomic(l.path, data); err != nil {
		return err
	}

	l.lastUpdated = now
	return nil
}

// Reset deletes the state file at path. A missing file is not an error.
func Reset(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove sync state %s: %w", path, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file %s: %w", path, err)
	}
	return nil
}
