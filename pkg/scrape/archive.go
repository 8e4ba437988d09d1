package scrape

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const snapshotExt = ".html"

// Archive stores raw page snapshots on disk, one file per page keyed by the
// hash of its URL, and keeps an in-memory index for duplicate detection.
type Archive struct {
	dir   string
	mu    sync.RWMutex
	saved map[string]bool
}

// NewArchive creates the snapshot directory if needed and indexes any
// snapshots already present, so a restarted batch scrape skips pages it
// fetched in a previous run.
func NewArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	a := &Archive{
		dir:   dir,
		saved: make(map[string]bool),
	}
	if err := a.scanExisting(); err != nil {
		return nil, fmt.Errorf("failed to scan existing snapshots: %w", err)
	}
	return a, nil
}

func (a *Archive) scanExisting() error {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != snapshotExt {
			continue
		}
		key := entry.Name()[:len(entry.Name())-len(snapshotExt)]
		a.saved[key] = true
	}
	return nil
}

// Has reports whether a snapshot for url already exists.
func (a *Archive) Has(url string) bool {
	key := snapshotKey(url)

	a.mu.RLock()
	hit := a.saved[key]
	a.mu.RUnlock()
	if hit {
		return true
	}

	// Fall back to a stat in case another process wrote the file.
	if _, err := os.Stat(a.path(key)); err == nil {
		a.mu.Lock()
		a.saved[key] = true
		a.mu.Unlock()
		return true
	}
	return false
}

// Save writes a snapshot for url. The write goes to a temp file first and is
// renamed into place, so readers never observe a partial snapshot.
func (a *Archive) Save(url string, body []byte) error {
	key := snapshotKey(url)
	filename := a.path(key)

	tempFile := filename + ".tmp"
	if err := os.WriteFile(tempFile, body, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to finalize snapshot: %w", err)
	}

	a.mu.Lock()
	a.saved[key] = true
	a.mu.Unlock()
	return nil
}

// Count returns how many snapshots the archive holds.
func (a *Archive) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.saved)
}

// Dir returns the snapshot directory path.
func (a *Archive) Dir() string {
	return a.dir
}

func (a *Archive) path(key string) string {
	return filepath.Join(a.dir, key+snapshotExt)
}

// snapshotKey derives a stable filename-safe key from a page URL.
func snapshotKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:16])
}
