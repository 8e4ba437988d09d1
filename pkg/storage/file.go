package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"liscraper/pkg/config"
	"liscraper/pkg/logger"
)

// fileStore persists the key-value map as a single JSON file, rewritten
// atomically (temp file + rename) on every Set so a crash mid-write never
// leaves a corrupt state file behind.
type fileStore struct {
	path string
	log  logger.Logger

	mu   sync.Mutex
	data map[string]json.RawMessage
}

func openFile(cfg config.StorageConfig, log logger.Logger) (Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &fileStore{
		path: cfg.Path,
		log:  log,
		data: make(map[string]json.RawMessage),
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	log.DebugWithFields("File store opened", map[string]interface{}{
		"path": cfg.Path,
		"keys": len(s.data),
	})
	return s, nil
}

// load reads the state file into memory. A missing file is an empty store.
func (s *fileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return fmt.Errorf("failed to decode state file: %w", err)
	}
	return nil
}

func (s *fileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *fileStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = append(json.RawMessage(nil), value...)
	return s.saveLocked()
}

// saveLocked writes the whole map atomically. Caller holds s.mu.
func (s *fileStore) saveLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tempPath := s.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}

	if _, err := file.Write(raw); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write state: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync state file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close state file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}

func (s *fileStore) Close() error {
	return nil
}
