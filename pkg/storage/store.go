package storage

import (
	"context"
	"errors"
	"strings"
	"sync"

	"liscraper/pkg/config"
	"liscraper/pkg/logger"
)

// Store is the key-value persistence interface the orchestrator saves its
// queue state and lifetime counters through. A missing key implies empty or
// default state.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg config.StorageConfig, log logger.Logger) (Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory", "none":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}

// memoryStore keeps values in a map. State is lost on restart; used for
// tests and for hosts that explicitly opt out of durability.
type memoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an in-memory store
func NewMemory() Store {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}
