package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 100, cfg.RateLimit.MaxRequestsPerHour)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.MinDelay)
	assert.Equal(t, 15*time.Second, cfg.RateLimit.MaxDelay)
	assert.Equal(t, 1000, cfg.RateLimit.MaxQueueSize)
	assert.Equal(t, 3, cfg.Orchestrator.MaxRetries)
	assert.Equal(t, 20, cfg.Orchestrator.PreconditionMaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.PreconditionBackoff)
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.ProgressInterval)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
rate_limit:
  max_requests_per_hour: 40
  min_delay: 2s
  max_delay: 8s
orchestrator:
  max_retries: 5
storage:
  driver: sqlite
  path: /tmp/test.db
logging:
  level: debug
schedules:
  - cron: "@every 6h"
    type: activity-feed
    priority: low
    params:
      feed_url: https://example.com/feed
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, 40, cfg.RateLimit.MaxRequestsPerHour)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.MinDelay)
	assert.Equal(t, 8*time.Second, cfg.RateLimit.MaxDelay)
	assert.Equal(t, 5, cfg.Orchestrator.MaxRetries)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "debug", cfg.Logging.Level)

	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "@every 6h", cfg.Schedules[0].Cron)
	assert.Equal(t, "activity-feed", cfg.Schedules[0].Type)
	assert.Equal(t, "https://example.com/feed", cfg.Schedules[0].Params["feed_url"])

	// Untouched fields keep their defaults.
	assert.Equal(t, 20, cfg.Orchestrator.PreconditionMaxRetries)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LISCRAPER_MAX_REQUESTS_PER_HOUR", "25")
	t.Setenv("LISCRAPER_MIN_DELAY", "1s")
	t.Setenv("LISCRAPER_STORAGE_DRIVER", "memory")
	t.Setenv("LISCRAPER_LOG_LEVEL", "warn")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 25, cfg.RateLimit.MaxRequestsPerHour)
	assert.Equal(t, time.Second, cfg.RateLimit.MinDelay)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero quota", func(c *Config) { c.RateLimit.MaxRequestsPerHour = 0 }},
		{"inverted delay window", func(c *Config) {
			c.RateLimit.MinDelay = 10 * time.Second
			c.RateLimit.MaxDelay = time.Second
		}},
		{"negative retries", func(c *Config) { c.Orchestrator.MaxRetries = -1 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "etcd" }},
		{"file driver without path", func(c *Config) {
			c.Storage.Driver = "file"
			c.Storage.Path = ""
		}},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"schedule without cron", func(c *Config) {
			c.Schedules = []ScheduleConfig{{Type: "single-profile"}}
		}},
		{"schedule without type", func(c *Config) {
			c.Schedules = []ScheduleConfig{{Cron: "@hourly"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.RateLimit.MaxRequestsPerHour = 77
	require.NoError(t, cfg.Save(path))

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, 77, loaded.RateLimit.MaxRequestsPerHour)
}
