package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the scrape orchestrator and its host.
type Config struct {
	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Task orchestration settings
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`

	// Persistence settings
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Scrape target settings
	Scrape ScrapeConfig `yaml:"scrape" json:"scrape"`

	// Notification preferences
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`

	// Recurring task submissions
	Schedules []ScheduleConfig `yaml:"schedules" json:"schedules"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// RateLimitConfig controls how the request throttle paces outbound operations.
type RateLimitConfig struct {
	MaxRequestsPerHour int           `yaml:"max_requests_per_hour" json:"max_requests_per_hour"`
	MinDelay           time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay           time.Duration `yaml:"max_delay" json:"max_delay"`
	MaxQueueSize       int           `yaml:"max_queue_size" json:"max_queue_size"`
}

// OrchestratorConfig controls retry policy and task execution.
type OrchestratorConfig struct {
	// MaxRetries is the attempt ceiling for generic failures.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// PreconditionMaxRetries is the attempt ceiling when a task fails because
	// a required external context is not yet available.
	PreconditionMaxRetries int `yaml:"precondition_max_retries" json:"precondition_max_retries"`

	// PreconditionBackoff is the fixed delay between precondition retries.
	PreconditionBackoff time.Duration `yaml:"precondition_backoff" json:"precondition_backoff"`

	// ProgressInterval throttles progress notifications per task.
	ProgressInterval time.Duration `yaml:"progress_interval" json:"progress_interval"`

	// HandlerTimeout bounds a single handler invocation. 0 disables the bound.
	HandlerTimeout time.Duration `yaml:"handler_timeout" json:"handler_timeout"`
}

// StorageConfig selects the persistence backend.
//
// Driver values:
//   - "file": JSON key-value file, atomically rewritten on save
//   - "sqlite": SQLite database file
//   - "memory" or "": in-memory only, state lost on restart
type StorageConfig struct {
	Driver      string        `yaml:"driver" json:"driver"`
	Path        string        `yaml:"path" json:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
}

// ScrapeConfig holds settings for the page fetch layer.
type ScrapeConfig struct {
	UserAgent    string        `yaml:"user_agent" json:"user_agent"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	SnapshotDir  string        `yaml:"snapshot_dir" json:"snapshot_dir"`
}

// ScheduleConfig defines a recurring task submission. Cron accepts standard
// five-field cron expressions plus descriptors like "@hourly" and
// "@every 30m".
type ScheduleConfig struct {
	Cron     string                 `yaml:"cron" json:"cron"`
	Type     string                 `yaml:"type" json:"type"`
	Priority string                 `yaml:"priority" json:"priority"`
	Params   map[string]interface{} `yaml:"params" json:"params"`
}

// NotificationConfig holds notification preferences.
type NotificationConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	OnComplete bool `yaml:"on_complete" json:"on_complete"`
	OnError    bool `yaml:"on_error" json:"on_error"`
	OnProgress bool `yaml:"on_progress" json:"on_progress"`
	BufferSize int  `yaml:"buffer_size" json:"buffer_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		RateLimit: RateLimitConfig{
			MaxRequestsPerHour: 100,
			MinDelay:           5 * time.Second,
			MaxDelay:           15 * time.Second,
			MaxQueueSize:       1000,
		},
		Orchestrator: OrchestratorConfig{
			MaxRetries:             3,
			PreconditionMaxRetries: 20,
			PreconditionBackoff:    30 * time.Second,
			ProgressInterval:       5 * time.Second,
			HandlerTimeout:         28 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "file",
			Path:   "./data/liscraper.json",
		},
		Scrape: ScrapeConfig{
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			FetchTimeout: 30 * time.Second,
			SnapshotDir:  "./data/snapshots",
		},
		Notifications: NotificationConfig{
			Enabled:    true,
			OnComplete: true,
			OnError:    true,
			OnProgress: true,
			BufferSize: 64,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("LISCRAPER_MAX_REQUESTS_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimit.MaxRequestsPerHour = n
		}
	}
	if v := os.Getenv("LISCRAPER_MIN_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			c.RateLimit.MinDelay = d
		}
	}
	if v := os.Getenv("LISCRAPER_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			c.RateLimit.MaxDelay = d
		}
	}
	if v := os.Getenv("LISCRAPER_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Orchestrator.MaxRetries = n
		}
	}
	if v := os.Getenv("LISCRAPER_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("LISCRAPER_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("LISCRAPER_SNAPSHOT_DIR"); v != "" {
		c.Scrape.SnapshotDir = v
	}
	if v := os.Getenv("LISCRAPER_USER_AGENT"); v != "" {
		c.Scrape.UserAgent = v
	}
	if v := os.Getenv("LISCRAPER_NOTIFICATIONS_ENABLED"); v != "" {
		c.Notifications.Enabled = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("LISCRAPER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".liscraper.yaml",
		".liscraper.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "liscraper", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "liscraper", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".liscraper.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.RateLimit.MaxRequestsPerHour <= 0 {
		errs = append(errs, errors.New("max requests per hour must be positive"))
	}
	if c.RateLimit.MinDelay < 0 || c.RateLimit.MaxDelay < 0 {
		errs = append(errs, errors.New("rate limit delays cannot be negative"))
	}
	if c.RateLimit.MaxDelay < c.RateLimit.MinDelay {
		errs = append(errs, errors.New("max delay must not be smaller than min delay"))
	}
	if c.RateLimit.MaxQueueSize <= 0 {
		errs = append(errs, errors.New("rate limit queue size must be positive"))
	}

	if c.Orchestrator.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.Orchestrator.PreconditionMaxRetries < 0 {
		errs = append(errs, errors.New("precondition max retries cannot be negative"))
	}
	if c.Orchestrator.PreconditionBackoff < 0 {
		errs = append(errs, errors.New("precondition backoff cannot be negative"))
	}
	if c.Orchestrator.ProgressInterval <= 0 {
		errs = append(errs, errors.New("progress interval must be positive"))
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "", "memory", "none":
	case "file", "sqlite", "sqlite3":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage path is required for file and sqlite drivers"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver: %s", c.Storage.Driver))
	}

	for i, s := range c.Schedules {
		if s.Cron == "" {
			errs = append(errs, fmt.Errorf("schedule %d: cron expression is required", i))
		}
		if s.Type == "" {
			errs = append(errs, fmt.Errorf("schedule %d: task type is required", i))
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Environment variables > .env file > Config file > Defaults
func Load(configPath string) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".liscraper.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
