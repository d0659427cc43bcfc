package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the storage configuration
type Config struct {
	// Storage settings
	DataDir  string `yaml:"data_dir"`
	Backend  string `yaml:"backend"`  // "memory" or "bolt"
	Instance string `yaml:"instance"` // Name of this storage instance

	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Compression CompressionConfig `yaml:"compression"`
	Batches     BatchesConfig     `yaml:"batches"`
	Requests    RequestsConfig    `yaml:"requests"`
	Retry       RetryConfig       `yaml:"retry"`
	Cache       CacheConfig       `yaml:"cache"`
	Books       BooksConfig       `yaml:"books"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// CompressionConfig holds per-family thresholds. Content longer than the
// threshold is compressed before it is written.
type CompressionConfig struct {
	MessageThreshold int `yaml:"message_threshold"`
	EventThreshold   int `yaml:"event_threshold"`
}

type BatchesConfig struct {
	MaxMessageBatchSize int `yaml:"max_message_batch_size"`
	MaxEventBatchSize   int `yaml:"max_event_batch_size"`
}

type RequestsConfig struct {
	MaxParallel int           `yaml:"max_parallel"` // Max concurrent backend requests
	PageSize    int           `yaml:"page_size"`    // Max rows per backend result page
	Timeout     time.Duration `yaml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MinBackoff  time.Duration `yaml:"min_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	Multiplier  float64       `yaml:"multiplier"`
}

type CacheConfig struct {
	DurationEntries int `yaml:"duration_entries"`
}

type BooksConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"` // 0 disables periodic refresh
}

func DefaultConfig() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return &Config{
		DataDir:  filepath.Join(homeDir, ".cradle"),
		Backend:  "bolt",
		Instance: "default",
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Compression: CompressionConfig{
			MessageThreshold: 4 * 1024,
			EventThreshold:   4 * 1024,
		},
		Batches: BatchesConfig{
			MaxMessageBatchSize: 1024 * 1024, // 1MB
			MaxEventBatchSize:   1024 * 1024,
		},
		Requests: RequestsConfig{
			MaxParallel: 500,
			PageSize:    5000,
			Timeout:     5 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			MinBackoff:  50 * time.Millisecond,
			MaxBackoff:  2 * time.Second,
			Multiplier:  2,
		},
		Cache: CacheConfig{
			DurationEntries: 1000,
		},
	}
}

// Load reads a YAML config file on top of DefaultConfig and applies
// environment overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("CRADLE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CRADLE_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("CRADLE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CRADLE_PORT"); v != "" {
		cfg.Server.Port = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option ranges.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case "memory", "bolt":
	default:
		return fmt.Errorf("unsupported backend %q", c.Backend)
	}
	if c.Backend == "bolt" && c.DataDir == "" {
		return fmt.Errorf("data_dir is required for bolt backend")
	}
	if c.Instance == "" {
		return fmt.Errorf("instance name is required")
	}
	if c.Compression.MessageThreshold < 0 || c.Compression.EventThreshold < 0 {
		return fmt.Errorf("compression thresholds must not be negative")
	}
	if c.Batches.MaxMessageBatchSize <= 0 || c.Batches.MaxEventBatchSize <= 0 {
		return fmt.Errorf("max batch sizes must be positive")
	}
	if c.Requests.MaxParallel <= 0 {
		return fmt.Errorf("requests.max_parallel must be positive, got %d", c.Requests.MaxParallel)
	}
	if c.Requests.PageSize <= 0 {
		return fmt.Errorf("requests.page_size must be positive, got %d", c.Requests.PageSize)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.MaxBackoff < c.Retry.MinBackoff {
		return fmt.Errorf("retry.max_backoff (%s) is less than retry.min_backoff (%s)", c.Retry.MaxBackoff, c.Retry.MinBackoff)
	}
	if c.Cache.DurationEntries <= 0 {
		return fmt.Errorf("cache.duration_entries must be positive")
	}
	return nil
}
