// Package config handles Temporal Decision Core configuration via
// environment variables with an optional YAML overlay.
//
// Configuration is loaded from environment variables using LoadFromEnv(),
// optionally merged with a YAML file via LoadFile(), and validated with
// Validate() before use. Environment variables win over file values, file
// values win over defaults.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if path := os.Getenv("TDCORE_CONFIG"); path != "" {
//		if err := cfg.LoadFile(path); err != nil {
//			log.Fatalf("Invalid config file: %v", err)
//		}
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables:
//
// Storage:
//   - TDCORE_STORAGE_BACKEND="memory" or "badger"
//   - TDCORE_DATA_DIR="./data"
//   - TDCORE_SYNC_WRITES=true
//
// Gate:
//   - TDCORE_GATE_THREAT_LEVEL=0.0
//   - TDCORE_GATE_LOAD_CAPACITY_PER_SEC=100
//
// Audit:
//   - TDCORE_AUDIT_ENABLED=true
//   - TDCORE_AUDIT_LOG_PATH="./logs/decisions.log"
//   - TDCORE_AUDIT_SYNC_WRITES=true
//   - TDCORE_AUDIT_ASYNC=false
//   - TDCORE_AUDIT_ASYNC_QUEUE_SIZE=1024
//
// Query:
//   - TDCORE_QUERY_MAX_DEPTH=10
//
// For the complete list, see the Config struct field documentation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Storage backend names accepted by TDCORE_STORAGE_BACKEND.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Config is the complete runtime configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Gate    GateConfig    `yaml:"gate"`
	Audit   AuditConfig   `yaml:"audit"`
	Query   QueryConfig   `yaml:"query"`
}

// StorageConfig selects and tunes the event/edge store.
type StorageConfig struct {
	// Backend is "memory" or "badger".
	Backend string `yaml:"backend"`

	// DataDir is the badger data directory. Ignored by the memory
	// backend.
	DataDir string `yaml:"dataDir"`

	// SyncWrites forces badger to fsync every commit.
	SyncWrites bool `yaml:"syncWrites"`
}

// GateConfig seeds the adaptive window.
type GateConfig struct {
	// ThreatLevel is the initial threat input, expected in [0, 1].
	ThreatLevel float64 `yaml:"threatLevel"`

	// LoadCapacityPerSec is the evaluation rate the load monitor treats
	// as saturation.
	LoadCapacityPerSec float64 `yaml:"loadCapacityPerSec"`
}

// AuditConfig tunes the decision trail.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	LogPath    string `yaml:"logPath"`
	SyncWrites bool   `yaml:"syncWrites"`

	// Async opts in to best-effort background logging. Off by default:
	// synchronous audit is the contract, async is the trade-off.
	Async          bool `yaml:"async"`
	AsyncQueueSize int  `yaml:"asyncQueueSize"`
}

// QueryConfig bounds graph traversal.
type QueryConfig struct {
	// MaxDepth caps the depth any single traversal may request.
	MaxDepth int `yaml:"maxDepth"`
}

// LoadFromEnv builds a Config from environment variables, falling back to
// defaults for anything unset.
func LoadFromEnv() *Config {
	config := &Config{}

	// Storage settings
	config.Storage.Backend = getEnv("TDCORE_STORAGE_BACKEND", BackendMemory)
	config.Storage.DataDir = getEnv("TDCORE_DATA_DIR", "./data")
	config.Storage.SyncWrites = getEnvBool("TDCORE_SYNC_WRITES", true)

	// Gate settings
	config.Gate.ThreatLevel = getEnvFloat("TDCORE_GATE_THREAT_LEVEL", 0.0)
	config.Gate.LoadCapacityPerSec = getEnvFloat("TDCORE_GATE_LOAD_CAPACITY_PER_SEC", 100)

	// Audit settings
	config.Audit.Enabled = getEnvBool("TDCORE_AUDIT_ENABLED", true)
	config.Audit.LogPath = getEnv("TDCORE_AUDIT_LOG_PATH", "./logs/decisions.log")
	config.Audit.SyncWrites = getEnvBool("TDCORE_AUDIT_SYNC_WRITES", true)
	config.Audit.Async = getEnvBool("TDCORE_AUDIT_ASYNC", false)
	config.Audit.AsyncQueueSize = getEnvInt("TDCORE_AUDIT_ASYNC_QUEUE_SIZE", 1024)

	// Query settings
	config.Query.MaxDepth = getEnvInt("TDCORE_QUERY_MAX_DEPTH", 10)

	return config
}

// LoadFile overlays YAML values from path onto c. Fields absent from the
// file keep their current values, so the usual sequence is LoadFromEnv
// followed by LoadFile followed by Validate.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for logical errors.
//
// Call Validate() after loading and before using the Config.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendBadger:
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}

	if c.Storage.Backend == BackendBadger && c.Storage.DataDir == "" {
		return fmt.Errorf("badger backend requires a data directory")
	}

	if c.Gate.ThreatLevel < 0 || c.Gate.ThreatLevel > 1 {
		return fmt.Errorf("threat level must be in [0, 1], got %g", c.Gate.ThreatLevel)
	}

	if c.Gate.LoadCapacityPerSec <= 0 {
		return fmt.Errorf("load capacity must be positive, got %g", c.Gate.LoadCapacityPerSec)
	}

	if c.Audit.Enabled && c.Audit.LogPath == "" {
		return fmt.Errorf("audit enabled but no log path provided")
	}

	if c.Audit.Async && c.Audit.AsyncQueueSize <= 0 {
		return fmt.Errorf("invalid async audit queue size: %d", c.Audit.AsyncQueueSize)
	}

	if c.Query.MaxDepth <= 0 {
		return fmt.Errorf("invalid query max depth: %d", c.Query.MaxDepth)
	}

	return nil
}

// String returns a representation of the Config safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Backend: %s, DataDir: %s, Audit: %v(%s), MaxDepth: %d}",
		c.Storage.Backend, c.Storage.DataDir,
		c.Audit.Enabled, c.Audit.LogPath,
		c.Query.MaxDepth,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

