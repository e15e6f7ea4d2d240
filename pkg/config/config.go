// Package config handles refstore configuration via environment variables and YAML files.
//
// Configuration is loaded from REFSTORE_* environment variables using LoadFromEnv().
// A YAML file can be layered on top with LoadFile(), and the result validated with
// Validate() before use.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.LoadFile("refstore.yaml"); err != nil {
//		log.Fatalf("Invalid config file: %v", err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	data := state.ToBytesOrder(cfg.ByteOrder())
//
// Environment Variables:
//   - REFSTORE_CHECK_INVARIANTS=false
//   - REFSTORE_BYTE_ORDER="native", "little" or "big"
//   - REFSTORE_JOURNAL_ENABLED=false
//   - REFSTORE_JOURNAL_MAX_ENTRIES=0
//   - REFSTORE_POOL_ENABLED=true
//   - REFSTORE_POOL_MAX_SIZE=64K
//   - REFSTORE_LOG_LEVEL="INFO"
//   - REFSTORE_LOG_FORMAT="text" or "json"
//   - REFSTORE_LOG_OUTPUT="stderr", "stdout" or a file path
package config

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Byte orders accepted by CodecConfig.ByteOrder.
const (
	ByteOrderNative = "native"
	ByteOrderLittle = "little"
	ByteOrderBig    = "big"
)

// Config holds all refstore configuration.
//
// Configuration is organized into logical sections:
//   - Store: transaction and invariant checking
//   - Codec: encoded state layout
//   - Journal: in-memory update history
//   - Pool: scratch buffer pooling
//   - Logging: logging configuration
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Codec   CodecConfig   `yaml:"codec"`
	Journal JournalConfig `yaml:"journal"`
	Pool    PoolConfig    `yaml:"pool"`
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig holds store settings.
type StoreConfig struct {
	// CheckInvariants verifies the index after every mutation (slow)
	CheckInvariants bool `yaml:"check_invariants"`
}

// CodecConfig holds encoding settings.
type CodecConfig struct {
	// ByteOrder for encoded files (native, little, big)
	ByteOrder string `yaml:"byte_order"`
}

// JournalConfig holds journal settings.
type JournalConfig struct {
	// Enabled records every commit
	Enabled bool `yaml:"enabled"`
	// MaxEntries before the oldest entries are folded into the base (0 = unbounded)
	MaxEntries int `yaml:"max_entries"`
}

// PoolConfig holds buffer pool settings.
type PoolConfig struct {
	// Enabled toggles pooling
	Enabled bool `yaml:"enabled"`
	// MaxSize is the largest buffer capacity returned to a pool
	MaxSize int `yaml:"max_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (TRACE, DEBUG, INFO, WARN, ERROR, FATAL, PANIC)
	Level string `yaml:"level"`
	// Format (json, text)
	Format string `yaml:"format"`
	// Output path (stdout, stderr, or file path)
	Output string `yaml:"output"`
}

// LoadFromEnv loads configuration from environment variables.
//
// Unset or unparsable variables fall back to their defaults.
func LoadFromEnv() *Config {
	config := &Config{}

	config.Store.CheckInvariants = getEnvBool("REFSTORE_CHECK_INVARIANTS", false)

	config.Codec.ByteOrder = strings.ToLower(getEnv("REFSTORE_BYTE_ORDER", ByteOrderNative))

	config.Journal.Enabled = getEnvBool("REFSTORE_JOURNAL_ENABLED", false)
	config.Journal.MaxEntries = getEnvInt("REFSTORE_JOURNAL_MAX_ENTRIES", 0)

	config.Pool.Enabled = getEnvBool("REFSTORE_POOL_ENABLED", true)
	config.Pool.MaxSize = int(parseSize(getEnv("REFSTORE_POOL_MAX_SIZE", "64K")))

	config.Logging.Level = getEnv("REFSTORE_LOG_LEVEL", "INFO")
	config.Logging.Format = getEnv("REFSTORE_LOG_FORMAT", "text")
	config.Logging.Output = getEnv("REFSTORE_LOG_OUTPUT", "stderr")

	return config
}

// LoadFile overlays the YAML file at path on c. Keys missing from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.Codec.ByteOrder = strings.ToLower(c.Codec.ByteOrder)
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	switch c.Codec.ByteOrder {
	case ByteOrderNative, ByteOrderLittle, ByteOrderBig:
	default:
		result = multierror.Append(result, fmt.Errorf("invalid byte order: %q", c.Codec.ByteOrder))
	}

	if c.Journal.MaxEntries < 0 {
		result = multierror.Append(result, fmt.Errorf("invalid journal max entries: %d", c.Journal.MaxEntries))
	}

	if c.Pool.Enabled && c.Pool.MaxSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("invalid pool max size: %d", c.Pool.MaxSize))
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL", "PANIC":
	default:
		result = multierror.Append(result, fmt.Errorf("invalid log level: %q", c.Logging.Level))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		result = multierror.Append(result, fmt.Errorf("invalid log format: %q", c.Logging.Format))
	}

	if c.Logging.Output == "" {
		result = multierror.Append(result, fmt.Errorf("log output is empty"))
	}

	return result.ErrorOrNil()
}

// ByteOrder returns the configured byte order. Unknown values map to the
// native order; call Validate to reject them.
func (c *Config) ByteOrder() binary.ByteOrder {
	switch c.Codec.ByteOrder {
	case ByteOrderLittle:
		return binary.LittleEndian
	case ByteOrderBig:
		return binary.BigEndian
	default:
		return binary.NativeEndian
	}
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{CheckInvariants: %v, ByteOrder: %s, Journal: %v/%d, Pool: %v/%d, Log: %s/%s}",
		c.Store.CheckInvariants,
		c.Codec.ByteOrder,
		c.Journal.Enabled, c.Journal.MaxEntries,
		c.Pool.Enabled, c.Pool.MaxSize,
		c.Logging.Level, c.Logging.Format,
	)
}

// Helper functions

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

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

// parseSize converts a size string like "64K" or "1M" to a count.
// Supports K, M and G with an optional B suffix. Invalid input returns 0.
func parseSize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}
