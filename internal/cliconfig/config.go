package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultServiceURL is the default ingest endpoint for performance reports.
const DefaultServiceURL = "http://127.0.0.1:8080"

// Storage settings accepted on the command line.
const (
	StorageSession    = "session"
	StoragePersistent = "persistent"
	BackendFile       = "file"
	BackendPebble     = "pebble"
)

// Config holds CLI configuration for perfship.
type Config struct {
	BatchSize               int
	MaxQueueSize            int
	TTL                     time.Duration
	MaxRetry                int
	BaseDelay               time.Duration
	HoldInFlightDuringRetry bool

	StorageKey     string
	StorageType    string
	StorageBackend string
	StorageDir     string
	MaxEntries     int
	QuotaBytes     int64

	ServiceURL  string
	AnalysisURL string
	AuthKey     string

	HTTPTimeout  time.Duration
	FlushTimeout time.Duration

	SpoolDir    string
	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		BatchSize:      10,
		MaxQueueSize:   50,
		TTL:            10 * time.Minute,
		MaxRetry:       3,
		BaseDelay:      time.Second,
		StorageKey:     "perfship.reports",
		StorageType:    StoragePersistent,
		StorageBackend: BackendFile,
		StorageDir:     "", // Derived from the home directory during Validate
		MaxEntries:     1000,
		ServiceURL:     DefaultServiceURL,
		HTTPTimeout:    15 * time.Second,
		FlushTimeout:   5 * time.Second,
		LogLevel:       "info",
		LogFormat:      "console",
		AuthKey:        os.Getenv("PERFSHIP_AUTH_KEY"),
	}
}

// Validate checks the configuration for errors and sets derived defaults.
// Ranges of the batching parameters are checked again, with the same
// rules, when the agent is built.
func (c *Config) Validate() error {
	if c.ServiceURL == "" {
		c.ServiceURL = DefaultServiceURL
	}
	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")
	c.AnalysisURL = strings.TrimRight(c.AnalysisURL, "/")

	switch c.StorageType {
	case StorageSession, StoragePersistent:
	default:
		return fmt.Errorf("storage-type must be %q or %q, got %q", StorageSession, StoragePersistent, c.StorageType)
	}
	switch c.StorageBackend {
	case BackendFile, BackendPebble:
	default:
		return fmt.Errorf("storage-backend must be %q or %q, got %q", BackendFile, BackendPebble, c.StorageBackend)
	}
	if c.StorageKey == "" {
		return fmt.Errorf("storage-key is required")
	}

	if c.StorageType == StoragePersistent && c.StorageDir == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("storage-dir is required (no home directory: %w)", err)
		}
		c.StorageDir = filepath.Join(h, ".perfship", "state")
	}

	if c.QuotaBytes < 0 {
		return fmt.Errorf("quota-bytes must not be negative")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http-timeout must be positive")
	}
	if c.FlushTimeout <= 0 {
		return fmt.Errorf("flush-timeout must be positive")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log-format must be console or json, got %q", c.LogFormat)
	}

	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntPtr sets an int value from a pointer, zero included, if not nil
// and flag not changed.
func (s *configSetter) setIntPtr(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setInt64 sets an int64 value if positive and flag not changed.
func (s *configSetter) setInt64(flag string, value int64, dst *int64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination.
// Zero is accepted; negative values are left for Validate to report.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = i
	return nil
}

// setInt64FromString parses a string to int64 and sets the destination.
func (s *configSetter) setInt64FromString(flag, value string, dst *int64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
