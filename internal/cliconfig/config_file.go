package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
// Numbers where zero is meaningful are pointers so an absent key is not
// mistaken for zero.
type FileConfig struct {
	BatchSize               int    `toml:"batch_size"`
	MaxQueueSize            int    `toml:"max_queue_size"`
	TTL                     string `toml:"ttl"`
	MaxRetry                *int   `toml:"max_retry"`
	BaseDelay               string `toml:"base_delay"`
	HoldInFlightDuringRetry *bool  `toml:"hold_inflight_during_retry"`
	StorageKey              string `toml:"storage_key"`
	StorageType             string `toml:"storage_type"`
	StorageBackend          string `toml:"storage_backend"`
	StorageDir              string `toml:"storage_dir"`
	MaxEntries              int    `toml:"max_entries"`
	QuotaBytes              int64  `toml:"quota_bytes"`
	ServiceURL              string `toml:"service_url"`
	AnalysisURL             string `toml:"analysis_url"`
	AuthKey                 string `toml:"auth_key"`
	HTTPTimeout             string `toml:"http_timeout"`
	FlushTimeout            string `toml:"flush_timeout"`
	SpoolDir                string `toml:"spool_dir"`
	MetricsAddr             string `toml:"metrics_addr"`
	LogLevel                string `toml:"log_level"`
	LogFormat               string `toml:"log_format"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.perfship/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".perfship", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setInt("batch-size", fc.BatchSize, &cfg.BatchSize)
	s.setInt("max-queue-size", fc.MaxQueueSize, &cfg.MaxQueueSize)
	s.setIntPtr("max-retry", fc.MaxRetry, &cfg.MaxRetry)
	s.setInt("max-entries", fc.MaxEntries, &cfg.MaxEntries)
	s.setInt64("quota-bytes", fc.QuotaBytes, &cfg.QuotaBytes)
	s.setBool("hold-inflight-during-retry", fc.HoldInFlightDuringRetry, &cfg.HoldInFlightDuringRetry)

	s.setString("storage-key", fc.StorageKey, &cfg.StorageKey)
	s.setString("storage-type", fc.StorageType, &cfg.StorageType)
	s.setString("storage-backend", fc.StorageBackend, &cfg.StorageBackend)
	s.setString("storage-dir", fc.StorageDir, &cfg.StorageDir)
	s.setString("service-url", fc.ServiceURL, &cfg.ServiceURL)
	s.setString("analysis-url", fc.AnalysisURL, &cfg.AnalysisURL)
	s.setString("auth-key", fc.AuthKey, &cfg.AuthKey)
	s.setString("spool-dir", fc.SpoolDir, &cfg.SpoolDir)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)

	if err := s.setDuration("ttl", fc.TTL, &cfg.TTL); err != nil {
		return err
	}
	if err := s.setDuration("base-delay", fc.BaseDelay, &cfg.BaseDelay); err != nil {
		return err
	}
	if err := s.setDuration("http-timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("flush-timeout", fc.FlushTimeout, &cfg.FlushTimeout); err != nil {
		return err
	}

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
