package cliconfig

import "os"

// EnvPrefix prefixes every environment variable perfship reads.
const EnvPrefix = "PERFSHIP_"

// ApplyEnvConfig applies PERFSHIP_* environment variables to cfg.
// It respects flags that have been explicitly set (changed map).
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }

	if err := s.setIntFromString("batch-size", env("BATCH_SIZE"), &cfg.BatchSize); err != nil {
		return err
	}
	if err := s.setIntFromString("max-queue-size", env("MAX_QUEUE_SIZE"), &cfg.MaxQueueSize); err != nil {
		return err
	}
	if err := s.setIntFromString("max-retry", env("MAX_RETRY"), &cfg.MaxRetry); err != nil {
		return err
	}
	if err := s.setIntFromString("max-entries", env("MAX_ENTRIES"), &cfg.MaxEntries); err != nil {
		return err
	}
	if err := s.setInt64FromString("quota-bytes", env("QUOTA_BYTES"), &cfg.QuotaBytes); err != nil {
		return err
	}

	if err := s.setDuration("ttl", env("TTL"), &cfg.TTL); err != nil {
		return err
	}
	if err := s.setDuration("base-delay", env("BASE_DELAY"), &cfg.BaseDelay); err != nil {
		return err
	}
	if err := s.setDuration("http-timeout", env("HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("flush-timeout", env("FLUSH_TIMEOUT"), &cfg.FlushTimeout); err != nil {
		return err
	}

	s.setString("storage-key", env("STORAGE_KEY"), &cfg.StorageKey)
	s.setString("storage-type", env("STORAGE_TYPE"), &cfg.StorageType)
	s.setString("storage-backend", env("STORAGE_BACKEND"), &cfg.StorageBackend)
	s.setString("storage-dir", env("STORAGE_DIR"), &cfg.StorageDir)
	s.setString("service-url", env("SERVICE_URL"), &cfg.ServiceURL)
	s.setString("analysis-url", env("ANALYSIS_URL"), &cfg.AnalysisURL)
	s.setString("auth-key", env("AUTH_KEY"), &cfg.AuthKey)
	s.setString("spool-dir", env("SPOOL_DIR"), &cfg.SpoolDir)
	s.setString("metrics-addr", env("METRICS_ADDR"), &cfg.MetricsAddr)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", env("LOG_FORMAT"), &cfg.LogFormat)
	s.setBoolFromString("hold-inflight-during-retry", env("HOLD_INFLIGHT_DURING_RETRY"), &cfg.HoldInFlightDuringRetry)

	return nil
}
