package perfship

import (
	"fmt"
	"strings"
	"time"

	"github.com/bft-labs/perfship/internal/adapters/medium"
	"github.com/bft-labs/perfship/internal/app"
	"github.com/bft-labs/perfship/internal/domain"
)

// Storage types and backends accepted in Config.
const (
	StorageSession    = medium.TypeSession
	StoragePersistent = medium.TypePersistent
	BackendFile       = medium.BackendFile
	BackendPebble     = medium.BackendPebble
)

// Storage keys used when Config leaves them empty.
const (
	DefaultReportStorageKey   = "perfship.reports"
	DefaultAnalysisStorageKey = "perfship.analysis"
)

// Config configures an Agent.
//
// Zero values select defaults. Values that are set but out of range make
// New fail; nothing is silently clamped.
type Config struct {
	// ServiceURL is the ingest service base URL. Required unless a report
	// sink is injected with WithSink.
	ServiceURL string

	// AnalysisURL enables the analysis pipeline when set.
	AnalysisURL string

	// AuthKey is sent as a bearer token.
	AuthKey string

	BatchSize    int
	MaxQueueSize int

	// TTL is the minimum time between two reports of the same key.
	// Must be at least 3s.
	TTL time.Duration

	// MaxRetry is the number of retries after a failed delivery. Zero is
	// a valid setting, so DefaultConfig is the way to get the default.
	MaxRetry  int
	BaseDelay time.Duration

	// HoldInFlightDuringRetry keeps a failed batch's keys in flight during
	// its retry backoff.
	HoldInFlightDuringRetry bool

	HTTPTimeout     time.Duration
	DeliveryTimeout time.Duration
	FlushTimeout    time.Duration

	// StorageType is StorageSession or StoragePersistent for the report
	// pipeline. The analysis pipeline always uses session storage.
	StorageType    string
	StorageBackend string
	StorageDir     string
	StorageKey     string
	MaxEntries     int
	QuotaBytes     int64

	// SpoolDir, when set, is watched for NDJSON files while the agent runs.
	SpoolDir string
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	cfg := Config{MaxRetry: app.DefaultMaxRetry}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero-valued fields with their defaults.
func (c *Config) SetDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = app.DefaultBatchSize
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = app.DefaultMaxQueueSize
	}
	if c.TTL == 0 {
		c.TTL = app.DefaultTTL
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = app.DefaultBaseDelay
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.DeliveryTimeout == 0 {
		c.DeliveryTimeout = app.DefaultDeliveryTimeout
	}
	if c.FlushTimeout == 0 {
		c.FlushTimeout = app.DefaultFlushTimeout
	}
	if c.StorageType == "" {
		c.StorageType = StorageSession
	}
	if c.StorageBackend == "" {
		c.StorageBackend = BackendFile
	}
	if c.StorageKey == "" {
		c.StorageKey = DefaultReportStorageKey
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = 1000
	}
	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")
	c.AnalysisURL = strings.TrimRight(c.AnalysisURL, "/")
}

// Validate checks the configuration. Errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	if err := c.processorConfig(PipelineReports).Validate(); err != nil {
		return err
	}
	switch {
	case c.HTTPTimeout < 0:
		return fmt.Errorf("%w: http timeout must not be negative", domain.ErrInvalidConfig)
	case c.MaxEntries < 1:
		return fmt.Errorf("%w: max entries must be at least 1, got %d", domain.ErrInvalidConfig, c.MaxEntries)
	case c.QuotaBytes < 0:
		return fmt.Errorf("%w: quota bytes must not be negative", domain.ErrInvalidConfig)
	case c.StorageType == StoragePersistent && c.StorageDir == "":
		return fmt.Errorf("%w: storage dir is required for persistent storage", domain.ErrInvalidConfig)
	}
	return nil
}

func (c Config) processorConfig(name string) app.ProcessorConfig {
	return app.ProcessorConfig{
		Name:                    name,
		BatchSize:               c.BatchSize,
		MaxQueueSize:            c.MaxQueueSize,
		TTL:                     c.TTL,
		MaxRetry:                c.MaxRetry,
		BaseDelay:               c.BaseDelay,
		DeliveryTimeout:         c.DeliveryTimeout,
		FlushTimeout:            c.FlushTimeout,
		HoldInFlightDuringRetry: c.HoldInFlightDuringRetry,
	}
}
