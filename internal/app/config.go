package app

import (
	"fmt"
	"time"

	"github.com/bft-labs/perfship/internal/domain"
)

// CoalesceWindow is the distance between two timestamps of the same key
// under which the later item is merged into the earlier pending one.
const CoalesceWindow = 500 * time.Millisecond

// MinTTL is the smallest accepted suppression window.
const MinTTL = 3 * time.Second

// Default processor configuration values.
const (
	DefaultBatchSize       = 10
	DefaultMaxQueueSize    = 50
	DefaultTTL             = 10 * time.Minute
	DefaultMaxRetry        = 3
	DefaultBaseDelay       = time.Second
	DefaultDeliveryTimeout = 30 * time.Second
	DefaultFlushTimeout    = 5 * time.Second
)

// DefaultPrimaryFields is used when ProcessorConfig.PrimaryFields is empty.
var DefaultPrimaryFields = []string{"value"}

// ProcessorConfig contains configuration for a batch processor.
type ProcessorConfig struct {
	// Name labels log lines and metrics, e.g. "reports".
	Name string

	BatchSize    int
	MaxQueueSize int

	// TTL is the minimum time between two deliveries of the same key.
	TTL time.Duration

	MaxRetry  int
	BaseDelay time.Duration

	// DeliveryTimeout bounds a single Sink.Deliver call.
	DeliveryTimeout time.Duration

	// FlushTimeout bounds the automatic flush run on lifecycle events.
	FlushTimeout time.Duration

	// PrimaryFields decide which of two coalesced items is kept: an item
	// carrying any of them replaces a pending one that carries none.
	PrimaryFields []string

	// HoldInFlightDuringRetry keeps a failed batch's keys in flight until
	// the retry finishes instead of clearing them at failure time.
	HoldInFlightDuringRetry bool
}

// DefaultProcessorConfig returns a configuration with every default applied.
func DefaultProcessorConfig(name string) ProcessorConfig {
	return ProcessorConfig{
		Name:            name,
		BatchSize:       DefaultBatchSize,
		MaxQueueSize:    DefaultMaxQueueSize,
		TTL:             DefaultTTL,
		MaxRetry:        DefaultMaxRetry,
		BaseDelay:       DefaultBaseDelay,
		DeliveryTimeout: DefaultDeliveryTimeout,
		FlushTimeout:    DefaultFlushTimeout,
		PrimaryFields:   append([]string(nil), DefaultPrimaryFields...),
	}
}

// withDefaults fills zero-valued optional fields. Required numeric fields
// are left alone so Validate can reject them.
func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.DeliveryTimeout == 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if c.FlushTimeout == 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	if len(c.PrimaryFields) == 0 {
		c.PrimaryFields = append([]string(nil), DefaultPrimaryFields...)
	}
	return c
}

// Validate reports the first out-of-range value as an error wrapping
// domain.ErrInvalidConfig.
func (c ProcessorConfig) Validate() error {
	switch {
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch size must be at least 1, got %d", domain.ErrInvalidConfig, c.BatchSize)
	case c.MaxQueueSize < 1:
		return fmt.Errorf("%w: max queue size must be at least 1, got %d", domain.ErrInvalidConfig, c.MaxQueueSize)
	case c.TTL < MinTTL:
		return fmt.Errorf("%w: ttl must be at least %s, got %s", domain.ErrInvalidConfig, MinTTL, c.TTL)
	case c.MaxRetry < 0:
		return fmt.Errorf("%w: max retry must not be negative, got %d", domain.ErrInvalidConfig, c.MaxRetry)
	case c.BaseDelay <= 0:
		return fmt.Errorf("%w: base delay must be positive, got %s", domain.ErrInvalidConfig, c.BaseDelay)
	case c.DeliveryTimeout < 0:
		return fmt.Errorf("%w: delivery timeout must not be negative, got %s", domain.ErrInvalidConfig, c.DeliveryTimeout)
	case c.FlushTimeout < 0:
		return fmt.Errorf("%w: flush timeout must not be negative, got %s", domain.ErrInvalidConfig, c.FlushTimeout)
	}
	return nil
}
