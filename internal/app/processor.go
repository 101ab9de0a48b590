package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/perfship/internal/clock"
	"github.com/bft-labs/perfship/internal/domain"
	"github.com/bft-labs/perfship/internal/inflight"
	"github.com/bft-labs/perfship/internal/ports"
	"github.com/bft-labs/perfship/internal/store"
	"github.com/bft-labs/perfship/pkg/log"
)

// flushPollInterval is how often FlushAll checks whether the processor
// has gone idle.
const flushPollInterval = 10 * time.Millisecond

// DeliveryEventEmitter is called after every delivery attempt.
type DeliveryEventEmitter interface {
	OnDeliverySuccess(processor string, itemCount int, duration time.Duration)
	OnDeliveryError(processor string, err error, itemCount int, willRetry bool)
}

// Stats is a point-in-time snapshot of a processor.
type Stats struct {
	Pending          int
	Queued           int
	Delivering       bool
	ScheduledRetries int

	Enqueued           uint64
	Coalesced          uint64
	SuppressedTTL      uint64
	SuppressedInFlight uint64
	BatchesDelivered   uint64
	BatchesRetried     uint64
	BatchesDropped     uint64
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger. Defaults to log.NoopLogger.
func WithLogger(l ports.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithClock sets the time source used for TTL stamps and retry timers.
func WithClock(c clock.Clock) Option {
	return func(p *Processor) { p.clock = c }
}

// WithMetrics records into m instead of a private unregistered set.
func WithMetrics(m *Metrics) Option {
	return func(p *Processor) { p.metrics.m = m }
}

// WithEmitter sets the delivery event callback.
func WithEmitter(e DeliveryEventEmitter) Option {
	return func(p *Processor) { p.emitter = e }
}

// Processor coalesces items into batches and delivers them to a Sink one
// batch at a time, retrying failures with exponential backoff.
type Processor struct {
	cfg     ProcessorConfig
	sink    ports.Sink
	store   *store.Store[int64]
	tracker *inflight.Tracker
	clock   clock.Clock
	logger  ports.Logger
	metrics processorMetrics
	emitter DeliveryEventEmitter
	backoff backoff

	mu         sync.Mutex
	pending    *pendingList
	queue      []*domain.Batch
	delivering bool
	emitting   int
	retries    map[*domain.Batch]clock.Timer
	unsubs     []func()
	destroyed  bool
	closed     bool
	stats      Stats
}

// NewProcessor validates cfg and returns a ready processor. st records the
// last delivery time of each key and tracker holds the keys that are
// queued or being delivered.
func NewProcessor(
	cfg ProcessorConfig,
	sink ports.Sink,
	st *store.Store[int64],
	tracker *inflight.Tracker,
	opts ...Option,
) (*Processor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: sink is required", domain.ErrInvalidConfig)
	}
	if st == nil {
		return nil, fmt.Errorf("%w: store is required", domain.ErrInvalidConfig)
	}
	if tracker == nil {
		tracker = inflight.New()
	}

	p := &Processor{
		cfg:     cfg,
		sink:    sink,
		store:   st,
		tracker: tracker,
		clock:   clock.Real(),
		logger:  log.NoopLogger{},
		metrics: processorMetrics{name: cfg.Name},
		backoff: newBackoff(cfg.BaseDelay, DefaultBackoffMax),
		pending: newPendingList(cfg.BatchSize, cfg.PrimaryFields),
		retries: make(map[*domain.Batch]clock.Timer),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics.m == nil {
		p.metrics.m = NewMetrics(nil)
	}
	p.logger = log.With(p.logger, log.String("processor", cfg.Name))
	return p, nil
}

// Config returns the resolved configuration.
func (p *Processor) Config() ProcessorConfig {
	return p.cfg
}

// Enqueue offers an item for delivery. Items are silently dropped when they
// coalesce into a pending item, when their key was delivered less than TTL
// ago, when their key is already in flight, or when the batch queue is
// full. Only structurally invalid items and calls after Destroy fail.
func (p *Processor) Enqueue(item domain.Item) error {
	if err := item.Validate(); err != nil {
		p.logger.Warn("rejected invalid item", log.Err(err))
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		p.logger.Warn("enqueue after destroy", log.String("key", item.Key))
		return domain.ErrDestroyed
	}

	p.stats.Enqueued++
	p.metrics.enqueued()

	if p.pending.Coalesce(item) {
		p.stats.Coalesced++
		p.metrics.suppressed(reasonCoalesced)
		return nil
	}
	if !p.store.IsExpired(item.Key, p.cfg.TTL) {
		p.stats.SuppressedTTL++
		p.metrics.suppressed(reasonTTL)
		p.logger.Warn("item suppressed, key delivered within ttl",
			log.String("key", item.Key),
			log.Duration("ttl", p.cfg.TTL),
		)
		return nil
	}
	if p.tracker.IsInFlight(item.Key) {
		p.stats.SuppressedInFlight++
		p.metrics.suppressed(reasonInFlight)
		p.logger.Warn("item suppressed, key already in flight", log.String("key", item.Key))
		return nil
	}

	if b := p.pending.Add(item); b != nil {
		p.admitLocked(b)
	}
	p.updateGaugesLocked()
	return nil
}

// FlushAll forms batches from every pending item, queues them and waits
// until nothing is queued, delivering or waiting for a retry. It returns
// ctx.Err() if ctx ends first; work still outstanding keeps going.
func (p *Processor) FlushAll(ctx context.Context) error {
	p.mu.Lock()
	for _, b := range p.pending.Drain() {
		p.admitLocked(b)
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()
	for {
		if p.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Attach subscribes to source so that hidden and unload events trigger a
// FlushAll bounded by FlushTimeout. Destroy unsubscribes.
func (p *Processor) Attach(source ports.LifecycleSource) {
	unsub := source.Subscribe(p.onLifecycleEvent)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		unsub()
		return
	}
	p.unsubs = append(p.unsubs, unsub)
}

func (p *Processor) onLifecycleEvent(ev ports.LifecycleEvent) {
	if ev != ports.EventHidden && ev != ports.EventUnload {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.FlushTimeout)
	defer cancel()

	p.logger.Debug("lifecycle flush", log.String("event", ev.String()))
	if err := p.FlushAll(ctx); err != nil {
		p.logger.Warn("lifecycle flush incomplete",
			log.String("event", ev.String()),
			log.Err(err),
		)
	}
}

// Destroy unsubscribes from lifecycle sources, flushes what it can within
// ctx, cancels outstanding retries and drops all in-memory state. The
// store is flushed so the last delivery times survive. Calling Destroy
// again is a no-op.
func (p *Processor) Destroy(ctx context.Context) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	unsubs := p.unsubs
	p.unsubs = nil
	p.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	flushErr := p.FlushAll(ctx)
	if flushErr != nil {
		p.logger.Warn("destroy flush incomplete", log.Err(flushErr))
	}

	p.mu.Lock()
	p.closed = true
	for b, t := range p.retries {
		t.Stop()
		delete(p.retries, b)
	}
	p.pending.Reset()
	p.queue = nil
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.tracker.ClearAll()

	if err := p.store.Flush(); err != nil {
		p.logger.Error("failed to flush store on destroy", log.Err(err))
		return errors.Join(flushErr, err)
	}
	return flushErr
}

// Stats returns a snapshot of the processor's state and counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Pending = p.pending.Len()
	s.Queued = len(p.queue)
	s.Delivering = p.delivering
	s.ScheduledRetries = len(p.retries)
	return s
}

func (p *Processor) idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) == 0 && !p.delivering && len(p.retries) == 0 && p.emitting == 0
}

// admitLocked appends b to the batch queue and marks its keys in flight.
// A full queue drops b.
func (p *Processor) admitLocked(b *domain.Batch) {
	if len(p.queue) >= p.cfg.MaxQueueSize {
		p.stats.BatchesDropped++
		p.metrics.batch(outcomeQueueFull)
		p.logger.Warn("batch queue full, dropping batch",
			log.String("batch_id", b.ID),
			log.Int("items", b.Size()),
			log.Int("max_queue_size", p.cfg.MaxQueueSize),
		)
		return
	}
	p.queue = append(p.queue, b)
	p.tracker.Mark(b.Keys()...)
	p.drainLocked()
}

func (p *Processor) updateGaugesLocked() {
	p.metrics.gauges(len(p.queue), p.pending.Len())
}
