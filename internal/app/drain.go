package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bft-labs/perfship/internal/domain"
	"github.com/bft-labs/perfship/pkg/log"
)

// drainLocked starts delivering the head of the queue unless a delivery is
// already running. At most one delivery runs at a time.
func (p *Processor) drainLocked() {
	if p.delivering || len(p.queue) == 0 {
		p.updateGaugesLocked()
		return
	}
	b := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.delivering = true
	p.updateGaugesLocked()

	go p.deliver(b)
}

// deliveryOutcome is reported to the emitter once the lock is released.
type deliveryOutcome struct {
	err       error
	items     int
	duration  time.Duration
	willRetry bool
}

func (p *Processor) deliver(b *domain.Batch) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DeliveryTimeout)
	start := time.Now()
	err := p.invoke(ctx, *b)
	elapsed := time.Since(start)
	cancel()

	p.metrics.observeDelivery(elapsed.Seconds())

	p.mu.Lock()
	p.delivering = false
	out := deliveryOutcome{err: err, items: b.Size(), duration: elapsed}
	if err == nil {
		p.onSuccessLocked(b, elapsed)
	} else {
		out.willRetry = p.onFailureLocked(b, err)
	}
	p.drainLocked()
	p.emitting++
	p.mu.Unlock()

	p.emit(out)

	p.mu.Lock()
	p.emitting--
	p.mu.Unlock()
}

// invoke calls the sink, turning a panic into an error.
func (p *Processor) invoke(ctx context.Context, b domain.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return p.sink.Deliver(ctx, b)
}

func (p *Processor) onSuccessLocked(b *domain.Batch, elapsed time.Duration) {
	keys := b.Keys()
	now := p.clock.Now().UnixMilli()
	for _, k := range keys {
		p.store.Set(k, now)
	}
	p.tracker.Clear(keys...)

	p.stats.BatchesDelivered++
	p.metrics.batch(outcomeDelivered)
	p.logger.Debug("batch delivered",
		log.String("batch_id", b.ID),
		log.Int("items", b.Size()),
		log.Int("retry_count", b.RetryCount),
		log.Duration("duration", elapsed),
	)
}

// onFailureLocked schedules a retry or drops b. It reports whether a retry
// was scheduled.
func (p *Processor) onFailureLocked(b *domain.Batch, err error) bool {
	keys := b.Keys()
	if !p.cfg.HoldInFlightDuringRetry {
		p.tracker.Clear(keys...)
	}

	if p.closed || b.RetryCount >= p.cfg.MaxRetry {
		if p.cfg.HoldInFlightDuringRetry {
			p.tracker.Clear(keys...)
		}
		p.stats.BatchesDropped++
		p.metrics.batch(outcomeRetryExhausted)
		p.logger.Warn("batch delivery failed, dropping batch",
			log.String("batch_id", b.ID),
			log.Int("items", b.Size()),
			log.Int("retry_count", b.RetryCount),
			log.Err(err),
		)
		return false
	}

	delay := p.backoff.Delay(b.RetryCount)
	b.RetryCount++
	p.retries[b] = p.clock.AfterFunc(delay, func() { p.requeue(b) })

	p.stats.BatchesRetried++
	p.metrics.batch(outcomeRetried)
	p.logger.Warn("batch delivery failed, retrying",
		log.String("batch_id", b.ID),
		log.Int("items", b.Size()),
		log.Int("attempt", b.RetryCount),
		log.Duration("delay", delay),
		log.Err(err),
	)
	return true
}

// requeue puts a retried batch back at the front of the queue. When the
// queue is full the newest queued batch makes room for it.
func (p *Processor) requeue(b *domain.Batch) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.retries[b]; !ok {
		return
	}
	delete(p.retries, b)
	if p.closed {
		return
	}

	if len(p.queue) >= p.cfg.MaxQueueSize {
		last := len(p.queue) - 1
		victim := p.queue[last]
		p.queue[last] = nil
		p.queue = p.queue[:last]
		p.tracker.Clear(victim.Keys()...)
		p.stats.BatchesDropped++
		p.metrics.batch(outcomeQueueFull)
		p.logger.Warn("batch queue full, dropping newest batch for retry",
			log.String("batch_id", victim.ID),
			log.String("retry_batch_id", b.ID),
		)
	}

	p.queue = append([]*domain.Batch{b}, p.queue...)
	p.tracker.Mark(b.Keys()...)
	p.drainLocked()
}

func (p *Processor) emit(out deliveryOutcome) {
	if p.emitter == nil {
		return
	}
	if out.err == nil {
		p.emitter.OnDeliverySuccess(p.cfg.Name, out.items, out.duration)
		return
	}
	p.emitter.OnDeliveryError(p.cfg.Name, out.err, out.items, out.willRetry)
}
