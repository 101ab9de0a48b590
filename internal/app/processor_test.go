package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bft-labs/perfship/internal/adapters/medium"
	"github.com/bft-labs/perfship/internal/clock"
	"github.com/bft-labs/perfship/internal/domain"
	"github.com/bft-labs/perfship/internal/inflight"
	"github.com/bft-labs/perfship/internal/ports"
	"github.com/bft-labs/perfship/internal/store"
)

// recordingSink records every delivery and answers with fn, if set.
type recordingSink struct {
	mu      sync.Mutex
	batches []domain.Batch
	times   []time.Time
	fn      func(call int, b domain.Batch) error
	delay   time.Duration

	active    int32
	maxActive int32
}

func (s *recordingSink) Deliver(ctx context.Context, b domain.Batch) error {
	n := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		max := atomic.LoadInt32(&s.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&s.maxActive, max, n) {
			break
		}
	}

	s.mu.Lock()
	call := len(s.batches)
	s.batches = append(s.batches, b)
	s.times = append(s.times, time.Now())
	fn := s.fn
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if fn != nil {
		return fn(call, b)
	}
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *recordingSink) batch(i int) domain.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches[i]
}

// gateSink blocks every delivery until the test releases it.
type gateSink struct {
	calls   chan domain.Batch
	results chan error
}

func newGateSink() *gateSink {
	return &gateSink{calls: make(chan domain.Batch), results: make(chan error)}
}

func (g *gateSink) Deliver(ctx context.Context, b domain.Batch) error {
	select {
	case g.calls <- b:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-g.results:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gateSink) await(t *testing.T) domain.Batch {
	t.Helper()
	select {
	case b := <-g.calls:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a delivery")
	}
	return domain.Batch{}
}

func (g *gateSink) release(t *testing.T, err error) {
	t.Helper()
	select {
	case g.results <- err:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out releasing a delivery")
	}
}

func (g *gateSink) next(t *testing.T, err error) domain.Batch {
	t.Helper()
	b := g.await(t)
	g.release(t, err)
	return b
}

func (g *gateSink) assertIdle(t *testing.T) {
	t.Helper()
	select {
	case b := <-g.calls:
		t.Fatalf("unexpected delivery of %v", b.Keys())
	case <-time.After(20 * time.Millisecond):
	}
}

// fakeSource is a LifecycleSource driven by the test.
type fakeSource struct {
	mu   sync.Mutex
	subs map[int]func(ports.LifecycleEvent)
	next int
}

func (f *fakeSource) Subscribe(fn func(ports.LifecycleEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]func(ports.LifecycleEvent))
	}
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeSource) emit(ev ports.LifecycleEvent) {
	f.mu.Lock()
	var fns []func(ports.LifecycleEvent)
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fixture struct {
	p       *Processor
	store   *store.Store[int64]
	tracker *inflight.Tracker
	metrics *Metrics
}

func testConfig() ProcessorConfig {
	return ProcessorConfig{
		Name:         "test",
		BatchSize:    1,
		MaxQueueSize: 10,
		TTL:          MinTTL,
		MaxRetry:     0,
		BaseDelay:    10 * time.Millisecond,
	}
}

func newFixture(t *testing.T, cfg ProcessorConfig, sink ports.Sink, c clock.Clock) fixture {
	t.Helper()
	if c == nil {
		c = clock.Real()
	}
	st, err := store.New[int64](medium.NewMemory(), store.Options{
		StorageKey: "perfship.test",
		Clock:      c,
	})
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	tracker := inflight.New()
	m := NewMetrics(nil)
	p, err := NewProcessor(cfg, sink, st, tracker,
		WithClock(c),
		WithLogger(mockLogger{}),
		WithMetrics(m),
	)
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = p.Destroy(ctx)
		_ = st.Close()
	})
	return fixture{p: p, store: st, tracker: tracker, metrics: m}
}

func flush(t *testing.T, p *Processor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.FlushAll(ctx); err != nil {
		t.Fatalf("FlushAll() error = %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func mustEnqueue(t *testing.T, p *Processor, it domain.Item) {
	t.Helper()
	if err := p.Enqueue(it); err != nil {
		t.Fatalf("Enqueue(%s) error = %v", it.Key, err)
	}
}

func snapshot(key string, ts time.Time, payload map[string]any) domain.Item {
	return domain.Item{Key: key, Timestamp: ts, Payload: payload}
}

func TestProcessorConfig_Validate(t *testing.T) {
	valid := DefaultProcessorConfig("reports")
	if err := valid.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ProcessorConfig)
	}{
		{"zero batch size", func(c *ProcessorConfig) { c.BatchSize = 0 }},
		{"zero queue size", func(c *ProcessorConfig) { c.MaxQueueSize = 0 }},
		{"ttl below minimum", func(c *ProcessorConfig) { c.TTL = 2999 * time.Millisecond }},
		{"negative max retry", func(c *ProcessorConfig) { c.MaxRetry = -1 }},
		{"zero base delay", func(c *ProcessorConfig) { c.BaseDelay = 0 }},
		{"negative delivery timeout", func(c *ProcessorConfig) { c.DeliveryTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultProcessorConfig("reports")
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNewProcessor_RejectsInvalidConfig(t *testing.T) {
	st, err := store.New[int64](medium.NewMemory(), store.Options{StorageKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	cfg := testConfig()
	cfg.TTL = time.Second
	if _, err := NewProcessor(cfg, &recordingSink{}, st, nil); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("NewProcessor(ttl=1s) error = %v, want ErrInvalidConfig", err)
	}
	if _, err := NewProcessor(testConfig(), nil, st, nil); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("NewProcessor(nil sink) error = %v, want ErrInvalidConfig", err)
	}

	p, err := NewProcessor(testConfig(), &recordingSink{}, st, nil)
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	got := p.Config()
	if got.DeliveryTimeout != DefaultDeliveryTimeout || len(got.PrimaryFields) != 1 || got.PrimaryFields[0] != "value" {
		t.Errorf("defaults not applied: %+v", got)
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := newBackoff(100*time.Millisecond, time.Second)
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{40, time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestProcessor_FormsBatchOfExactlyBatchSize(t *testing.T) {
	sink := &recordingSink{}
	cfg := testConfig()
	cfg.BatchSize = 3
	f := newFixture(t, cfg, sink, nil)
	t0 := time.Now()

	mustEnqueue(t, f.p, snapshot("a", t0, nil))
	mustEnqueue(t, f.p, snapshot("b", t0, nil))
	if s := f.p.Stats(); s.Pending != 2 || sink.count() != 0 {
		t.Fatalf("after two items: pending=%d deliveries=%d", s.Pending, sink.count())
	}

	mustEnqueue(t, f.p, snapshot("c", t0, nil))
	mustEnqueue(t, f.p, snapshot("d", t0, nil))
	waitFor(t, "first batch", func() bool { return sink.count() == 1 })

	keys := sink.batch(0).Keys()
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Errorf("first batch keys = %v, want [a b c]", keys)
	}
	if s := f.p.Stats(); s.Pending != 1 {
		t.Errorf("pending = %d, want 1", s.Pending)
	}
}

func TestProcessor_Coalesce(t *testing.T) {
	t0 := time.Now()
	tests := []struct {
		name      string
		first     domain.Item
		second    domain.Item
		wantItems int
		wantValue any
	}{
		{
			name:      "within window keeps first",
			first:     snapshot("lcp", t0, map[string]any{"value": 1}),
			second:    snapshot("lcp", t0.Add(100*time.Millisecond), map[string]any{"value": 2}),
			wantItems: 1,
			wantValue: 1,
		},
		{
			name:      "primary field replaces pending without one",
			first:     snapshot("lcp", t0, map[string]any{"rating": "good"}),
			second:    snapshot("lcp", t0.Add(100*time.Millisecond), map[string]any{"value": 5}),
			wantItems: 1,
			wantValue: 5,
		},
		{
			name:      "item without primary field never replaces",
			first:     snapshot("lcp", t0, map[string]any{"value": 5}),
			second:    snapshot("lcp", t0.Add(100*time.Millisecond), map[string]any{"rating": "good"}),
			wantItems: 1,
			wantValue: 5,
		},
		{
			name:      "earlier timestamp within window",
			first:     snapshot("lcp", t0, map[string]any{"value": 1}),
			second:    snapshot("lcp", t0.Add(-499*time.Millisecond), map[string]any{"value": 2}),
			wantItems: 1,
			wantValue: 1,
		},
		{
			name:      "window boundary is exclusive",
			first:     snapshot("lcp", t0, map[string]any{"value": 1}),
			second:    snapshot("lcp", t0.Add(CoalesceWindow), map[string]any{"value": 2}),
			wantItems: 2,
			wantValue: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			cfg := testConfig()
			cfg.BatchSize = 10
			f := newFixture(t, cfg, sink, nil)

			mustEnqueue(t, f.p, tt.first)
			mustEnqueue(t, f.p, tt.second)
			flush(t, f.p)

			if sink.count() != 1 {
				t.Fatalf("deliveries = %d, want 1", sink.count())
			}
			items := sink.batch(0).Items
			if len(items) != tt.wantItems {
				t.Fatalf("items = %d, want %d", len(items), tt.wantItems)
			}
			if items[0].Payload["value"] != tt.wantValue {
				t.Errorf("kept value = %v, want %v", items[0].Payload["value"], tt.wantValue)
			}
			if tt.wantItems == 1 && f.p.Stats().Coalesced != 1 {
				t.Errorf("coalesced = %d, want 1", f.p.Stats().Coalesced)
			}
		})
	}
}

func TestProcessor_CustomPrimaryFields(t *testing.T) {
	sink := &recordingSink{}
	cfg := testConfig()
	cfg.BatchSize = 10
	cfg.PrimaryFields = []string{"duration"}
	f := newFixture(t, cfg, sink, nil)
	t0 := time.Now()

	mustEnqueue(t, f.p, snapshot("inp", t0, map[string]any{"value": 1}))
	mustEnqueue(t, f.p, snapshot("inp", t0.Add(10*time.Millisecond), map[string]any{"duration": 42}))
	flush(t, f.p)

	if got := sink.batch(0).Items[0].Payload["duration"]; got != 42 {
		t.Errorf("kept duration = %v, want 42", got)
	}
}

func TestProcessor_TTLSuppression(t *testing.T) {
	c := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	sink := &recordingSink{}
	f := newFixture(t, testConfig(), sink, c)

	mustEnqueue(t, f.p, snapshot("ttfb", c.Now(), nil))
	flush(t, f.p)
	if sink.count() != 1 {
		t.Fatalf("deliveries = %d, want 1", sink.count())
	}

	entries := f.store.Entries()
	if len(entries) != 1 || entries[0].Key != "ttfb" || entries[0].Value != c.Now().UnixMilli() {
		t.Fatalf("store entries = %+v, want ttfb stamped with now", entries)
	}

	c.Advance(MinTTL - time.Millisecond)
	mustEnqueue(t, f.p, snapshot("ttfb", c.Now(), nil))
	flush(t, f.p)
	if sink.count() != 1 {
		t.Fatalf("deliveries within ttl = %d, want 1", sink.count())
	}
	if got := f.p.Stats().SuppressedTTL; got != 1 {
		t.Errorf("suppressed ttl = %d, want 1", got)
	}

	c.Advance(time.Millisecond)
	mustEnqueue(t, f.p, snapshot("ttfb", c.Now(), nil))
	flush(t, f.p)
	if sink.count() != 2 {
		t.Errorf("deliveries after ttl = %d, want 2", sink.count())
	}
}

func TestProcessor_InFlightSuppression(t *testing.T) {
	sink := newGateSink()
	f := newFixture(t, testConfig(), sink, nil)
	t0 := time.Now()

	mustEnqueue(t, f.p, snapshot("a", t0, nil))
	sink.await(t)

	mustEnqueue(t, f.p, snapshot("b", t0, nil))
	if !f.tracker.IsInFlight("a") || !f.tracker.IsInFlight("b") {
		t.Fatal("delivering and queued keys must be in flight")
	}

	mustEnqueue(t, f.p, snapshot("a", t0.Add(time.Second), nil))
	if got := f.p.Stats().SuppressedInFlight; got != 1 {
		t.Errorf("suppressed in flight = %d, want 1", got)
	}

	sink.release(t, nil)
	sink.next(t, nil)
	flush(t, f.p)
	sink.assertIdle(t)

	if f.tracker.Len() != 0 {
		t.Errorf("in-flight keys after delivery = %d, want 0", f.tracker.Len())
	}
}

func TestProcessor_QueueFullDropsNewest(t *testing.T) {
	sink := newGateSink()
	cfg := testConfig()
	cfg.MaxQueueSize = 2
	f := newFixture(t, cfg, sink, nil)
	t0 := time.Now()

	mustEnqueue(t, f.p, snapshot("a", t0, nil))
	sink.await(t)
	for _, k := range []string{"b", "c", "d"} {
		mustEnqueue(t, f.p, snapshot(k, t0, nil))
	}

	s := f.p.Stats()
	if s.Queued != 2 || s.BatchesDropped != 1 {
		t.Fatalf("queued=%d dropped=%d, want 2 and 1", s.Queued, s.BatchesDropped)
	}
	if f.tracker.IsInFlight("d") {
		t.Error("dropped batch keys must not be in flight")
	}
	if got := testutil.ToFloat64(f.metrics.batches.WithLabelValues("test", outcomeQueueFull)); got != 1 {
		t.Errorf("queue full metric = %v, want 1", got)
	}

	sink.release(t, nil)
	if got := sink.next(t, nil).Keys()[0]; got != "b" {
		t.Errorf("second delivery = %s, want b", got)
	}
	if got := sink.next(t, nil).Keys()[0]; got != "c" {
		t.Errorf("third delivery = %s, want c", got)
	}
	flush(t, f.p)
	sink.assertIdle(t)
}

func TestProcessor_DeliversOneBatchAtATime(t *testing.T) {
	sink := &recordingSink{delay: 2 * time.Millisecond}
	cfg := testConfig()
	cfg.MaxQueueSize = 50
	f := newFixture(t, cfg, sink, nil)
	t0 := time.Now()

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"}
	for _, k := range keys {
		mustEnqueue(t, f.p, snapshot(k, t0, nil))
	}
	flush(t, f.p)

	if sink.count() != len(keys) {
		t.Fatalf("deliveries = %d, want %d", sink.count(), len(keys))
	}
	if max := atomic.LoadInt32(&sink.maxActive); max != 1 {
		t.Errorf("max concurrent deliveries = %d, want 1", max)
	}
	for i, k := range keys {
		if got := sink.batch(i).Keys()[0]; got != k {
			t.Errorf("delivery %d = %s, want %s", i, got, k)
		}
	}
}

func TestProcessor_RetryThenSuccess(t *testing.T) {
	sink := &recordingSink{fn: func(call int, _ domain.Batch) error {
		if call == 0 {
			return errors.New("network down")
		}
		return nil
	}}
	cfg := testConfig()
	cfg.MaxRetry = 1
	cfg.BaseDelay = 10 * time.Millisecond
	f := newFixture(t, cfg, sink, nil)

	mustEnqueue(t, f.p, snapshot("cls", time.Now(), nil))
	flush(t, f.p)

	if sink.count() != 2 {
		t.Fatalf("deliveries = %d, want 2", sink.count())
	}
	sink.mu.Lock()
	gap := sink.times[1].Sub(sink.times[0])
	sink.mu.Unlock()
	if gap < 10*time.Millisecond {
		t.Errorf("retry after %s, want at least 10ms", gap)
	}
	if sink.batch(1).RetryCount != 1 {
		t.Errorf("retry count on second attempt = %d, want 1", sink.batch(1).RetryCount)
	}
	if f.tracker.IsInFlight("cls") {
		t.Error("key still in flight after successful retry")
	}
	if !f.store.Has("cls") {
		t.Error("delivery time not recorded after successful retry")
	}
}

func TestProcessor_ExponentialBackoffAndDrop(t *testing.T) {
	c := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	sink := &recordingSink{fn: func(int, domain.Batch) error { return errors.New("503") }}
	cfg := testConfig()
	cfg.MaxRetry = 2
	cfg.BaseDelay = 100 * time.Millisecond
	f := newFixture(t, cfg, sink, c)

	mustEnqueue(t, f.p, snapshot("fid", c.Now(), nil))
	waitFor(t, "first retry scheduled", func() bool { return f.p.Stats().ScheduledRetries == 1 })

	c.Advance(99 * time.Millisecond)
	if sink.count() != 1 {
		t.Fatalf("retry fired early: deliveries = %d", sink.count())
	}
	c.Advance(time.Millisecond)
	waitFor(t, "second retry scheduled", func() bool {
		return sink.count() == 2 && f.p.Stats().ScheduledRetries == 1
	})

	c.Advance(199 * time.Millisecond)
	if sink.count() != 2 {
		t.Fatalf("retry fired early: deliveries = %d", sink.count())
	}
	c.Advance(time.Millisecond)
	waitFor(t, "batch dropped", func() bool {
		s := f.p.Stats()
		return sink.count() == 3 && s.BatchesDropped == 1 && !s.Delivering
	})

	s := f.p.Stats()
	if s.BatchesRetried != 2 || s.ScheduledRetries != 0 {
		t.Errorf("retried=%d scheduled=%d, want 2 and 0", s.BatchesRetried, s.ScheduledRetries)
	}
	if f.tracker.IsInFlight("fid") || f.store.Has("fid") {
		t.Error("dropped batch must leave no in-flight key and no delivery time")
	}
}

func TestProcessor_RetryReinsertedAtFront(t *testing.T) {
	c := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	sink := newGateSink()
	cfg := testConfig()
	cfg.MaxRetry = 1
	cfg.BaseDelay = 50 * time.Millisecond
	f := newFixture(t, cfg, sink, c)

	mustEnqueue(t, f.p, snapshot("a", c.Now(), nil))
	sink.await(t)
	mustEnqueue(t, f.p, snapshot("b", c.Now(), nil))
	mustEnqueue(t, f.p, snapshot("c", c.Now(), nil))

	sink.release(t, errors.New("timeout"))
	if got := sink.await(t).Keys()[0]; got != "b" {
		t.Fatalf("delivery after failure = %s, want b", got)
	}

	c.Advance(50 * time.Millisecond)
	sink.release(t, nil)

	retried := sink.next(t, nil)
	if retried.Keys()[0] != "a" || retried.RetryCount != 1 {
		t.Errorf("after b got %s retry=%d, want a retry=1", retried.Keys()[0], retried.RetryCount)
	}
	if got := sink.next(t, nil).Keys()[0]; got != "c" {
		t.Errorf("last delivery = %s, want c", got)
	}
	flush(t, f.p)
}

func TestProcessor_InFlightDuringRetryBackoff(t *testing.T) {
	tests := []struct {
		name         string
		hold         bool
		wantInFlight bool
	}{
		{"cleared on failure", false, false},
		{"held until retry finishes", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := clock.NewFake(time.UnixMilli(1_700_000_000_000))
			sink := newGateSink()
			cfg := testConfig()
			cfg.BatchSize = 2
			cfg.MaxRetry = 1
			cfg.BaseDelay = time.Hour
			cfg.HoldInFlightDuringRetry = tt.hold
			f := newFixture(t, cfg, sink, c)

			mustEnqueue(t, f.p, snapshot("a", c.Now(), nil))
			mustEnqueue(t, f.p, snapshot("b", c.Now(), nil))
			sink.next(t, errors.New("offline"))
			waitFor(t, "retry scheduled", func() bool { return f.p.Stats().ScheduledRetries == 1 })

			if got := f.tracker.IsInFlight("a"); got != tt.wantInFlight {
				t.Fatalf("IsInFlight(a) = %v, want %v", got, tt.wantInFlight)
			}

			mustEnqueue(t, f.p, snapshot("a", c.Now().Add(time.Second), nil))
			s := f.p.Stats()
			if tt.hold && (s.SuppressedInFlight != 1 || s.Pending != 0) {
				t.Errorf("held key accepted: suppressed=%d pending=%d", s.SuppressedInFlight, s.Pending)
			}
			if !tt.hold && (s.SuppressedInFlight != 0 || s.Pending != 1) {
				t.Errorf("cleared key rejected: suppressed=%d pending=%d", s.SuppressedInFlight, s.Pending)
			}
		})
	}
}

func TestProcessor_SinkPanicIsAFailure(t *testing.T) {
	sink := &recordingSink{fn: func(call int, _ domain.Batch) error {
		if call == 0 {
			panic("boom")
		}
		return nil
	}}
	f := newFixture(t, testConfig(), sink, nil)
	t0 := time.Now()

	mustEnqueue(t, f.p, snapshot("a", t0, nil))
	mustEnqueue(t, f.p, snapshot("b", t0, nil))
	flush(t, f.p)

	s := f.p.Stats()
	if sink.count() != 2 || s.BatchesDropped != 1 || s.BatchesDelivered != 1 {
		t.Errorf("deliveries=%d dropped=%d delivered=%d, want 2, 1, 1",
			sink.count(), s.BatchesDropped, s.BatchesDelivered)
	}
	if f.tracker.IsInFlight("a") {
		t.Error("panicked batch key still in flight")
	}
}

func TestProcessor_FlushAllDeliversPartialBatches(t *testing.T) {
	sink := &recordingSink{}
	cfg := testConfig()
	cfg.BatchSize = 2
	f := newFixture(t, cfg, sink, nil)
	t0 := time.Now()

	for _, k := range []string{"a", "b", "c"} {
		mustEnqueue(t, f.p, snapshot(k, t0, nil))
	}
	flush(t, f.p)

	if sink.count() != 2 {
		t.Fatalf("deliveries = %d, want 2", sink.count())
	}
	if n := sink.batch(1).Size(); n != 1 {
		t.Errorf("partial batch size = %d, want 1", n)
	}
	if s := f.p.Stats(); s.Pending != 0 || s.Queued != 0 {
		t.Errorf("after flush pending=%d queued=%d", s.Pending, s.Queued)
	}
}

func TestProcessor_FlushAllHonoursContext(t *testing.T) {
	sink := newGateSink()
	cfg := testConfig()
	cfg.DeliveryTimeout = 200 * time.Millisecond
	f := newFixture(t, cfg, sink, nil)

	mustEnqueue(t, f.p, snapshot("a", time.Now(), nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.p.FlushAll(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("FlushAll() = %v, want DeadlineExceeded", err)
	}
}

func TestProcessor_InvalidItem(t *testing.T) {
	f := newFixture(t, testConfig(), &recordingSink{}, nil)

	if err := f.p.Enqueue(domain.Item{Timestamp: time.Now()}); !errors.Is(err, domain.ErrInvalidItem) {
		t.Errorf("Enqueue(no key) = %v, want ErrInvalidItem", err)
	}
	if err := f.p.Enqueue(domain.Item{Key: "a"}); !errors.Is(err, domain.ErrInvalidItem) {
		t.Errorf("Enqueue(no timestamp) = %v, want ErrInvalidItem", err)
	}
}

func TestProcessor_AttachFlushesOnLifecycleEvents(t *testing.T) {
	sink := &recordingSink{}
	cfg := testConfig()
	cfg.BatchSize = 5
	f := newFixture(t, cfg, sink, nil)
	src := &fakeSource{}
	f.p.Attach(src)
	t0 := time.Now()

	mustEnqueue(t, f.p, snapshot("a", t0, nil))
	src.emit(ports.LifecycleEvent(99))
	if sink.count() != 0 {
		t.Fatalf("unknown event flushed %d batches", sink.count())
	}

	src.emit(ports.EventHidden)
	if sink.count() != 1 {
		t.Fatalf("deliveries after hidden = %d, want 1", sink.count())
	}

	mustEnqueue(t, f.p, snapshot("b", t0, nil))
	src.emit(ports.EventUnload)
	if sink.count() != 2 {
		t.Errorf("deliveries after unload = %d, want 2", sink.count())
	}
}

func TestProcessor_Destroy(t *testing.T) {
	sink := &recordingSink{}
	cfg := testConfig()
	cfg.BatchSize = 5
	f := newFixture(t, cfg, sink, nil)
	src := &fakeSource{}
	f.p.Attach(src)

	mustEnqueue(t, f.p, snapshot("a", time.Now(), nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.p.Destroy(ctx); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}

	if sink.count() != 1 {
		t.Errorf("pending item not flushed on destroy: deliveries = %d", sink.count())
	}
	if src.count() != 0 {
		t.Errorf("lifecycle subscriptions after destroy = %d, want 0", src.count())
	}
	if err := f.p.Enqueue(snapshot("b", time.Now(), nil)); !errors.Is(err, domain.ErrDestroyed) {
		t.Errorf("Enqueue after destroy = %v, want ErrDestroyed", err)
	}
	if err := f.p.Destroy(ctx); err != nil {
		t.Errorf("second Destroy() = %v, want nil", err)
	}
}

func TestProcessor_DestroyCancelsRetries(t *testing.T) {
	c := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	sink := &recordingSink{fn: func(int, domain.Batch) error { return errors.New("down") }}
	cfg := testConfig()
	cfg.MaxRetry = 3
	cfg.BaseDelay = time.Hour
	f := newFixture(t, cfg, sink, c)

	mustEnqueue(t, f.p, snapshot("a", c.Now(), nil))
	waitFor(t, "retry scheduled", func() bool { return f.p.Stats().ScheduledRetries == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := f.p.Destroy(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Destroy() = %v, want DeadlineExceeded", err)
	}

	if s := f.p.Stats(); s.ScheduledRetries != 0 {
		t.Errorf("scheduled retries after destroy = %d, want 0", s.ScheduledRetries)
	}
	c.Advance(2 * time.Hour)
	time.Sleep(10 * time.Millisecond)
	if sink.count() != 1 {
		t.Errorf("deliveries after destroy = %d, want 1", sink.count())
	}
	if f.tracker.Len() != 0 {
		t.Errorf("in-flight keys after destroy = %d, want 0", f.tracker.Len())
	}
}

type recordingEmitter struct {
	mu        sync.Mutex
	successes int
	failures  []bool
}

func (e *recordingEmitter) OnDeliverySuccess(string, int, time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.successes++
}

func (e *recordingEmitter) OnDeliveryError(_ string, _ error, _ int, willRetry bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, willRetry)
}

func TestProcessor_EmitterAndMetrics(t *testing.T) {
	sink := &recordingSink{fn: func(call int, _ domain.Batch) error {
		if call == 0 {
			return errors.New("flaky")
		}
		return nil
	}}
	cfg := testConfig()
	cfg.MaxRetry = 1
	cfg.BaseDelay = time.Millisecond

	st, err := store.New[int64](medium.NewMemory(), store.Options{StorageKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	em := &recordingEmitter{}
	m := NewMetrics(nil)
	p, err := NewProcessor(cfg, sink, st, inflight.New(), WithEmitter(em), WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Destroy(context.Background())

	mustEnqueue(t, p, snapshot("a", time.Now(), nil))
	flush(t, p)

	waitFor(t, "emitter events", func() bool {
		em.mu.Lock()
		defer em.mu.Unlock()
		return em.successes == 1 && len(em.failures) == 1
	})
	em.mu.Lock()
	if !em.failures[0] {
		t.Error("first failure should report a scheduled retry")
	}
	em.mu.Unlock()

	if got := testutil.ToFloat64(m.itemsEnqueued.WithLabelValues("test")); got != 1 {
		t.Errorf("enqueued metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.batches.WithLabelValues("test", outcomeRetried)); got != 1 {
		t.Errorf("retried metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.batches.WithLabelValues("test", outcomeDelivered)); got != 1 {
		t.Errorf("delivered metric = %v, want 1", got)
	}
}
