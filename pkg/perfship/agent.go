package perfship

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	httpAdapter "github.com/bft-labs/perfship/internal/adapters/http"
	"github.com/bft-labs/perfship/internal/adapters/medium"
	"github.com/bft-labs/perfship/internal/adapters/spool"
	"github.com/bft-labs/perfship/internal/app"
	"github.com/bft-labs/perfship/internal/inflight"
	"github.com/bft-labs/perfship/internal/ports"
	"github.com/bft-labs/perfship/internal/store"
	"github.com/bft-labs/perfship/pkg/log"
)

// Pipeline names, used in log fields, metric labels and delivery events.
const (
	PipelineReports  = "reports"
	PipelineAnalysis = "analysis"
)

// ProcessorStats is a snapshot of one pipeline.
type ProcessorStats = app.Stats

// Stats is a snapshot of every pipeline of an Agent. Analysis is nil when
// the analysis pipeline is disabled.
type Stats struct {
	Reports  ProcessorStats
	Analysis *ProcessorStats
}

type pipeline struct {
	name      string
	processor *app.Processor
	store     *store.Store[int64]
}

// Agent batches performance snapshots and ships them to the ingest service
// and, optionally, to the analysis service.
// Use New() to create an instance, then Start() to accept snapshots.
type Agent struct {
	config    Config
	opts      options
	lifecycle *app.Lifecycle
	logger    log.Logger

	reports  *pipeline
	analysis *pipeline
	closers  []io.Closer
	spool    *spool.Watcher

	mu sync.Mutex

	netMu   sync.RWMutex
	network NetworkStatus
}

// New creates a new Agent with the given configuration.
// The instance is created in StateIdle; call Start() to begin, and Stop()
// or Close() to release its storage.
// Returns an error if configuration is invalid or storage cannot be opened.
func New(cfg Config, opts ...Option) (*Agent, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.reportSink == nil && cfg.ServiceURL == "" {
		return nil, fmt.Errorf("%w: service url is required", ErrInvalidConfig)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	emitter := &eventEmitterWrapper{handler: o.eventHandler}
	a := &Agent{
		config:    cfg,
		opts:      o,
		lifecycle: app.NewLifecycle(o.logger, emitter),
		logger:    o.logger,
	}
	metrics := app.NewMetrics(o.registerer)

	reportSink := o.reportSink
	if reportSink == nil {
		reportSink = httpAdapter.NewReportSink(o.httpClient, httpAdapter.ReportConfig{
			ServiceURL: cfg.ServiceURL,
			AuthKey:    cfg.AuthKey,
		}, o.logger)
	}
	m, closer, err := medium.Open(medium.Config{
		Type:       cfg.StorageType,
		Backend:    cfg.StorageBackend,
		Dir:        cfg.StorageDir,
		QuotaBytes: cfg.QuotaBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("open report storage: %w", err)
	}
	a.closers = append(a.closers, closer)

	a.reports, err = a.newPipeline(PipelineReports, cfg.StorageKey, m, reportSink, metrics, emitter)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	if o.analysisSink != nil || cfg.AnalysisURL != "" {
		analysisSink := o.analysisSink
		if analysisSink == nil {
			analysisSink = httpAdapter.NewAnalysisSink(o.httpClient, httpAdapter.AnalysisConfig{
				AnalysisURL: cfg.AnalysisURL,
				AuthKey:     cfg.AuthKey,
			}, o.analysisHandler, o.logger)
		}
		a.analysis, err = a.newPipeline(PipelineAnalysis, DefaultAnalysisStorageKey, medium.NewMemory(), analysisSink, metrics, emitter)
		if err != nil {
			a.closeResources()
			return nil, err
		}
	}

	if cfg.SpoolDir != "" {
		a.spool, err = spool.New(spool.Config{Dir: cfg.SpoolDir}, a.Report, o.logger)
		if err != nil {
			a.closeResources()
			return nil, err
		}
	}

	return a, nil
}

func (a *Agent) newPipeline(
	name, storageKey string,
	m ports.Medium,
	sink ports.Sink,
	metrics *app.Metrics,
	emitter *eventEmitterWrapper,
) (*pipeline, error) {
	st, err := store.New[int64](m, store.Options{
		StorageKey: storageKey,
		MaxEntries: a.config.MaxEntries,
		Clock:      a.opts.clock,
		Logger:     log.With(a.logger, log.String("storage_key", storageKey)),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", name, err)
	}

	p, err := app.NewProcessor(a.config.processorConfig(name), sink, st, inflight.New(),
		app.WithLogger(a.logger),
		app.WithClock(a.opts.clock),
		app.WithMetrics(metrics),
		app.WithEmitter(emitter),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &pipeline{name: name, processor: p, store: st}, nil
}

// Start makes the agent accept snapshots, subscribes it to the configured
// lifecycle sources and starts the spool watcher, if any.
// The provided context bounds the spool watcher; Stop must still be called.
// An agent starts at most once: Start after Stop or Close returns
// ErrDestroyed.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	runCtx, err := a.lifecycle.Begin(ctx, "Start() called")
	if err != nil {
		return err
	}

	for _, src := range a.opts.sources {
		for _, p := range a.pipelines() {
			p.processor.Attach(src)
		}
	}

	if a.spool != nil {
		a.lifecycle.Go(func() {
			if err := a.spool.Run(runCtx); err != nil {
				a.logger.Error("spool watcher stopped", log.Err(err))
			}
		})
	}

	return a.lifecycle.TransitionTo(app.StateRunning, "agent started")
}

// Stop stops the spool watcher, flushes both pipelines and releases
// storage, all within 30 seconds. Returns nil on graceful shutdown,
// ErrShutdownTimeout if work was abandoned and ErrNotRunning if the agent
// is not running; use Close to release an agent that was never started.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if err := a.lifecycle.TransitionTo(app.StateStopping, "Stop() called"); err != nil {
		a.mu.Unlock()
		if errors.Is(err, ErrDestroyed) {
			return ErrNotRunning
		}
		return err
	}
	a.mu.Unlock()

	deadline := time.Now().Add(app.ShutdownTimeout)
	waitErr := a.lifecycle.Shutdown(deadline)

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	destroyErr := a.destroy(ctx)

	if waitErr != nil || errors.Is(destroyErr, context.DeadlineExceeded) {
		_ = a.lifecycle.TransitionTo(app.StateCrashed, "shutdown deadline exceeded")
		return ErrShutdownTimeout
	}
	_ = a.lifecycle.TransitionTo(app.StateStopped, "graceful shutdown")
	return destroyErr
}

// Close releases the agent whatever its state: a running agent is stopped
// as by Stop, an agent that was never started has its storage closed.
// Closing a stopped agent is a no-op.
func (a *Agent) Close() error {
	a.mu.Lock()
	state := a.lifecycle.State()
	if state != app.StateIdle {
		a.mu.Unlock()
		if state.Terminal() {
			return nil
		}
		return a.Stop()
	}
	err := a.lifecycle.TransitionTo(app.StateStopped, "closed before start")
	a.mu.Unlock()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()
	return a.destroy(ctx)
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (a *Agent) Status() State {
	return a.lifecycle.State()
}

// Report offers a snapshot to the report pipeline. The current network
// status is added as the "network" payload field unless the item already
// carries one. Returns ErrNotRunning before Start and after Stop.
func (a *Agent) Report(item Item) error {
	if err := a.accepting(); err != nil {
		return err
	}
	return a.reports.processor.Enqueue(a.stampNetwork(item))
}

// Analyze offers a snapshot to the analysis pipeline.
func (a *Agent) Analyze(item Item) error {
	if err := a.accepting(); err != nil {
		return err
	}
	if a.analysis == nil {
		return ErrAnalysisDisabled
	}
	return a.analysis.processor.Enqueue(a.stampNetwork(item))
}

// FlushAll delivers everything pending in both pipelines, waiting until
// they are idle or ctx ends.
func (a *Agent) FlushAll(ctx context.Context) error {
	var errs []error
	for _, p := range a.pipelines() {
		if err := p.processor.FlushAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of both pipelines.
func (a *Agent) Stats() Stats {
	s := Stats{Reports: a.reports.processor.Stats()}
	if a.analysis != nil {
		as := a.analysis.processor.Stats()
		s.Analysis = &as
	}
	return s
}

// SetNetworkStatus records the connection subsequent snapshots are taken on.
func (a *Agent) SetNetworkStatus(n NetworkStatus) {
	a.netMu.Lock()
	defer a.netMu.Unlock()
	a.network = n
}

// NetworkStatus returns the last recorded connection status.
func (a *Agent) NetworkStatus() NetworkStatus {
	a.netMu.RLock()
	defer a.netMu.RUnlock()
	return a.network
}

func (a *Agent) accepting() error {
	if s := a.lifecycle.State(); s == app.StateIdle || s.Terminal() {
		return ErrNotRunning
	}
	return nil
}

func (a *Agent) stampNetwork(item Item) Item {
	n := a.NetworkStatus()
	if n.IsZero() || item.Has("network") {
		return item
	}
	return item.With("network", n.payload())
}

func (a *Agent) pipelines() []*pipeline {
	out := []*pipeline{a.reports}
	if a.analysis != nil {
		out = append(out, a.analysis)
	}
	return out
}

// destroy flushes and tears down every pipeline, then releases storage.
func (a *Agent) destroy(ctx context.Context) error {
	var errs []error
	for _, p := range a.pipelines() {
		if err := p.processor.Destroy(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
		}
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *Agent) closeResources() error {
	var errs []error
	for _, p := range []*pipeline{a.reports, a.analysis} {
		if p == nil {
			continue
		}
		if err := p.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s store: %w", p.name, err))
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
