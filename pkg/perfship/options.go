package perfship

import (
	"github.com/prometheus/client_golang/prometheus"

	httpAdapter "github.com/bft-labs/perfship/internal/adapters/http"
	"github.com/bft-labs/perfship/internal/clock"
	"github.com/bft-labs/perfship/internal/domain"
	"github.com/bft-labs/perfship/internal/ports"
	"github.com/bft-labs/perfship/pkg/log"
)

// Re-exported types so callers never import internal packages.
type (
	// Item is one measurement snapshot.
	Item = domain.Item

	// Batch is a group of items handed to a Sink.
	Batch = domain.Batch

	// Sink transports batches. *http.Client based sinks are built in.
	Sink = ports.Sink

	// SinkFunc adapts a function to Sink.
	SinkFunc = ports.SinkFunc

	// HTTPClient is the interface for making HTTP requests.
	// *http.Client satisfies this interface.
	HTTPClient = ports.HTTPClient

	// LifecycleSource delivers hidden and unload events.
	LifecycleSource = ports.LifecycleSource

	// LifecycleEvent is a hidden or unload signal.
	LifecycleEvent = ports.LifecycleEvent

	// Clock supplies time to the batching pipeline.
	Clock = clock.Clock

	// AnalysisHandler receives the analysis text for a delivered batch.
	AnalysisHandler = httpAdapter.AnalysisHandler
)

// Lifecycle events.
const (
	EventHidden = ports.EventHidden
	EventUnload = ports.EventUnload
)

// Option configures optional behavior of an Agent.
type Option func(*options)

// options holds the optional configuration for an Agent.
type options struct {
	httpClient      ports.HTTPClient
	logger          log.Logger
	eventHandler    EventHandler
	reportSink      ports.Sink
	analysisSink    ports.Sink
	analysisHandler AnalysisHandler
	registerer      prometheus.Registerer
	clock           clock.Clock
	sources         []ports.LifecycleSource
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() options {
	return options{
		logger: log.NoopLogger{},
		clock:  clock.Real(),
	}
}

// WithHTTPClient sets a custom HTTP client for the built-in sinks.
// If not provided, a client with the configured timeout is used.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventHandler sets a handler for agent events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithSink replaces the HTTP report sink. ServiceURL is then optional.
func WithSink(sink Sink) Option {
	return func(o *options) {
		o.reportSink = sink
	}
}

// WithAnalysisSink replaces the HTTP analysis sink and enables the
// analysis pipeline even without an AnalysisURL.
func WithAnalysisSink(sink Sink) Option {
	return func(o *options) {
		o.analysisSink = sink
	}
}

// WithAnalysisHandler sets the callback receiving analysis results from
// the built-in analysis sink.
func WithAnalysisHandler(h AnalysisHandler) Option {
	return func(o *options) {
		o.analysisHandler = h
	}
}

// WithRegisterer registers the agent's prometheus metrics on reg.
// Without it metrics are collected but not registered anywhere.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithClock replaces the real clock, mostly for tests.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLifecycleSource flushes both pipelines whenever src reports that
// the host is hidden or unloading. May be given more than once.
func WithLifecycleSource(src LifecycleSource) Option {
	return func(o *options) {
		o.sources = append(o.sources, src)
	}
}
