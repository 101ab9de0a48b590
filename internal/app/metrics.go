package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batch outcomes recorded on perfship_batches_total.
const (
	outcomeDelivered      = "delivered"
	outcomeRetried        = "retried"
	outcomeQueueFull      = "dropped_queue_full"
	outcomeRetryExhausted = "dropped_retry_exhausted"
)

// Suppression reasons recorded on perfship_items_suppressed_total.
const (
	reasonCoalesced = "coalesced"
	reasonTTL       = "ttl"
	reasonInFlight  = "in_flight"
)

// Metrics holds the prometheus collectors shared by every processor of an
// agent. Each processor writes under its own "processor" label.
type Metrics struct {
	itemsEnqueued   *prometheus.CounterVec
	itemsSuppressed *prometheus.CounterVec
	batches         *prometheus.CounterVec
	queueLength     *prometheus.GaugeVec
	pendingItems    *prometheus.GaugeVec
	deliveryLatency *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered, which is what tests and embedded
// agents without a metrics endpoint want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		itemsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perfship_items_enqueued_total",
			Help: "Total number of items offered to a processor",
		}, []string{"processor"}),
		itemsSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perfship_items_suppressed_total",
			Help: "Items not added to the pending list, by reason",
		}, []string{"processor", "reason"}),
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perfship_batches_total",
			Help: "Batches by delivery outcome",
		}, []string{"processor", "outcome"}),
		queueLength: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perfship_batch_queue_length",
			Help: "Current number of batches waiting for delivery",
		}, []string{"processor"}),
		pendingItems: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perfship_pending_items",
			Help: "Current number of items not yet formed into a batch",
		}, []string{"processor"}),
		deliveryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perfship_delivery_duration_seconds",
			Help:    "Sink delivery latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"processor"}),
	}
}

// processorMetrics binds Metrics to one processor name.
type processorMetrics struct {
	m    *Metrics
	name string
}

func (p processorMetrics) enqueued() {
	p.m.itemsEnqueued.WithLabelValues(p.name).Inc()
}

func (p processorMetrics) suppressed(reason string) {
	p.m.itemsSuppressed.WithLabelValues(p.name, reason).Inc()
}

func (p processorMetrics) batch(outcome string) {
	p.m.batches.WithLabelValues(p.name, outcome).Inc()
}

func (p processorMetrics) observeDelivery(seconds float64) {
	p.m.deliveryLatency.WithLabelValues(p.name).Observe(seconds)
}

func (p processorMetrics) gauges(queued, pending int) {
	p.m.queueLength.WithLabelValues(p.name).Set(float64(queued))
	p.m.pendingItems.WithLabelValues(p.name).Set(float64(pending))
}
