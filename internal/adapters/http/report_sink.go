package http

import (
	"context"
	"strings"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/bft-labs/perfship/internal/domain"
	"github.com/bft-labs/perfship/internal/ports"
)

const perfSnapshotsEndpoint = "/v1/ingest/perf-snapshots"

// ReportConfig configures a ReportSink.
type ReportConfig struct {
	ServiceURL string
	AuthKey    string
	Breaker    BreakerConfig
}

type reportRequest struct {
	BatchID string        `json:"batch_id"`
	Items   []domain.Item `json:"items"`
}

// ReportSink implements ports.Sink by posting batches to the ingest service.
type ReportSink struct {
	url    string
	poster poster
	cb     *gobreaker.CircuitBreaker[[]byte]
	logger ports.Logger
}

// NewReportSink creates a new HTTP report sink.
func NewReportSink(client ports.HTTPClient, cfg ReportConfig, logger ports.Logger) *ReportSink {
	return &ReportSink{
		url:    strings.TrimRight(cfg.ServiceURL, "/") + perfSnapshotsEndpoint,
		poster: newPoster(client, cfg.AuthKey),
		cb:     newBreaker("perfship-reports", cfg.Breaker, logger),
		logger: logger,
	}
}

// Deliver posts the batch. While the breaker is open it fails fast with
// gobreaker.ErrOpenState so the processor backs off.
func (s *ReportSink) Deliver(ctx context.Context, batch domain.Batch) error {
	if batch.Empty() {
		return nil
	}
	_, err := s.cb.Execute(func() ([]byte, error) {
		return s.poster.post(ctx, s.url, reportRequest{BatchID: batch.ID, Items: batch.Items})
	})
	if err != nil {
		return err
	}
	s.logger.Debug("report batch accepted",
		ports.String("batch_id", batch.ID),
		ports.Int("items", batch.Size()),
	)
	return nil
}

// BreakerState returns the circuit breaker state, e.g. "closed".
func (s *ReportSink) BreakerState() string {
	return s.cb.State().String()
}
