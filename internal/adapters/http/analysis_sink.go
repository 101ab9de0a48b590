package http

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/bft-labs/perfship/internal/domain"
	"github.com/bft-labs/perfship/internal/ports"
)

const analyzeEndpoint = "/v1/analyze"

// AnalysisHandler receives the analysis text produced for a batch.
type AnalysisHandler func(batch domain.Batch, analysis string)

// AnalysisConfig configures an AnalysisSink.
type AnalysisConfig struct {
	AnalysisURL string
	AuthKey     string
	Breaker     BreakerConfig
}

type analysisRequest struct {
	Prompt    string        `json:"prompt"`
	Snapshots []domain.Item `json:"snapshots"`
}

type analysisResponse struct {
	Analysis string `json:"analysis"`
}

// AnalysisSink implements ports.Sink by asking the analysis service to
// comment on a batch of snapshots.
type AnalysisSink struct {
	url     string
	poster  poster
	cb      *gobreaker.CircuitBreaker[[]byte]
	handler AnalysisHandler
	logger  ports.Logger
}

// NewAnalysisSink creates a new analysis sink. handler may be nil, in
// which case results are only logged.
func NewAnalysisSink(client ports.HTTPClient, cfg AnalysisConfig, handler AnalysisHandler, logger ports.Logger) *AnalysisSink {
	return &AnalysisSink{
		url:     strings.TrimRight(cfg.AnalysisURL, "/") + analyzeEndpoint,
		poster:  newPoster(client, cfg.AuthKey),
		cb:      newBreaker("perfship-analysis", cfg.Breaker, logger),
		handler: handler,
		logger:  logger,
	}
}

// Deliver posts the batch and hands the returned analysis to the handler.
func (s *AnalysisSink) Deliver(ctx context.Context, batch domain.Batch) error {
	if batch.Empty() {
		return nil
	}
	body, err := s.cb.Execute(func() ([]byte, error) {
		return s.poster.post(ctx, s.url, analysisRequest{
			Prompt:    renderPrompt(batch.Items),
			Snapshots: batch.Items,
		})
	})
	if err != nil {
		return err
	}

	var resp analysisResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode analysis response: %w", err)
	}

	s.logger.Info("analysis received",
		ports.String("batch_id", batch.ID),
		ports.Int("snapshots", batch.Size()),
	)
	if s.handler != nil {
		s.handler(batch, resp.Analysis)
	}
	return nil
}

// renderPrompt lists every snapshot as "key: field=value ..." with the
// payload fields in name order.
func renderPrompt(items []domain.Item) string {
	var b strings.Builder
	b.WriteString("Review these performance measurements and point out regressions and likely causes.\n")
	for _, it := range items {
		fields := make([]string, 0, len(it.Payload))
		for k := range it.Payload {
			fields = append(fields, k)
		}
		sort.Strings(fields)

		fmt.Fprintf(&b, "- %s at %s:", it.Key, it.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"))
		for _, k := range fields {
			fmt.Fprintf(&b, " %s=%v", k, it.Payload[k])
		}
		b.WriteByte('\n')
	}
	return b.String()
}
