package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/bft-labs/perfship/internal/ports"
)

// maxErrorBody bounds how much of a failed response is quoted in errors.
const maxErrorBody = 512

// BreakerConfig tunes the circuit breaker in front of a sink.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker. Default: 5.
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before letting a
	// probe request through. Default: 30s.
	OpenTimeout time.Duration
}

func newBreaker(name string, cfg BreakerConfig, logger ports.Logger) *gobreaker.CircuitBreaker[[]byte] {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.OpenTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				ports.String("breaker", name),
				ports.String("from", from.String()),
				ports.String("to", to.String()),
			)
		},
	})
}

// poster sends JSON bodies with the agent's identifying headers.
type poster struct {
	client   ports.HTTPClient
	authKey  string
	hostname string
}

func newPoster(client ports.HTTPClient, authKey string) poster {
	if client == nil {
		client = http.DefaultClient
	}
	hostname, _ := os.Hostname()
	return poster{client: client, authKey: authKey, hostname: hostname}
}

// post marshals body, sends it to url and returns the response body of a
// 2xx answer. Any other status is an error quoting the response.
func (p poster) post(ctx context.Context, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.authKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.authKey)
	}
	req.Header.Set("X-Agent-Hostname", p.hostname)
	req.Header.Set("X-Agent-OSArch", runtime.GOOS+"/"+runtime.GOARCH)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, nil
}
