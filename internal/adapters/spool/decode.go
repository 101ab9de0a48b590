package spool

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/bft-labs/perfship/internal/domain"
	"github.com/bft-labs/perfship/internal/ports"
)

// maxLineBytes bounds a single NDJSON record.
const maxLineBytes = 1 << 20

// EnqueueFunc receives every decoded item.
type EnqueueFunc func(domain.Item) error

// Result summarizes one decoded stream.
type Result struct {
	Accepted int
	Skipped  int
}

// Decode reads newline-delimited JSON items from r and passes each to
// enqueue. Blank lines are ignored. Lines that fail to decode, and items
// enqueue rejects as invalid, are logged and skipped. Decoding stops at
// the first other enqueue error, which is returned.
func Decode(r io.Reader, enqueue EnqueueFunc, logger ports.Logger) (Result, error) {
	var res Result
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		var item domain.Item
		if err := json.Unmarshal(raw, &item); err != nil {
			res.Skipped++
			logger.Warn("skipping malformed spool line", ports.Int("line", line), ports.Err(err))
			continue
		}
		if err := enqueue(item); err != nil {
			if errors.Is(err, domain.ErrInvalidItem) {
				res.Skipped++
				logger.Warn("skipping invalid spool item", ports.Int("line", line), ports.Err(err))
				continue
			}
			return res, fmt.Errorf("line %d: %w", line, err)
		}
		res.Accepted++
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("read spool: %w", err)
	}
	return res, nil
}
