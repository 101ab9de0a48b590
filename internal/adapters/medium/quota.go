package medium

import (
	"fmt"
	"sync"

	"github.com/bft-labs/perfship/internal/domain"
	"github.com/bft-labs/perfship/internal/ports"
)

// Quota bounds the total bytes (keys plus values) an inner medium may hold,
// the way browsers cap local storage per origin.
type Quota struct {
	mu    sync.Mutex
	inner ports.Medium
	limit int64
	sizes map[string]int64
	used  int64
}

// NewQuota wraps inner with a limit in bytes. Keys already present in inner
// are not counted until they are rewritten.
func NewQuota(inner ports.Medium, limit int64) *Quota {
	return &Quota{
		inner: inner,
		limit: limit,
		sizes: make(map[string]int64),
	}
}

// GetItem delegates to the inner medium.
func (q *Quota) GetItem(key string) (string, bool, error) {
	return q.inner.GetItem(key)
}

// SetItem rejects writes that would push usage past the limit.
func (q *Quota) SetItem(key, value string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	size := int64(len(key) + len(value))
	next := q.used - q.sizes[key] + size
	if next > q.limit {
		return fmt.Errorf("%w: %d bytes requested, limit %d", domain.ErrQuotaExceeded, next, q.limit)
	}
	if err := q.inner.SetItem(key, value); err != nil {
		return err
	}
	q.used = next
	q.sizes[key] = size
	return nil
}

// RemoveItem deletes key and releases its bytes.
func (q *Quota) RemoveItem(key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.inner.RemoveItem(key); err != nil {
		return err
	}
	q.used -= q.sizes[key]
	delete(q.sizes, key)
	return nil
}

// Used returns the bytes currently accounted for.
func (q *Quota) Used() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}
