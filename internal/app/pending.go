package app

import (
	"github.com/bft-labs/perfship/internal/domain"
)

// pendingList holds items that are not yet part of a batch.
// It is not safe for concurrent use; the processor guards it.
type pendingList struct {
	items     []domain.Item
	batchSize int
	primary   []string
}

func newPendingList(batchSize int, primary []string) *pendingList {
	return &pendingList{
		items:     make([]domain.Item, 0, batchSize),
		batchSize: batchSize,
		primary:   primary,
	}
}

// Coalesce merges item into a pending entry with the same key whose
// timestamp is less than CoalesceWindow away. The incoming item replaces
// the pending one only when it carries a primary field and the pending one
// does not. Returns true when item was absorbed.
func (l *pendingList) Coalesce(item domain.Item) bool {
	for i, existing := range l.items {
		if existing.Key != item.Key {
			continue
		}
		gap := item.Timestamp.Sub(existing.Timestamp)
		if gap < 0 {
			gap = -gap
		}
		if gap >= CoalesceWindow {
			continue
		}
		if !l.hasPrimary(existing) && l.hasPrimary(item) {
			l.items[i] = item
		}
		return true
	}
	return false
}

// Add appends item and returns a batch of exactly batchSize items taken
// from the front once enough are pending, or nil.
func (l *pendingList) Add(item domain.Item) *domain.Batch {
	l.items = append(l.items, item)
	if len(l.items) < l.batchSize {
		return nil
	}
	return l.take(l.batchSize)
}

// Drain splits everything pending into batches of at most batchSize.
func (l *pendingList) Drain() []*domain.Batch {
	var out []*domain.Batch
	for len(l.items) > 0 {
		n := l.batchSize
		if n > len(l.items) {
			n = len(l.items)
		}
		out = append(out, l.take(n))
	}
	return out
}

// Len returns the number of pending items.
func (l *pendingList) Len() int {
	return len(l.items)
}

// Reset drops every pending item.
func (l *pendingList) Reset() {
	l.items = l.items[:0]
}

func (l *pendingList) take(n int) *domain.Batch {
	head := make([]domain.Item, n)
	copy(head, l.items[:n])
	rest := copy(l.items, l.items[n:])
	l.items = l.items[:rest]
	return domain.NewBatch(head)
}

func (l *pendingList) hasPrimary(item domain.Item) bool {
	for _, f := range l.primary {
		if item.Has(f) {
			return true
		}
	}
	return false
}
