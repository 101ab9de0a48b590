package domain

import "github.com/google/uuid"

// Batch is an ordered group of items delivered to a sink together.
// RetryCount counts failed deliveries so far.
type Batch struct {
	// ID is an opaque token identifying the batch across retries.
	ID string

	// Items holds the snapshots in enqueue order.
	Items []Item

	// RetryCount is the number of failed delivery attempts.
	RetryCount int
}

// NewBatch creates a batch owning items with a fresh ID.
func NewBatch(items []Item) *Batch {
	return &Batch{
		ID:    uuid.NewString(),
		Items: items,
	}
}

// Size returns the number of items in the batch.
func (b Batch) Size() int {
	return len(b.Items)
}

// Empty returns true if the batch has no items.
func (b Batch) Empty() bool {
	return len(b.Items) == 0
}

// Keys returns the distinct item keys in first-seen order.
func (b Batch) Keys() []string {
	seen := make(map[string]struct{}, len(b.Items))
	keys := make([]string, 0, len(b.Items))
	for _, it := range b.Items {
		if _, ok := seen[it.Key]; ok {
			continue
		}
		seen[it.Key] = struct{}{}
		keys = append(keys, it.Key)
	}
	return keys
}
