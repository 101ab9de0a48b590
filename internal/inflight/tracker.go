// Package inflight tracks keys whose batch delivery has not resolved yet.
package inflight

import "sync"

// Tracker is an in-memory set of keys currently inside an unresolved batch
// delivery. It is never persisted; every process starts with an empty set.
type Tracker struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{keys: make(map[string]struct{})}
}

// IsInFlight returns true if key is awaiting delivery resolution.
func (t *Tracker) IsInFlight(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.keys[key]
	return ok
}

// Mark adds keys to the in-flight set.
func (t *Tracker) Mark(keys ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range keys {
		t.keys[k] = struct{}{}
	}
}

// Clear removes keys from the in-flight set.
func (t *Tracker) Clear(keys ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range keys {
		delete(t.keys, k)
	}
}

// ClearAll empties the set.
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys = make(map[string]struct{})
}

// Len returns the number of keys in flight.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.keys)
}
