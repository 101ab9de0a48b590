// Package signals provides ports.LifecycleSource implementations: an
// in-process Hub and an OS signal adapter built on it.
package signals

import (
	"sort"
	"sync"

	"github.com/bft-labs/perfship/internal/ports"
)

// Hub fans lifecycle events out to subscribers. The zero value is ready
// to use.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(ports.LifecycleEvent)
}

// Subscribe registers fn and returns a function that unregisters it.
// The returned function may be called more than once.
func (h *Hub) Subscribe(fn func(ports.LifecycleEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func(ports.LifecycleEvent))
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// Emit calls every subscriber in subscription order and returns once all
// of them have returned.
func (h *Hub) Emit(ev ports.LifecycleEvent) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(ports.LifecycleEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.subs[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
