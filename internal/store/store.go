package store

import (
	"errors"
	"sync"
	"time"

	"github.com/bft-labs/perfship/internal/clock"
	"github.com/bft-labs/perfship/internal/ports"
	"github.com/bft-labs/perfship/pkg/log"
)

// Defaults applied by New when an option is left zero.
const (
	DefaultMaxEntries = 1000
	DefaultWriteDelay = 100 * time.Millisecond
)

// Options configures a Store.
type Options struct {
	// StorageKey names the blob inside the medium. Required.
	StorageKey string

	// MaxEntries bounds the number of entries. Default: 1000.
	MaxEntries int

	// WriteDelay is the debounce window for write-through. Default: 100ms.
	WriteDelay time.Duration

	// Clock drives access times and the debounce timer. Default: real time.
	Clock clock.Clock

	// Logger receives restore and persistence diagnostics. Default: no-op.
	Logger log.Logger
}

// Entry is a snapshot of one stored key.
type Entry[V any] struct {
	Key        string
	Value      V
	LastAccess time.Time
}

type node[V any] struct {
	key      string
	value    V
	accessed time.Time
	prev     *node[V]
	next     *node[V]
}

// Store is a capacity-bounded LRU map persisted to a Medium.
// It is safe for concurrent use.
type Store[V any] struct {
	mu sync.Mutex

	medium     ports.Medium
	storageKey string
	maxEntries int
	writeDelay time.Duration
	clock      clock.Clock
	logger     log.Logger

	// items maps keys to list nodes; head.next is the most recently used
	// entry and tail.prev the least recently used one.
	items map[string]*node[V]
	head  *node[V]
	tail  *node[V]

	writeTimer clock.Timer
	dirty      bool
	closed     bool
}

// New creates a Store and restores its contents from medium.
// Restore problems are logged, never returned: a damaged blob yields a
// partially or fully empty store.
func New[V any](medium ports.Medium, opts Options) (*Store[V], error) {
	if medium == nil {
		return nil, errors.New("store: medium is required")
	}
	if opts.StorageKey == "" {
		return nil, errors.New("store: storage key is required")
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.WriteDelay <= 0 {
		opts.WriteDelay = DefaultWriteDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = log.NoopLogger{}
	}

	s := &Store[V]{
		medium:     medium,
		storageKey: opts.StorageKey,
		maxEntries: opts.MaxEntries,
		writeDelay: opts.WriteDelay,
		clock:      opts.Clock,
		logger:     log.With(opts.Logger, log.String("storage_key", opts.StorageKey)),
		items:      make(map[string]*node[V], opts.MaxEntries),
		head:       &node[V]{},
		tail:       &node[V]{},
	}
	s.head.next = s.tail
	s.tail.prev = s.head

	s.restore()
	return s, nil
}

// Get returns the value for key, or def if absent. A hit refreshes the
// key's access time.
func (s *Store[V]) Get(key string, def V) V {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[key]
	if !ok {
		return def
	}
	n.accessed = s.clock.Now()
	s.moveToFront(n)
	s.scheduleWriteLocked()
	return n.value
}

// Set inserts or updates key. Inserting a new key into a full store first
// evicts the least recently accessed entry.
func (s *Store[V]) Set(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if n, ok := s.items[key]; ok {
		n.value = value
		n.accessed = now
		s.moveToFront(n)
		s.scheduleWriteLocked()
		return
	}

	if len(s.items) >= s.maxEntries {
		s.evictOldestLocked()
	}

	n := &node[V]{key: key, value: value, accessed: now}
	s.addToFront(n)
	s.items[key] = n
	s.scheduleWriteLocked()
}

// IsExpired reports whether key is absent or was last accessed at least ttl
// ago. It does not touch the access time.
func (s *Store[V]) IsExpired(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[key]
	if !ok {
		return true
	}
	return s.clock.Now().Sub(n.accessed) >= ttl
}

// Has returns true if key is present. It does not touch the access time.
func (s *Store[V]) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	return ok
}

// Delete removes key. It returns true if the key was present.
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[key]
	if !ok {
		return false
	}
	s.unlink(n)
	delete(s.items, key)
	s.scheduleWriteLocked()
	return true
}

// Len returns the number of entries.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Entries returns all entries ordered from least to most recently accessed.
func (s *Store[V]) Entries() []Entry[V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesLocked()
}

// Keys returns all keys ordered from least to most recently accessed.
func (s *Store[V]) Keys() []string {
	entries := s.Entries()
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

// Values returns all values ordered from least to most recently accessed.
func (s *Store[V]) Values() []V {
	entries := s.Entries()
	values := make([]V, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	return values
}

// Clear removes every entry and erases the persisted copy.
func (s *Store[V]) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*node[V], s.maxEntries)
	s.head.next = s.tail
	s.tail.prev = s.head
	s.stopTimerLocked()
	s.dirty = false

	if err := s.medium.RemoveItem(s.storageKey); err != nil {
		s.logger.Error("failed to remove persisted store", log.Err(err))
		return err
	}
	return nil
}

// Flush writes pending changes to the medium immediately.
func (s *Store[V]) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimerLocked()
	if !s.dirty {
		return nil
	}
	return s.persistLocked()
}

// Close flushes pending changes and stops write scheduling. Later mutations
// stay in memory until the next explicit Flush.
func (s *Store[V]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.stopTimerLocked()
	if !s.dirty {
		return nil
	}
	return s.persistLocked()
}

func (s *Store[V]) entriesLocked() []Entry[V] {
	out := make([]Entry[V], 0, len(s.items))
	for n := s.tail.prev; n != s.head; n = n.prev {
		out = append(out, Entry[V]{Key: n.key, Value: n.value, LastAccess: n.accessed})
	}
	return out
}

func (s *Store[V]) evictOldestLocked() (string, bool) {
	oldest := s.tail.prev
	if oldest == s.head {
		return "", false
	}
	s.unlink(oldest)
	delete(s.items, oldest.key)
	s.logger.Debug("evicted least recently used entry", log.String("key", oldest.key))
	return oldest.key, true
}

func (s *Store[V]) addToFront(n *node[V]) {
	n.prev = s.head
	n.next = s.head.next
	s.head.next.prev = n
	s.head.next = n
}

func (s *Store[V]) unlink(n *node[V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

func (s *Store[V]) moveToFront(n *node[V]) {
	if s.head.next == n {
		return
	}
	s.unlink(n)
	s.addToFront(n)
}
