package store

import (
	"errors"
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"github.com/bft-labs/perfship/internal/domain"
	"github.com/bft-labs/perfship/pkg/log"
)

// restore loads the persisted triples. Each malformed triple is skipped on its own.
func (s *Store[V]) restore() {
	raw, ok, err := s.medium.GetItem(s.storageKey)
	if err != nil {
		s.logger.Error("failed to read persisted store, starting empty", log.Err(err))
		return
	}
	if !ok || raw == "" {
		return
	}

	var triples []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &triples); err != nil {
		s.logger.Warn("persisted store is not a JSON array, starting empty", log.Err(err))
		return
	}

	restored := make([]*node[V], 0, len(triples))
	for i, t := range triples {
		n, err := decodeTriple[V](t)
		if err != nil {
			s.logger.Warn("skipping malformed persisted entry",
				log.Int("index", i),
				log.Err(err),
			)
			continue
		}
		restored = append(restored, n)
	}

	// Oldest first, so that the last insertion ends up most recently used.
	sort.SliceStable(restored, func(i, j int) bool {
		return restored[i].accessed.Before(restored[j].accessed)
	})
	if over := len(restored) - s.maxEntries; over > 0 {
		s.logger.Warn("persisted store exceeds capacity, dropping oldest entries",
			log.Int("dropped", over),
			log.Int("max_entries", s.maxEntries),
		)
		restored = restored[over:]
	}

	for _, n := range restored {
		if prev, ok := s.items[n.key]; ok {
			s.unlink(prev)
		}
		s.addToFront(n)
		s.items[n.key] = n
	}

	s.logger.Debug("restored persisted store", log.Int("entries", len(s.items)))
}

func decodeTriple[V any](raw json.RawMessage) (*node[V], error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("not an array: %w", err)
	}
	if len(parts) != 3 {
		return nil, fmt.Errorf("expected 3 elements, got %d", len(parts))
	}

	var key string
	if err := json.Unmarshal(parts[0], &key); err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	if key == "" {
		return nil, errors.New("key: empty")
	}

	var value V
	if err := json.Unmarshal(parts[1], &value); err != nil {
		return nil, fmt.Errorf("value for %q: %w", key, err)
	}

	var ts float64
	if err := json.Unmarshal(parts[2], &ts); err != nil {
		return nil, fmt.Errorf("timestamp for %q: %w", key, err)
	}

	return &node[V]{key: key, value: value, accessed: time.UnixMilli(int64(ts))}, nil
}

func (s *Store[V]) serializeLocked() (string, error) {
	entries := s.entriesLocked()
	triples := make([][3]any, len(entries))
	for i, e := range entries {
		triples[i] = [3]any{e.Key, e.Value, e.LastAccess.UnixMilli()}
	}
	data, err := json.Marshal(triples)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store[V]) scheduleWriteLocked() {
	s.dirty = true
	if s.closed || s.writeTimer != nil {
		return
	}
	s.writeTimer = s.clock.AfterFunc(s.writeDelay, s.flushScheduled)
}

func (s *Store[V]) flushScheduled() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeTimer = nil
	if !s.dirty {
		return
	}
	_ = s.persistLocked()
}

func (s *Store[V]) stopTimerLocked() {
	if s.writeTimer != nil {
		s.writeTimer.Stop()
		s.writeTimer = nil
	}
}

// persistLocked writes the whole map. A quota rejection evicts the least
// recently used entry and retries until the write fits or the store is empty.
func (s *Store[V]) persistLocked() error {
	for {
		data, err := s.serializeLocked()
		if err != nil {
			s.logger.Error("failed to serialize store", log.Err(err))
			return err
		}

		err = s.medium.SetItem(s.storageKey, data)
		if err == nil {
			s.dirty = false
			return nil
		}

		if !errors.Is(err, domain.ErrQuotaExceeded) {
			s.logger.Error("failed to persist store, keeping state in memory", log.Err(err))
			return err
		}

		key, ok := s.evictOldestLocked()
		if !ok {
			s.logger.Error("storage quota exceeded even with an empty store, giving up", log.Err(err))
			return err
		}
		s.logger.Warn("storage quota exceeded, evicted entry and retrying",
			log.String("evicted", key),
			log.Int("remaining", len(s.items)),
		)
	}
}
