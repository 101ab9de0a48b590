package medium

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/cockroachdb/pebble"

	"github.com/bft-labs/perfship/internal/domain"
)

const pebbleKeyPrefix = "perfship/"

// PebbleOptions configures a Pebble medium.
type PebbleOptions struct {
	// DataDir is the path to the Pebble database directory. Required.
	DataDir string

	// SyncWrites fsyncs the WAL on every write. When false, writes reach
	// the WAL unsynced: they survive a process crash but not a power loss.
	SyncWrites bool
}

// Pebble is a persistent-scoped medium backed by a Pebble database.
type Pebble struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
}

// OpenPebble opens or creates the database at opts.DataDir.
func OpenPebble(opts PebbleOptions) (*Pebble, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: DataDir is required")
	}

	writeOpts := pebble.NoSync
	if opts.SyncWrites {
		writeOpts = pebble.Sync
	}

	db, err := pebble.Open(opts.DataDir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Pebble{db: db, writeOpts: writeOpts}, nil
}

// GetItem copies the value stored under key.
func (p *Pebble) GetItem(key string) (string, bool, error) {
	val, closer, err := p.db.Get(pebbleKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	defer closer.Close()
	return string(val), true, nil
}

// SetItem stores value under key.
func (p *Pebble) SetItem(key, value string) error {
	b := p.db.NewBatch()
	defer b.Close()
	if err := b.Set(pebbleKey(key), []byte(value), nil); err != nil {
		return err
	}
	if err := b.Commit(p.writeOpts); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return fmt.Errorf("%w: %v", domain.ErrQuotaExceeded, err)
		}
		return err
	}
	return nil
}

// RemoveItem deletes key.
func (p *Pebble) RemoveItem(key string) error {
	return p.db.Delete(pebbleKey(key), p.writeOpts)
}

// Close closes the database.
func (p *Pebble) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func pebbleKey(key string) []byte {
	return []byte(pebbleKeyPrefix + key)
}
