package medium

import (
	"fmt"
	"io"

	"github.com/bft-labs/perfship/internal/domain"
	"github.com/bft-labs/perfship/internal/ports"
)

// Storage types.
const (
	TypeSession    = "session"
	TypePersistent = "persistent"
)

// Persistent backends.
const (
	BackendFile   = "file"
	BackendPebble = "pebble"
)

// Config selects and configures a medium.
type Config struct {
	// Type is TypeSession or TypePersistent.
	Type string

	// Backend chooses the persistent implementation. Default: BackendFile.
	Backend string

	// Dir is the directory for persistent backends.
	Dir string

	// QuotaBytes caps the medium's size when positive.
	QuotaBytes int64
}

// Open builds the medium described by cfg. The returned closer releases
// backend resources and is never nil.
func Open(cfg Config) (ports.Medium, io.Closer, error) {
	var (
		m      ports.Medium
		closer io.Closer = nopCloser{}
	)

	switch cfg.Type {
	case TypeSession:
		m = NewMemory()
	case TypePersistent, "":
		if cfg.Dir == "" {
			return nil, nil, fmt.Errorf("%w: storage dir is required for persistent storage", domain.ErrInvalidConfig)
		}
		switch cfg.Backend {
		case BackendFile, "":
			m = NewFile(cfg.Dir)
		case BackendPebble:
			p, err := OpenPebble(PebbleOptions{DataDir: cfg.Dir})
			if err != nil {
				return nil, nil, err
			}
			m, closer = p, p
		default:
			return nil, nil, fmt.Errorf("%w: unknown storage backend %q", domain.ErrInvalidConfig, cfg.Backend)
		}
	default:
		return nil, nil, fmt.Errorf("%w: unknown storage type %q", domain.ErrInvalidConfig, cfg.Type)
	}

	if cfg.QuotaBytes > 0 {
		m = NewQuota(m, cfg.QuotaBytes)
	}
	return m, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
