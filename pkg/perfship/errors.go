package perfship

import (
	"errors"

	"github.com/bft-labs/perfship/internal/domain"
)

// Errors returned by the Agent. They can be matched with errors.Is.
var (
	ErrAlreadyRunning   = domain.ErrAlreadyRunning
	ErrNotRunning       = domain.ErrNotRunning
	ErrShutdownTimeout  = domain.ErrShutdownTimeout
	ErrInvalidConfig    = domain.ErrInvalidConfig
	ErrInvalidItem      = domain.ErrInvalidItem
	ErrDestroyed        = domain.ErrDestroyed
	ErrAnalysisDisabled = errors.New("perfship: analysis is not configured")
)
