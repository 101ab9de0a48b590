package domain

import "errors"

// Domain errors represent error conditions in the perfship domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("perfship: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("perfship: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("perfship: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("perfship: invalid configuration")

	// ErrInvalidItem is returned when an item lacks a key or timestamp.
	ErrInvalidItem = errors.New("perfship: invalid item")

	// ErrQuotaExceeded is returned by a storage medium whose capacity is exhausted.
	ErrQuotaExceeded = errors.New("perfship: storage quota exceeded")

	// ErrDestroyed is returned when a processor is used after Destroy.
	ErrDestroyed = errors.New("perfship: processor destroyed")
)
