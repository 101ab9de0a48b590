package ports

// Medium is a host key-value persistence service.
// Implementations are either session-scoped (lost on restart) or
// persistent-scoped (survive restarts).
type Medium interface {
	// GetItem returns the stored string and true, or "" and false if absent.
	GetItem(key string) (string, bool, error)

	// SetItem stores value under key. An error wrapping
	// domain.ErrQuotaExceeded signals that the medium is full.
	SetItem(key, value string) error

	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(key string) error
}
