package ports

// LifecycleEvent is a host signal that in-memory telemetry should be flushed.
type LifecycleEvent int

const (
	// EventHidden means the host went to the background and may be suspended.
	EventHidden LifecycleEvent = iota + 1

	// EventUnload means the host is about to terminate.
	EventUnload
)

// String returns a human-readable representation of the event.
func (e LifecycleEvent) String() string {
	switch e {
	case EventHidden:
		return "hidden"
	case EventUnload:
		return "unload"
	default:
		return "unknown"
	}
}

// LifecycleSource delivers lifecycle events to subscribers.
type LifecycleSource interface {
	// Subscribe registers fn and returns a function that unregisters it.
	Subscribe(fn func(LifecycleEvent)) (unsubscribe func())
}
