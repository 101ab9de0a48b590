package perfship

import (
	"time"

	"github.com/bft-labs/perfship/internal/app"
)

// State is the lifecycle state of an Agent. An Agent moves forward only:
// Idle, Starting, Running, Stopping, then Stopped or Crashed.
type State = app.State

const (
	// StateIdle is the state after New.
	StateIdle = app.StateIdle
	// StateStarting is the state during Start.
	StateStarting = app.StateStarting
	// StateRunning is the state while snapshots are accepted.
	StateRunning = app.StateRunning
	// StateStopping is the state during Stop.
	StateStopping = app.StateStopping
	// StateStopped is the state after a graceful Stop or Close.
	StateStopped = app.StateStopped
	// StateCrashed is the state after a Stop that hit its deadline.
	StateCrashed = app.StateCrashed
)

// StateChangeEvent is emitted on every lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// DeliverySuccessEvent is emitted after a batch was accepted by its sink.
type DeliverySuccessEvent struct {
	// Pipeline is "reports" or "analysis".
	Pipeline  string
	ItemCount int
	Duration  time.Duration
}

// DeliveryErrorEvent is emitted after a failed delivery attempt.
type DeliveryErrorEvent struct {
	Pipeline  string
	Error     error
	ItemCount int
	WillRetry bool
}

// EventHandler receives Agent events. Calls are synchronous: on the
// caller's goroutine for state changes and on the delivery goroutine for
// deliveries, so implementations should return quickly.
type EventHandler interface {
	OnStateChange(StateChangeEvent)
	OnDeliverySuccess(DeliverySuccessEvent)
	OnDeliveryError(DeliveryErrorEvent)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to
// override only the events you need.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent)         {}
func (BaseEventHandler) OnDeliverySuccess(DeliverySuccessEvent) {}
func (BaseEventHandler) OnDeliveryError(DeliveryErrorEvent)     {}

// eventEmitterWrapper adapts EventHandler to the internal emitter interfaces.
type eventEmitterWrapper struct {
	handler EventHandler
}

func (e *eventEmitterWrapper) OnStateChange(previous, current app.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Previous: previous,
		Current:  current,
		Reason:   reason,
	})
}

func (e *eventEmitterWrapper) OnDeliverySuccess(pipeline string, itemCount int, duration time.Duration) {
	if e.handler == nil {
		return
	}
	e.handler.OnDeliverySuccess(DeliverySuccessEvent{
		Pipeline:  pipeline,
		ItemCount: itemCount,
		Duration:  duration,
	})
}

func (e *eventEmitterWrapper) OnDeliveryError(pipeline string, err error, itemCount int, willRetry bool) {
	if e.handler == nil {
		return
	}
	e.handler.OnDeliveryError(DeliveryErrorEvent{
		Pipeline:  pipeline,
		Error:     err,
		ItemCount: itemCount,
		WillRetry: willRetry,
	})
}
