package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/perfship/internal/domain"
	"github.com/bft-labs/perfship/internal/ports"
	"github.com/bft-labs/perfship/pkg/log"
)

// ShutdownTimeout bounds a whole Stop: waiting for workers and flushing
// the pipelines share one deadline.
const ShutdownTimeout = 30 * time.Second

// State is a step in an agent's one-way life: an agent is started at most
// once and, once stopped or crashed, stays that way.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateCrashed
)

var stateNames = [...]string{
	StateIdle:     "idle",
	StateStarting: "starting",
	StateRunning:  "running",
	StateStopping: "stopping",
	StateStopped:  "stopped",
	StateCrashed:  "crashed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateCrashed
}

// transitions lists the allowed next states. Idle may go straight to
// Stopped when an agent is closed without ever being started.
var transitions = map[State][]State{
	StateIdle:     {StateStarting, StateStopped},
	StateStarting: {StateRunning, StateStopping, StateCrashed},
	StateRunning:  {StateStopping, StateCrashed},
	StateStopping: {StateStopped, StateCrashed},
}

// EventEmitter is called after every state change.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// Lifecycle holds an agent's state and the background workers it started.
type Lifecycle struct {
	mu      sync.RWMutex
	state   State
	cancel  context.CancelFunc
	workers sync.WaitGroup

	logger  ports.Logger
	emitter EventEmitter
}

// NewLifecycle returns a lifecycle in StateIdle. emitter may be nil.
func NewLifecycle(logger ports.Logger, emitter EventEmitter) *Lifecycle {
	return &Lifecycle{
		state:   StateIdle,
		logger:  logger,
		emitter: emitter,
	}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo moves to next. Leaving a terminal state fails with
// ErrDestroyed; other illegal moves fail with ErrNotRunning before the
// agent runs and ErrAlreadyRunning afterwards.
func (l *Lifecycle) TransitionTo(next State, reason string) error {
	l.mu.Lock()
	prev := l.state
	if err := checkTransition(prev, next); err != nil {
		l.mu.Unlock()
		return err
	}
	l.state = next
	l.mu.Unlock()

	if l.emitter != nil {
		l.emitter.OnStateChange(prev, next, reason)
	}
	l.logger.Info("agent state changed",
		log.String("from", prev.String()),
		log.String("to", next.String()),
		log.String("reason", reason),
	)
	return nil
}

func checkTransition(from, to State) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	switch {
	case from.Terminal():
		return domain.ErrDestroyed
	case from == StateIdle, from == StateStopping:
		return domain.ErrNotRunning
	default:
		return domain.ErrAlreadyRunning
	}
}

// Begin moves Idle to Starting and returns the context workers run under.
// It is cancelled by Shutdown.
func (l *Lifecycle) Begin(parent context.Context, reason string) (context.Context, error) {
	if err := l.TransitionTo(StateStarting, reason); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(parent)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	return ctx, nil
}

// Go runs fn as a tracked worker.
func (l *Lifecycle) Go(fn func()) {
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		fn()
	}()
}

// Shutdown cancels the worker context and waits for the workers until
// deadline. It returns ErrShutdownTimeout if they are still running then.
func (l *Lifecycle) Shutdown(deadline time.Time) error {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		l.workers.Wait()
		close(done)
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		l.logger.Warn("workers still running at shutdown deadline",
			log.Duration("overdue", time.Since(deadline)),
		)
		return domain.ErrShutdownTimeout
	}
}
