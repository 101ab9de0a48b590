package signals

import (
	"os"
	"os/signal"
	"sync"

	"github.com/bft-labs/perfship/internal/ports"
)

// OS turns process signals into lifecycle events: termination signals
// become EventUnload and, where the platform has it, SIGUSR1 becomes
// EventHidden.
type OS struct {
	Hub

	logger ports.Logger
	ch     chan os.Signal
	done   chan struct{}
	once   sync.Once
}

// NewOS starts listening for process signals. Call Close to stop.
func NewOS(logger ports.Logger) *OS {
	s := &OS{
		logger: logger,
		ch:     make(chan os.Signal, 4),
		done:   make(chan struct{}),
	}
	signal.Notify(s.ch, notifySignals...)
	go s.loop()
	return s
}

func (s *OS) loop() {
	for {
		select {
		case <-s.done:
			return
		case sig := <-s.ch:
			ev, ok := eventFor(sig)
			if !ok {
				continue
			}
			s.logger.Info("lifecycle signal received",
				ports.String("signal", sig.String()),
				ports.String("event", ev.String()),
			)
			s.Emit(ev)
		}
	}
}

// Close stops signal delivery. It is safe to call more than once.
func (s *OS) Close() error {
	s.once.Do(func() {
		signal.Stop(s.ch)
		close(s.done)
	})
	return nil
}
