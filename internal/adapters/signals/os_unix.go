//go:build !windows

package signals

import (
	"os"
	"syscall"

	"github.com/bft-labs/perfship/internal/ports"
)

var notifySignals = []os.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1}

func eventFor(sig os.Signal) (ports.LifecycleEvent, bool) {
	switch sig {
	case syscall.SIGTERM, syscall.SIGINT:
		return ports.EventUnload, true
	case syscall.SIGUSR1:
		return ports.EventHidden, true
	default:
		return 0, false
	}
}
