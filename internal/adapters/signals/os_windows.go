//go:build windows

package signals

import (
	"os"
	"syscall"

	"github.com/bft-labs/perfship/internal/ports"
)

var notifySignals = []os.Signal{syscall.SIGTERM, os.Interrupt}

func eventFor(sig os.Signal) (ports.LifecycleEvent, bool) {
	switch sig {
	case syscall.SIGTERM, os.Interrupt:
		return ports.EventUnload, true
	default:
		return 0, false
	}
}
