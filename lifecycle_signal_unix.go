//go:build unix

package adminws

import (
	"os"
	"syscall"
)

// NewSignalLifecycle maps SIGUSR1 to background, SIGUSR2 to foreground and SIGTERM to unload.
//
// While the hooks are registered SIGTERM is captured: it only disconnects the manager and the
// process keeps running. Hosts that must exit on SIGTERM need their own handler, for example
// signal.NotifyContext, or should set UnloadSignals to nil.
func NewSignalLifecycle(logger Logger) *SignalLifecycle {
	return &SignalLifecycle{
		logger:           logger.WithField("type", "signal_lifecycle"),
		BackgroundSignal: syscall.SIGUSR1,
		ForegroundSignal: syscall.SIGUSR2,
		UnloadSignals:    []os.Signal{syscall.SIGTERM},
	}
}
