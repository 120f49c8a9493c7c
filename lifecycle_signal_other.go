//go:build !unix

package adminws

import (
	"os"
)

// NewSignalLifecycle only maps os.Interrupt to unload on platforms without user signals.
func NewSignalLifecycle(logger Logger) *SignalLifecycle {
	return &SignalLifecycle{
		logger:        logger.WithField("type", "signal_lifecycle"),
		UnloadSignals: []os.Signal{os.Interrupt},
	}
}
