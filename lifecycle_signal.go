package adminws

import (
	"os"
	"os/signal"
	"sync"
)

// SignalLifecycle drives lifecycle hooks from OS signals, for hosts without a visibility API:
// a supervisor sends BackgroundSignal when the process is parked and ForegroundSignal when it
// is active again. UnloadSignals trigger a clean disconnect.
type SignalLifecycle struct {
	logger           Logger
	BackgroundSignal os.Signal
	ForegroundSignal os.Signal
	UnloadSignals    []os.Signal
}

func (s *SignalLifecycle) Register(hooks LifecycleHooks) func() {
	logger := s.logger
	if logger == nil {
		logger = NopLogger()
	}

	signals := append([]os.Signal{}, s.UnloadSignals...)
	if s.BackgroundSignal != nil {
		signals = append(signals, s.BackgroundSignal)
	}
	if s.ForegroundSignal != nil {
		signals = append(signals, s.ForegroundSignal)
	}

	ch := make(chan os.Signal, 4)
	done := make(chan struct{})
	signal.Notify(ch, signals...)

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				logger.Debugf("received %s", sig)
				switch {
				case s.BackgroundSignal != nil && sig == s.BackgroundSignal:
					hooks.Background()
				case s.ForegroundSignal != nil && sig == s.ForegroundSignal:
					hooks.Foreground()
				default:
					hooks.Unload()
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}
