package adminws

// LifecycleHooks are the callbacks a LifecycleAdapter fires. All of them are safe to call from
// any goroutine and after the hooks have been unregistered.
type LifecycleHooks struct {
	// Background reports that the host moved out of the foreground.
	Background func()
	// Foreground reports that the host is visible again.
	Foreground func()
	// Unload reports an intentional teardown of the host.
	Unload func()
}

// LifecycleAdapter plugs host platform signals into a ConnectionManager. Register is called when
// the connection becomes Connected; the returned function is called on every exit from it.
type LifecycleAdapter interface {
	Register(hooks LifecycleHooks) (unregister func())
}

// NoopLifecycle is the default adapter for hosts without visibility signals.
type NoopLifecycle struct{}

func (NoopLifecycle) Register(LifecycleHooks) func() { return func() {} }

func (m *machine) registerLifecycle() []effect {
	fx := m.unregisterLifecycle()

	m.lifecycleSeq++
	m.lifecycleOn = true

	return append(fx, effRegisterLifecycle{seq: m.lifecycleSeq})
}

func (m *machine) unregisterLifecycle() []effect {
	if !m.lifecycleOn {
		return nil
	}

	m.lifecycleOn = false
	m.lifecycleSeq++

	return []effect{effUnregisterLifecycle{}}
}

func (m *machine) lifecycleActive(seq uint64) bool {
	return m.lifecycleOn && seq == m.lifecycleSeq && m.state.Status == StateConnected
}

func (m *machine) enterBackground(e evBackground) []effect {
	if !m.lifecycleActive(e.seq) || m.background {
		return nil
	}

	m.background = true
	fx := []effect{effLog{level: levelDebug, msg: "host in background, heartbeat every " + m.heartbeat.every(true).String()}}
	return append(fx, m.startHeartbeat()...)
}

func (m *machine) enterForeground(e evForeground) []effect {
	if !m.lifecycleActive(e.seq) {
		return nil
	}

	if !e.alive {
		fx := []effect{effLog{level: levelWarn, msg: "transport found closed on foreground, reconnecting"}}
		return append(fx, m.reconnect()...)
	}

	if !m.background {
		return nil
	}

	m.background = false
	return m.startHeartbeat()
}

// unload closes cleanly so the reconnection policy does not kick in.
func (m *machine) unload(e evUnload) []effect {
	if !m.lifecycleActive(e.seq) {
		return nil
	}
	return m.disconnect()
}
