package adminws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// activeHandles holds every resource bound to the current connect cycle. It is only touched by
// the loop goroutine.
type activeHandles struct {
	conn   Conn
	connID string
	// dialCancel aborts an in-flight dial and releases its context.
	dialCancel context.CancelFunc

	heartbeatTimer Timer
	pongTimer      Timer
	authTimer      Timer
	reconnectTimer Timer

	lifecycleUnsubscribers []func()
}

// ConnectionManager keeps an authenticated connection to the metrics stream alive and fans
// inbound updates out to listeners.
//
// All state lives on a single loop goroutine. Public methods, transport callbacks, timers and
// lifecycle hooks only enqueue events, so none of them block and listeners may call back into
// the manager.
type ConnectionManager struct {
	logger    Logger
	dialer    Dialer
	resolver  EndpointResolver
	tokens    TokenProvider
	lifecycle LifecycleAdapter
	clock     Clock
	bus       *EventBus[EventName, Event]
	frames    map[frameKind]KeepAliveMessageFactory

	inbox  *mailbox[event]
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// lifeMu orders posts against Close so nothing lands in the inbox after evShutdown.
	lifeMu sync.RWMutex
	closed atomic.Bool

	stateMu sync.RWMutex
	state   ClientState

	// owned by the loop goroutine
	machine machine
	handles activeHandles
}

type Option func(*ConnectionManager)

func WithLogger(l Logger) Option { return func(m *ConnectionManager) { m.logger = l } }

func WithDialer(d Dialer) Option { return func(m *ConnectionManager) { m.dialer = d } }

func WithResolver(r EndpointResolver) Option { return func(m *ConnectionManager) { m.resolver = r } }

func WithLifecycle(a LifecycleAdapter) Option { return func(m *ConnectionManager) { m.lifecycle = a } }

func WithClock(c Clock) Option { return func(m *ConnectionManager) { m.clock = c } }

// NewConnectionManager validates cfg and starts the manager loop. The manager stays
// Disconnected until Connect is called.
func NewConnectionManager(cfg Config, tokens TokenProvider, opts ...Option) (*ConnectionManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &ConnectionManager{
		logger:    NopLogger(),
		tokens:    tokens,
		lifecycle: NoopLifecycle{},
		clock:     RealClock(),
		inbox:     newMailbox[event](),
		done:      make(chan struct{}),
		frames: map[frameKind]KeepAliveMessageFactory{
			framePing:      NewPingMessage,
			frameKeepalive: NewKeepaliveMessage,
		},
	}
	for _, opt := range opts {
		opt(m)
	}

	m.logger = m.logger.WithField("type", "connection_manager")
	if m.tokens == nil {
		m.tokens = StaticToken("")
	}
	if m.dialer == nil {
		m.dialer = NewWebsocketDialer(m.logger, cfg, ErrorAdapters{})
	}
	if m.resolver == nil {
		resolver, err := NewResolver(m.logger, cfg, m.tokens)
		if err != nil {
			return nil, err
		}
		m.resolver = resolver
	}

	m.bus = NewEventBus[EventName, Event](m.logger)
	m.machine = newMachine(NewReconnectionPolicy(cfg), newHeartbeat(cfg), cfg.AuthTimeout)
	m.state = m.machine.state.Clone()
	m.ctx, m.cancel = context.WithCancel(context.Background())

	go m.run()

	return m, nil
}

// Connect starts a connect cycle and returns immediately. It does nothing while a transport is
// opening or open.
func (m *ConnectionManager) Connect() { m.post(evConnect{}) }

// Disconnect closes the connection cleanly and cancels every timer and hook. It is idempotent.
func (m *ConnectionManager) Disconnect() { m.post(evDisconnect{}) }

// Reconnect disconnects, resets the retry counter and connects again.
func (m *ConnectionManager) Reconnect() { m.post(evReconnect{}) }

// State returns a copy of the current client state.
func (m *ConnectionManager) State() ClientState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	return m.state.Clone()
}

func (m *ConnectionManager) IsConnected() bool {
	return m.State().Status == StateConnected
}

// LastMetrics returns the latest snapshot, if any was received.
func (m *ConnectionManager) LastMetrics() (MetricsSnapshot, bool) {
	s := m.State()
	if s.LastMetrics == nil {
		return MetricsSnapshot{}, false
	}
	return *s.LastMetrics, true
}

// On registers cb for event. Callbacks run on the manager loop, in registration order.
func (m *ConnectionManager) On(event EventName, cb func(Event)) Subscription {
	return m.bus.On(event, cb)
}

func (m *ConnectionManager) Off(sub Subscription) {
	m.bus.Off(sub)
}

// Close disconnects and stops the manager. Further calls on the manager have no effect. Done is
// closed once the loop has exited.
func (m *ConnectionManager) Close() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.closed.Swap(true) {
		return
	}
	m.inbox.put(evShutdown{})
}

func (m *ConnectionManager) Done() <-chan struct{} { return m.done }

// post enqueues ev unless the manager is closed.
func (m *ConnectionManager) post(ev event) bool {
	m.lifeMu.RLock()
	defer m.lifeMu.RUnlock()

	if m.closed.Load() {
		return false
	}
	m.inbox.put(ev)
	return true
}

func (m *ConnectionManager) run() {
	defer close(m.done)

	for range m.inbox.notify {
		batch := m.inbox.drain()
		for i, ev := range batch {
			m.apply(ev)

			if _, ok := ev.(evShutdown); ok {
				m.shutdown(batch[i+1:])
				return
			}
		}
	}
}

// shutdown releases transports that finished dialing while the manager was closing.
func (m *ConnectionManager) shutdown(pending []event) {
	m.cancel()
	m.bus.Close()

	for _, ev := range append(pending, m.inbox.drain()...) {
		if e, ok := ev.(evTransportOpened); ok {
			e.conn.Close(CloseNormal, "manager closed")
		}
	}
}

func (m *ConnectionManager) apply(ev event) {
	switch e := ev.(type) {
	case evTransportOpened:
		if !m.machine.opening(e.gen) {
			e.conn.Close(CloseNormal, "stale connection")
			return
		}
		m.handles.conn = e.conn
		m.handles.connID = e.connID
		e.token, e.hasToken = m.tokens.Token()
		m.listen(e.gen, e.conn)
		ev = e
	case evForeground:
		e.alive = m.handles.conn != nil && m.handles.conn.Alive()
		ev = e
	}

	next, fx := transition(m.machine, ev)
	m.machine = next

	for _, f := range fx {
		m.execute(f)
	}
}

func (m *ConnectionManager) execute(f effect) {
	switch e := f.(type) {
	case effOpenTransport:
		m.open(e.gen)
	case effCloseTransport:
		m.closeTransport(e)
	case effSend:
		m.send(e)
	case effArmHeartbeat:
		m.handles.heartbeatTimer = m.arm(m.handles.heartbeatTimer, e.after, evHeartbeatTick{seq: e.seq})
	case effStopHeartbeat:
		m.handles.heartbeatTimer = stop(m.handles.heartbeatTimer)
	case effArmPongTimeout:
		m.handles.pongTimer = m.arm(m.handles.pongTimer, e.after, evPongTimeout{seq: e.seq})
	case effStopPongTimeout:
		m.handles.pongTimer = stop(m.handles.pongTimer)
	case effArmAuthTimeout:
		m.handles.authTimer = m.arm(m.handles.authTimer, e.after, evAuthTimeout{seq: e.seq})
	case effStopAuthTimeout:
		m.handles.authTimer = stop(m.handles.authTimer)
	case effArmReconnect:
		m.logger.Infof("reconnecting in %s (attempt %d)", e.after, m.machine.attempts)
		m.handles.reconnectTimer = m.arm(m.handles.reconnectTimer, e.after, evReconnectTick{seq: e.seq})
	case effStopReconnect:
		m.handles.reconnectTimer = stop(m.handles.reconnectTimer)
	case effRegisterLifecycle:
		m.registerLifecycle(e.seq)
	case effUnregisterLifecycle:
		m.unregisterLifecycle()
	case effPublishState:
		m.publish(e.state)
	case effEmit:
		m.bus.Emit(e.event.Name, e.event)
	case effLog:
		m.log(e)
	}
}

// open resolves the endpoint and dials on its own goroutine; the outcome comes back as an event.
func (m *ConnectionManager) open(gen uint64) {
	if m.handles.dialCancel != nil {
		m.handles.dialCancel()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.handles.dialCancel = cancel
	connID := uuid.NewString()
	logger := m.logger.WithField("conn_id", connID)

	go func() {
		params, err := m.resolver.Resolve(ctx)
		if err != nil {
			m.post(evTransportFailed{gen: gen, err: err})
			return
		}

		logger.Debugf("dialing %s", params.URL.String())
		conn, err := m.dialer.Dial(ctx, params)
		if err != nil {
			m.post(evTransportFailed{gen: gen, err: err})
			return
		}

		if !m.post(evTransportOpened{gen: gen, conn: conn, connID: connID}) {
			conn.Close(CloseNormal, "manager closed")
		}
	}()
}

func (m *ConnectionManager) listen(gen uint64, conn Conn) {
	logger := m.logger.WithField("conn_id", m.handles.connID)

	conn.Listen(
		func(data []byte) {
			msg, err := ParseWireMessage(data)
			if err != nil {
				logger.Warnf("dropping frame: %s", err)
				return
			}
			m.post(evFrame{gen: gen, msg: msg, at: m.clock.Now()})
		},
		func(code int, reason string) {
			m.post(evTransportClosed{gen: gen, code: code, reason: reason})
		},
	)
}

func (m *ConnectionManager) closeTransport(e effCloseTransport) {
	if m.handles.dialCancel != nil {
		m.handles.dialCancel()
		m.handles.dialCancel = nil
	}
	if m.handles.conn != nil {
		m.handles.conn.Close(e.code, e.reason)
		m.handles.conn = nil
	}
	m.handles.connID = ""
}

func (m *ConnectionManager) send(e effSend) {
	if m.handles.conn == nil {
		m.logger.Debugf("no transport, frame %d not sent", e.frame)
		return
	}

	var data []byte
	if e.frame == frameAuthenticate {
		data = NewAuthenticateMessage(e.token)
	} else {
		data = m.frames[e.frame](m.clock.Now())
	}

	if err := m.handles.conn.Send(data); err != nil {
		m.logger.WithField("conn_id", m.handles.connID).Warnf("cannot send frame: %s", err)
	}
}

// arm replaces t with a new timer posting ev after d.
func (m *ConnectionManager) arm(t Timer, d time.Duration, ev event) Timer {
	stop(t)
	return m.clock.AfterFunc(d, func() { m.post(ev) })
}

func stop(t Timer) Timer {
	if t != nil {
		t.Stop()
	}
	return nil
}

func (m *ConnectionManager) registerLifecycle(seq uint64) {
	unregister := m.lifecycle.Register(LifecycleHooks{
		Background: func() { m.post(evBackground{seq: seq}) },
		Foreground: func() { m.post(evForeground{seq: seq}) },
		Unload:     func() { m.post(evUnload{seq: seq}) },
	})
	m.handles.lifecycleUnsubscribers = append(m.handles.lifecycleUnsubscribers, unregister)
}

func (m *ConnectionManager) unregisterLifecycle() {
	for _, unregister := range m.handles.lifecycleUnsubscribers {
		unregister()
	}
	m.handles.lifecycleUnsubscribers = nil
}

func (m *ConnectionManager) publish(s ClientState) {
	m.stateMu.Lock()
	m.state = s.Clone()
	m.stateMu.Unlock()

	m.logger.Debugf("state %s", s.Status)
	m.bus.Emit(EventStateChange, Event{Name: EventStateChange, State: s})
}

func (m *ConnectionManager) log(e effLog) {
	logger := m.logger
	if m.handles.connID != "" {
		logger = logger.WithField("conn_id", m.handles.connID)
	}

	switch e.level {
	case levelDebug:
		logger.Debug(e.msg)
	case levelInfo:
		logger.Info(e.msg)
	default:
		logger.Warn(e.msg)
	}
}
