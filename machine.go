package adminws

import (
	"time"

	"github.com/fasthttp/websocket"
)

const (
	CloseNormal           = websocket.CloseNormalClosure
	CloseAbnormal         = websocket.CloseAbnormalClosure
	CloseHeartbeatTimeout = 4000
	CloseAuthTimeout      = 4001
)

type transportPhase int

const (
	transportIdle transportPhase = iota
	transportOpening
	transportOpen
)

type event interface{ isEvent() }

type (
	evConnect    struct{}
	evDisconnect struct{}
	evReconnect  struct{}

	evTransportOpened struct {
		gen      uint64
		conn     Conn
		connID   string
		token    string
		hasToken bool
	}
	evTransportFailed struct {
		gen uint64
		err error
	}
	evTransportClosed struct {
		gen    uint64
		code   int
		reason string
	}
	evFrame struct {
		gen uint64
		msg WireMessage
		at  time.Time
	}

	evHeartbeatTick struct{ seq uint64 }
	evPongTimeout   struct{ seq uint64 }
	evAuthTimeout   struct{ seq uint64 }
	evReconnectTick struct{ seq uint64 }

	evBackground struct{ seq uint64 }
	evForeground struct {
		seq   uint64
		alive bool
	}
	evUnload struct{ seq uint64 }

	evShutdown struct{}
)

func (evConnect) isEvent()         {}
func (evDisconnect) isEvent()      {}
func (evReconnect) isEvent()       {}
func (evTransportOpened) isEvent() {}
func (evTransportFailed) isEvent() {}
func (evTransportClosed) isEvent() {}
func (evFrame) isEvent()           {}
func (evHeartbeatTick) isEvent()   {}
func (evPongTimeout) isEvent()     {}
func (evAuthTimeout) isEvent()     {}
func (evReconnectTick) isEvent()   {}
func (evBackground) isEvent()      {}
func (evForeground) isEvent()      {}
func (evUnload) isEvent()          {}
func (evShutdown) isEvent()        {}

type frameKind int

const (
	frameAuthenticate frameKind = iota
	framePing
	frameKeepalive
)

type logLevel int

const (
	levelDebug logLevel = iota
	levelInfo
	levelWarn
)

type effect interface{ isEffect() }

type (
	effOpenTransport struct{ gen uint64 }

	effCloseTransport struct {
		gen    uint64
		code   int
		reason string
	}

	effSend struct {
		frame frameKind
		token string
	}

	effArmHeartbeat struct {
		seq   uint64
		after time.Duration
	}

	effStopHeartbeat struct{}

	effArmPongTimeout struct {
		seq   uint64
		after time.Duration
	}

	effStopPongTimeout struct{}

	effArmAuthTimeout struct {
		seq   uint64
		after time.Duration
	}

	effStopAuthTimeout struct{}

	effArmReconnect struct {
		seq   uint64
		after time.Duration
	}

	effStopReconnect struct{}

	effRegisterLifecycle struct{ seq uint64 }

	effUnregisterLifecycle struct{}

	effPublishState struct{ state ClientState }

	effEmit struct{ event Event }

	effLog struct {
		level logLevel
		msg   string
	}
)

func (effOpenTransport) isEffect()       {}
func (effCloseTransport) isEffect()      {}
func (effSend) isEffect()                {}
func (effArmHeartbeat) isEffect()        {}
func (effStopHeartbeat) isEffect()       {}
func (effArmPongTimeout) isEffect()      {}
func (effStopPongTimeout) isEffect()     {}
func (effArmAuthTimeout) isEffect()      {}
func (effStopAuthTimeout) isEffect()     {}
func (effArmReconnect) isEffect()        {}
func (effStopReconnect) isEffect()       {}
func (effRegisterLifecycle) isEffect()   {}
func (effUnregisterLifecycle) isEffect() {}
func (effPublishState) isEffect()        {}
func (effEmit) isEffect()                {}
func (effLog) isEffect()                 {}

// machine is the connection state machine. It performs no I/O: every event yields the next
// machine and the side effects the manager has to carry out, in order.
type machine struct {
	policy    ReconnectionPolicy
	heartbeat heartbeat
	// authTimeout of zero waits for the handshake reply forever.
	authTimeout time.Duration

	state    ClientState
	attempts int

	// gen identifies the current transport; events from previous ones are dropped.
	gen       uint64
	transport transportPhase

	heartbeatSeq uint64
	heartbeatOn  bool
	pongSeq      uint64
	pongPending  bool

	authSeq     uint64
	authPending bool

	reconnectSeq     uint64
	reconnectPending bool

	lifecycleSeq uint64
	lifecycleOn  bool
	background   bool
}

func newMachine(policy ReconnectionPolicy, hb heartbeat, authTimeout time.Duration) machine {
	return machine{
		policy:      policy,
		heartbeat:   hb,
		authTimeout: authTimeout,
		state:       ClientState{Status: StateDisconnected},
	}
}

// transition is the table of the connection state machine.
func transition(m machine, ev event) (machine, []effect) {
	var fx []effect

	switch e := ev.(type) {
	case evConnect:
		fx = m.connect()
	case evDisconnect, evShutdown:
		fx = m.disconnect()
	case evReconnect:
		fx = m.reconnect()
	case evTransportOpened:
		fx = m.transportOpened(e)
	case evTransportFailed:
		fx = m.transportFailed(e)
	case evTransportClosed:
		fx = m.transportClosed(e)
	case evFrame:
		fx = m.frame(e)
	case evHeartbeatTick:
		fx = m.heartbeatTick(e)
	case evPongTimeout:
		fx = m.pongTimeout(e)
	case evAuthTimeout:
		fx = m.authTimedOut(e)
	case evReconnectTick:
		fx = m.reconnectTick(e)
	case evBackground:
		fx = m.enterBackground(e)
	case evForeground:
		fx = m.enterForeground(e)
	case evUnload:
		fx = m.unload(e)
	}

	return m, fx
}

// current reports whether gen is the transport the machine is waiting on.
func (m *machine) current(gen uint64) bool {
	return m.transport != transportIdle && gen == m.gen
}

func (m *machine) opening(gen uint64) bool {
	return m.transport == transportOpening && gen == m.gen
}

func (m *machine) publish() effect {
	return effPublishState{state: m.state.Clone()}
}

func (m *machine) connect() []effect {
	if m.transport != transportIdle {
		return nil
	}

	fx := m.stopReconnect()

	m.gen++
	m.transport = transportOpening
	m.state.Status = StateConnecting

	return append(fx, m.publish(), effOpenTransport{gen: m.gen})
}

func (m *machine) disconnect() []effect {
	fx := m.teardown(CloseNormal, "client disconnect")
	fx = append(fx, m.stopReconnect()...)

	if m.state.Status != StateDisconnected {
		m.state.Status = StateDisconnected
		fx = append(fx, m.publish())
	}
	return fx
}

func (m *machine) reconnect() []effect {
	fx := m.disconnect()

	m.attempts = 0
	m.state.ReconnectCount = 0

	return append(fx, m.connect()...)
}

// teardown releases everything bound to the live connection: heartbeat, pong and handshake
// timers, lifecycle hooks and, when still present, the transport itself.
func (m *machine) teardown(code int, reason string) []effect {
	fx := m.stopHeartbeat()
	fx = append(fx, m.stopAuthTimeout()...)
	fx = append(fx, m.unregisterLifecycle()...)

	if m.transport != transportIdle {
		fx = append(fx, effCloseTransport{gen: m.gen, code: code, reason: reason})
		m.transport = transportIdle
	}
	return fx
}

func (m *machine) transportFailed(e evTransportFailed) []effect {
	if !m.opening(e.gen) {
		return nil
	}

	m.transport = transportIdle

	fx := []effect{effLog{level: levelWarn, msg: "cannot open transport: " + e.err.Error()}}
	return append(fx, m.scheduleRetry(e.err.Error())...)
}

func (m *machine) transportClosed(e evTransportClosed) []effect {
	if !m.current(e.gen) {
		return nil
	}

	// the transport is already gone, nothing to close
	m.transport = transportIdle
	fx := m.teardown(e.code, e.reason)

	if e.code == CloseNormal {
		m.state.Status = StateDisconnected
		return append(fx, effLog{level: levelInfo, msg: "connection closed cleanly"}, m.publish())
	}

	err := ErrUnexpectedClose{Code: e.code, Reason: e.reason}
	fx = append(fx, effLog{level: levelWarn, msg: err.Error()})
	return append(fx, m.scheduleRetry(err.Error())...)
}

// scheduleRetry moves to StateError and, budget permitting, arms the reconnect timer.
func (m *machine) scheduleRetry(reason string) []effect {
	fx := m.stopReconnect()

	delay, ok := m.policy.Next(m.attempts)
	if !ok {
		m.state.Status = StateError
		m.state.Error = ErrMaxAttemptsReached.Error()
		return append(fx,
			effLog{level: levelWarn, msg: ErrMaxAttemptsReached.Error()},
			m.publish(),
			effEmit{event: Event{Name: EventError, Message: m.state.Error}},
		)
	}

	m.attempts++
	m.reconnectSeq++
	m.reconnectPending = true
	m.state.Status = StateError
	m.state.Error = reason
	m.state.ReconnectCount = m.attempts

	return append(fx,
		m.publish(),
		effArmReconnect{seq: m.reconnectSeq, after: delay},
	)
}

func (m *machine) stopReconnect() []effect {
	if !m.reconnectPending {
		return nil
	}
	m.reconnectPending = false
	m.reconnectSeq++
	return []effect{effStopReconnect{}}
}

func (m *machine) reconnectTick(e evReconnectTick) []effect {
	if !m.reconnectPending || e.seq != m.reconnectSeq {
		return nil
	}
	m.reconnectPending = false
	return m.connect()
}
