package adminws

import (
	"time"
)

// KeepAliveMessageFactory builds the frame sent on every heartbeat tick.
type KeepAliveMessageFactory func(now time.Time) []byte

// heartbeat holds the cadence of keepalive frames. In the foreground a ping is sent every
// interval; in the background the cadence switches to backgroundInterval with keepalive frames.
type heartbeat struct {
	interval           time.Duration
	backgroundInterval time.Duration
	// pongTimeout of zero disables staleness detection.
	pongTimeout time.Duration
}

func newHeartbeat(cfg Config) heartbeat {
	return heartbeat{
		interval:           cfg.HeartbeatInterval,
		backgroundInterval: cfg.BackgroundHeartbeatInterval,
		pongTimeout:        cfg.PongTimeout,
	}
}

func (h heartbeat) every(background bool) time.Duration {
	if background {
		return h.backgroundInterval
	}
	return h.interval
}

func (h heartbeat) frame(background bool) frameKind {
	if background {
		return frameKeepalive
	}
	return framePing
}

func (m *machine) startHeartbeat() []effect {
	fx := m.stopHeartbeat()

	m.heartbeatSeq++
	m.heartbeatOn = true

	return append(fx, effArmHeartbeat{seq: m.heartbeatSeq, after: m.heartbeat.every(m.background)})
}

// stopHeartbeat also drops any pending pong expectation: both belong to the live connection.
func (m *machine) stopHeartbeat() []effect {
	fx := m.stopPongTimeout()
	if !m.heartbeatOn {
		return fx
	}

	m.heartbeatOn = false
	m.heartbeatSeq++

	return append(fx, effStopHeartbeat{})
}

func (m *machine) heartbeatTick(e evHeartbeatTick) []effect {
	if !m.heartbeatOn || e.seq != m.heartbeatSeq || m.state.Status != StateConnected {
		return nil
	}

	frame := m.heartbeat.frame(m.background)
	fx := []effect{effSend{frame: frame}}

	if frame == framePing && m.heartbeat.pongTimeout > 0 && !m.pongPending {
		m.pongSeq++
		m.pongPending = true
		fx = append(fx, effArmPongTimeout{seq: m.pongSeq, after: m.heartbeat.pongTimeout})
	}

	return append(fx, effArmHeartbeat{seq: m.heartbeatSeq, after: m.heartbeat.every(m.background)})
}

func (m *machine) stopPongTimeout() []effect {
	if !m.pongPending {
		return nil
	}

	m.pongPending = false
	m.pongSeq++

	return []effect{effStopPongTimeout{}}
}

// pongTimeout treats a ping left unanswered as a dead connection.
func (m *machine) pongTimeout(e evPongTimeout) []effect {
	if !m.pongPending || e.seq != m.pongSeq || m.state.Status != StateConnected {
		return nil
	}

	m.pongPending = false
	reason := "no pong within " + m.heartbeat.pongTimeout.String()

	fx := []effect{effLog{level: levelWarn, msg: reason}}
	fx = append(fx, m.teardown(CloseHeartbeatTimeout, "heartbeat timeout")...)
	return append(fx, m.scheduleRetry(ErrUnexpectedClose{Code: CloseHeartbeatTimeout, Reason: reason}.Error())...)
}
