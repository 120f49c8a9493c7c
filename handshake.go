package adminws

import (
	"bytes"
	"time"
)

func (m *machine) transportOpened(e evTransportOpened) []effect {
	if !m.opening(e.gen) {
		return nil
	}

	m.transport = transportOpen
	m.state.Status = StateAuthenticating
	fx := []effect{m.publish()}

	if !e.hasToken {
		return append(fx, m.failAuth(ErrNoCredential.Error())...)
	}

	fx = append(fx, effSend{frame: frameAuthenticate, token: e.token})
	if m.authTimeout <= 0 {
		return fx
	}

	m.authSeq++
	m.authPending = true
	return append(fx, effArmAuthTimeout{seq: m.authSeq, after: m.authTimeout})
}

func (m *machine) stopAuthTimeout() []effect {
	if !m.authPending {
		return nil
	}

	m.authPending = false
	m.authSeq++

	return []effect{effStopAuthTimeout{}}
}

// authTimedOut gives up on a server that accepted the transport but never answered the
// authenticate frame. Unlike auth_error the credential was not rejected, so it is retried.
func (m *machine) authTimedOut(e evAuthTimeout) []effect {
	if !m.authPending || e.seq != m.authSeq || m.state.Status != StateAuthenticating {
		return nil
	}

	m.authPending = false
	reason := "no authentication reply within " + m.authTimeout.Round(time.Millisecond).String()

	fx := []effect{effLog{level: levelWarn, msg: reason}}
	fx = append(fx, m.teardown(CloseAuthTimeout, "authentication timeout")...)
	return append(fx, m.scheduleRetry(reason)...)
}

// failAuth surfaces an authentication failure and forces a disconnect. Retrying with the same
// credential cannot succeed, so no reconnect is scheduled.
func (m *machine) failAuth(reason string) []effect {
	m.state.Status = StateError
	m.state.Error = reason

	fx := []effect{
		effLog{level: levelWarn, msg: reason},
		m.publish(),
		effEmit{event: Event{Name: EventError, Message: reason}},
	}
	fx = append(fx, m.teardown(CloseNormal, "authentication failed")...)
	fx = append(fx, m.stopReconnect()...)

	m.state.Status = StateDisconnected
	return append(fx, m.publish())
}

func (m *machine) frame(e evFrame) []effect {
	if m.transport != transportOpen || e.gen != m.gen {
		return nil
	}

	msg := e.msg

	switch msg.Type {
	case MessageHandshake:
		return []effect{effLog{level: levelDebug, msg: "server handshake: " + msg.Message}}
	case MessageAuthSuccess:
		return m.authSuccess(msg)
	case MessageAuthError:
		reason := ErrAuthFailed.Error()
		if msg.Message != "" {
			reason += ": " + msg.Message
		}
		return m.failAuth(reason)
	case MessageMetricsUpdate:
		return m.metricsUpdate(msg, e)
	case MessagePong:
		return append(m.stopPongTimeout(), effLog{level: levelDebug, msg: "pong " + msg.Timestamp})
	case MessageServerShutdown:
		fx := []effect{effLog{level: levelInfo, msg: "server shutdown: " + msg.Message}}
		fx = append(fx, m.teardown(CloseNormal, "server shutdown")...)
		fx = append(fx, m.stopReconnect()...)
		m.state.Status = StateDisconnected
		return append(fx, m.publish())
	case MessageError:
		return []effect{
			effLog{level: levelWarn, msg: "server error: " + msg.Message},
			effEmit{event: Event{Name: EventError, Message: msg.Message}},
		}
	default:
		return []effect{effLog{level: levelWarn, msg: "unrecognized message type " + string(msg.Type)}}
	}
}

func (m *machine) authSuccess(msg WireMessage) []effect {
	if m.state.Status != StateAuthenticating {
		return []effect{effLog{level: levelWarn, msg: "auth_success outside of handshake, ignored"}}
	}

	fx := m.stopAuthTimeout()

	m.attempts = 0
	m.background = false
	m.state.Status = StateConnected
	m.state.Error = ""
	m.state.ReconnectCount = 0

	fx = append(fx, m.startHeartbeat()...)
	fx = append(fx, m.registerLifecycle()...)
	return append(fx,
		effLog{level: levelInfo, msg: "authenticated"},
		m.publish(),
		effEmit{event: Event{Name: EventAuthSuccess, User: bytes.Clone(msg.User)}},
	)
}

func (m *machine) metricsUpdate(msg WireMessage, e evFrame) []effect {
	if m.state.Status != StateConnected {
		return []effect{effLog{level: levelWarn, msg: "metrics_update before authentication, dropped"}}
	}

	snapshot := MetricsSnapshot{
		Data:       bytes.Clone(msg.Data),
		Timestamp:  msg.Timestamp,
		ReceivedAt: e.at,
	}
	m.state.LastMetrics = &snapshot
	m.state.LastUpdated = e.at

	return []effect{
		m.publish(),
		effEmit{event: Event{Name: EventMetrics, Metrics: snapshot.clone()}},
	}
}
