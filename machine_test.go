package adminws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMachine(mutate func(*Config)) machine {
	cfg := DefaultConfig()
	cfg.URL = "wss://admin.example.com/ws/admin"
	if mutate != nil {
		mutate(&cfg)
	}
	return newMachine(NewReconnectionPolicy(cfg), newHeartbeat(cfg), cfg.AuthTimeout)
}

// run feeds evs in order and returns the effects of all of them.
func run(m machine, evs ...event) (machine, []effect) {
	var all []effect
	for _, ev := range evs {
		var fx []effect
		m, fx = transition(m, ev)
		all = append(all, fx...)
	}
	return m, all
}

func effectsOf[T effect](fx []effect) []T {
	var out []T
	for _, f := range fx {
		if v, ok := f.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func publishedStatuses(fx []effect) []ConnectionState {
	var out []ConnectionState
	for _, p := range effectsOf[effPublishState](fx) {
		out = append(out, p.state.Status)
	}
	return out
}

func opened(gen uint64) evTransportOpened {
	return evTransportOpened{gen: gen, conn: &fakeConn{}, connID: "c", token: "secret", hasToken: true}
}

func inbound(gen uint64, raw string) evFrame {
	msg, err := ParseWireMessage([]byte(raw))
	if err != nil {
		panic(err)
	}
	return evFrame{gen: gen, msg: msg, at: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

// authenticated returns a machine in StateConnected on transport gen 1.
func authenticated(t *testing.T, mutate func(*Config)) machine {
	t.Helper()

	m, _ := run(testMachine(mutate), evConnect{}, opened(1), inbound(1, authSuccessFrame))
	require.Equal(t, StateConnected, m.state.Status)
	return m
}

func TestMachine_Connect(t *testing.T) {
	m, fx := run(testMachine(nil), evConnect{})

	assert.Equal(t, []ConnectionState{StateConnecting}, publishedStatuses(fx))
	assert.Equal(t, []effOpenTransport{{gen: 1}}, effectsOf[effOpenTransport](fx))

	_, fx = run(m, evConnect{})
	assert.Empty(t, fx)

	m, _ = run(m, opened(1))
	_, fx = run(m, evConnect{})
	assert.Empty(t, fx)
}

func TestMachine_Handshake(t *testing.T) {
	m, fx := run(testMachine(nil), evConnect{}, opened(1))

	assert.Equal(t, StateAuthenticating, m.state.Status)
	assert.Equal(t, []effSend{{frame: frameAuthenticate, token: "secret"}}, effectsOf[effSend](fx))

	m, fx = run(m, inbound(1, authSuccessFrame))
	assert.Equal(t, StateConnected, m.state.Status)
	assert.Equal(t, []effArmHeartbeat{{seq: m.heartbeatSeq, after: 30 * time.Second}}, effectsOf[effArmHeartbeat](fx))
	assert.Len(t, effectsOf[effRegisterLifecycle](fx), 1)

	emitted := effectsOf[effEmit](fx)
	require.Len(t, emitted, 1)
	assert.Equal(t, EventAuthSuccess, emitted[0].event.Name)
	assert.JSONEq(t, `{"id":"u-1","role":"admin"}`, string(emitted[0].event.User))

	// a second auth_success changes nothing
	_, fx = run(m, inbound(1, authSuccessFrame))
	assert.Empty(t, effectsOf[effPublishState](fx))
}

func TestMachine_AuthTimeout(t *testing.T) {
	m, fx := run(testMachine(nil), evConnect{}, opened(1))

	arms := effectsOf[effArmAuthTimeout](fx)
	require.Len(t, arms, 1)
	assert.Equal(t, 10*time.Second, arms[0].after)

	// answered in time
	answered, fx := run(m, inbound(1, authSuccessFrame))
	assert.Len(t, effectsOf[effStopAuthTimeout](fx), 1)
	_, fx = run(answered, evAuthTimeout{seq: arms[0].seq})
	assert.Empty(t, fx)

	// rejected
	rejected, fx := run(m, inbound(1, `{"type":"auth_error","message":"expired","timestamp":"2024-05-01T12:00:00Z"}`))
	assert.Len(t, effectsOf[effStopAuthTimeout](fx), 1)
	_, fx = run(rejected, evAuthTimeout{seq: arms[0].seq})
	assert.Empty(t, fx)

	// never answered
	m, fx = run(m, evAuthTimeout{seq: arms[0].seq})
	assert.Equal(t, []effCloseTransport{{gen: 1, code: CloseAuthTimeout, reason: "authentication timeout"}}, effectsOf[effCloseTransport](fx))
	assert.Len(t, effectsOf[effArmReconnect](fx), 1)
	assert.Equal(t, StateError, m.state.Status)
	assert.Equal(t, 1, m.state.ReconnectCount)

	// disabled
	_, fx = run(testMachine(func(c *Config) { c.AuthTimeout = 0 }), evConnect{}, opened(1))
	assert.Empty(t, effectsOf[effArmAuthTimeout](fx))
}

func TestMachine_NoCredential(t *testing.T) {
	ev := opened(1)
	ev.token, ev.hasToken = "", false

	m, fx := run(testMachine(nil), evConnect{}, ev)

	assert.Empty(t, effectsOf[effSend](fx))
	assert.Empty(t, effectsOf[effArmReconnect](fx))
	assert.Equal(t, []effCloseTransport{{gen: 1, code: CloseNormal, reason: "authentication failed"}}, effectsOf[effCloseTransport](fx))
	assert.Equal(t,
		[]ConnectionState{StateConnecting, StateAuthenticating, StateError, StateDisconnected},
		publishedStatuses(fx),
	)
	assert.Equal(t, StateDisconnected, m.state.Status)
	assert.Equal(t, "no access token available", m.state.Error)
}

func TestMachine_AuthError(t *testing.T) {
	m, fx := run(testMachine(nil),
		evConnect{},
		opened(1),
		inbound(1, `{"type":"auth_error","message":"expired","timestamp":"2024-05-01T12:00:00Z"}`),
	)

	assert.Equal(t, StateDisconnected, m.state.Status)
	assert.Equal(t, "authentication failed: expired", m.state.Error)
	assert.Empty(t, effectsOf[effArmReconnect](fx))
	assert.False(t, m.reconnectPending)
}

func TestMachine_StaleTransportEvents(t *testing.T) {
	m := authenticated(t, nil)

	gens := []uint64{0, 2}
	for _, gen := range gens {
		_, fx := run(m,
			inbound(gen, metricsFrame),
			evTransportClosed{gen: gen, code: CloseAbnormal},
			evTransportFailed{gen: gen, err: ErrCannotConnect},
			opened(gen),
		)
		assert.Empty(t, fx, "gen %d", gen)
	}

	// a failure report for an already opened transport is ignored too
	_, fx := run(m, evTransportFailed{gen: 1, err: ErrCannotConnect})
	assert.Empty(t, fx)
}

func TestMachine_CleanClose(t *testing.T) {
	m, fx := run(authenticated(t, nil), evTransportClosed{gen: 1, code: CloseNormal})

	assert.Equal(t, StateDisconnected, m.state.Status)
	assert.Empty(t, effectsOf[effArmReconnect](fx))
	assert.Len(t, effectsOf[effStopHeartbeat](fx), 1)
	assert.Len(t, effectsOf[effUnregisterLifecycle](fx), 1)
}

func TestMachine_UnexpectedClose(t *testing.T) {
	m, fx := run(authenticated(t, nil), evTransportClosed{gen: 1, code: CloseAbnormal})

	assert.Equal(t, StateError, m.state.Status)
	assert.Equal(t, "connection lost (code 1006)", m.state.Error)
	assert.Equal(t, 1, m.state.ReconnectCount)

	arms := effectsOf[effArmReconnect](fx)
	require.Len(t, arms, 1)
	assert.Equal(t, 5*time.Second, arms[0].after)

	// stale tick
	_, fx = run(m, evReconnectTick{seq: arms[0].seq - 1})
	assert.Empty(t, fx)

	m, fx = run(m, evReconnectTick{seq: arms[0].seq})
	assert.Equal(t, []effOpenTransport{{gen: 2}}, effectsOf[effOpenTransport](fx))
	assert.Equal(t, StateConnecting, m.state.Status)

	// the tick is consumed once
	_, fx = run(m, evReconnectTick{seq: arms[0].seq})
	assert.Empty(t, fx)
}

func TestMachine_MaxAttempts(t *testing.T) {
	m, _ := run(testMachine(func(c *Config) { c.MaxReconnectAttempts = 1 }), evConnect{})

	m, fx := run(m, evTransportFailed{gen: 1, err: ErrCannotConnect})
	arms := effectsOf[effArmReconnect](fx)
	require.Len(t, arms, 1)

	m, _ = run(m, evReconnectTick{seq: arms[0].seq})
	m, fx = run(m, evTransportFailed{gen: 2, err: ErrCannotConnect})

	assert.Empty(t, effectsOf[effArmReconnect](fx))
	assert.Equal(t, StateError, m.state.Status)
	assert.Equal(t, ErrMaxAttemptsReached.Error(), m.state.Error)

	emitted := effectsOf[effEmit](fx)
	require.Len(t, emitted, 1)
	assert.Equal(t, EventError, emitted[0].event.Name)

	m, fx = run(m, evReconnect{})
	assert.Zero(t, m.attempts)
	assert.Zero(t, m.state.ReconnectCount)
	assert.Equal(t, []effOpenTransport{{gen: 3}}, effectsOf[effOpenTransport](fx))
}

func TestMachine_DisconnectCancelsEverything(t *testing.T) {
	m, fx := run(authenticated(t, nil), evTransportClosed{gen: 1, code: CloseAbnormal})
	arm := effectsOf[effArmReconnect](fx)[0]

	m, fx = run(m, evDisconnect{})
	assert.Len(t, effectsOf[effStopReconnect](fx), 1)
	assert.Equal(t, StateDisconnected, m.state.Status)

	_, fx = run(m, evReconnectTick{seq: arm.seq})
	assert.Empty(t, fx)

	// again
	_, fx = run(m, evDisconnect{})
	assert.Empty(t, fx)
}

func TestMachine_DisconnectWhileConnected(t *testing.T) {
	m := authenticated(t, nil)
	hbSeq := m.heartbeatSeq

	m, fx := run(m, evDisconnect{})
	assert.Equal(t, []effCloseTransport{{gen: 1, code: CloseNormal, reason: "client disconnect"}}, effectsOf[effCloseTransport](fx))
	assert.Equal(t, []ConnectionState{StateDisconnected}, publishedStatuses(fx))

	_, fx = run(m, evHeartbeatTick{seq: hbSeq})
	assert.Empty(t, fx)
}

func TestMachine_Heartbeat(t *testing.T) {
	m := authenticated(t, nil)

	m, fx := run(m, evHeartbeatTick{seq: m.heartbeatSeq})
	assert.Equal(t, []effSend{{frame: framePing}}, effectsOf[effSend](fx))
	assert.Empty(t, effectsOf[effArmPongTimeout](fx))
	assert.Equal(t, []effArmHeartbeat{{seq: m.heartbeatSeq, after: 30 * time.Second}}, effectsOf[effArmHeartbeat](fx))

	_, fx = run(m, evHeartbeatTick{seq: m.heartbeatSeq + 1})
	assert.Empty(t, fx)
}

func TestMachine_PongTimeout(t *testing.T) {
	m := authenticated(t, func(c *Config) { c.PongTimeout = 2 * time.Second })

	m, fx := run(m, evHeartbeatTick{seq: m.heartbeatSeq})
	pongs := effectsOf[effArmPongTimeout](fx)
	require.Len(t, pongs, 1)
	assert.Equal(t, 2*time.Second, pongs[0].after)

	// answered
	answered, fx := run(m, inbound(1, `{"type":"pong","timestamp":"2024-05-01T12:00:30Z"}`))
	assert.Len(t, effectsOf[effStopPongTimeout](fx), 1)
	_, fx = run(answered, evPongTimeout{seq: pongs[0].seq})
	assert.Empty(t, fx)

	// unanswered
	m, fx = run(m, evPongTimeout{seq: pongs[0].seq})
	assert.Equal(t, []effCloseTransport{{gen: 1, code: CloseHeartbeatTimeout, reason: "heartbeat timeout"}}, effectsOf[effCloseTransport](fx))
	assert.Len(t, effectsOf[effArmReconnect](fx), 1)
	assert.Equal(t, StateError, m.state.Status)
}

func TestMachine_Metrics(t *testing.T) {
	m, fx := run(testMachine(nil), evConnect{}, opened(1), inbound(1, metricsFrame))
	assert.Nil(t, m.state.LastMetrics)
	assert.Empty(t, effectsOf[effEmit](fx))

	m, _ = run(m, inbound(1, authSuccessFrame))
	m, fx = run(m, inbound(1, metricsFrame))

	require.NotNil(t, m.state.LastMetrics)
	assert.Equal(t, "2024-05-01T12:00:01Z", m.state.LastMetrics.Timestamp)
	assert.Equal(t, []ConnectionState{StateConnected}, publishedStatuses(fx))

	emitted := effectsOf[effEmit](fx)
	require.Len(t, emitted, 1)
	assert.Equal(t, EventMetrics, emitted[0].event.Name)
	assert.JSONEq(t, string(m.state.LastMetrics.Data), string(emitted[0].event.Metrics.Data))
}

func TestMachine_LifecycleIsSymmetric(t *testing.T) {
	m := testMachine(nil)
	var fx, all []effect

	for gen := uint64(1); gen <= 3; gen++ {
		m, fx = run(m, evReconnect{}, opened(gen), inbound(gen, authSuccessFrame))
		all = append(all, fx...)
		require.True(t, m.lifecycleOn)
	}
	m, fx = run(m, evTransportClosed{gen: 3, code: CloseNormal})
	all = append(all, fx...)

	assert.False(t, m.lifecycleOn)
	assert.Len(t, effectsOf[effRegisterLifecycle](all), 3)
	assert.Len(t, effectsOf[effUnregisterLifecycle](all), 3)
}

func TestMachine_Lifecycle(t *testing.T) {
	m := authenticated(t, nil)
	seq := m.lifecycleSeq

	m, fx := run(m, evBackground{seq: seq})
	assert.True(t, m.background)
	assert.Equal(t, 15*time.Second, effectsOf[effArmHeartbeat](fx)[0].after)

	m, fx = run(m, evHeartbeatTick{seq: m.heartbeatSeq})
	assert.Equal(t, []effSend{{frame: frameKeepalive}}, effectsOf[effSend](fx))

	m, fx = run(m, evForeground{seq: seq, alive: true})
	assert.False(t, m.background)
	assert.Equal(t, 30*time.Second, effectsOf[effArmHeartbeat](fx)[0].after)

	// already in the foreground
	_, fx = run(m, evForeground{seq: seq, alive: true})
	assert.Empty(t, fx)

	// stale registration
	_, fx = run(m, evBackground{seq: seq - 1})
	assert.Empty(t, fx)

	dead, fx := run(m, evForeground{seq: seq, alive: false})
	assert.Equal(t, []effOpenTransport{{gen: 2}}, effectsOf[effOpenTransport](fx))
	assert.Equal(t, StateConnecting, dead.state.Status)

	unloaded, fx := run(m, evUnload{seq: seq})
	assert.Equal(t, StateDisconnected, unloaded.state.Status)
	assert.Empty(t, effectsOf[effArmReconnect](fx))
	assert.False(t, unloaded.lifecycleOn)
}

func TestMachine_ServerShutdown(t *testing.T) {
	m, fx := run(authenticated(t, nil), inbound(1, `{"type":"server_shutdown","timestamp":"2024-05-01T12:00:00Z"}`))

	assert.Equal(t, StateDisconnected, m.state.Status)
	assert.Empty(t, effectsOf[effArmReconnect](fx))
	assert.Len(t, effectsOf[effCloseTransport](fx), 1)
}
