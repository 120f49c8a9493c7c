package adminws

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond, msgAndArgs...)
}

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{clock: c, at: c.now.Add(d), d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs every timer that became due, earliest first.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)

	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// Pending returns the original durations of the timers still armed, sorted.
func (c *fakeClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []time.Duration
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *fakeClock) pendingIs(want ...time.Duration) func() bool {
	return func() bool {
		got := c.Pending()
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}
}

// fakeConn records outbound frames and lets tests push inbound ones.
type fakeConn struct {
	mu          sync.Mutex
	sent        [][]byte
	closed      bool
	closeCode   int
	closeReason string
	onMessage   func([]byte)
	onClose     func(int, string)
}

func (c *fakeConn) Listen(onMessage func([]byte), onClose func(int, string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = onMessage
	c.onClose = onClose
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
}

func (c *fakeConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onMessage != nil
}

func (c *fakeConn) deliver(raw string) {
	c.mu.Lock()
	onMessage := c.onMessage
	c.mu.Unlock()
	onMessage([]byte(raw))
}

// drop simulates the peer going away.
func (c *fakeConn) drop(code int) {
	c.mu.Lock()
	c.closed = true
	onClose := c.onClose
	c.mu.Unlock()
	onClose(code, "")
}

// die marks the transport dead without reporting it, like a socket frozen in the background.
func (c *fakeConn) die() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode
}

func (c *fakeConn) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.sent))
	for _, bts := range c.sent {
		var m struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(bts, &m)
		out = append(out, m.Type)
	}
	return out
}

func (c *fakeConn) frames(typ string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []map[string]any
	for _, bts := range c.sent {
		var m map[string]any
		_ = json.Unmarshal(bts, &m)
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) sentCount(typ string) int {
	return len(c.frames(typ))
}

// fakeDialer hands out fakeConns, or errors while failing is set.
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	dials   int
	failing error
	params  []OpenConnectionParams
}

func (d *fakeDialer) Dial(_ context.Context, p OpenConnectionParams) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	d.params = append(d.params, p)
	if d.failing != nil {
		return nil, d.failing
	}
	c := &fakeConn{}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing = err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// fakeLifecycle records registrations and exposes the hooks of the live one.
type fakeLifecycle struct {
	mock.Mock

	mu     sync.Mutex
	hooks  *LifecycleHooks
	active int
}

func (l *fakeLifecycle) Register(h LifecycleHooks) func() {
	l.Called()

	l.mu.Lock()
	l.hooks = &h
	l.active++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.active--
			l.mu.Unlock()
		})
	}
}

func (l *fakeLifecycle) activeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *fakeLifecycle) current() LifecycleHooks {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.hooks
}

// recorder collects events delivered to listeners.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) statuses() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []ConnectionState
	for _, e := range r.events {
		if e.Name == EventStateChange {
			out = append(out, e.State.Status)
		}
	}
	return out
}

func (r *recorder) named(name EventName) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
