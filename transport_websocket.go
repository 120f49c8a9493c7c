package adminws

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

type (
	ErrAdapter func(*websocket.Conn, *http.Response, error) error

	ErrorAdapters struct {
		OnDial ErrAdapter
	}

	// WebsocketDialer opens websocket transports.
	WebsocketDialer struct {
		dialer       *websocket.Dialer
		errAdapters  ErrorAdapters
		logger       Logger
		writeTimeout time.Duration
	}

	// wsConn represents a WebSocket connection.
	// It implements the Conn interface.
	wsConn struct {
		conn         *websocket.Conn
		logger       Logger
		writeTimeout time.Duration
		writeMu      sync.Mutex
		listenOnce   sync.Once
		closeOnce    sync.Once
		closed       atomic.Bool
	}
)

func NewWebsocketDialer(logger Logger, cfg Config, errAdapters ErrorAdapters) *WebsocketDialer {
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		errAdapters:  errAdapters,
		logger:       logger.WithField("net", "ws_connection"),
		writeTimeout: cfg.WriteTimeout,
	}
}

// Dial opens the websocket and returns once the upgrade completed or failed.
func (d *WebsocketDialer) Dial(ctx context.Context, p OpenConnectionParams) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, p.URL.String(), p.Header)

	if err = d.handleDialError(conn, resp, err); err != nil {
		d.logger.Errorf("connection err to %s: %s", p.URL.String(), err)
		return nil, err
	}

	d.logger.Debugf("success opening connection to %s", p.URL.String())

	return &wsConn{
		conn:         conn,
		logger:       d.logger,
		writeTimeout: d.writeTimeout,
	}, nil
}

func (d *WebsocketDialer) handleDialError(conn *websocket.Conn, resp *http.Response, err error) error {
	if d.errAdapters.OnDial != nil {
		return d.errAdapters.OnDial(conn, resp, err)
	}

	if err == nil {
		return nil
	}

	// 1. Check HTTP errors first
	var msg string

	if resp != nil {
		if resp.Body != nil {
			if bts, rerr := io.ReadAll(resp.Body); rerr == nil {
				msg = string(bts)
			}
			_ = resp.Body.Close()
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return errors.Wrap(ErrRateLimit, msg)
		}
	}

	// 2. Network errors
	return errors.Wrap(ErrCannotConnect, err.Error())
}

func (w *wsConn) Listen(onMessage func([]byte), onClose func(code int, reason string)) {
	w.listenOnce.Do(func() {
		go w.read(onMessage, onClose)
	})
}

func (w *wsConn) read(onMessage func([]byte), onClose func(int, string)) {
	for {
		messageType, bts, err := w.conn.ReadMessage()
		if err != nil {
			if w.closed.Swap(true) {
				// closed from our side
				return
			}
			_ = w.conn.Close()

			code, reason := closeCode(err)
			w.logger.Debugf("<= [CLOSE] %d %s", code, reason)
			onClose(code, reason)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			w.logger.Debugf("<= [DATA] %s", string(bts))
			onMessage(bts)
		default:
			w.logger.Debugln("<= [BIN] dropped")
		}
	}
}

func closeCode(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return CloseAbnormal, err.Error()
}

func (w *wsConn) Send(data []byte) error {
	if w.closed.Load() {
		return ErrConnectionClosed
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	w.logger.Debugf("=> [DATA] %s", data)

	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(ErrConnectionClosed, err.Error())
	}
	return nil
}

func (w *wsConn) Close(code int, reason string) {
	w.closeOnce.Do(func() {
		w.closed.Store(true)

		w.writeMu.Lock()
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(w.writeTimeout),
		)
		w.writeMu.Unlock()

		w.logger.Infof("closing connection from our side (%d %s)", code, reason)
		_ = w.conn.Close()
	})
}

func (w *wsConn) Alive() bool {
	return !w.closed.Load()
}
