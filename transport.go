package adminws

import (
	"context"
)

type (
	// Conn is one open bidirectional transport. A Conn is never reopened: a new one is dialed on
	// every connect cycle.
	Conn interface {
		// Listen starts delivering inbound text frames to onMessage. onClose is called once when
		// the transport goes away on its own, with the close code reported by the peer or
		// CloseAbnormal. It is not called after Close.
		Listen(onMessage func(data []byte), onClose func(code int, reason string))

		// Send writes a text frame.
		Send(data []byte) error

		// Close sends a close frame with code and reason and releases the transport.
		// Subsequent calls have no effect.
		Close(code int, reason string)

		// Alive reports whether the transport still looks usable.
		Alive() bool
	}

	// Dialer opens transports
	Dialer interface {
		Dial(ctx context.Context, params OpenConnectionParams) (Conn, error)
	}

	DialerFunc func(ctx context.Context, params OpenConnectionParams) (Conn, error)
)

func (f DialerFunc) Dial(ctx context.Context, params OpenConnectionParams) (Conn, error) {
	return f(ctx, params)
}
