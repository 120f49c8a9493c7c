package adminws

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed   = errors.New("connection has been closed")
	ErrCannotConnect      = errors.New("connection cannot be established")
	ErrRateLimit          = errors.New("rate limit exceeded")
	ErrNoCredential       = errors.New("no access token available")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrMaxAttemptsReached = errors.New("max reconnection attempts reached")
	ErrDiscovery          = errors.New("endpoint discovery failed")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrManagerClosed      = errors.New("connection manager is closed")
)

// ErrUnexpectedClose describes a transport that went away without a clean close frame.
type ErrUnexpectedClose struct {
	Code   int
	Reason string
}

func (e ErrUnexpectedClose) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection lost (code %d)", e.Code)
	}
	return fmt.Sprintf("connection lost (code %d: %s)", e.Code, e.Reason)
}

func (e ErrUnexpectedClose) Unwrap() error { return ErrConnectionClosed }
