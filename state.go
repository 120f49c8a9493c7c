package adminws

import (
	"bytes"
	"time"

	"github.com/goccy/go-json"
)

// ConnectionState is the status of a ConnectionManager. Exactly one is current at any time.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MetricsSnapshot is the latest metrics payload pushed by the server. It is replaced as a whole by
// the next one.
type MetricsSnapshot struct {
	Data       json.RawMessage
	Timestamp  string
	ReceivedAt time.Time
}

// Decode unmarshals the payload into v.
func (s MetricsSnapshot) Decode(v any) error {
	return json.Unmarshal(s.Data, v)
}

func (s MetricsSnapshot) clone() MetricsSnapshot {
	s.Data = bytes.Clone(s.Data)
	return s
}

// ClientState is an observable snapshot of a ConnectionManager.
type ClientState struct {
	Status         ConnectionState
	LastMetrics    *MetricsSnapshot
	LastUpdated    time.Time
	Error          string
	ReconnectCount int
}

// Clone returns a deep copy sharing no memory with s.
func (s ClientState) Clone() ClientState {
	if s.LastMetrics != nil {
		m := s.LastMetrics.clone()
		s.LastMetrics = &m
	}
	return s
}
