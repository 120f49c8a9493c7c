package adminws

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

type MessageType string

const (
	// outbound
	MessageAuthenticate MessageType = "authenticate"
	MessagePing         MessageType = "ping"
	MessageKeepalive    MessageType = "keepalive"

	// inbound
	MessageHandshake      MessageType = "handshake"
	MessageAuthSuccess    MessageType = "auth_success"
	MessageAuthError      MessageType = "auth_error"
	MessageMetricsUpdate  MessageType = "metrics_update"
	MessagePong           MessageType = "pong"
	MessageServerShutdown MessageType = "server_shutdown"
	MessageError          MessageType = "error"
)

func (t MessageType) Is(other MessageType) bool {
	return t == other
}

// WireMessage is an inbound frame. All frames share type and timestamp, the rest is optional.
type WireMessage struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp"`
	User      json.RawMessage `json:"user,omitempty"`
}

func (m WireMessage) String() string {
	return fmt.Sprintf("WireMessage{type=%s,timestamp=%s,data=%s}", m.Type, m.Timestamp, m.Data)
}

// ParseWireMessage decodes a text frame. Frames without a type are rejected.
func ParseWireMessage(raw []byte) (WireMessage, error) {
	var m WireMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return WireMessage{}, errors.Wrap(err, "cannot decode frame")
	}
	if m.Type == "" {
		return WireMessage{}, errors.New("frame without type")
	}
	return m, nil
}

type authenticateMessage struct {
	Type  MessageType `json:"type"`
	Token string      `json:"token"`
}

type pingMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
}

type keepaliveMessage struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

// NewAuthenticateMessage encodes {"type":"authenticate","token":"..."}.
func NewAuthenticateMessage(token string) []byte {
	return mustMarshal(authenticateMessage{Type: MessageAuthenticate, Token: token})
}

// NewPingMessage encodes {"type":"ping","timestamp":"<ISO8601>"}.
func NewPingMessage(now time.Time) []byte {
	return mustMarshal(pingMessage{Type: MessagePing, Timestamp: now.UTC().Format(time.RFC3339Nano)})
}

// NewKeepaliveMessage encodes {"type":"keepalive","timestamp":<epoch-ms>}.
func NewKeepaliveMessage(now time.Time) []byte {
	return mustMarshal(keepaliveMessage{Type: MessageKeepalive, Timestamp: now.UnixMilli()})
}

// the outbound types only hold strings and ints
func mustMarshal(v any) []byte {
	bts, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return bts
}
