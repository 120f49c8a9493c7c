package adminws

import "github.com/goccy/go-json"

type EventName string

const (
	EventStateChange EventName = "state_change"
	EventAuthSuccess EventName = "auth_success"
	EventMetrics     EventName = "metrics"
	EventError       EventName = "error"
)

// Event is what listeners registered through ConnectionManager.On receive. Only the fields
// relevant to Name are set.
type Event struct {
	Name EventName
	// State is set on state_change.
	State ClientState
	// Metrics is set on metrics.
	Metrics MetricsSnapshot
	// User is the server supplied user context of auth_success.
	User json.RawMessage
	// Message is set on error.
	Message string
}
