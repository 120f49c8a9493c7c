package adminws

type (
	// Client is the consumer-facing control surface of a real-time admin connection. None of
	// its methods block; outcomes are observed through the state and the events.
	Client interface {
		// Connect starts a connect cycle. It is a no-op while a transport is opening or open.
		Connect()
		// Disconnect closes the connection cleanly and cancels every pending timer
		Disconnect()
		// Reconnect disconnects, resets the retry budget and connects again
		Reconnect()
		// State returns a copy of the current state
		State() ClientState
		IsConnected() bool
		LastMetrics() (MetricsSnapshot, bool)
		On(event EventName, cb func(Event)) Subscription
		Off(sub Subscription)
	}
)

var _ Client = (*ConnectionManager)(nil)
