package brokerwatch

import "github.com/google/uuid"

// Status describes reachability of a single broker.
type Status int

const (
	// StatusUnknown is reported before the first probe completed.
	StatusUnknown Status = iota
	// StatusConnected is reported when the broker accepts connections.
	StatusConnected
	// StatusDown is reported when the broker can't be reached
	// or an established connection was dropped.
	StatusDown
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "CONNECTED"
	case StatusDown:
		return "DOWN"
	default:
		return "UNKNOWN"
	}
}

// StatusListener receives status transitions of a broker.
type StatusListener interface {
	// OnStatusUpdate is called with the previously reported status
	// and the newly detected one.
	OnStatusUpdate(previous, current Status)
}

// StatusListenerFunc is an adapter to allow the use of
// ordinary functions as StatusListener.
type StatusListenerFunc func(previous, current Status)

// OnStatusUpdate calls f(previous, current).
func (f StatusListenerFunc) OnStatusUpdate(previous, current Status) {
	f(previous, current)
}

// ListenerID identifies a registered StatusListener.
type ListenerID = uuid.UUID

// StatusRegistrar is anything StatusListener can be registered with.
// Monitor is the main implementation.
type StatusRegistrar interface {
	RegisterListener(l StatusListener) ListenerID
}
