package brokerwatch

// EventListener receives messages from its own queue.
// Queue name is built from the listener Name and EventSource queue prefix.
type EventListener interface {
	// Name must be unique among listeners of a single EventSource.
	Name() string
	// OnMessage is called for each delivered message.
	// Returned error leads to message redelivery.
	OnMessage(msg Message) error
}

// SecondaryDependent is implemented by EventListener that can't
// process messages while the secondary broker is down.
type SecondaryDependent interface {
	RequiresSecondary() bool
}

// requiresSecondary reports whether l declares dependency on the secondary broker.
func requiresSecondary(l EventListener) bool {
	d, ok := l.(SecondaryDependent)

	return ok && d.RequiresSecondary()
}
