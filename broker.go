package brokerwatch

import (
	"context"
	"time"
)

// Prober checks that a broker is reachable.
// Probe must release everything it acquired before returning,
// whether it succeeds or not.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc is an adapter to allow the use of ordinary functions as Prober.
type ProberFunc func(ctx context.Context) error

// Probe calls f(ctx).
func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// Message is a single delivery received from a broker queue.
// Body is opaque for brokerwatch.
type Message struct {
	ID        string
	Queue     string
	Body      []byte
	Headers   map[string]interface{}
	Timestamp time.Time
}

// MessageHandler processes a delivered message.
// Returned error means the message wasn't processed and must be redelivered.
type MessageHandler func(msg Message) error

// SessionFactory creates broker sessions.
type SessionFactory interface {
	// CreateSession opens a new session. Session isn't started.
	CreateSession(ctx context.Context) (Session, error)
	// Close releases the factory and the underlying connection.
	Close() error
}

// Session is a broker-side context for consumers of a single listener.
type Session interface {
	// CreateConsumer subscribes handler to the queue.
	CreateConsumer(queue string, handler MessageHandler) (MessageConsumer, error)
	// Start enables message delivery to consumers of the session.
	Start() error
	// Stop pauses message delivery.
	Stop() error
	// Close closes the session with all its consumers.
	Close() error
}

// MessageConsumer is a subscription to a queue.
// It can be closed and recreated independently of its Session.
type MessageConsumer interface {
	Close() error
	IsClosed() bool
}
