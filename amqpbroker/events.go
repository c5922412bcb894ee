package amqpbroker

import amqp "github.com/rabbitmq/amqp091-go"

// Retried is fired when a dial attempt failed.
type Retried struct {
	Broker  string
	Attempt int
	Err     error
}

// Dialed is fired when a connection was established.
// Redial is set if the connection replaces a lost one.
type Dialed struct {
	Broker string
	Redial bool
}

// ConnectionLost is fired when an established connection
// was closed by an AMQP error.
type ConnectionLost struct {
	Broker string
	Err    *amqp.Error
}

// Restored is fired when sessions of a lost connection
// were moved to a new one.
type Restored struct {
	Broker   string
	Sessions int
	Failed   int
}

// Hooks are called by Connector on connection events.
// Any hook can be nil. Hooks are called synchronously
// from connector goroutines and must not block.
type Hooks struct {
	OnRetried  func(Retried)
	OnDialed   func(Dialed)
	OnLost     func(ConnectionLost)
	OnRestored func(Restored)
}

func (h Hooks) retried(e Retried) {
	if h.OnRetried != nil {
		h.OnRetried(e)
	}
}

func (h Hooks) dialed(e Dialed) {
	if h.OnDialed != nil {
		h.OnDialed(e)
	}
}

func (h Hooks) lost(e ConnectionLost) {
	if h.OnLost != nil {
		h.OnLost(e)
	}
}

func (h Hooks) restored(e Restored) {
	if h.OnRestored != nil {
		h.OnRestored(e)
	}
}
