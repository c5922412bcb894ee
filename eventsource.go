package brokerwatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultQueuePrefix is prepended to listener name to build its queue name.
const DefaultQueuePrefix = "event."

// EventSourceOption describes a functional option for configuring EventSource.
type EventSourceOption func(*EventSource)

// WithEventSourceLogger sets logger used by EventSource.
func WithEventSourceLogger(l zerolog.Logger) EventSourceOption {
	return func(s *EventSource) {
		s.log = l
	}
}

// WithQueuePrefix sets prefix of listener queue names.
func WithQueuePrefix(prefix string) EventSourceOption {
	return func(s *EventSource) {
		s.queuePrefix = prefix
	}
}

// ReceiverState describes session and consumer of a single listener.
type ReceiverState struct {
	Listener          string `json:"listener"`
	Queue             string `json:"queue"`
	RequiresSecondary bool   `json:"requires_secondary"`
	SessionOpen       bool   `json:"session_open"`
	ConsumerActive    bool   `json:"consumer_active"`
}

// EventSource keeps a broker session and a message consumer
// for each registered EventListener.
//
// Sessions are opened when the primary broker becomes CONNECTED and
// are kept until ShutDown. Consumers of listeners that require
// the secondary broker are closed while it's DOWN and reopened
// on the same session when it's CONNECTED again.
type EventSource struct {
	factory     SessionFactory
	log         zerolog.Logger
	queuePrefix string

	ctx    context.Context
	cancel context.CancelFunc

	// mx guards fields below. Sessions are opened without holding it.
	mx        sync.Mutex
	receivers []*receiver
	connected bool
	shutdown  bool
}

// NewEventSource returns a new instance of EventSource.
// No session is opened until the primary broker is reported CONNECTED.
func NewEventSource(factory SessionFactory, opts ...EventSourceOption) *EventSource {
	ctx, cancel := context.WithCancel(context.Background())

	s := &EventSource{
		factory:     factory,
		log:         zerolog.Nop(),
		queuePrefix: DefaultQueuePrefix,
		ctx:         ctx,
		cancel:      cancel,
	}

	for _, option := range opts {
		option(s)
	}

	return s
}

// Bind registers s as a listener of the primary broker status.
func (s *EventSource) Bind(reg StatusRegistrar) ListenerID {
	return reg.RegisterListener(s)
}

// SecondaryListener returns StatusListener delivering
// secondary broker status to s.
func (s *EventSource) SecondaryListener() StatusListener {
	return StatusListenerFunc(s.OnSecondaryStatusUpdate)
}

// RegisterListener adds l to the source. If the primary broker
// is already CONNECTED, session for l is opened immediately.
func (s *EventSource) RegisterListener(l EventListener) {
	r := newReceiver(l, s.queuePrefix+l.Name(), s.log)

	s.mx.Lock()
	if s.shutdown {
		s.mx.Unlock()
		s.log.Warn().Str("listener", l.Name()).Msg("event source is shut down, listener ignored")

		return
	}

	s.receivers = append(s.receivers, r)
	connected := s.connected
	s.mx.Unlock()

	if connected {
		s.connectReceiver(r)
	}
}

// OnStatusUpdate handles primary broker status.
// Sessions are opened only on transition to CONNECTED.
// Loss of the primary broker doesn't close anything.
func (s *EventSource) OnStatusUpdate(previous, current Status) {
	s.mx.Lock()
	if s.shutdown {
		s.mx.Unlock()

		return
	}

	s.connected = current == StatusConnected

	if current != StatusConnected || previous == StatusConnected {
		s.mx.Unlock()

		return
	}

	receivers := make([]*receiver, len(s.receivers))
	copy(receivers, s.receivers)
	s.mx.Unlock()

	s.log.Info().Int("listeners", len(receivers)).Msg("primary broker connected, opening sessions")

	for _, r := range receivers {
		s.connectReceiver(r)
	}
}

// OnSecondaryStatusUpdate handles secondary broker status.
// Only listeners that require the secondary broker are affected.
func (s *EventSource) OnSecondaryStatusUpdate(previous, current Status) {
	if previous == current {
		return
	}

	s.mx.Lock()
	if s.shutdown {
		s.mx.Unlock()

		return
	}

	dependent := make([]*receiver, 0, len(s.receivers))
	for _, r := range s.receivers {
		if r.secondary {
			dependent = append(dependent, r)
		}
	}
	s.mx.Unlock()

	switch current {
	case StatusDown:
		s.log.Warn().Int("listeners", len(dependent)).Msg("secondary broker down, closing consumers")

		for _, r := range dependent {
			r.closeConsumer()
		}
	case StatusConnected:
		s.log.Info().Int("listeners", len(dependent)).Msg("secondary broker connected, reopening consumers")

		for _, r := range dependent {
			err := r.reopenConsumer()
			if err != nil {
				r.log.Error().Err(err).Msg("failed to reopen consumer")
			}
		}
	}
}

// Receivers returns state of every registered listener.
func (s *EventSource) Receivers() []ReceiverState {
	s.mx.Lock()
	receivers := make([]*receiver, len(s.receivers))
	copy(receivers, s.receivers)
	s.mx.Unlock()

	states := make([]ReceiverState, 0, len(receivers))
	for _, r := range receivers {
		states = append(states, r.state())
	}

	return states
}

// ShutDown stops and closes every session and then closes the session factory.
// Sessions being opened are interrupted.
// Failures are logged, every step is attempted. Repeated calls do nothing.
func (s *EventSource) ShutDown() {
	s.cancel()

	s.mx.Lock()
	if s.shutdown {
		s.mx.Unlock()

		return
	}
	s.shutdown = true

	receivers := make([]*receiver, len(s.receivers))
	copy(receivers, s.receivers)
	s.mx.Unlock()

	s.log.Info().Int("listeners", len(receivers)).Msg("shutting down event source")

	for _, r := range receivers {
		r.close()
	}

	err := attempt(s.factory.Close)
	if err != nil {
		teardownFailures.WithLabelValues("factory_close").Inc()
		s.log.Warn().Err(err).Msg("failed to close session factory")
	}
}

// connectReceiver opens session of r.
func (s *EventSource) connectReceiver(r *receiver) {
	err := r.connect(s.ctx, s.factory)
	if err != nil {
		recordConsumerEvent("failed")
		r.log.Error().Err(err).Msg("failed to connect listener")
	}
}
