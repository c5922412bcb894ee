package brokerwatch

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// receiver binds EventListener to its broker session and consumer.
type receiver struct {
	listener  EventListener
	queue     string
	secondary bool
	log       zerolog.Logger

	mx         sync.Mutex
	session    Session
	consumer   MessageConsumer
	connecting bool
	closed     bool
}

func newReceiver(l EventListener, queue string, log zerolog.Logger) *receiver {
	return &receiver{
		listener:  l,
		queue:     queue,
		secondary: requiresSecondary(l),
		log: log.With().
			Str("listener", l.Name()).
			Str("queue", queue).
			Logger(),
	}
}

// connect opens a session with a consumer and starts it.
// It does nothing if the session is already opened or being opened.
// The session is dialed without holding mx, so state and close
// aren't blocked by a slow broker.
func (r *receiver) connect(ctx context.Context, factory SessionFactory) error {
	r.mx.Lock()
	if r.closed || r.session != nil || r.connecting {
		r.mx.Unlock()

		return nil
	}
	r.connecting = true
	r.mx.Unlock()

	session, consumer, err := r.open(ctx, factory)

	r.mx.Lock()
	defer r.mx.Unlock()

	r.connecting = false

	if err != nil {
		return err
	}

	// Closed while the session was being opened.
	if r.closed {
		_ = attempt(consumer.Close)
		_ = attempt(session.Close)

		return nil
	}

	r.session = session
	r.consumer = consumer
	recordConsumerEvent("created")

	r.log.Info().Msg("listener connected")

	return nil
}

// open creates a started session with a consumer of r.queue.
func (r *receiver) open(ctx context.Context, factory SessionFactory) (Session, MessageConsumer, error) {
	session, err := factory.CreateSession(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create session")
	}

	consumer, err := session.CreateConsumer(r.queue, r.handle)
	if err != nil {
		_ = attempt(session.Close)

		return nil, nil, errors.Wrap(err, "failed to create consumer")
	}

	err = attempt(session.Start)
	if err != nil {
		_ = attempt(consumer.Close)
		_ = attempt(session.Close)

		return nil, nil, errors.Wrap(err, "failed to start session")
	}

	return session, consumer, nil
}

// closeConsumer closes an active consumer. The session stays opened.
func (r *receiver) closeConsumer() {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.closed || r.consumer == nil {
		return
	}

	// Close even if IsClosed, otherwise a consumer of a lost
	// connection is restored on redial.
	err := attempt(r.consumer.Close)
	if err != nil {
		recordConsumerEvent("failed")
		r.log.Warn().Err(err).Msg("failed to close consumer")
	}

	r.consumer = nil
	recordConsumerEvent("closed")

	r.log.Info().Msg("consumer closed")
}

// reopenConsumer creates a new consumer on the existing session
// if there is no active one.
func (r *receiver) reopenConsumer() error {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.closed || r.session == nil {
		return nil
	}

	if r.consumer != nil {
		if !r.consumer.IsClosed() {
			return nil
		}

		_ = attempt(r.consumer.Close)
		r.consumer = nil
		recordConsumerEvent("closed")
	}

	consumer, err := r.session.CreateConsumer(r.queue, r.handle)
	if err != nil {
		recordConsumerEvent("failed")

		return errors.Wrap(err, "failed to create consumer")
	}

	r.consumer = consumer
	recordConsumerEvent("created")

	r.log.Info().Msg("consumer reopened")

	return nil
}

// close stops and closes the session. Failure of a step
// doesn't prevent next steps.
func (r *receiver) close() {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	if r.session == nil {
		return
	}

	err := attempt(r.session.Stop)
	if err != nil {
		teardownFailures.WithLabelValues("session_stop").Inc()
		r.log.Warn().Err(err).Msg("failed to stop session")
	}

	err = attempt(r.session.Close)
	if err != nil {
		teardownFailures.WithLabelValues("session_close").Inc()
		r.log.Warn().Err(err).Msg("failed to close session")
	}

	if r.consumer != nil {
		recordConsumerEvent("closed")
	}

	r.session = nil
	r.consumer = nil
}

// state returns a snapshot of the receiver.
func (r *receiver) state() ReceiverState {
	r.mx.Lock()
	defer r.mx.Unlock()

	return ReceiverState{
		Listener:          r.listener.Name(),
		Queue:             r.queue,
		RequiresSecondary: r.secondary,
		SessionOpen:       r.session != nil,
		ConsumerActive:    r.consumer != nil && !r.consumer.IsClosed(),
	}
}

// handle passes msg to the listener.
func (r *receiver) handle(msg Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("listener panicked: %v", rec)
		}

		if err != nil {
			r.log.Error().Err(err).Str("message", msg.ID).Msg("failed to process message")
		}
	}()

	return r.listener.OnMessage(msg)
}

// attempt calls fn converting panic to error.
func attempt(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("panic: %v", rec)
		}
	}()

	return fn()
}
