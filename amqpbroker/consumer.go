package amqpbroker

import (
	"github.com/furdarius/brokerwatch"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// consumer implements brokerwatch.MessageConsumer for a single consumer tag.
// All mutable fields are guarded by session.mx.
type consumer struct {
	session *session
	queue   string
	tag     string
	handler brokerwatch.MessageHandler
	log     zerolog.Logger

	closed bool
	// done is closed when deliveries of the current subscription were drained.
	// It's nil until the consumer is subscribed.
	done chan struct{}
}

// Close cancels consuming. Deliveries in flight are redelivered by the broker.
func (c *consumer) Close() error {
	s := c.session

	s.mx.Lock()
	defer s.mx.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	delete(s.consumers, c.tag)

	if s.detached || c.done == nil {
		return nil
	}

	err := s.ch.Cancel(c.tag, false)
	if err != nil && err != amqp.ErrClosed {
		return errors.Wrapf(err, "failed to cancel consumer %s", c.tag)
	}

	return nil
}

// IsClosed reports whether the consumer was closed locally
// or by the broker. Consumer of a detached session isn't closed,
// it's subscribed again on attach.
func (c *consumer) IsClosed() bool {
	s := c.session

	s.mx.Lock()
	defer s.mx.Unlock()

	if c.closed {
		return true
	}

	if s.detached || c.done == nil {
		return false
	}

	select {
	case <-c.done:
		return true
	default:
	}

	return false
}

// dispatch passes deliveries to handler until deliveries is closed.
func (c *consumer) dispatch(deliveries <-chan amqp.Delivery, done chan struct{}) {
	defer close(done)

	for d := range deliveries {
		if !c.session.waitStarted() {
			return
		}

		msg := brokerwatch.Message{
			ID:        d.MessageId,
			Queue:     c.queue,
			Body:      d.Body,
			Headers:   map[string]interface{}(d.Headers),
			Timestamp: d.Timestamp,
		}

		err := c.handler(msg)
		if err != nil {
			err = d.Reject(true)
			if err != nil {
				c.log.Warn().Err(err).Msg("failed to reject message")
			}

			continue
		}

		err = d.Ack(false)
		if err != nil {
			c.log.Warn().Err(err).Msg("failed to ack message")
		}
	}
}
