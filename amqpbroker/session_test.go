package amqpbroker

import (
	"sync"
	"testing"
	"time"

	"github.com/furdarius/brokerwatch"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mx         sync.Mutex
	deliveries chan amqp.Delivery
	drained    sync.Once
	declared   []string
	tags       []string
	cancelled  []string
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 10)}
}

// drop closes deliveries the way a lost connection does.
func (f *fakeChannel) drop() {
	f.drained.Do(func() { close(f.deliveries) })
}

func (f *fakeChannel) consumerTags() []string {
	f.mx.Lock()
	defer f.mx.Unlock()

	return append([]string(nil), f.tags...)
}

func (f *fakeChannel) Qos(_, _ int, _ bool) error {
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.declared = append(f.declared, name)

	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Consume(_, consumer string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.tags = append(f.tags, consumer)

	return f.deliveries, nil
}

func (f *fakeChannel) Cancel(consumer string, _ bool) error {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.cancelled = append(f.cancelled, consumer)
	f.drop()

	return nil
}

func (f *fakeChannel) Close() error {
	f.mx.Lock()
	defer f.mx.Unlock()

	if f.closed {
		return amqp.ErrClosed
	}
	f.closed = true

	return nil
}

type fakeAcknowledger struct {
	acks    chan uint64
	rejects chan uint64
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{
		acks:    make(chan uint64, 10),
		rejects: make(chan uint64, 10),
	}
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.acks <- tag

	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _, _ bool) error {
	a.rejects <- tag

	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, _ bool) error {
	a.rejects <- tag

	return nil
}

func TestSessionHoldsDeliveriesUntilStarted(t *testing.T) {
	ch := newFakeChannel()
	ack := newFakeAcknowledger()
	s := newSession(ch, 1, zerolog.Nop())

	received := make(chan brokerwatch.Message, 1)
	_, err := s.CreateConsumer("event.audit", func(msg brokerwatch.Message) error {
		received <- msg

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"event.audit"}, ch.declared)

	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, MessageId: "m-7", Body: []byte("payload")}

	select {
	case <-received:
		t.Fatal("message delivered before session start")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, s.Start())

	select {
	case msg := <-received:
		assert.Equal(t, "m-7", msg.ID)
		assert.Equal(t, "event.audit", msg.Queue)
		assert.Equal(t, []byte("payload"), msg.Body)
	case <-time.After(time.Second):
		t.Fatal("message wasn't delivered after session start")
	}

	select {
	case tag := <-ack.acks:
		assert.Equal(t, uint64(7), tag)
	case <-time.After(time.Second):
		t.Fatal("message wasn't acked")
	}
}

func TestSessionRejectsFailedMessages(t *testing.T) {
	ch := newFakeChannel()
	ack := newFakeAcknowledger()
	s := newSession(ch, 1, zerolog.Nop())
	require.NoError(t, s.Start())

	_, err := s.CreateConsumer("event.audit", func(brokerwatch.Message) error {
		return errors.New("forced")
	})
	require.NoError(t, err)

	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3}

	select {
	case tag := <-ack.rejects:
		assert.Equal(t, uint64(3), tag)
	case <-time.After(time.Second):
		t.Fatal("message wasn't rejected")
	}
	assert.Empty(t, ack.acks)
}

func TestSessionStopPausesDelivery(t *testing.T) {
	ch := newFakeChannel()
	ack := newFakeAcknowledger()
	s := newSession(ch, 1, zerolog.Nop())
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())

	received := make(chan brokerwatch.Message, 1)
	_, err := s.CreateConsumer("event.audit", func(msg brokerwatch.Message) error {
		received <- msg

		return nil
	})
	require.NoError(t, err)

	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1}

	select {
	case <-received:
		t.Fatal("message delivered while session stopped")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, s.Start())

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("message wasn't delivered after restart")
	}
}

func TestConsumerCloseCancelsOnce(t *testing.T) {
	ch := newFakeChannel()
	s := newSession(ch, 1, zerolog.Nop())

	c, err := s.CreateConsumer("event.audit", func(brokerwatch.Message) error { return nil })
	require.NoError(t, err)
	assert.False(t, c.IsClosed())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.True(t, c.IsClosed())
	assert.Len(t, ch.cancelled, 1)
}

func TestConsumerClosedByBroker(t *testing.T) {
	ch := newFakeChannel()
	s := newSession(ch, 1, zerolog.Nop())

	c, err := s.CreateConsumer("event.audit", func(brokerwatch.Message) error { return nil })
	require.NoError(t, err)

	ch.drop()

	assert.Eventually(t, c.IsClosed, time.Second, 5*time.Millisecond)
}

func TestSessionCloseReleasesWaitingConsumers(t *testing.T) {
	ch := newFakeChannel()
	ack := newFakeAcknowledger()
	s := newSession(ch, 1, zerolog.Nop())

	c, err := s.CreateConsumer("event.audit", func(brokerwatch.Message) error { return nil })
	require.NoError(t, err)

	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1}

	require.NoError(t, s.Close())
	// Already closed channel isn't an error.
	require.NoError(t, s.Close())

	assert.Eventually(t, c.IsClosed, time.Second, 5*time.Millisecond)
	assert.Empty(t, ack.acks)
}

func TestSessionResumesDeliveryAfterAttach(t *testing.T) {
	lost := newFakeChannel()
	s := newSession(lost, 1, zerolog.Nop())
	require.NoError(t, s.Start())

	received := make(chan brokerwatch.Message, 1)
	c, err := s.CreateConsumer("event.audit", func(msg brokerwatch.Message) error {
		received <- msg

		return nil
	})
	require.NoError(t, err)

	s.detach()
	lost.drop()

	// Give the delivery loop time to notice the lost channel.
	<-time.After(20 * time.Millisecond)
	assert.False(t, c.IsClosed(), "consumer of detached session must wait for attach")

	restored := newFakeChannel()
	require.NoError(t, s.attach(restored, 2))

	assert.Equal(t, uint64(2), s.generation())
	assert.Equal(t, []string{"event.audit"}, restored.declared)
	assert.Equal(t, lost.consumerTags(), restored.consumerTags())
	assert.False(t, c.IsClosed())

	ack := newFakeAcknowledger()
	restored.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, MessageId: "after-restore"}

	select {
	case msg := <-received:
		assert.Equal(t, "after-restore", msg.ID)
	case <-time.After(time.Second):
		t.Fatal("message wasn't delivered after attach")
	}
}

func TestSessionSubscribesConsumerCreatedWhileDetached(t *testing.T) {
	lost := newFakeChannel()
	s := newSession(lost, 1, zerolog.Nop())
	s.detach()

	c, err := s.CreateConsumer("event.audit", func(brokerwatch.Message) error { return nil })
	require.NoError(t, err)
	assert.Empty(t, lost.declared)
	assert.False(t, c.IsClosed())

	restored := newFakeChannel()
	require.NoError(t, s.attach(restored, 2))

	assert.Equal(t, []string{"event.audit"}, restored.declared)
}

func TestSessionDoesntRestoreClosedConsumers(t *testing.T) {
	lost := newFakeChannel()
	s := newSession(lost, 1, zerolog.Nop())

	c, err := s.CreateConsumer("event.audit", func(brokerwatch.Message) error { return nil })
	require.NoError(t, err)

	s.detach()
	lost.drop()

	require.NoError(t, c.Close())
	assert.True(t, c.IsClosed())
	// Detached channel isn't touched.
	assert.Empty(t, lost.cancelled)

	restored := newFakeChannel()
	require.NoError(t, s.attach(restored, 2))

	assert.Empty(t, restored.declared)
	assert.True(t, c.IsClosed())
}

func TestClosedSessionIsntAttached(t *testing.T) {
	s := newSession(newFakeChannel(), 1, zerolog.Nop())
	require.NoError(t, s.Close())

	restored := newFakeChannel()
	require.NoError(t, s.attach(restored, 2))
	assert.True(t, restored.closed)

	_, err := s.CreateConsumer("event.audit", func(brokerwatch.Message) error { return nil })
	assert.Equal(t, ErrSessionClosed, err)
}
