package amqpbroker

import (
	"sync"

	"github.com/furdarius/brokerwatch"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ErrSessionClosed is returned by CreateConsumer after Close.
var ErrSessionClosed = errors.New("session closed")

// session implements brokerwatch.Session on a single AMQP channel.
// Deliveries are held until Start is called.
//
// When the connection is lost the session is detached. Its consumers
// are kept and subscribed again with the same tags once the session
// is attached to a channel of a new connection.
type session struct {
	log zerolog.Logger

	// mx guards the channel, consumers and the delivery gate.
	mx        sync.Mutex
	ch        channel
	gen       uint64
	detached  bool
	consumers map[string]*consumer
	gate      chan struct{}
	started   bool

	done      chan struct{}
	closeOnce sync.Once
	// release is called once the session is closed.
	release func(*session)
}

func newSession(ch channel, gen uint64, log zerolog.Logger) *session {
	return &session{
		log:       log,
		ch:        ch,
		gen:       gen,
		consumers: make(map[string]*consumer),
		gate:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// CreateConsumer declares durable queue and starts consuming it.
// A consumer created while the session is detached is subscribed on attach.
func (s *session) CreateConsumer(queue string, handler brokerwatch.MessageHandler) (brokerwatch.MessageConsumer, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.isClosed() {
		return nil, ErrSessionClosed
	}

	tag := "brokerwatch-" + uuid.NewString()

	c := &consumer{
		session: s,
		queue:   queue,
		tag:     tag,
		handler: handler,
		log:     s.log.With().Str("queue", queue).Str("tag", tag).Logger(),
	}

	if !s.detached {
		err := s.subscribe(c)
		if err != nil {
			return nil, err
		}
	}

	s.consumers[tag] = c

	return c, nil
}

// subscribe declares queue of c and starts its delivery loop.
// Caller must hold mx.
func (s *session) subscribe(c *consumer) error {
	_, err := s.ch.QueueDeclare(
		c.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return errors.Wrapf(err, "failed to declare queue %s", c.queue)
	}

	deliveries, err := s.ch.Consume(
		c.queue, // queue
		c.tag,   // consumer name
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return errors.Wrapf(err, "failed to consume %s", c.queue)
	}

	c.done = make(chan struct{})
	go c.dispatch(deliveries, c.done)

	return nil
}

// Start opens the delivery gate.
func (s *session) Start() error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if !s.started {
		close(s.gate)
		s.started = true
	}

	return nil
}

// Stop closes the delivery gate. Deliveries received meanwhile
// wait until Start or Close.
func (s *session) Stop() error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.started {
		s.gate = make(chan struct{})
		s.started = false
	}

	return nil
}

// Close closes the AMQP channel together with all its consumers.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		if s.release != nil {
			s.release(s)
		}
	})

	s.mx.Lock()
	defer s.mx.Unlock()

	for tag, c := range s.consumers {
		c.closed = true
		delete(s.consumers, tag)
	}

	err := s.ch.Close()
	// It's not error if channel has already been closed.
	if err != nil && err != amqp.ErrClosed {
		return errors.Wrap(err, "failed to close channel")
	}

	return nil
}

// detach marks the session channel as lost.
func (s *session) detach() {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.detached = true
}

// attach replaces the session channel with ch opened on
// connection generation gen and subscribes all open consumers.
// Consumers failed to subscribe report IsClosed.
func (s *session) attach(ch channel, gen uint64) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.isClosed() {
		_ = ch.Close()

		return nil
	}

	s.ch = ch
	s.gen = gen
	s.detached = false

	var failed error
	for _, c := range s.consumers {
		err := s.subscribe(c)
		if err != nil {
			c.log.Error().Err(err).Msg("failed to restore consumer")

			failed = err
		}
	}

	return failed
}

// generation returns the generation of the connection
// the session channel belongs to.
func (s *session) generation() uint64 {
	s.mx.Lock()
	defer s.mx.Unlock()

	return s.gen
}

func (s *session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
	}

	return false
}

// waitStarted blocks until the session is started.
// It returns false if the session was closed.
func (s *session) waitStarted() bool {
	s.mx.Lock()
	gate := s.gate
	s.mx.Unlock()

	select {
	case <-gate:
		return true
	case <-s.done:
		return false
	}
}
