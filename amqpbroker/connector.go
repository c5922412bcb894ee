package amqpbroker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/furdarius/brokerwatch"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// defaultRestoreWait is used between restore rounds when Config.Wait isn't set.
const defaultRestoreWait = time.Second

// ErrConnectorClosed is returned by CreateSession after Close.
var ErrConnectorClosed = errors.New("connector closed")

// ConnectorOption describes a functional option for configuring Connector.
type ConnectorOption func(*Connector)

// WithLogger sets logger used by Connector and its sessions.
func WithLogger(l zerolog.Logger) ConnectorOption {
	return func(c *Connector) {
		c.log = l
	}
}

// WithName sets broker name reported in events. Host is used by default.
func WithName(name string) ConnectorOption {
	return func(c *Connector) {
		c.name = name
	}
}

// WithHooks sets hooks called on connection events.
func WithHooks(h Hooks) ConnectorOption {
	return func(c *Connector) {
		c.hooks = h
	}
}

// Connector implements brokerwatch.SessionFactory over a single
// rabbitmq connection. Connection is dialed lazily by CreateSession.
//
// When the connection is lost with an error, Connector redials it
// in background until success or Close, and moves every open session
// to the new connection keeping its consumers.
type Connector struct {
	cfg   Config
	name  string
	log   zerolog.Logger
	hooks Hooks
	dial  func(ctx context.Context, url string) (connection, error)

	// ctx is cancelled by Close and interrupts dialing.
	ctx    context.Context
	cancel context.CancelFunc

	mx   sync.Mutex
	conn connection
	// gen is incremented on every established connection.
	gen      uint64
	sessions map[*session]struct{}
	closed   bool
}

// NewConnector return new instance of Connector.
func NewConnector(cfg Config, opts ...ConnectorOption) *Connector {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Connector{
		cfg:      cfg,
		name:     cfg.Host,
		log:      zerolog.Nop(),
		dial:     dialConnection,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*session]struct{}),
	}

	for _, option := range opts {
		option(c)
	}

	c.log = c.log.With().Str("broker", c.name).Logger()

	return c
}

// CreateSession opens a new channel on the connection, dialing it first if needed.
//
// NOTE: It's blocking method. (It's waiting before connection will be established)
func (c *Connector) CreateSession(ctx context.Context) (brokerwatch.Session, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	conn, err := c.connection(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to get connection")
	}

	ch, err := c.openChannel(conn)
	if err != nil {
		return nil, err
	}

	s := newSession(ch, c.gen, c.log)
	s.release = c.forget
	c.sessions[s] = struct{}{}

	return s, nil
}

// Close closes the connection. Sessions can't be created afterwards
// and lost connection isn't restored.
func (c *Connector) Close() error {
	c.cancel()

	c.mx.Lock()
	defer c.mx.Unlock()

	c.closed = true

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	// It's not error if connection has already been closed.
	if err != nil && err != amqp.ErrClosed {
		return errors.Wrap(err, "failed to close rabbitmq connection")
	}

	return nil
}

// connection returns an open connection, dialing a new one if needed.
// Caller must hold mx.
func (c *Connector) connection(ctx context.Context) (connection, error) {
	if c.closed {
		return nil, ErrConnectorClosed
	}

	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn, nil
	}

	// Dialing is interrupted by Close as well.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	conn, err := c.redial(ctx)
	if err != nil {
		if c.ctx.Err() != nil {
			return nil, ErrConnectorClosed
		}

		return nil, errors.WithMessage(err, "failed to dial")
	}

	c.conn = conn
	c.gen++

	c.hooks.dialed(Dialed{Broker: c.name, Redial: c.gen > 1})
	c.log.Info().Uint64("generation", c.gen).Msg("rabbitmq connection established")

	// In the case of connection problems,
	// we will get an error from closeCh
	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	go c.watch(closeCh, c.gen)

	return conn, nil
}

// redial attempts to connect to rabbitmq up to cfg.Attempts times.
func (c *Connector) redial(ctx context.Context) (connection, error) {
	var err error

	url := c.cfg.URL()

	for i := 1; i <= c.cfg.Attempts; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var conn connection

		conn, err = c.dial(ctx, url)
		if err != nil {
			c.hooks.retried(Retried{Broker: c.name, Attempt: i, Err: err})

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.Wait):
				continue
			}
		}

		return conn, nil
	}

	return nil, errors.WithMessage(err, "maximum attempts exceeded")
}

// openChannel opens a channel on conn and applies prefetch.
func (c *Connector) openChannel(conn connection) (channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open channel")
	}

	if c.cfg.Prefetch > 0 {
		err = ch.Qos(c.cfg.Prefetch, 0, false)
		if err != nil {
			_ = ch.Close()

			return nil, errors.Wrap(err, "failed to set qos")
		}
	}

	return ch, nil
}

// sessionsBefore returns open sessions of connection generations below gen.
func (c *Connector) sessionsBefore(gen uint64) []*session {
	c.mx.Lock()
	defer c.mx.Unlock()

	sessions := make([]*session, 0, len(c.sessions))
	for s := range c.sessions {
		if s.generation() < gen {
			sessions = append(sessions, s)
		}
	}

	return sessions
}

// forget removes closed session s from restore list.
func (c *Connector) forget(s *session) {
	c.mx.Lock()
	defer c.mx.Unlock()

	delete(c.sessions, s)
}

// watch waits for close of the connection generation gen.
// Graceful close delivers no error and isn't reported.
// Lost connection is restored.
func (c *Connector) watch(closeCh <-chan *amqp.Error, gen uint64) {
	amqpErr, ok := <-closeCh
	if !ok || amqpErr == nil {
		return
	}

	c.log.Warn().Err(amqpErr).Msg("rabbitmq connection lost")

	for _, s := range c.sessionsBefore(gen + 1) {
		s.detach()
	}

	c.hooks.lost(ConnectionLost{Broker: c.name, Err: amqpErr})

	c.restore()
}

// restore redials the connection until success or Close
// and moves detached sessions to it.
func (c *Connector) restore() {
	wait := c.cfg.Wait
	if wait <= 0 {
		wait = defaultRestoreWait
	}

	for {
		c.mx.Lock()
		conn, err := c.connection(c.ctx)
		gen := c.gen
		c.mx.Unlock()

		if err == nil {
			c.reattach(conn, gen)

			return
		}

		if errors.Cause(err) == ErrConnectorClosed {
			return
		}

		c.log.Warn().Err(err).Msg("failed to restore rabbitmq connection")

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// reattach moves sessions opened on older connections to conn.
func (c *Connector) reattach(conn connection, gen uint64) {
	stale := c.sessionsBefore(gen)

	var (
		g      errgroup.Group
		failed atomic.Int32
	)

	for _, s := range stale {
		s := s

		g.Go(func() error {
			ch, err := c.openChannel(conn)
			if err == nil {
				err = s.attach(ch, gen)
			}

			if err != nil {
				failed.Add(1)

				return err
			}

			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		c.log.Error().Err(err).Int32("failed", failed.Load()).Msg("failed to restore some sessions")
	}

	c.log.Info().Int("sessions", len(stale)).Msg("rabbitmq sessions restored")

	c.hooks.restored(Restored{Broker: c.name, Sessions: len(stale), Failed: int(failed.Load())})
}
