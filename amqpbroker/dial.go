package amqpbroker

import (
	"context"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	heartbeat = 10 * time.Second
	locale    = "en_US"
)

// channel is the subset of *amqp.Channel used by session.
type channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// connection is the subset of *amqp.Connection used by Connector.
type connection interface {
	Channel() (channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// amqpConnection adapts *amqp.Connection to connection.
type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}

	return ch, nil
}

// dialAMQP opens a connection to url. Dialing and
// the AMQP handshake respect ctx.
func dialAMQP(ctx context.Context, url string) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    locale,
		Dial: func(network, addr string) (net.Conn, error) {
			var d net.Dialer

			nc, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}

			// amqp resets the deadline once the handshake is done.
			if deadline, ok := ctx.Deadline(); ok {
				_ = nc.SetDeadline(deadline)
			}

			return nc, nil
		},
	})
}

func dialConnection(ctx context.Context, url string) (connection, error) {
	conn, err := dialAMQP(ctx, url)
	if err != nil {
		return nil, err
	}

	return amqpConnection{conn}, nil
}
