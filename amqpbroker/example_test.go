package amqpbroker_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/furdarius/brokerwatch"
	"github.com/furdarius/brokerwatch/amqpbroker"
)

// Listener implement brokerwatch.EventListener interface.
type Listener struct{}

// Name implement brokerwatch.EventListener.(Name) interface method.
func (l *Listener) Name() string {
	return "myqueue"
}

// OnMessage implement brokerwatch.EventListener.(OnMessage) interface method.
func (l *Listener) OnMessage(msg brokerwatch.Message) error {
	fmt.Println("New message:", string(msg.Body))

	return nil
}

// This example demonstrates consuming messages from RabbitMQ queue
// while its availability is monitored.
func ExampleConnector() {
	cfg := amqpbroker.Config{
		Host:        "127.0.0.1",
		Port:        5672,
		Username:    "guest",
		Password:    "guest",
		VirtualHost: "/",
		// Max dial attempts
		Attempts: 20,
		// How long wait between dial attempts
		Wait: 2 * time.Second,
	}

	monitor := brokerwatch.NewMonitor(brokerwatch.MonitorConfig{
		Name:     "rabbitmq",
		Interval: 5 * time.Second,
	}, amqpbroker.NewProber(cfg))
	defer monitor.Close()

	conn := amqpbroker.NewConnector(cfg, amqpbroker.WithName("rabbitmq"), amqpbroker.WithHooks(amqpbroker.Hooks{
		OnRetried: func(r amqpbroker.Retried) {
			log.Printf("try to connect to %s: attempt=%d, error=\"%v\"", r.Broker, r.Attempt, r.Err)
		},
		OnDialed: func(d amqpbroker.Dialed) {
			log.Printf("%s connection successfully established, redial=%t", d.Broker, d.Redial)
		},
		OnLost: func(e amqpbroker.ConnectionLost) {
			log.Printf("%s connection lost: %v", e.Broker, e.Err)

			monitor.ConnectionClosed()
		},
		OnRestored: func(r amqpbroker.Restored) {
			log.Printf("%s sessions restored: %d, failed: %d", r.Broker, r.Sessions, r.Failed)
		},
	}))

	source := brokerwatch.NewEventSource(conn, brokerwatch.WithQueuePrefix(""))
	defer source.ShutDown()

	source.Bind(monitor)
	source.RegisterListener(&Listener{})

	monitor.Initialize(context.Background())

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, os.Interrupt, syscall.SIGTERM)

	// Wait for OS termination signal
	<-sigc
}
