//go:build integration

package amqpbroker

import (
	"context"
	"testing"
	"time"

	"github.com/furdarius/brokerwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type integrationListener struct {
	received chan brokerwatch.Message
}

func (l *integrationListener) Name() string {
	return "integration"
}

func (l *integrationListener) OnMessage(msg brokerwatch.Message) error {
	l.received <- msg

	return nil
}

func TestIntegrationProbe(t *testing.T) {
	p := NewProber(integrationConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, p.Probe(ctx))
}

func TestIntegrationEventSource(t *testing.T) {
	cfg := integrationConfig()

	monitor := brokerwatch.NewMonitor(brokerwatch.MonitorConfig{
		Name:     "integration",
		Interval: 100 * time.Millisecond,
	}, NewProber(cfg))
	defer monitor.Close()

	conn := NewConnector(cfg, WithName("integration"), WithHooks(Hooks{
		OnLost: func(ConnectionLost) {
			monitor.ConnectionClosed()
		},
	}))

	source := brokerwatch.NewEventSource(conn)
	defer source.ShutDown()

	source.Bind(monitor)

	listener := &integrationListener{received: make(chan brokerwatch.Message, 1)}
	source.RegisterListener(listener)

	monitor.Initialize(context.Background())
	require.Equal(t, brokerwatch.StatusConnected, monitor.Status())

	states := source.Receivers()
	require.Len(t, states, 1)
	assert.True(t, states[0].SessionOpen)
	assert.True(t, states[0].ConsumerActive)
}
