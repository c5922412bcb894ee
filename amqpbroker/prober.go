package amqpbroker

import (
	"context"

	"github.com/pkg/errors"
)

// Prober implements brokerwatch.Prober. Every probe dials
// a dedicated connection and closes it right away.
type Prober struct {
	cfg Config
}

// NewProber return new instance of Prober.
func NewProber(cfg Config) *Prober {
	return &Prober{cfg: cfg}
}

// Probe checks that rabbitmq accepts connections.
// Dialing respects ctx deadline and cancellation.
func (p *Prober) Probe(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	conn, err := dialAMQP(ctx, p.cfg.URL())
	if err != nil {
		return errors.Wrap(err, "failed to dial")
	}

	// Broker is reachable even if close fails.
	_ = conn.Close() //nolint: gosec

	return nil
}
