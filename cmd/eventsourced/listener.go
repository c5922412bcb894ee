package main

import (
	"github.com/furdarius/brokerwatch"
	"github.com/rs/zerolog"
)

// LogListener implements brokerwatch.EventListener and
// writes every received message to the log.
type LogListener struct {
	name      string
	secondary bool
	log       zerolog.Logger
}

// NewLogListener return new instance of LogListener.
func NewLogListener(name string, requiresSecondary bool, log zerolog.Logger) *LogListener {
	return &LogListener{
		name:      name,
		secondary: requiresSecondary,
		log:       log.With().Str("listener", name).Logger(),
	}
}

// Name implement brokerwatch.EventListener.(Name) interface method.
func (l *LogListener) Name() string {
	return l.name
}

// OnMessage implement brokerwatch.EventListener.(OnMessage) interface method.
func (l *LogListener) OnMessage(msg brokerwatch.Message) error {
	l.log.Info().
		Str("id", msg.ID).
		Str("queue", msg.Queue).
		Int("size", len(msg.Body)).
		Msg("new message")

	return nil
}

// RequiresSecondary implement brokerwatch.SecondaryDependent interface method.
func (l *LogListener) RequiresSecondary() bool {
	return l.secondary
}
