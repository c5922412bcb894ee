package amqpbroker

import (
	"fmt"
	"net/url"
	"time"
)

// Config store all data required to dial with rabbitmq.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	VirtualHost string
	// Max dial attempts before session creation fails.
	Attempts int
	// How long wait between dial attempts.
	Wait time.Duration
	// Prefetch count of every session. Zero means no limit.
	Prefetch int
}

// URL return a string in the AMQP URI format.
func (c *Config) URL() string {
	return fmt.Sprintf(
		"amqp://%s@%s:%d/%s",
		url.UserPassword(c.Username, c.Password).String(),
		c.Host,
		c.Port,
		url.PathEscape(c.VirtualHost),
	)
}
