package config

import "github.com/furdarius/brokerwatch"

// Default values for optional configuration fields.
const (
	DefaultLogLevel        = "info"
	DefaultMonitorInterval = 5000
	DefaultProbeTimeout    = 5000
	DefaultBrokerHost      = "localhost"
	DefaultBrokerPort      = 5672
	DefaultBrokerUsername  = "guest"
	DefaultBrokerPassword  = "guest"
	DefaultBrokerVHost     = "/"
	DefaultBrokerAttempts  = 3
	DefaultBrokerWait      = 1000
	DefaultBrokerPrefetch  = 1
	DefaultQueuePrefix     = brokerwatch.DefaultQueuePrefix
	DefaultHTTPAddr        = ":9090"
)

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}

	if c.Monitor.IntervalMS == 0 {
		c.Monitor.IntervalMS = DefaultMonitorInterval
	}
	if c.Monitor.ProbeTimeoutMS == 0 {
		c.Monitor.ProbeTimeoutMS = DefaultProbeTimeout
	}

	applyBrokerDefaults(&c.Primary)
	if c.Secondary.Enabled {
		applyBrokerDefaults(&c.Secondary.BrokerConfig)
	}

	if c.Events.QueuePrefix == "" {
		c.Events.QueuePrefix = DefaultQueuePrefix
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
}

func applyBrokerDefaults(b *BrokerConfig) {
	if b.Host == "" {
		b.Host = DefaultBrokerHost
	}
	if b.Port == 0 {
		b.Port = DefaultBrokerPort
	}
	if b.Username == "" {
		b.Username = DefaultBrokerUsername
	}
	if b.Password == "" {
		b.Password = DefaultBrokerPassword
	}
	if b.VHost == "" {
		b.VHost = DefaultBrokerVHost
	}
	if b.Attempts == 0 {
		b.Attempts = DefaultBrokerAttempts
	}
	if b.WaitMS == 0 {
		b.WaitMS = DefaultBrokerWait
	}
	if b.Prefetch == 0 {
		b.Prefetch = DefaultBrokerPrefetch
	}
}
