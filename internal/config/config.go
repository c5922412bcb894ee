// Package config loads the daemon configuration from a YAML file.
package config

import (
	"bytes"
	"os"
	"time"

	"github.com/furdarius/brokerwatch"
	"github.com/furdarius/brokerwatch/amqpbroker"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the root of the daemon configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Primary   BrokerConfig    `yaml:"primary"`
	Secondary SecondaryConfig `yaml:"secondary"`
	Events    EventsConfig    `yaml:"events"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// MonitorConfig configures broker monitors.
type MonitorConfig struct {
	// Retry interval while a broker is down, in milliseconds.
	IntervalMS     int64 `yaml:"interval_ms"`
	ProbeTimeoutMS int64 `yaml:"probe_timeout_ms"`
}

// BrokerConfig describes a single AMQP broker.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
	Attempts int    `yaml:"attempts"`
	WaitMS   int64  `yaml:"wait_ms"`
	Prefetch int    `yaml:"prefetch"`
}

// SecondaryConfig describes the optional secondary broker.
type SecondaryConfig struct {
	Enabled      bool `yaml:"enabled"`
	BrokerConfig `yaml:",inline"`
}

// ListenerConfig declares a listener consuming its own queue.
type ListenerConfig struct {
	Name              string `yaml:"name"`
	RequiresSecondary bool   `yaml:"requires_secondary"`
}

// EventsConfig configures the event source.
type EventsConfig struct {
	QueuePrefix string           `yaml:"queue_prefix"`
	Listeners   []ListenerConfig `yaml:"listeners"`
}

// HTTPConfig configures health and metrics endpoints.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads the YAML file at path. ${VAR} references are replaced
// with environment values before parsing. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config

	dec := yaml.NewDecoder(bytes.NewBufferString(expanded))
	dec.KnownFields(true)

	err = dec.Decode(&cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	return &cfg, nil
}

// LoadWithDefaults reads the file at path, applies defaults and validates the result.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, errors.WithMessage(err, "invalid config")
	}

	return cfg, nil
}

// MonitorConfig returns monitor settings for the named broker.
func (c *Config) MonitorConfig(name string) brokerwatch.MonitorConfig {
	return brokerwatch.MonitorConfig{
		Name:         name,
		Interval:     time.Duration(c.Monitor.IntervalMS) * time.Millisecond,
		ProbeTimeout: time.Duration(c.Monitor.ProbeTimeoutMS) * time.Millisecond,
	}
}

// AMQP converts b to amqpbroker.Config.
func (b BrokerConfig) AMQP() amqpbroker.Config {
	return amqpbroker.Config{
		Host:        b.Host,
		Port:        b.Port,
		Username:    b.Username,
		Password:    b.Password,
		VirtualHost: b.VHost,
		Attempts:    b.Attempts,
		Wait:        time.Duration(b.WaitMS) * time.Millisecond,
		Prefetch:    b.Prefetch,
	}
}
