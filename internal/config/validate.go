package config

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Validate checks the configuration after defaults were applied.
func (c *Config) Validate() error {
	var problems []string

	if c.Monitor.IntervalMS <= 0 {
		problems = append(problems, "monitor.interval_ms must be positive")
	}
	if c.Monitor.ProbeTimeoutMS < 0 {
		problems = append(problems, "monitor.probe_timeout_ms must not be negative")
	}

	problems = append(problems, validateBroker("primary", c.Primary)...)
	if c.Secondary.Enabled {
		problems = append(problems, validateBroker("secondary", c.Secondary.BrokerConfig)...)
	}

	seen := make(map[string]bool, len(c.Events.Listeners))
	for i, l := range c.Events.Listeners {
		switch {
		case l.Name == "":
			problems = append(problems, fmt.Sprintf("events.listeners[%d].name is required", i))
		case seen[l.Name]:
			problems = append(problems, fmt.Sprintf("events.listeners[%d].name %q is duplicated", i, l.Name))
		}
		seen[l.Name] = true

		if l.RequiresSecondary && !c.Secondary.Enabled {
			problems = append(problems, fmt.Sprintf("events.listeners[%d] requires disabled secondary broker", i))
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}

	return nil
}

func validateBroker(name string, b BrokerConfig) []string {
	var problems []string

	if b.Host == "" {
		problems = append(problems, name+".host is required")
	}
	if b.Port <= 0 || b.Port > 65535 {
		problems = append(problems, fmt.Sprintf("%s.port %d is out of range", name, b.Port))
	}
	if b.Attempts < 0 {
		problems = append(problems, name+".attempts must not be negative")
	}
	if b.WaitMS < 0 {
		problems = append(problems, name+".wait_ms must not be negative")
	}

	return problems
}
