package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOrDefault parses a duration string and falls back to defaultValue when empty.
func DurationOrDefault(value string, defaultValue string) (time.Duration, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		candidate = strings.TrimSpace(defaultValue)
	}
	if candidate == "" {
		return 0, fmt.Errorf("duration value is empty")
	}

	d, err := time.ParseDuration(candidate)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", candidate, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", candidate)
	}
	return d, nil
}

// Timeouts holds the parsed duration settings.
type Timeouts struct {
	Request        time.Duration
	ReconnectDelay time.Duration
}

func (c *Config) Timeouts() (Timeouts, error) {
	request, err := DurationOrDefault(c.Server.RequestTimeout, DefaultServerRequestTimeout)
	if err != nil {
		return Timeouts{}, fmt.Errorf("server.request_timeout: %w", err)
	}
	reconnect, err := DurationOrDefault(c.Stream.ReconnectDelay, DefaultStreamReconnectDelay)
	if err != nil {
		return Timeouts{}, fmt.Errorf("stream.reconnect_delay: %w", err)
	}
	return Timeouts{Request: request, ReconnectDelay: reconnect}, nil
}
