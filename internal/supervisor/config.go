package supervisor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ShutdownMode selects what cancellation does to a tick that is in progress.
type ShutdownMode string

const (
	// ShutdownGraceful lets the in-flight tick, including a pending restart
	// confirmation, run to completion. The loop stops before the next tick.
	ShutdownGraceful ShutdownMode = "graceful"
	// ShutdownImmediate interrupts the in-flight tick. Services not yet
	// evaluated are skipped and interrupted observations are discarded.
	ShutdownImmediate ShutdownMode = "immediate"
)

// ParseShutdownMode maps a configuration value to a ShutdownMode. Empty means graceful.
func ParseShutdownMode(s string) (ShutdownMode, error) {
	switch ShutdownMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ShutdownGraceful:
		return ShutdownGraceful, nil
	case ShutdownImmediate:
		return ShutdownImmediate, nil
	default:
		return "", fmt.Errorf("unknown shutdown mode %q", s)
	}
}

// Config holds the loop parameters. It is validated by New.
type Config struct {
	Services          []string
	CheckInterval     time.Duration
	HeartbeatInterval time.Duration
	ConfirmInterval   time.Duration
	MaxRetries        int
	ShutdownMode      ShutdownMode
	Hostname          string
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	if len(c.Services) == 0 {
		errs = append(errs, errors.New("supervisor: no services configured"))
	}
	seen := make(map[string]struct{}, len(c.Services))
	for _, s := range c.Services {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, errors.New("supervisor: empty service name"))
			continue
		}
		if _, dup := seen[s]; dup {
			errs = append(errs, fmt.Errorf("supervisor: duplicate service %q", s))
		}
		seen[s] = struct{}{}
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"check_interval", c.CheckInterval},
		{"heartbeat_interval", c.HeartbeatInterval},
		{"confirm_interval", c.ConfirmInterval},
	} {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("supervisor: %s must be positive, got %s", d.name, d.v))
		}
	}
	if c.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("supervisor: max_retries must be positive, got %d", c.MaxRetries))
	}
	if _, err := ParseShutdownMode(string(c.ShutdownMode)); err != nil {
		errs = append(errs, fmt.Errorf("supervisor: %w", err))
	}
	return errors.Join(errs...)
}
