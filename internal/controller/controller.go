package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

//go:generate mockgen -destination ./mock/controller.go -package mock . Controller

// Controller queries and restarts named OS services.
// Every failure, whether the unit is missing, crashed or the call timed out,
// is reported as false. Implementations must be safe to call sequentially
// and repeatedly; the supervisor never calls them concurrently.
type Controller interface {
	// IsActive reports whether the named service is currently active.
	IsActive(ctx context.Context, name string) bool
	// Restart asks the service manager to restart the named service and
	// reports whether the request itself succeeded.
	Restart(ctx context.Context, name string) bool
	// Describe returns a human-readable description of the control method.
	Describe() string
}

// Controller types accepted by New.
const (
	TypeSystemctl = "systemctl"
	TypeDBus      = "dbus"
	TypeCommand   = "command"
)

// DefaultTimeout bounds a single status or restart call.
const DefaultTimeout = 30 * time.Second

// Config selects and parameterizes a Controller.
type Config struct {
	Type           string
	Binary         string        // systemctl binary, default "systemctl"
	User           bool          // use the per-user service manager
	Timeout        time.Duration // per call; DefaultTimeout when zero
	StatusCommand  string        // command type: template containing {name}
	RestartCommand string        // command type: template containing {name}
}

// Validate checks the configuration without touching the system.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case "", TypeSystemctl, TypeDBus:
		return nil
	case TypeCommand:
		if !strings.Contains(c.StatusCommand, NamePlaceholder) {
			return fmt.Errorf("controller status_command must contain %s", NamePlaceholder)
		}
		if !strings.Contains(c.RestartCommand, NamePlaceholder) {
			return fmt.Errorf("controller restart_command must contain %s", NamePlaceholder)
		}
		return nil
	default:
		return fmt.Errorf("unknown controller type %q", c.Type)
	}
}

// New builds the Controller described by cfg. The DBus controller connects
// to the system (or user) bus immediately.
func New(ctx context.Context, cfg Config, log *slog.Logger) (Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case TypeDBus:
		return NewDBus(ctx, cfg.User, timeout, log)
	case TypeCommand:
		return &Command{Status: cfg.StatusCommand, RestartCmd: cfg.RestartCommand, Timeout: timeout, Log: log}, nil
	default:
		return &Systemctl{Binary: cfg.Binary, User: cfg.User, Timeout: timeout, Log: log}, nil
	}
}
