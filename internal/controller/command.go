package controller

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// NamePlaceholder is substituted with the service name in command templates.
const NamePlaceholder = "{name}"

// Command controls services through operator-supplied command templates,
// e.g. "service {name} status" and "service {name} restart".
type Command struct {
	Status     string
	RestartCmd string
	Timeout    time.Duration
	Log        *slog.Logger
}

func (c *Command) IsActive(ctx context.Context, name string) bool {
	return c.run(ctx, c.Status, name)
}

func (c *Command) Restart(ctx context.Context, name string) bool {
	return c.run(ctx, c.RestartCmd, name)
}

func (c *Command) Describe() string { return "cmd:" + c.Status }

func (c *Command) run(ctx context.Context, tmpl, name string) bool {
	cctx, cancel := withTimeout(ctx, c.Timeout)
	defer cancel()
	line := strings.ReplaceAll(tmpl, NamePlaceholder, name)
	ok, err := runOK(cctx, buildShellAwareCommand(cctx, line))
	if err != nil && c.Log != nil {
		c.Log.Debug("service command failed", "command", line, "error", err)
	}
	return ok
}
