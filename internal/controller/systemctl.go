package controller

import (
	"context"
	"log/slog"
	"os/exec"
	"time"
)

// Systemctl controls services by running the systemctl binary.
// Exit status 0 means active (is-active) or accepted (restart).
type Systemctl struct {
	Binary  string
	User    bool
	Timeout time.Duration
	Log     *slog.Logger
}

func (s *Systemctl) IsActive(ctx context.Context, name string) bool {
	return s.run(ctx, "is-active", name)
}

func (s *Systemctl) Restart(ctx context.Context, name string) bool {
	return s.run(ctx, "restart", name)
}

func (s *Systemctl) Describe() string {
	if s.User {
		return "systemctl --user"
	}
	return "systemctl"
}

func (s *Systemctl) args(verb, name string) []string {
	args := make([]string, 0, 3)
	if s.User {
		args = append(args, "--user")
	}
	return append(args, verb, name)
}

func (s *Systemctl) run(ctx context.Context, verb, name string) bool {
	cctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	bin := s.Binary
	if bin == "" {
		bin = "systemctl"
	}
	// #nosec G204
	cmd := exec.CommandContext(cctx, bin, s.args(verb, name)...)
	ok, err := runOK(cctx, cmd)
	if err != nil && s.Log != nil {
		s.Log.Debug("systemctl call failed", "verb", verb, "service", name, "error", err)
	}
	return ok
}
