package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

// unitConn is the subset of *dbus.Conn used by DBus.
type unitConn interface {
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error)
	RestartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	Close()
}

// DBus controls services by talking to systemd over D-Bus.
type DBus struct {
	conn    unitConn
	user    bool
	timeout time.Duration
	log     *slog.Logger
}

// NewDBus connects to the system bus, or the session bus when user is true.
func NewDBus(ctx context.Context, user bool, timeout time.Duration, log *slog.Logger) (*DBus, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	if user {
		conn, err = dbus.NewUserConnectionContext(ctx)
	} else {
		conn, err = dbus.NewSystemConnectionContext(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &DBus{conn: conn, user: user, timeout: timeout, log: log}, nil
}

// unitName appends ".service" unless name already carries a unit suffix.
func unitName(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

func (d *DBus) IsActive(ctx context.Context, name string) bool {
	cctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()
	unit := unitName(name)
	units, err := d.conn.ListUnitsByNamesContext(cctx, []string{unit})
	if err != nil {
		d.debug("list units failed", "unit", unit, "error", err)
		return false
	}
	return activeIn(units, unit)
}

func activeIn(units []dbus.UnitStatus, unit string) bool {
	for _, u := range units {
		if u.Name != unit {
			continue
		}
		if u.LoadState == "not-found" {
			return false
		}
		return u.ActiveState == "active"
	}
	return false
}

func (d *DBus) Restart(ctx context.Context, name string) bool {
	cctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()
	unit := unitName(name)
	done := make(chan string, 1)
	if _, err := d.conn.RestartUnitContext(cctx, unit, "replace", done); err != nil {
		d.debug("restart unit failed", "unit", unit, "error", err)
		return false
	}
	select {
	case result := <-done:
		if result != "done" {
			d.debug("restart job did not complete", "unit", unit, "result", result)
			return false
		}
		return true
	case <-cctx.Done():
		d.debug("restart job timed out", "unit", unit, "error", cctx.Err())
		return false
	}
}

func (d *DBus) Describe() string {
	if d.user {
		return "dbus:user"
	}
	return "dbus:system"
}

// Close releases the bus connection.
func (d *DBus) Close() error {
	d.conn.Close()
	return nil
}

func (d *DBus) debug(msg string, args ...any) {
	if d.log != nil {
		d.log.Debug(msg, args...)
	}
}
