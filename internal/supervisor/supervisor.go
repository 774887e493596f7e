package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/loykin/sitter/internal/controller"
	"github.com/loykin/sitter/internal/history"
	"github.com/loykin/sitter/internal/metrics"
	"github.com/loykin/sitter/internal/notify"
	"github.com/loykin/sitter/internal/state"
)

// lastGaspTimeout bounds the final notification once the run context is gone.
const lastGaspTimeout = 30 * time.Second

var ErrAlreadyRunning = errors.New("supervisor loop already running")

// Loop periodically checks every configured service, restarts inactive
// ones within the retry budget and notifies the operator. All state
// transitions happen on the goroutine executing Run.
type Loop struct {
	cfg      Config
	table    *state.Table
	ctl      controller.Controller
	notifier notify.Notifier
	clock    Clock
	log      *slog.Logger
	history  *history.Recorder
	uptime   func() (time.Duration, error)

	// owned by the Run goroutine
	lastHeartbeat time.Time
	ticks         uint64

	running atomic.Bool
	current atomic.Pointer[Snapshot]

	subMu   sync.Mutex
	subs    map[chan Snapshot]struct{}
	stopped bool
}

type Option func(*Loop)

func WithClock(c Clock) Option { return func(l *Loop) { l.clock = c } }

func WithLogger(lg *slog.Logger) Option { return func(l *Loop) { l.log = lg } }

// WithHistory exports supervision events to the recorder's sinks.
func WithHistory(r *history.Recorder) Option { return func(l *Loop) { l.history = r } }

// WithUptime overrides how host uptime is obtained for heartbeat messages.
func WithUptime(f func() (time.Duration, error)) Option { return func(l *Loop) { l.uptime = f } }

// New validates cfg and builds the state table. The loop does not start until Run.
func New(cfg Config, ctl controller.Controller, n notify.Notifier, opts ...Option) (*Loop, error) {
	if ctl == nil {
		return nil, errors.New("supervisor: nil controller")
	}
	if n == nil {
		return nil, errors.New("supervisor: nil notifier")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ShutdownMode, _ = ParseShutdownMode(string(cfg.ShutdownMode))
	if cfg.Hostname == "" {
		cfg.Hostname = DefaultHostname()
	}
	table, err := state.New(cfg.Services, cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	l := &Loop{
		cfg:      cfg,
		table:    table,
		ctl:      ctl,
		notifier: n,
		clock:    realClock{},
		log:      slog.Default(),
		uptime:   hostUptime,
		subs:     make(map[chan Snapshot]struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.With("component", "supervisor")
	l.publish("")
	return l, nil
}

// DefaultHostname is the host name reported by the OS, used in every
// notification subject when none is configured.
func DefaultHostname() string {
	if info, err := host.Info(); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "localhost"
}

func hostUptime() (time.Duration, error) {
	secs, err := host.Uptime()
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

// Config returns the effective configuration.
func (l *Loop) Config() Config { return l.cfg }

// Run sends the startup notification and then ticks every CheckInterval
// until ctx is cancelled, after which the last-gasp notification is sent.
// Run returns nil after an orderly stop.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.closeSubscribers()

	l.log.Info("sitter started",
		"host", l.cfg.Hostname,
		"services", l.cfg.Services,
		"controller", l.ctl.Describe(),
		"check_interval", l.cfg.CheckInterval,
		"shutdown_mode", l.cfg.ShutdownMode)
	l.startup(ctx)

	for {
		// sleep first: gives the host time to settle after boot
		select {
		case <-ctx.Done():
			l.shutdown(ctx)
			return nil
		case <-l.clock.After(l.cfg.CheckInterval):
		}

		tickCtx := ctx
		if l.cfg.ShutdownMode == ShutdownGraceful {
			tickCtx = context.WithoutCancel(ctx)
		}
		l.tick(tickCtx)

		if ctx.Err() != nil {
			l.shutdown(ctx)
			return nil
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	l.ticks++
	id := xid.New().String()
	log := l.log.With("tick", id)
	start := l.clock.Now()
	log.Debug("tick start", "n", l.ticks)

	for _, name := range l.table.Names() {
		if ctx.Err() != nil {
			log.Info("tick interrupted", "skipped_from", name)
			break
		}
		l.evaluate(ctx, log, name)
	}
	if ctx.Err() == nil {
		l.heartbeat(ctx, log)
	}

	metrics.ObserveTick(l.clock.Now().Sub(start).Seconds())
	l.publish(id)
}

// evaluate applies one observation of name to the state table.
func (l *Loop) evaluate(ctx context.Context, log *slog.Logger, name string) {
	log = log.With("service", name)
	log.Debug("checking service")

	active := l.ctl.IsActive(ctx, name)
	metrics.IncCheck(name, active)
	if active {
		log.Debug("service is active")
		_ = l.table.MarkActive(name)
		l.syncMetrics(name)
		return
	}
	if ctx.Err() != nil {
		return
	}
	log.Debug("service is NOT active")
	l.record(ctx, history.EventCheck, name, false, "")

	action, err := l.table.Plan(name)
	if err != nil {
		log.Error("plan failed", "error", err)
		return
	}
	switch action {
	case state.ActionRestart:
		l.restart(ctx, log, name)
	case state.ActionAlert:
		l.alert(ctx, log, name)
	case state.ActionNone:
		log.Debug("service still down, operator already alerted")
	}
	l.syncMetrics(name)
}

func (l *Loop) restart(ctx context.Context, log *slog.Logger, name string) {
	rec, _ := l.table.Record(name)
	log.Info("attempting to restart service", "attempt", rec.RetryCount+1, "max_retries", l.cfg.MaxRetries)

	if !l.ctl.Restart(ctx, name) {
		if ctx.Err() != nil {
			return
		}
		_ = l.table.MarkRestartFailed(name)
		metrics.IncRestart(name, "failed")
		l.record(ctx, history.EventRestart, name, false, "restart command failed")
		log.Warn("restart attempt failed")
		return
	}
	l.record(ctx, history.EventRestart, name, true, "")

	// The confirmation wait blocks the remaining services of this tick.
	select {
	case <-ctx.Done():
		return
	case <-l.clock.After(l.cfg.ConfirmInterval):
	}

	if l.ctl.IsActive(ctx, name) {
		_ = l.table.MarkActive(name)
		metrics.IncRestart(name, "confirmed")
		l.record(ctx, history.EventConfirm, name, true, "")
		log.Info("restarting service succeeded")
		return
	}
	if ctx.Err() != nil {
		return
	}
	_ = l.table.MarkRestartFailed(name)
	metrics.IncRestart(name, "died")
	l.record(ctx, history.EventConfirm, name, false, "inactive after confirm interval")
	log.Warn("restarted service failed within confirm interval", "confirm_interval", l.cfg.ConfirmInterval)
}

func (l *Loop) alert(ctx context.Context, log *slog.Logger, name string) {
	subject, body := alertMessage(l.cfg.Hostname, name, l.clock.Now())
	log.Info("restart budget exhausted, alerting operator")

	err := l.notifier.Send(ctx, subject, body)
	metrics.IncNotification(string(history.EventAlert), err == nil)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		_ = l.table.MarkAlertFailed(name)
		l.record(ctx, history.EventAlert, name, false, err.Error())
		log.Warn("emailing the alert message failed", "error", err)
		return
	}
	_ = l.table.MarkAlerted(name)
	l.record(ctx, history.EventAlert, name, true, body)
	log.Info("alert delivered")
}

func (l *Loop) heartbeat(ctx context.Context, log *slog.Logger) {
	now := l.clock.Now()
	if !l.lastHeartbeat.IsZero() && now.Sub(l.lastHeartbeat) < l.cfg.HeartbeatInterval {
		return
	}
	running, down := l.table.Partition()
	var up time.Duration
	if l.uptime != nil {
		if d, err := l.uptime(); err == nil {
			up = d
		} else {
			log.Debug("host uptime unavailable", "error", err)
		}
	}
	subject, body := heartbeatMessage(l.cfg.Hostname, now, running, down, up)

	err := l.notifier.Send(ctx, subject, body)
	metrics.IncNotification(string(history.EventHeartbeat), err == nil)
	if err != nil {
		l.record(ctx, history.EventHeartbeat, "", false, err.Error())
		log.Info("sending heartbeat failed", "error", err)
		return
	}
	l.lastHeartbeat = now
	l.record(ctx, history.EventHeartbeat, "", true, body)
	log.Debug("heartbeat sent", "running", len(running), "down", len(down))
}

func (l *Loop) startup(ctx context.Context) {
	subject, body := startupMessage(l.cfg.Hostname, l.table.Names())
	err := l.notifier.Send(ctx, subject, body)
	metrics.IncNotification(string(history.EventStartup), err == nil)
	if err != nil {
		l.record(ctx, history.EventStartup, "", false, err.Error())
		l.log.Warn("sending startup notification failed", "error", err)
		return
	}
	l.record(ctx, history.EventStartup, "", true, "")
	l.log.Debug("startup notification sent")
}

// shutdown sends the last-gasp notification. It runs after cancellation,
// so it uses a detached context with its own deadline.
func (l *Loop) shutdown(ctx context.Context) {
	l.log.Info("sitter stopping", "cause", context.Cause(ctx))
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lastGaspTimeout)
	defer cancel()

	now := l.clock.Now()
	subject, body := lastGaspMessage(l.cfg.Hostname, now)
	err := l.notifier.Send(sctx, subject, body)
	metrics.IncNotification(string(history.EventLastGasp), err == nil)
	if err != nil {
		l.record(sctx, history.EventLastGasp, "", false, err.Error())
		l.log.Info("sending lastgasp failed", "error", err)
	} else {
		l.lastHeartbeat = now
		l.record(sctx, history.EventLastGasp, "", true, "")
		l.log.Debug("lastgasp sent")
	}
	l.publish("")
}

func (l *Loop) record(ctx context.Context, t history.EventType, service string, ok bool, detail string) {
	if l.history == nil {
		return
	}
	e := history.NewEvent(t, l.clock.Now())
	e.Service = service
	e.OK = ok
	e.Detail = detail
	if service != "" {
		if rec, err := l.table.Record(service); err == nil {
			e.RetryCount = rec.RetryCount
			e.Notified = rec.Notified
			e.Running = rec.Running
		}
	}
	l.history.Record(ctx, e)
}

func (l *Loop) syncMetrics(name string) {
	if rec, err := l.table.Record(name); err == nil {
		metrics.SetServiceState(name, rec.Running, rec.RetryCount)
	}
}
