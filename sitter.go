package sitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/sitter/internal/config"
	"github.com/loykin/sitter/internal/controller"
	"github.com/loykin/sitter/internal/history"
	"github.com/loykin/sitter/internal/history/factory"
	"github.com/loykin/sitter/internal/metrics"
	"github.com/loykin/sitter/internal/notify"
	iapi "github.com/loykin/sitter/internal/server"
	"github.com/loykin/sitter/internal/supervisor"
	itls "github.com/loykin/sitter/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Snapshot = supervisor.Snapshot

type ServiceStatus = supervisor.ServiceStatus

type HistorySink = history.Sink

const shutdownTimeout = 5 * time.Second

// Sitter wires a supervisor loop to its controller, notifier, history
// sinks and optional HTTP surfaces, all built from one Config.
type Sitter struct {
	cfg       *Config
	host      string
	log       *slog.Logger
	logCloser io.Closer
	ctl       controller.Controller
	notifier  notify.Notifier
	history   *history.Recorder
	loop      *supervisor.Loop
}

func LoadConfig(path string) (*Config, error) {
	return cfg.Load(path)
}

// New builds every component described by c. Nothing runs until Run.
func New(ctx context.Context, c *Config) (*Sitter, error) {
	log, closer := c.LoggerConfig().NewSlogger()
	s := &Sitter{cfg: c, host: c.Hostname(), log: log, logCloser: closer}

	ctl, err := controller.New(ctx, c.ControllerConfig(), log)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("controller: %w", err)
	}
	s.ctl = ctl

	n, err := notify.New(c.NotifyConfig(s.host), log)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("notifier: %w", err)
	}
	s.notifier = n

	var sinks []history.Sink
	if c.History.Enabled {
		sink, err := factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("history sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	s.history = history.NewRecorder(log, sinks...)

	sc := c.SupervisorConfig()
	sc.Hostname = s.host
	loop, err := supervisor.New(sc, ctl, n,
		supervisor.WithLogger(log),
		supervisor.WithHistory(s.history))
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.loop = loop
	return s, nil
}

func (s *Sitter) Logger() *slog.Logger { return s.log }

func (s *Sitter) Hostname() string { return s.host }

func (s *Sitter) Snapshot() Snapshot { return s.loop.Snapshot() }

func (s *Sitter) Subscribe() (<-chan Snapshot, func()) { return s.loop.Subscribe() }

// Handler returns the status API mounted under basePath, for embedding in
// another server.
func (s *Sitter) Handler(basePath string) http.Handler {
	return iapi.NewRouter(s.loop, basePath, s.log).Handler()
}

// Run starts the configured HTTP surfaces and blocks in the supervisor
// loop until ctx is cancelled. It returns nil after an orderly stop.
func (s *Sitter) Run(ctx context.Context) error {
	var servers []*http.Server
	if s.cfg.Metrics.Enabled {
		if err := RegisterMetricsDefault(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		srv, err := NewMetricsServer(s.cfg.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		s.log.Info("serving metrics", "addr", srv.Addr)
		servers = append(servers, srv)
	}
	if s.cfg.Server.Listen != "" {
		tlsCfg, err := itls.Setup(s.cfg.TLSConfig())
		if err != nil {
			shutdownAll(servers)
			return fmt.Errorf("status api tls: %w", err)
		}
		srv, err := iapi.NewServer(s.cfg.Server.Listen, s.cfg.Server.BasePath, s.loop, s.log, tlsCfg)
		if err != nil {
			shutdownAll(servers)
			return fmt.Errorf("status api listener: %w", err)
		}
		s.log.Info("serving status api", "addr", srv.Addr, "base_path", s.cfg.Server.BasePath, "tls", tlsCfg != nil)
		servers = append(servers, srv)
	}
	defer shutdownAll(servers)

	return s.loop.Run(ctx)
}

// CheckResult is one line of a one-shot status query.
type CheckResult struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Check queries every configured service once without restarting anything.
func (s *Sitter) Check(ctx context.Context) []CheckResult {
	names := s.cfg.Supervisor.Services
	out := make([]CheckResult, 0, len(names))
	for _, n := range names {
		out = append(out, CheckResult{Name: n, Active: s.ctl.IsActive(ctx, n)})
	}
	return out
}

// NotifyTest sends a test message through the configured channels.
func (s *Sitter) NotifyTest(ctx context.Context) error {
	return s.notifier.Send(ctx,
		"DaemonSitter test message from "+s.host+".",
		"This is a test notification sent at "+time.Now().Format("2006-01-02 15:04:05")+".")
}

// Close releases the history sinks, the controller connection and the log file.
func (s *Sitter) Close() error {
	var errs []error
	if s.history != nil {
		errs = append(errs, s.history.Close())
	}
	if c, ok := s.ctl.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if s.logCloser != nil {
		errs = append(errs, s.logCloser.Close())
	}
	return errors.Join(errs...)
}

func shutdownAll(servers []*http.Server) {
	for _, srv := range servers {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = srv.Shutdown(ctx)
		cancel()
	}
}

// NewHTTPServer starts an HTTP server exposing the status API of s.
func NewHTTPServer(addr, basePath string, s *Sitter) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.loop, s.log, nil)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	return metricsServer(addr).ListenAndServe()
}

// NewMetricsServer binds addr and serves /metrics in the background.
func NewMetricsServer(addr string) (*http.Server, error) {
	srv := metricsServer(addr)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv.Addr = ln.Addr().String()
	go func() { _ = srv.Serve(ln) }()
	return srv, nil
}
