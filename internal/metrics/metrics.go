package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	ticks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sitter",
			Subsystem: "loop",
			Name:      "ticks_total",
			Help:      "Number of completed supervision ticks.",
		},
	)
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sitter",
			Subsystem: "loop",
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent evaluating all services in one tick, including confirmation waits.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 120, 300, 600},
		},
	)
	checks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitter",
			Subsystem: "service",
			Name:      "checks_total",
			Help:      "Number of service status checks by result (active/inactive).",
		}, []string{"service", "result"},
	)
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitter",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of restart attempts by outcome (confirmed/died/failed).",
		}, []string{"service", "outcome"},
	)
	up = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sitter",
			Subsystem: "service",
			Name:      "up",
			Help:      "Last known running state of a service (1 = running).",
		}, []string{"service"},
	)
	retryCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sitter",
			Subsystem: "service",
			Name:      "retry_count",
			Help:      "Consecutive failed restart attempts since the service was last confirmed active.",
		}, []string{"service"},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitter",
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Notification attempts by kind (startup/alert/heartbeat/lastgasp) and result (ok/error).",
		}, []string{"kind", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{ticks, tickDuration, checks, restarts, up, retryCount, notifications}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveTick(seconds float64) {
	if regOK.Load() {
		ticks.Inc()
		tickDuration.Observe(seconds)
	}
}

func IncCheck(service string, active bool) {
	if regOK.Load() {
		checks.WithLabelValues(service, activeLabel(active)).Inc()
	}
}

func IncRestart(service, outcome string) {
	if regOK.Load() {
		restarts.WithLabelValues(service, outcome).Inc()
	}
}

func SetServiceState(service string, running bool, retries int) {
	if regOK.Load() {
		v := 0.0
		if running {
			v = 1
		}
		up.WithLabelValues(service).Set(v)
		retryCount.WithLabelValues(service).Set(float64(retries))
	}
}

func IncNotification(kind string, ok bool) {
	if regOK.Load() {
		res := "ok"
		if !ok {
			res = "error"
		}
		notifications.WithLabelValues(kind, res).Inc()
	}
}

func activeLabel(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}
