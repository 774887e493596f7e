package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/rs/xid"
)

// EventType defines the kind of supervision event.
type EventType string

const (
	EventCheck     EventType = "check"
	EventRestart   EventType = "restart"
	EventConfirm   EventType = "confirm"
	EventAlert     EventType = "alert"
	EventHeartbeat EventType = "heartbeat"
	EventStartup   EventType = "startup"
	EventLastGasp  EventType = "lastgasp"
)

// Event is one observation or action of the supervisor, exported to
// external analytics systems. Service is empty for daemon-wide events.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Service    string    `json:"service,omitempty"`
	OK         bool      `json:"ok"`
	RetryCount int       `json:"retry_count"`
	Notified   bool      `json:"notified"`
	Running    bool      `json:"running"`
	Detail     string    `json:"detail,omitempty"`
}

// NewEvent stamps an event with a fresh id.
func NewEvent(t EventType, at time.Time) Event {
	return Event{ID: xid.New().String(), Type: t, OccurredAt: at}
}

// Sink is a destination for history events (analytics/statistics systems).
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder fans events out to sinks. Sink failures are logged and dropped;
// history never affects supervision. A nil *Recorder is valid and discards.
type Recorder struct {
	sinks   []Sink
	log     *slog.Logger
	timeout time.Duration
}

func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{sinks: sinks, log: log, timeout: 5 * time.Second}
}

func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil {
		return
	}
	if e.ID == "" {
		e.ID = xid.New().String()
	}
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		if err := s.Send(sctx, e); err != nil {
			r.log.Warn("history sink failed", "event", e.Type, "service", e.Service, "error", err)
		}
		cancel()
	}
}

// Close closes every sink that implements io.Closer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
