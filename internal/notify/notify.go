package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

//go:generate mockgen -destination ./mock/notifier.go -package mock . Notifier

// Notifier delivers an operator message. A nil error means delivered;
// callers do not distinguish failure kinds.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// Config lists the delivery channels. Every configured channel is used.
type Config struct {
	DryRun  bool
	SMTP    *SMTPConfig
	Webhook *WebhookConfig
}

var ErrNoChannel = errors.New("no notification channel configured")

// New builds a Multi over every configured channel. With DryRun set, a Log
// notifier is used instead and no message leaves the host.
func New(cfg Config, log *slog.Logger) (Notifier, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DryRun {
		return &Log{Logger: log}, nil
	}
	var ns []Notifier
	if cfg.SMTP != nil {
		s, err := NewSMTP(*cfg.SMTP)
		if err != nil {
			return nil, fmt.Errorf("smtp notifier: %w", err)
		}
		ns = append(ns, s)
	}
	if cfg.Webhook != nil {
		w, err := NewWebhook(*cfg.Webhook)
		if err != nil {
			return nil, fmt.Errorf("webhook notifier: %w", err)
		}
		ns = append(ns, w)
	}
	if len(ns) == 0 {
		return nil, ErrNoChannel
	}
	if len(ns) == 1 {
		return ns[0], nil
	}
	return &Multi{Notifiers: ns, Logger: log}, nil
}

// Multi sends through every child in order. Delivery succeeds when at least
// one child delivered; otherwise the joined child errors are returned.
type Multi struct {
	Notifiers []Notifier
	Logger    *slog.Logger
}

func (m *Multi) Send(ctx context.Context, subject, body string) error {
	var errs []error
	delivered := false
	for i, n := range m.Notifiers {
		if err := n.Send(ctx, subject, body); err != nil {
			if m.Logger != nil {
				m.Logger.Warn("notification channel failed", "channel", i, "error", err)
			}
			errs = append(errs, err)
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	if len(errs) == 0 {
		return ErrNoChannel
	}
	return errors.Join(errs...)
}

// Log writes messages to the logger instead of delivering them.
type Log struct {
	Logger *slog.Logger
}

func (l *Log) Send(_ context.Context, subject, body string) error {
	lg := l.Logger
	if lg == nil {
		lg = slog.Default()
	}
	lg.Info("notification (dry run)", "subject", subject, "body", body)
	return nil
}
