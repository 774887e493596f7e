package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Host    string // reported in the payload
}

// Webhook POSTs a JSON document per message. Any non-2xx status is a failure.
type Webhook struct {
	client  *http.Client
	url     string
	headers map[string]string
	host    string
	now     func() time.Time
}

type webhookPayload struct {
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Host    string    `json:"host,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, errors.New("webhook url must be an absolute http(s) URL")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		client:  &http.Client{Timeout: timeout},
		url:     cfg.URL,
		headers: cfg.Headers,
		host:    cfg.Host,
		now:     time.Now,
	}, nil
}

func (w *Webhook) Send(ctx context.Context, subject, body string) error {
	b, err := json.Marshal(webhookPayload{Subject: subject, Body: body, Host: w.host, SentAt: w.now().UTC()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
