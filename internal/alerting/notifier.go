package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Alert is one rendered notification.
type Alert struct {
	Service string `json:"service"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	// Fallback marks the minimal alert sent when rendering or delivery failed.
	Fallback bool `json:"fallback,omitempty"`
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// WebhookNotifier posts alerts as JSON to a URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (w *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes alerts to the log. Used when no webhook is configured.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log *zerolog.Logger) *LogNotifier {
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "alerts").Logger()
	}
	return &LogNotifier{log: l}
}

func (n *LogNotifier) Notify(_ context.Context, a Alert) error {
	n.log.Warn().Str("subject", a.Subject).Bool("fallback", a.Fallback).Str("body", a.Body).Msg("alert")
	return nil
}
