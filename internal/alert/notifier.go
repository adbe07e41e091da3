// Package alert provides threshold alerting on computed indicator values,
// with delivery to external channels (Telegram, webhooks).
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Level represents the severity of an alert.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Alert represents a notification to be sent. Indicator, Symbol, Value and
// Seq identify the triggering result when the alert comes from a threshold
// rule; service-level alerts leave them zero.
type Alert struct {
	Level     Level   `json:"level"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	Indicator string  `json:"indicator,omitempty"`
	Symbol    string  `json:"symbol,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Seq       int64   `json:"seq,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts instead of delivering them (useful for development
// and as a fallback when no backend is configured).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	if alert.Indicator != "" {
		log.Printf("[alert] [%s] %s: %s (indicator=%s symbol=%s value=%.4f seq=%d)",
			alert.Level, alert.Title, alert.Message, alert.Indicator, alert.Symbol, alert.Value, alert.Seq)
		return nil
	}
	log.Printf("[alert] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

const deliverTimeout = 10 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: deliverTimeout}
}

// postJSON marshals payload and POSTs it to url, treating any non-2xx
// response as an error. Shared by the HTTP-backed notifiers.
func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
