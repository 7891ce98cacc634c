// Package notify pushes household-facing notifications to an ntfy-style HTTP
// endpoint. Delivery is fire-and-forget: failures are logged, never
// propagated.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/homewatt/flex/core/logger"
)

// Config defines the push endpoint parameters.
type Config struct {
	Enabled        bool   `json:"enabled"`
	URL            string `json:"url"`
	Topic          string `json:"topic"`
	Token          string `json:"token"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Topic == "" {
		c.Topic = "flex"
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
}

// Validate checks mandatory fields when the notifier is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" {
		return fmt.Errorf("notify.url is required when enabled")
	}
	return nil
}

// Action is one tappable button attached to a notification.
type Action struct {
	Action string `json:"action"`
	Label  string `json:"label"`
	URL    string `json:"url,omitempty"`
}

// Notification is the push payload.
type Notification struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	ClickURL string   `json:"click,omitempty"`
	Actions  []Action `json:"actions,omitempty"`
}

// Notifier posts notifications to the configured endpoint.
type Notifier struct {
	cfg    Config
	client *http.Client
	url    string
	log    logger.Logger
}

// NewNotifier constructs a Notifier.
func NewNotifier(cfg Config, log logger.Logger) (*Notifier, error) {
	if log == nil {
		return nil, fmt.Errorf("notify: nil logger provided to NewNotifier")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		url:    strings.TrimRight(cfg.URL, "/"),
		log:    log,
	}, nil
}

// Push sends the notification. The configured topic is applied when the
// notification does not carry one.
func (n *Notifier) Push(ctx context.Context, note Notification) error {
	if note.Topic == "" {
		note.Topic = n.cfg.Topic
	}
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.cfg.Token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}
