// Package devicecontrol is the HTTP client for the external device-control
// provider. It implements core/device.Control.
package devicecontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/homewatt/flex/core/device"
	"github.com/homewatt/flex/core/logger"
	"github.com/homewatt/flex/core/model"
)

// Config defines the provider connection parameters.
type Config struct {
	Enabled        bool   `json:"enabled"`
	BaseURL        string `json:"base_url"`
	Token          string `json:"token"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	UserAgent      string `json:"user_agent"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
	if c.UserAgent == "" {
		c.UserAgent = "flex/1.0"
	}
}

// Validate checks mandatory fields when the provider is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.BaseURL == "" {
		return fmt.Errorf("device_control.base_url is required when enabled")
	}
	return nil
}

// Client talks to the provider REST API.
type Client struct {
	cfg     Config
	client  *http.Client
	baseURL string
	log     logger.Logger
}

// NewClient constructs a provider client.
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("devicecontrol: nil logger provided to NewClient")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		log:     log,
	}, nil
}

type deviceEntry struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Reachable bool   `json:"reachable"`
}

type listResponse struct {
	Devices []deviceEntry `json:"devices"`
}

// ListDevices returns the devices linked to the external user.
func (c *Client) ListDevices(ctx context.Context, externalUserID string) ([]device.LinkedDevice, error) {
	endpoint := fmt.Sprintf("%s/users/%s/devices", c.baseURL, externalUserID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}
	var lr listResponse
	if err := json.Unmarshal(payload, &lr); err != nil {
		return nil, err
	}
	out := make([]device.LinkedDevice, 0, len(lr.Devices))
	for _, d := range lr.Devices {
		out = append(out, device.LinkedDevice{
			ID:        d.ID,
			Type:      model.DeviceType(d.Type),
			Reachable: d.Reachable,
		})
	}
	return out, nil
}

type commandRequest struct {
	Type    string `json:"type"`
	Command any    `json:"command"`
}

type commandResponse struct {
	ActionID string `json:"action_id"`
	Status   string `json:"status"`
}

// SendCommand posts the command to the device and returns the provider
// action id.
func (c *Client) SendCommand(ctx context.Context, deviceID string, cmd device.Command) (string, error) {
	body, err := json.Marshal(commandRequest{Type: cmd.Kind(), Command: commandBody(cmd)})
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/devices/%s/commands", c.baseURL, deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", parseHTTPError(resp.StatusCode, payload)
	}
	var cr commandResponse
	if err := json.Unmarshal(payload, &cr); err != nil {
		return "", err
	}
	c.log.Debugf("command %s accepted by device %s (action %s)", cmd.Kind(), deviceID, cr.ActionID)
	return cr.ActionID, nil
}

// commandBody maps the typed command to the provider wire shape.
func commandBody(cmd device.Command) any {
	switch v := cmd.(type) {
	case device.SwitchCommand:
		return map[string]string{"state": string(v.State)}
	case device.ThermostatCommand:
		return map[string]any{
			"mode":          string(v.Mode),
			"heat_setpoint": v.HeatSetpoint,
			"cool_setpoint": v.CoolSetpoint,
		}
	default:
		return map[string]any{}
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("device api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("device api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("device api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("device api error (%d)", status)
}

var _ device.Control = (*Client)(nil)
