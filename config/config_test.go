package config

import (
	"os"
	"path/filepath"
	"testing"
)

//nolint:gocyclo
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `mqtt:
  broker: "tcp://localhost:1883"
  client_id: "flex"
  username: "user"
  password: "pass"
  forecast_topic: "flex/forecast/+"
  use_tls: false
metrics:
  prometheus_enabled: true
  prometheus_port: ":9091"
storage:
  backend: "memory"
ledger:
  payout_threshold_usd: 2.5
generator:
  region: "west"
  horizon_hours: 24
  seed: 42
device_control:
  enabled: true
  base_url: "http://devices.local"
  token: "secret"
payment:
  mode: "sim"
notify:
  enabled: true
  url: "http://ntfy.local"
  topic: "homes"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"client_id", cfg.MQTT.ClientID, "flex"},
		{"forecast_topic", cfg.MQTT.ForecastTopic, "flex/forecast/+"},
		{"prometheus_enabled", cfg.Metrics.PrometheusEnabled, true},
		{"prometheus_port", cfg.Metrics.PrometheusPort, ":9091"},
		{"storage.backend", cfg.Storage.Backend, "memory"},
		{"ledger.threshold", cfg.Ledger.PayoutThresholdUSD, 2.5},
		{"generator.region", cfg.Generator.Region, "west"},
		{"generator.horizon", cfg.Generator.Horizon, 24},
		{"device_control.base_url", cfg.DeviceControl.BaseURL, "http://devices.local"},
		{"payment.mode", cfg.Payment.Mode, "sim"},
		{"notify.topic", cfg.Notify.Topic, "homes"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: %v", c.name, c.got)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("default backend: %s", cfg.Storage.Backend)
	}
	if cfg.Ledger.PayoutThresholdUSD != 1.00 {
		t.Errorf("default threshold: %v", cfg.Ledger.PayoutThresholdUSD)
	}
	if cfg.Payment.Mode != "sim" {
		t.Errorf("default payment mode: %s", cfg.Payment.Mode)
	}
	if cfg.MQTT.ForecastTopic != "flex/forecast/+" {
		t.Errorf("default topic: %s", cfg.MQTT.ForecastTopic)
	}
}

func TestLoadRejectsBadBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  backend: \"tape\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	if _, err := Load("config.toml"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
