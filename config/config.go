// Package config loads the service configuration from a JSON or YAML file
// with optional environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/homewatt/flex/core/forecast"
	"github.com/homewatt/flex/core/metrics"
	"github.com/homewatt/flex/infra/devicecontrol"
	"github.com/homewatt/flex/infra/mqtt"
	"github.com/homewatt/flex/infra/notify"
	"github.com/homewatt/flex/infra/payment"
)

type Config struct {
	MQTT          mqtt.Config              `json:"mqtt"`
	Metrics       metrics.Config           `json:"metrics"`
	Storage       StorageConfig            `json:"storage"`
	Ledger        LedgerConfig             `json:"ledger"`
	Generator     forecast.GeneratorConfig `json:"generator"`
	DeviceControl devicecontrol.Config     `json:"device_control"`
	Payment       payment.Config           `json:"payment"`
	Notify        notify.Config            `json:"notify"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `json:"backend"`
	// DSN is the postgres connection string.
	DSN string `json:"dsn"`
}

// SetDefaults applies sane defaults.
func (c *StorageConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
}

// Validate checks mandatory fields.
func (c StorageConfig) Validate() error {
	switch c.Backend {
	case "memory":
		return nil
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres backend")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage backend %s", c.Backend)
	}
}

// LedgerConfig tunes the savings ledger.
type LedgerConfig struct {
	// PayoutThresholdUSD triggers a settlement once pending savings reach it.
	PayoutThresholdUSD float64 `json:"payout_threshold_usd"`
}

// SetDefaults applies sane defaults.
func (c *LedgerConfig) SetDefaults() {
	if c.PayoutThresholdUSD <= 0 {
		c.PayoutThresholdUSD = 1.00
	}
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("F_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "f_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.MQTT.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.Storage.SetDefaults()
	cfg.Ledger.SetDefaults()
	cfg.Generator.SetDefaults()
	cfg.DeviceControl.SetDefaults()
	cfg.Payment.SetDefaults()
	cfg.Notify.SetDefaults()
	if err := cfg.Storage.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.DeviceControl.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Payment.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Notify.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
