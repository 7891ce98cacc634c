// Package mqtt connects the engine to the price-forecast feed. Forecasts
// arrive as JSON on a per-region topic; every message triggers a rule
// evaluation pass over the stored households.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/homewatt/flex/core/forecast"
	"github.com/homewatt/flex/core/logger"
	"github.com/homewatt/flex/core/metrics"
	"github.com/homewatt/flex/core/model"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker        string          `json:"broker"`
	ClientID      string          `json:"client_id"`
	Username      string          `json:"username"`
	Password      string          `json:"password"`
	ForecastTopic string          `json:"forecast_topic"`
	UseTLS        bool            `json:"use_tls"`
	ClientCert    string          `json:"client_cert"`
	ClientKey     string          `json:"client_key"`
	CABundle      string          `json:"ca_bundle"`
	AuthMethod    string          `json:"auth_method"`
	QoS           map[string]byte `json:"qos"`
	MaxRetries    int             `json:"max_retries"`
	BackoffMS     int             `json:"backoff_ms"`
	TLSConfig     *tls.Config     `json:"-"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.ForecastTopic == "" {
		c.ForecastTopic = "flex/forecast/+"
	}
	if c.ClientID == "" {
		c.ClientID = "flex-ingest"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// ForecastHandler receives each decoded forecast. The engine satisfies this.
type ForecastHandler interface {
	EvaluateForecast(ctx context.Context, f model.Forecast) (map[string]model.AlertBatch, error)
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// handleTimeout bounds one rule evaluation pass per forecast message.
const handleTimeout = 30 * time.Second

// Ingestor subscribes to the forecast topic and feeds each message to the
// handler. Messages that fail to decode are logged and dropped.
type Ingestor struct {
	cli     pahoClient
	topic   string
	qos     map[string]byte
	handler ForecastHandler
	log     logger.Logger
	sink    metrics.MetricsSink

	mu       sync.Mutex
	received int
}

// NewIngestor connects to the broker and subscribes to the forecast topic.
// sink may be nil.
func NewIngestor(cfg Config, handler ForecastHandler, log logger.Logger, sink metrics.MetricsSink) (*Ingestor, error) {
	if handler == nil || log == nil {
		return nil, fmt.Errorf("mqtt: nil parameter provided to NewIngestor")
	}
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	in := &Ingestor{
		topic:   cfg.ForecastTopic,
		qos:     cfg.QoS,
		handler: handler,
		log:     log,
		sink:    sink,
	}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		qos := byte(0)
		if q, ok := in.qos["forecast"]; ok {
			qos = q
		}
		if token := c.Subscribe(in.topic, qos, in.onForecast); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	in.cli = c
	return in, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

func (in *Ingestor) onForecast(_ paho.Client, msg paho.Message) {
	var f model.Forecast
	if err := json.Unmarshal(msg.Payload(), &f); err != nil {
		in.log.Errorf("failed to decode forecast on %s: %v", msg.Topic(), err)
		return
	}
	if len(f.Prices) == 0 {
		in.log.Warnf("empty forecast for region %s, dropped", f.Region)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	if _, err := in.handler.EvaluateForecast(ctx, f); err != nil {
		in.log.Errorf("forecast evaluation failed: %v", err)
		return
	}

	in.mu.Lock()
	in.received++
	in.mu.Unlock()
	in.log.Infof("forecast for %s evaluated (%d hours)", f.Region, len(f.Prices))
	in.recordForecast(f)
}

// Received reports how many forecasts were handled since connect.
func (in *Ingestor) Received() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.received
}

func (in *Ingestor) recordForecast(f model.Forecast) {
	if in.sink == nil {
		return
	}
	rec, ok := in.sink.(metrics.ForecastRecorder)
	if !ok {
		return
	}
	ev := metrics.ForecastEvent{
		Region:  f.Region,
		Horizon: len(f.Prices),
		NowKWh:  forecast.CurrentPrice(f.Prices, forecast.DefaultPriceKWh),
		Time:    time.Now(),
	}
	if err := rec.RecordForecast(ev); err != nil {
		in.log.Errorf("forecast metrics error: %v", err)
	}
}

// Disconnect gracefully closes the MQTT connection.
func (in *Ingestor) Disconnect() {
	if in.cli != nil && in.cli.IsConnected() {
		in.cli.Disconnect(250)
	}
}
