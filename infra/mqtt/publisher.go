package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/homewatt/flex/core/logger"
	"github.com/homewatt/flex/core/model"
)

// Publisher pushes forecasts onto the per-region topic. Used by the
// simulator and by operators replaying recorded series.
type Publisher struct {
	cli        pahoClient
	qos        map[string]byte
	maxRetries int
	backoff    time.Duration
	log        logger.Logger
}

// NewPublisher connects to the broker.
func NewPublisher(cfg Config, log logger.Logger) (*Publisher, error) {
	if log == nil {
		return nil, fmt.Errorf("mqtt: nil logger provided to NewPublisher")
	}
	cfg.SetDefaults()
	if cfg.ClientID == "flex-ingest" {
		cfg.ClientID = "flex-publisher"
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Publisher{
		cli:        c,
		qos:        cfg.QoS,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		log:        log,
	}, nil
}

// Publish sends the forecast to flex/forecast/<region>, retrying with
// exponential backoff on publish errors.
func (p *Publisher) Publish(f model.Forecast) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	topic := ForecastTopic(f.Region)
	qos := byte(0)
	if q, ok := p.qos["forecast"]; ok {
		qos = q
	}
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.log.Infof("published forecast to %s (%d hours)", topic, len(f.Prices))
			return nil
		}
		p.log.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		time.Sleep(p.backoff * time.Duration(1<<attempt))
	}
	return publishErr
}

// ForecastTopic returns the region-specific forecast topic.
func ForecastTopic(region string) string {
	return fmt.Sprintf("flex/forecast/%s", region)
}

// Disconnect gracefully closes the MQTT connection.
func (p *Publisher) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
