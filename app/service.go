// Package app wires the configuration into a running service: storage,
// metrics sinks, payment rail, device control, the recommendation engine and
// the MQTT forecast ingest.
package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/homewatt/flex/config"
	"github.com/homewatt/flex/core/device"
	"github.com/homewatt/flex/core/engine"
	"github.com/homewatt/flex/core/ledger"
	coremetrics "github.com/homewatt/flex/core/metrics"
	"github.com/homewatt/flex/core/rules"
	"github.com/homewatt/flex/core/store"
	"github.com/homewatt/flex/infra/devicecontrol"
	"github.com/homewatt/flex/infra/logger"
	"github.com/homewatt/flex/infra/metrics"
	"github.com/homewatt/flex/infra/mqtt"
	"github.com/homewatt/flex/infra/notify"
	"github.com/homewatt/flex/infra/payment"
	pgstore "github.com/homewatt/flex/infra/store/postgres"
	"github.com/homewatt/flex/internal/eventbus"
)

// simStartingBalance funds the simulated payout rail in demo mode.
var simStartingBalance = decimal.NewFromInt(1_000)

// Service orchestrates the recommendation engine and its adapters.
type Service struct {
	Engine *engine.Engine
	Ledger *ledger.Ledger
	Store  store.Store

	ingest      *mqtt.Ingestor
	forwarder   *notify.Forwarder
	bus         eventbus.EventBus
	pg          *pgstore.Store
	log         logger.Logger
	promEnabled bool
	promPort    string
}

// New creates a Service from the configuration.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	var st store.Store
	var pg *pgstore.Store
	switch cfg.Storage.Backend {
	case "postgres":
		var err error
		pg, err = pgstore.Connect(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		st = pg
	default:
		st = store.NewMemoryStore()
	}

	var sinks []coremetrics.MetricsSink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sink := metrics.NewInfluxSinkWithFallback(
			cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken,
			cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket)
		sinks = append(sinks, sink)
	}
	var sink coremetrics.MetricsSink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	var pay ledger.Payment
	switch cfg.Payment.Mode {
	case "eth":
		var err error
		pay, err = payment.NewEthPayment(cfg.Payment, logger.New("payment"))
		if err != nil {
			return nil, fmt.Errorf("payment rail: %w", err)
		}
	default:
		pay = payment.NewSimulator(simStartingBalance)
	}

	bus := eventbus.New()

	var settleRec coremetrics.SettlementRecorder
	if sr, ok := sink.(coremetrics.SettlementRecorder); ok {
		settleRec = sr
	}
	led, err := ledger.New(st, pay, logger.New("ledger"), settleRec, bus,
		ledger.WithThreshold(decimal.NewFromFloat(cfg.Ledger.PayoutThresholdUSD)))
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	var dev *device.Dispatcher
	if cfg.DeviceControl.Enabled {
		ctrl, err := devicecontrol.NewClient(cfg.DeviceControl, logger.New("device-control"))
		if err != nil {
			return nil, fmt.Errorf("device control: %w", err)
		}
		dev, err = device.NewDispatcher(ctrl, logger.New("device-dispatch"))
		if err != nil {
			return nil, fmt.Errorf("device dispatcher: %w", err)
		}
	}

	eng, err := engine.New(st, led, dev, rules.New(), logger.New("engine"), sink, bus)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	ingest, err := mqtt.NewIngestor(cfg.MQTT, eng, logger.New("mqtt-ingest"), sink)
	if err != nil {
		return nil, fmt.Errorf("mqtt ingest: %w", err)
	}

	var fwd *notify.Forwarder
	if cfg.Notify.Enabled {
		notifier, err := notify.NewNotifier(cfg.Notify, logger.New("notify"))
		if err != nil {
			return nil, fmt.Errorf("notifier: %w", err)
		}
		fwd, err = notify.NewForwarder(notifier, bus, logger.New("notify"))
		if err != nil {
			return nil, fmt.Errorf("notify forwarder: %w", err)
		}
	}

	return &Service{
		Engine:      eng,
		Ledger:      led,
		Store:       st,
		ingest:      ingest,
		forwarder:   fwd,
		bus:         bus,
		pg:          pg,
		log:         logg,
		promEnabled: cfg.Metrics.PrometheusEnabled,
		promPort:    cfg.Metrics.PrometheusPort,
	}, nil
}

// Run starts the background workers and blocks until the context is
// cancelled. Settlement reconciliation runs once at startup so attempts left
// in flight by a crash are resolved before new ones are made.
func (s *Service) Run(ctx context.Context) error {
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promPort, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if s.forwarder != nil {
		s.forwarder.Start(ctx)
	}
	if err := s.Ledger.Reconcile(ctx); err != nil {
		s.log.Errorf("settlement reconciliation: %v", err)
	}
	<-ctx.Done()
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.ingest.Disconnect()
	s.bus.Close()
	if s.forwarder != nil {
		s.forwarder.Wait()
	}
	if s.pg != nil {
		s.pg.Close()
	}
	return nil
}
