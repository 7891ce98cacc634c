// Package metrics implements the core metrics sink interfaces on Prometheus
// and InfluxDB.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/homewatt/flex/core/metrics"
)

// PromSink records engine events in Prometheus metrics.
type PromSink struct {
	recommendations *prometheus.CounterVec
	settlements     *prometheus.CounterVec
	settledUSD      *prometheus.HistogramVec
	alerts          *prometheus.CounterVec
	forecasts       *prometheus.CounterVec
	priceNow        prometheus.Gauge
}

// NewPromSink registers metrics on the default Prometheus registerer. The
// Prometheus server is started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	recommendations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flex_recommendations_total",
		Help: "Recommendation lifecycle transitions",
	}, []string{"status"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flex_settlements_total",
		Help: "Settlement attempts by outcome",
	}, []string{"succeeded"})
	settledUSD := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flex_settlement_amount_usd",
		Help:    "Settled payout amounts",
		Buckets: []float64{1, 2, 5, 10, 20, 50},
	}, []string{"succeeded"})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flex_alerts_total",
		Help: "Alerts produced per rule evaluation batch",
	}, []string{"severity"})
	forecasts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flex_forecasts_ingested_total",
		Help: "Price forecasts ingested",
	}, []string{"region"})
	priceNow := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flex_price_now_kwh",
		Help: "Consumer price of the latest forecast's current hour",
	})

	if err := reg.Register(recommendations); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			recommendations = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(settlements); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			settlements = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(settledUSD); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			settledUSD = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(alerts); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			alerts = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(forecasts); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			forecasts = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(priceNow); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			priceNow = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}

	return &PromSink{
		recommendations: recommendations,
		settlements:     settlements,
		settledUSD:      settledUSD,
		alerts:          alerts,
		forecasts:       forecasts,
		priceNow:        priceNow,
	}, nil
}

// RecordRecommendation increments the lifecycle counter.
func (s *PromSink) RecordRecommendation(ev coremetrics.RecommendationEvent) error {
	s.recommendations.WithLabelValues(string(ev.Status)).Inc()
	return nil
}

// RecordSettlement counts the attempt and observes the amount.
func (s *PromSink) RecordSettlement(ev coremetrics.SettlementEvent) error {
	ok := strconv.FormatBool(ev.Succeeded)
	s.settlements.WithLabelValues(ok).Inc()
	s.settledUSD.WithLabelValues(ok).Observe(ev.AmountUSD)
	return nil
}

// RecordAlertBatch counts alerts by top severity.
func (s *PromSink) RecordAlertBatch(ev coremetrics.AlertEvent) error {
	s.alerts.WithLabelValues(string(ev.TopSeverity)).Add(float64(ev.Alerts))
	return nil
}

// RecordForecast counts ingests and tracks the current price.
func (s *PromSink) RecordForecast(ev coremetrics.ForecastEvent) error {
	s.forecasts.WithLabelValues(ev.Region).Inc()
	s.priceNow.Set(ev.NowKWh)
	return nil
}
