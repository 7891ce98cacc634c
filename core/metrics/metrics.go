// Package metrics defines the sink interfaces the engine records
// observability events through. Implementations live under infra/metrics.
package metrics

import (
	"time"

	"github.com/homewatt/flex/core/model"
)

// RecommendationEvent is one recommendation lifecycle transition.
type RecommendationEvent struct {
	RecommendationID string
	HouseholdID      string
	EventID          string
	Status           model.RecommendationStatus
	DeltaC           float64
	SavingsUSD       float64
	Credits          int
	Time             time.Time
}

// MetricsSink records recommendation lifecycle events.
type MetricsSink interface {
	RecordRecommendation(ev RecommendationEvent) error
}

// SettlementEvent is one settlement attempt outcome.
type SettlementEvent struct {
	HouseholdID string
	AmountUSD   float64
	TxRef       string
	Succeeded   bool
	Time        time.Time
}

// SettlementRecorder records settlement attempts.
type SettlementRecorder interface {
	RecordSettlement(ev SettlementEvent) error
}

// AlertEvent summarizes one rule-engine evaluation batch.
type AlertEvent struct {
	HouseholdID string
	Region      string
	Alerts      int
	TopSeverity model.AlertSeverity
	Time        time.Time
}

// AlertRecorder records rule evaluation batches.
type AlertRecorder interface {
	RecordAlertBatch(ev AlertEvent) error
}

// ForecastEvent is one ingested price forecast.
type ForecastEvent struct {
	Region  string
	Horizon int
	NowKWh  float64
	Time    time.Time
}

// ForecastRecorder records forecast ingest events.
type ForecastRecorder interface {
	RecordForecast(ev ForecastEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordRecommendation(RecommendationEvent) error { return nil }

func (NopSink) RecordSettlement(SettlementEvent) error { return nil }

func (NopSink) RecordAlertBatch(AlertEvent) error { return nil }

func (NopSink) RecordForecast(ForecastEvent) error { return nil }
