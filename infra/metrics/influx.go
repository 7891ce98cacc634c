package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/homewatt/flex/core/metrics"
	"github.com/homewatt/flex/infra/logger"
)

// InfluxSink writes engine events to an InfluxDB instance using the official
// client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and returns a
// NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordRecommendation writes the lifecycle transition as a point.
func (s *InfluxSink) RecordRecommendation(ev coremetrics.RecommendationEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("recommendation_event").
		AddTag("household_id", ev.HouseholdID).
		AddTag("event_id", ev.EventID).
		AddTag("status", string(ev.Status)).
		AddTag("component", "engine").
		AddField("delta_c", round3(ev.DeltaC)).
		AddField("savings_usd", round3(ev.SavingsUSD)).
		AddField("credits", ev.Credits).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordSettlement writes the settlement outcome.
func (s *InfluxSink) RecordSettlement(ev coremetrics.SettlementEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("settlement_event").
		AddTag("household_id", ev.HouseholdID).
		AddTag("succeeded", strconv.FormatBool(ev.Succeeded)).
		AddTag("component", "ledger").
		AddField("amount_usd", round3(ev.AmountUSD)).
		AddField("tx_ref", ev.TxRef).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordAlertBatch writes one rule evaluation summary.
func (s *InfluxSink) RecordAlertBatch(ev coremetrics.AlertEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("alert_batch").
		AddTag("household_id", ev.HouseholdID).
		AddTag("region", ev.Region).
		AddTag("top_severity", string(ev.TopSeverity)).
		AddTag("component", "rules").
		AddField("alerts", ev.Alerts).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordForecast writes one forecast ingest.
func (s *InfluxSink) RecordForecast(ev coremetrics.ForecastEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("forecast_ingested").
		AddTag("region", ev.Region).
		AddTag("component", "mqtt_ingest").
		AddField("horizon", ev.Horizon).
		AddField("price_now_kwh", round3(ev.NowKWh)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
