package metrics

import (
	"testing"

	coremetrics "github.com/homewatt/flex/core/metrics"
)

// recordSink implements every recorder and counts calls.
type recordSink struct {
	count int
}

func (r *recordSink) RecordRecommendation(coremetrics.RecommendationEvent) error {
	r.count++
	return nil
}

func (r *recordSink) RecordSettlement(coremetrics.SettlementEvent) error {
	r.count++
	return nil
}

func (r *recordSink) RecordAlertBatch(coremetrics.AlertEvent) error {
	r.count++
	return nil
}

func (r *recordSink) RecordForecast(coremetrics.ForecastEvent) error {
	r.count++
	return nil
}

// baseSink implements only the mandatory interface.
type baseSink struct {
	count int
}

func (b *baseSink) RecordRecommendation(coremetrics.RecommendationEvent) error {
	b.count++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	m := NewMultiSink(s1, s2)
	if err := m.RecordRecommendation(coremetrics.RecommendationEvent{}); err != nil {
		t.Fatalf("record recommendation: %v", err)
	}
	if err := m.RecordSettlement(coremetrics.SettlementEvent{}); err != nil {
		t.Fatalf("record settlement: %v", err)
	}
	if err := m.RecordAlertBatch(coremetrics.AlertEvent{}); err != nil {
		t.Fatalf("record alerts: %v", err)
	}
	if err := m.RecordForecast(coremetrics.ForecastEvent{}); err != nil {
		t.Fatalf("record forecast: %v", err)
	}
	if s1.count != 4 || s2.count != 4 {
		t.Fatalf("events not forwarded: %d %d", s1.count, s2.count)
	}
}

func TestMultiSinkSkipsUnsupported(t *testing.T) {
	b := &baseSink{}
	m := NewMultiSink(b)
	if err := m.RecordSettlement(coremetrics.SettlementEvent{}); err != nil {
		t.Fatalf("record settlement: %v", err)
	}
	if err := m.RecordRecommendation(coremetrics.RecommendationEvent{}); err != nil {
		t.Fatalf("record recommendation: %v", err)
	}
	if b.count != 1 {
		t.Fatalf("expected only the mandatory call, got %d", b.count)
	}
}
