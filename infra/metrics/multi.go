package metrics

import coremetrics "github.com/homewatt/flex/core/metrics"

// MultiSink fans events out to multiple sinks. Optional recorder interfaces
// are forwarded only to sinks that implement them.
type MultiSink struct {
	Sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordRecommendation forwards to all sinks, returning the first error.
func (m *MultiSink) RecordRecommendation(ev coremetrics.RecommendationEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordRecommendation(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordSettlement forwards settlement events.
func (m *MultiSink) RecordSettlement(ev coremetrics.SettlementEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.SettlementRecorder); ok {
			if err := rec.RecordSettlement(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordAlertBatch forwards alert batch summaries.
func (m *MultiSink) RecordAlertBatch(ev coremetrics.AlertEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.AlertRecorder); ok {
			if err := rec.RecordAlertBatch(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordForecast forwards forecast ingest events.
func (m *MultiSink) RecordForecast(ev coremetrics.ForecastEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.ForecastRecorder); ok {
			if err := rec.RecordForecast(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
