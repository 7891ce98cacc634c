package engine

import "github.com/homewatt/flex/core/model"

// EventTemplate fixes the derived grid numbers per event type. Triggering an
// event stamps these onto the GridEvent and feeds them to the scoring model.
type EventTemplate struct {
	LoadPct          float64
	PriceKWh         float64
	Severity         int
	OutdoorC         float64
	CreditsPerDegree float64
}

var eventTemplates = map[model.EventType]EventTemplate{
	model.EventDemandReduction:  {LoadPct: 85, PriceKWh: 0.32, Severity: 2, OutdoorC: 28, CreditsPerDegree: 10},
	model.EventPriceSpike:       {LoadPct: 78, PriceKWh: 0.45, Severity: 3, OutdoorC: 26, CreditsPerDegree: 15},
	model.EventHeatWave:         {LoadPct: 92, PriceKWh: 0.38, Severity: 4, OutdoorC: 38, CreditsPerDegree: 12},
	model.EventColdSnap:         {LoadPct: 88, PriceKWh: 0.35, Severity: 3, OutdoorC: -8, CreditsPerDegree: 12},
	model.EventRenewableSurplus: {LoadPct: 45, PriceKWh: 0.05, Severity: 1, OutdoorC: 18, CreditsPerDegree: 5},
}

// TemplateFor returns the fixed template for the event type.
func TemplateFor(t model.EventType) (EventTemplate, bool) {
	tpl, ok := eventTemplates[t]
	return tpl, ok
}
