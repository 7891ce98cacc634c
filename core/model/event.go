package model

import "time"

// EventType classifies a grid event driving a recommendation cohort.
type EventType int

const (
	EventDemandReduction EventType = iota
	EventPriceSpike
	EventHeatWave
	EventColdSnap
	EventRenewableSurplus
)

// String returns a human-readable representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventDemandReduction:
		return "DEMAND_REDUCTION"
	case EventPriceSpike:
		return "PRICE_SPIKE"
	case EventHeatWave:
		return "HEAT_WAVE"
	case EventColdSnap:
		return "COLD_SNAP"
	case EventRenewableSurplus:
		return "RENEWABLE_SURPLUS"
	default:
		return "unknown"
	}
}

// ParseEventType converts a wire name into an EventType.
func ParseEventType(s string) (EventType, bool) {
	switch s {
	case "DEMAND_REDUCTION":
		return EventDemandReduction, true
	case "PRICE_SPIKE":
		return EventPriceSpike, true
	case "HEAT_WAVE":
		return EventHeatWave, true
	case "COLD_SNAP":
		return EventColdSnap, true
	case "RENEWABLE_SURPLUS":
		return EventRenewableSurplus, true
	}
	return 0, false
}

// GridEvent is a grid condition that opens one cohort of recommendations.
// At most one event is active at a time; triggering a new one deactivates
// the previous event and expires its open recommendations.
type GridEvent struct {
	ID        string
	Type      EventType
	Severity  int     // ordinal 0-4
	LoadPct   float64 // derived grid load in percent
	PriceKWh  float64 // derived consumer price in $/kWh
	Active    bool
	CreatedAt time.Time
}
