// Package scoring turns grid and household features into a setpoint
// recommendation with a calibrated confidence and savings estimate. The
// model is pure and deterministic given its inputs.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/homewatt/flex/core/model"
)

// Feature weights, fixed. They sum to 1.0.
const (
	weightLoad     = 0.30
	weightPrice    = 0.20
	weightSeverity = 0.25
	weightThermal  = 0.10
	weightTime     = 0.08
	weightOutdoor  = 0.07
)

// Setpoint bounds in °C.
const (
	minSetpoint = 15.0
	maxSetpoint = 25.0
)

// kWh saved per °C of setpoint movement.
const kwhPerDegree = 0.4

// Input carries the grid and household features for one evaluation.
type Input struct {
	LoadPct         float64
	PriceKWh        float64
	Severity        int // ordinal 0-4
	CurrentSetpoint float64
	IndoorTemp      float64
	Mode            model.HVACMode
	OutdoorTemp     float64
	Hour            int // hour of day, 0-23
	Weekend         bool
	EventType       model.EventType
}

// Contribution is one weighted feature term of the urgency score.
type Contribution struct {
	Feature    string
	Normalized float64
	Weight     float64
	Value      float64 // Weight × Normalized
}

// Result is the full output of one model evaluation.
type Result struct {
	Urgency             float64
	RecommendedSetpoint float64
	DeltaC              float64 // actual delta after clamping and rounding
	Confidence          float64
	EnergySavedKWh      float64
	CostSavedUSD        float64
	Credits             int
	Contributions       []Contribution // ranked by descending value
	Trace               []string       // ordered derivation steps
}

// maxDeltaFor returns the signed maximum setpoint movement in °C per event
// type. Positive deltas relax cooling (raise the setpoint); negative deltas
// absorb surplus generation.
func maxDeltaFor(t model.EventType) float64 {
	switch t {
	case model.EventDemandReduction:
		return 3
	case model.EventPriceSpike:
		return 2
	case model.EventHeatWave:
		return 4
	case model.EventColdSnap:
		return -4
	case model.EventRenewableSurplus:
		return -2
	default:
		return 2
	}
}

// Evaluate runs the weighted scoring model.
func Evaluate(in Input) Result {
	load := normalize(in.LoadPct, 40, 100)
	price := normalize(in.PriceKWh, 0.08, 0.50)
	severity := normalize(float64(in.Severity), 0, 4)
	thermal := normalize(math.Abs(in.IndoorTemp-in.OutdoorTemp), 0, 20)
	tod := timeOfDay(in.Hour)
	outdoor := math.Min(1, math.Abs(in.OutdoorTemp-20)/25)

	contribs := []Contribution{
		{Feature: "grid_load", Normalized: load, Weight: weightLoad},
		{Feature: "price", Normalized: price, Weight: weightPrice},
		{Feature: "severity", Normalized: severity, Weight: weightSeverity},
		{Feature: "thermal_buffer", Normalized: thermal, Weight: weightThermal},
		{Feature: "time_of_day", Normalized: tod, Weight: weightTime},
		{Feature: "outdoor_stress", Normalized: outdoor, Weight: weightOutdoor},
	}
	urgency := 0.0
	values := make([]float64, len(contribs))
	for i := range contribs {
		contribs[i].Value = contribs[i].Weight * contribs[i].Normalized
		values[i] = contribs[i].Value
		urgency += contribs[i].Value
	}

	maxDelta := maxDeltaFor(in.EventType)
	delta := roundHalf(maxDelta * urgency)
	recommended := roundHalf(clamp(in.CurrentSetpoint+delta, minSetpoint, maxSetpoint))
	actualDelta := recommended - in.CurrentSetpoint

	variance := stat.PopVariance(values, nil)
	confidence := clamp(sigmoid((urgency-0.3)*4)*(1-2*variance), 0.55, 0.98)

	energy := math.Abs(actualDelta) * kwhPerDegree
	cost := energy * in.PriceKWh
	credits := int(math.Round(math.Abs(actualDelta)*5*urgency + 2))

	trace := []string{
		fmt.Sprintf("normalized features: load=%.2f price=%.2f severity=%.2f thermal=%.2f time=%.2f outdoor=%.2f",
			load, price, severity, thermal, tod, outdoor),
		fmt.Sprintf("urgency score %.3f from weighted sum", urgency),
		fmt.Sprintf("event %s allows up to %+.1f°C; scaled to %+.1f°C", in.EventType, maxDelta, delta),
		fmt.Sprintf("setpoint %.1f°C -> %.1f°C (clamped to [%.0f,%.0f])", in.CurrentSetpoint, recommended, minSetpoint, maxSetpoint),
		fmt.Sprintf("confidence %.2f (contribution variance %.4f)", confidence, variance),
		fmt.Sprintf("estimated %.2f kWh, $%.2f saved, %d credits", energy, cost, credits),
	}

	sort.SliceStable(contribs, func(i, j int) bool { return contribs[i].Value > contribs[j].Value })

	return Result{
		Urgency:             urgency,
		RecommendedSetpoint: recommended,
		DeltaC:              actualDelta,
		Confidence:          confidence,
		EnergySavedKWh:      energy,
		CostSavedUSD:        cost,
		Credits:             credits,
		Contributions:       contribs,
		Trace:               trace,
	}
}

// timeOfDay returns a flat 0.9 bonus during the 14-19h evening ramp, and a
// linear normalization over the 6-22h waking span otherwise.
func timeOfDay(hour int) float64 {
	if hour >= 14 && hour <= 19 {
		return 0.9
	}
	return normalize(float64(hour), 6, 22)
}

func normalize(v, min, max float64) float64 {
	if v <= min {
		return 0
	}
	if v >= max {
		return 1
	}
	return (v - min) / (max - min)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func roundHalf(v float64) float64 { return math.Round(v*2) / 2 }

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
