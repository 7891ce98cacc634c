package rules

import (
	"math"
	"testing"

	"github.com/homewatt/flex/core/model"
)

func series(prices ...float64) []model.HourlyPrice {
	s := make([]model.HourlyPrice, len(prices))
	for i, p := range prices {
		s[i] = model.HourlyPrice{Hour: i, ConsumerPriceKWh: p}
	}
	return s
}

func household(devices ...model.Device) model.Household {
	return model.Household{ID: "h1", Name: "Test Home", Devices: devices}
}

func findAction(b model.AlertBatch, t model.ActionType) (model.Alert, model.AlertAnalysis, bool) {
	for _, action := range b.Actions {
		if action.Type != t {
			continue
		}
		for _, a := range b.Alerts {
			if a.ID == action.AlertID {
				an, _ := b.AnalysisFor(a.ID)
				return a, an, true
			}
		}
	}
	return model.Alert{}, model.AlertAnalysis{}, false
}

func TestChargerUrgentShift(t *testing.T) {
	// 0.30 now, cheapest 3h window hours 1-3 at 0.10: savings 0.20*7.2*3 = 4.32
	prices := series(0.30, 0.10, 0.10, 0.10, 0.30)
	b := New().Evaluate(prices, household(model.Device{Type: model.DeviceEVCharger, Name: "garage", PowerKW: 7.2}))
	alert, analysis, ok := findAction(b, model.ActionPauseCharger)
	if !ok {
		t.Fatal("expected an urgent pause_charger alert")
	}
	if alert.Severity != model.SeverityUrgent {
		t.Fatalf("expected urgent severity, got %s", alert.Severity)
	}
	if math.Abs(analysis.SavingsUSD-4.32) > 1e-9 {
		t.Fatalf("expected savings 4.32, got %v", analysis.SavingsUSD)
	}
}

func TestChargerSoftSuggestion(t *testing.T) {
	// Cheap now-price keeps it below the urgent threshold.
	prices := series(0.18, 0.10, 0.10, 0.10, 0.18)
	b := New().Evaluate(prices, household(model.Device{Type: model.DeviceEVCharger, Name: "garage", PowerKW: 7.2}))
	if _, _, ok := findAction(b, model.ActionPauseCharger); ok {
		t.Fatal("did not expect an urgent alert at $0.18/kWh")
	}
	if _, _, ok := findAction(b, model.ActionShiftCharge); !ok {
		t.Fatal("expected a soft shift_charge suggestion")
	}
}

func TestThermostatPreCool(t *testing.T) {
	// Peak 3h at 0.40 avg, cheapest 2h at 0.05 avg (<40% of peak).
	prices := series(0.05, 0.05, 0.20, 0.40, 0.40, 0.40)
	b := New().Evaluate(prices, household(model.Device{Type: model.DeviceThermostat, Name: "hvac", PowerKW: 3.5}))
	_, analysis, ok := findAction(b, model.ActionPreCool)
	if !ok {
		t.Fatal("expected a pre_cool alert")
	}
	want := (0.40 - 0.05) * 3.5 * 2
	if math.Abs(analysis.SavingsUSD-want) > 1e-9 {
		t.Fatalf("expected savings %v, got %v", want, analysis.SavingsUSD)
	}
}

func TestThermostatRaiseSetpoint(t *testing.T) {
	prices := series(0.30, 0.28, 0.27, 0.26)
	b := New().Evaluate(prices, household(model.Device{Type: model.DeviceThermostat, Name: "hvac", PowerKW: 3.5}))
	if _, _, ok := findAction(b, model.ActionRaiseSetpoint); !ok {
		t.Fatal("expected a raise_setpoint alert above $0.25/kWh")
	}
}

func TestBatteryArbitrage(t *testing.T) {
	prices := series(0.05, 0.05, 0.05, 0.30, 0.30, 0.30)
	b := New().Evaluate(prices, household(model.Device{Type: model.DeviceBattery, Name: "wall", PowerKW: 5}))
	_, analysis, ok := findAction(b, model.ActionChargeBattery)
	if !ok {
		t.Fatal("expected a battery arbitrage alert")
	}
	want := (0.30 - 0.05) * 5 * 3
	if math.Abs(analysis.SavingsUSD-want) > 1e-9 {
		t.Fatalf("expected savings %v, got %v", want, analysis.SavingsUSD)
	}
}

func TestBatterySpreadTooSmall(t *testing.T) {
	prices := series(0.20, 0.20, 0.20, 0.25, 0.25, 0.25)
	b := New().Evaluate(prices, household(model.Device{Type: model.DeviceBattery, Name: "wall", PowerKW: 5}))
	if _, _, ok := findAction(b, model.ActionChargeBattery); ok {
		t.Fatal("spread below $0.10/kWh must not alert")
	}
}

func TestApplianceShift(t *testing.T) {
	prices := series(0.30, 0.05, 0.05, 0.30)
	b := New().Evaluate(prices, household(model.Device{Type: model.DevicePoolPump, Name: "pool pump", PowerKW: 1.5}))
	if _, _, ok := findAction(b, model.ActionShiftAppliance); !ok {
		t.Fatal("expected a shift_appliance alert")
	}
}

func TestGlobalSpikeReportsWorstHour(t *testing.T) {
	prices := series(0.20, 0.40, 0.55, 0.36)
	b := New().Evaluate(prices, household())
	found := false
	for _, a := range b.Alerts {
		if a.Title == "Price spike ahead" {
			found = true
			an, _ := b.AnalysisFor(a.ID)
			if an.CurrentPrice != 0.55 {
				t.Fatalf("expected worst hour price 0.55, got %v", an.CurrentPrice)
			}
		}
	}
	if !found {
		t.Fatal("expected a spike alert")
	}
}

func TestGlobalSurplusNeedsContiguousHours(t *testing.T) {
	b := New().Evaluate(series(0.03, 0.10, 0.03, 0.10), household())
	for _, a := range b.Alerts {
		if a.Title == "Renewable surplus" {
			t.Fatal("non-contiguous cheap hours must not alert")
		}
	}
	b = New().Evaluate(series(0.10, 0.03, 0.03, 0.10), household())
	found := false
	for _, a := range b.Alerts {
		if a.Title == "Renewable surplus" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a surplus alert for two contiguous cheap hours")
	}
}

func TestBatchIDsUniqueAndCorrelated(t *testing.T) {
	prices := series(0.30, 0.05, 0.05, 0.05, 0.40, 0.40, 0.40)
	h := household(
		model.Device{Type: model.DeviceEVCharger, Name: "garage", PowerKW: 7.2},
		model.Device{Type: model.DeviceThermostat, Name: "hvac", PowerKW: 3.5},
		model.Device{Type: model.DeviceBattery, Name: "wall", PowerKW: 5},
	)
	b := New().Evaluate(prices, h)
	seen := map[int]bool{}
	for _, a := range b.Alerts {
		if seen[a.ID] {
			t.Fatalf("duplicate id %d in batch", a.ID)
		}
		seen[a.ID] = true
		if _, ok := b.ActionFor(a.ID); !ok {
			t.Fatalf("alert %d has no action", a.ID)
		}
		if _, ok := b.AnalysisFor(a.ID); !ok {
			t.Fatalf("alert %d has no analysis", a.ID)
		}
	}
	// Counter resets per evaluation.
	b2 := New().Evaluate(prices, h)
	if len(b2.Alerts) == 0 || b2.Alerts[0].ID != b.Alerts[0].ID {
		t.Fatal("batch ids must restart per evaluation")
	}
}
