// Package rules evaluates a price forecast against household devices and
// emits actionable alerts paired with typed actions and the price analysis
// behind them.
package rules

import (
	"fmt"

	"github.com/homewatt/flex/core/forecast"
	"github.com/homewatt/flex/core/model"
)

// Price thresholds in $/kWh.
const (
	highPriceThreshold   = 0.25
	spikePriceThreshold  = 0.35
	valleyPriceThreshold = 0.04
	baselinePriceKWh     = 0.12
)

// Savings thresholds in USD per emitted alert.
const (
	evUrgentSavings  = 0.50
	evSoftSavings    = 0.20
	hvacSavings      = 0.50
	batterySavings   = 1.00
	applianceSavings = 0.30
	batteryMinSpread = 0.10
)

// Engine evaluates device rules over a forecast. One Engine is safe for
// concurrent use; each Evaluate call builds an independent batch.
type Engine struct{}

// New returns a rule engine.
func New() *Engine { return &Engine{} }

// batch accumulates triples with ids unique within one evaluation.
type batch struct {
	model.AlertBatch
	next int
}

func (b *batch) add(sev model.AlertSeverity, title, desc string, action model.AlertAction, analysis model.AlertAnalysis) {
	b.next++
	id := b.next
	action.AlertID = id
	analysis.AlertID = id
	b.next++
	action.ID = b.next
	b.next++
	analysis.ID = b.next
	b.Alerts = append(b.Alerts, model.Alert{ID: id, Severity: sev, Title: title, Description: desc})
	b.Actions = append(b.Actions, action)
	b.Analyses = append(b.Analyses, analysis)
}

// Evaluate runs every device evaluator plus the global price rules and
// returns the resulting batch. The id counter resets per call.
func (e *Engine) Evaluate(prices []model.HourlyPrice, h model.Household) model.AlertBatch {
	b := &batch{}
	now := forecast.CurrentPrice(prices, forecast.DefaultPriceKWh)
	for _, d := range h.Devices {
		switch d.Type {
		case model.DeviceEVCharger:
			e.evalCharger(b, prices, now, d)
		case model.DeviceThermostat:
			e.evalThermostat(b, prices, now, d)
		case model.DeviceBattery:
			e.evalBattery(b, prices, d)
		default:
			if d.Shiftable() {
				e.evalAppliance(b, prices, now, d)
			}
		}
	}
	e.evalGlobal(b, prices)
	return b.AlertBatch
}

// evalCharger compares the current price to the cheapest 3-hour charging
// window.
func (e *Engine) evalCharger(b *batch, prices []model.HourlyPrice, now float64, d model.Device) {
	w, ok := forecast.CheapestWindow(prices, 3)
	if !ok {
		return
	}
	savings := (now - w.AvgPrice) * d.PowerKW * 3
	analysis := model.AlertAnalysis{
		SavingsUSD:    savings,
		CurrentPrice:  now,
		OptimalPrice:  w.AvgPrice,
		CurrentWindow: "now",
		OptimalWindow: w.Label(),
	}
	action := model.AlertAction{
		DeviceType: d.Type,
		DeviceName: d.Name,
		Type:       model.ActionShiftCharge,
		Params:     map[string]float64{"start_hour": float64(w.StartHour), "duration_h": 3, "rate_kw": d.PowerKW},
	}
	switch {
	case savings > evUrgentSavings && now > highPriceThreshold:
		action.Type = model.ActionPauseCharger
		b.add(model.SeverityUrgent, "Pause EV charging now",
			fmt.Sprintf("Charging %s now costs $%.2f/kWh. Shifting to %s saves about $%.2f.", d.Name, now, w.Label(), savings),
			action, analysis)
	case savings > evSoftSavings:
		b.add(model.SeverityAdvice, "Cheaper EV charging window ahead",
			fmt.Sprintf("Charging %s during %s would save about $%.2f.", d.Name, w.Label(), savings),
			action, analysis)
	}
}

// evalThermostat emits a pre-conditioning alert when a cheap valley precedes
// an expensive peak, and a raise-setpoint alert during high prices.
func (e *Engine) evalThermostat(b *batch, prices []model.HourlyPrice, now float64, d model.Device) {
	peak, okPeak := forecast.PeakWindow(prices, 3)
	cheap, okCheap := forecast.CheapestWindow(prices, 2)
	if okPeak && okCheap && peak.AvgPrice > highPriceThreshold && cheap.AvgPrice < 0.4*peak.AvgPrice {
		savings := (peak.AvgPrice - cheap.AvgPrice) * d.PowerKW * 2
		if savings > hvacSavings {
			b.add(model.SeverityAdvice, "Pre-cool before the price peak",
				fmt.Sprintf("Running %s during %s instead of %s saves about $%.2f.", d.Name, cheap.Label(), peak.Label(), savings),
				model.AlertAction{
					DeviceType: d.Type,
					DeviceName: d.Name,
					Type:       model.ActionPreCool,
					Params:     map[string]float64{"start_hour": float64(cheap.StartHour), "duration_h": 2},
				},
				model.AlertAnalysis{
					SavingsUSD:    savings,
					CurrentPrice:  peak.AvgPrice,
					OptimalPrice:  cheap.AvgPrice,
					CurrentWindow: peak.Label(),
					OptimalWindow: cheap.Label(),
				})
		}
	}
	if now > highPriceThreshold {
		savings := (now - baselinePriceKWh) * d.PowerKW * 3
		if savings > hvacSavings {
			b.add(model.SeverityUrgent, "Raise the cooling setpoint",
				fmt.Sprintf("Power costs $%.2f/kWh right now. Easing %s back saves about $%.2f over the next 3 hours.", now, d.Name, savings),
				model.AlertAction{
					DeviceType: d.Type,
					DeviceName: d.Name,
					Type:       model.ActionRaiseSetpoint,
					Params:     map[string]float64{"delta_c": 2},
				},
				model.AlertAnalysis{
					SavingsUSD:    savings,
					CurrentPrice:  now,
					OptimalPrice:  baselinePriceKWh,
					CurrentWindow: "now",
					OptimalWindow: "baseline",
				})
		}
	}
}

// evalBattery looks for a charge/discharge arbitrage spread between the
// cheapest and most expensive 3-hour windows.
func (e *Engine) evalBattery(b *batch, prices []model.HourlyPrice, d model.Device) {
	peak, okPeak := forecast.PeakWindow(prices, 3)
	valley, okValley := forecast.CheapestWindow(prices, 3)
	if !okPeak || !okValley {
		return
	}
	spread := peak.AvgPrice - valley.AvgPrice
	if spread < batteryMinSpread {
		return
	}
	savings := spread * d.PowerKW * 3
	if savings <= batterySavings {
		return
	}
	b.add(model.SeverityAdvice, "Battery arbitrage opportunity",
		fmt.Sprintf("Charge %s during %s and discharge during %s for about $%.2f.", d.Name, valley.Label(), peak.Label(), savings),
		model.AlertAction{
			DeviceType: d.Type,
			DeviceName: d.Name,
			Type:       model.ActionChargeBattery,
			Params: map[string]float64{
				"charge_start_hour":    float64(valley.StartHour),
				"discharge_start_hour": float64(peak.StartHour),
				"duration_h":           3,
			},
		},
		model.AlertAnalysis{
			SavingsUSD:    savings,
			CurrentPrice:  peak.AvgPrice,
			OptimalPrice:  valley.AvgPrice,
			CurrentWindow: peak.Label(),
			OptimalWindow: valley.Label(),
		})
}

// evalAppliance covers generic shiftable loads like pool pumps, water
// heaters and dryers.
func (e *Engine) evalAppliance(b *batch, prices []model.HourlyPrice, now float64, d model.Device) {
	w, ok := forecast.CheapestWindow(prices, 2)
	if !ok {
		return
	}
	savings := (now - w.AvgPrice) * d.PowerKW * 2
	if savings <= applianceSavings || now <= 2*valleyPriceThreshold {
		return
	}
	b.add(model.SeverityAdvice, fmt.Sprintf("Run your %s later", d.Name),
		fmt.Sprintf("Delaying %s to %s saves about $%.2f.", d.Name, w.Label(), savings),
		model.AlertAction{
			DeviceType: d.Type,
			DeviceName: d.Name,
			Type:       model.ActionShiftAppliance,
			Params:     map[string]float64{"start_hour": float64(w.StartHour), "duration_h": 2},
		},
		model.AlertAnalysis{
			SavingsUSD:    savings,
			CurrentPrice:  now,
			OptimalPrice:  w.AvgPrice,
			CurrentWindow: "now",
			OptimalWindow: w.Label(),
		})
}

// evalGlobal emits the non-device spike and surplus alerts.
func (e *Engine) evalGlobal(b *batch, prices []model.HourlyPrice) {
	worst := -1
	for i, p := range prices {
		if p.ConsumerPriceKWh > spikePriceThreshold {
			if worst < 0 || p.ConsumerPriceKWh > prices[worst].ConsumerPriceKWh {
				worst = i
			}
		}
	}
	if worst >= 0 {
		p := prices[worst]
		b.add(model.SeverityUrgent, "Price spike ahead",
			fmt.Sprintf("Hour %d reaches $%.2f/kWh. Reduce usage where possible.", p.Hour, p.ConsumerPriceKWh),
			model.AlertAction{Type: model.ActionRaiseSetpoint, Params: map[string]float64{"hour": float64(p.Hour)}},
			model.AlertAnalysis{SavingsUSD: 0, CurrentPrice: p.ConsumerPriceKWh, CurrentWindow: "spike"})
	}

	run := 0
	for i, p := range prices {
		if p.ConsumerPriceKWh < valleyPriceThreshold {
			run++
			if run == 2 {
				start := i - 1
				b.add(model.SeverityInfo, "Renewable surplus",
					fmt.Sprintf("Power is nearly free from hour %d. A good time to charge and run heavy loads.", start),
					model.AlertAction{Type: model.ActionChargeBattery, Params: map[string]float64{"start_hour": float64(start)}},
					model.AlertAnalysis{CurrentPrice: p.ConsumerPriceKWh, OptimalWindow: fmt.Sprintf("%02dh+", start%24)})
				return
			}
		} else {
			run = 0
		}
	}
}
