package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/homewatt/flex/core/device"
	"github.com/homewatt/flex/core/events"
	"github.com/homewatt/flex/core/metrics"
	"github.com/homewatt/flex/core/model"
)

// pendingAlerts holds the latest alert batch per household. Alerts are
// ephemeral: a new evaluation replaces the previous batch, acceptance or
// decline consumes individual alerts.
type pendingAlerts struct {
	mu      sync.Mutex
	batches map[string]model.AlertBatch
}

func newPendingAlerts() *pendingAlerts {
	return &pendingAlerts{batches: map[string]model.AlertBatch{}}
}

func (p *pendingAlerts) replace(householdID string, b model.AlertBatch) {
	p.mu.Lock()
	p.batches[householdID] = b
	p.mu.Unlock()
}

// take removes and returns the alert triple. The alert is consumed whether
// the caller accepts or declines.
func (p *pendingAlerts) take(householdID string, alertID int) (model.AlertAction, model.AlertAnalysis, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.batches[householdID]
	if !ok {
		return model.AlertAction{}, model.AlertAnalysis{}, false
	}
	action, okAction := b.ActionFor(alertID)
	analysis, okAnalysis := b.AnalysisFor(alertID)
	if !okAction || !okAnalysis {
		return model.AlertAction{}, model.AlertAnalysis{}, false
	}
	kept := model.AlertBatch{}
	for _, a := range b.Alerts {
		if a.ID == alertID {
			continue
		}
		kept.Alerts = append(kept.Alerts, a)
	}
	for _, a := range b.Actions {
		if a.AlertID == alertID {
			continue
		}
		kept.Actions = append(kept.Actions, a)
	}
	for _, a := range b.Analyses {
		if a.AlertID == alertID {
			continue
		}
		kept.Analyses = append(kept.Analyses, a)
	}
	p.batches[householdID] = kept
	return action, analysis, true
}

// EvaluateForecast runs the rule engine for every household against the
// forecast and replaces each household's pending alert batch. Returned map
// is keyed by household id.
func (e *Engine) EvaluateForecast(ctx context.Context, f model.Forecast) (map[string]model.AlertBatch, error) {
	households, err := e.store.ListHouseholds(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.AlertBatch, len(households))
	for _, h := range households {
		batch := e.rules.Evaluate(f.Prices, h)
		e.pending.replace(h.ID, batch)
		out[h.ID] = batch
		if e.bus != nil {
			for _, a := range batch.Alerts {
				action, _ := batch.ActionFor(a.ID)
				analysis, _ := batch.AnalysisFor(a.ID)
				e.bus.Publish(events.AlertRaised{HouseholdID: h.ID, Alert: a, Action: action, Analysis: analysis})
			}
		}
		e.recordAlertBatch(h.ID, f.Region, batch)
	}
	return out, nil
}

// AcceptAlert consumes a pending alert: its estimated savings accrue to the
// ledger (settling when ready) and the paired action is dispatched to the
// device best-effort. The household is resolved before the alert is taken so
// a store error leaves the alert pending.
func (e *Engine) AcceptAlert(ctx context.Context, householdID string, alertID int) error {
	h, err := e.store.GetHousehold(ctx, householdID)
	if err != nil {
		return err
	}
	action, analysis, ok := e.pending.take(householdID, alertID)
	if !ok {
		return fmt.Errorf("alert %d for household %s: %w", alertID, householdID, model.ErrNotFound)
	}

	e.accrueAndSettle(ctx, householdID, analysis.SavingsUSD)

	if e.devices != nil && action.DeviceType != "" {
		cmd := device.FromAction(action, h.HVAC)
		if _, err := e.devices.Dispatch(ctx, h, action.DeviceType, cmd); err != nil {
			e.log.Warnf("alert action dispatch for %s failed: %v", householdID, err)
		}
	}
	return nil
}

// DeclineAlert consumes a pending alert without side effects.
func (e *Engine) DeclineAlert(ctx context.Context, householdID string, alertID int) error {
	if _, _, ok := e.pending.take(householdID, alertID); !ok {
		return fmt.Errorf("alert %d for household %s: %w", alertID, householdID, model.ErrNotFound)
	}
	return nil
}

func (e *Engine) recordAlertBatch(householdID, region string, b model.AlertBatch) {
	if e.sink == nil || len(b.Alerts) == 0 {
		return
	}
	rec, ok := e.sink.(metrics.AlertRecorder)
	if !ok {
		return
	}
	top := model.SeverityInfo
	for _, a := range b.Alerts {
		if a.Severity == model.SeverityUrgent || (a.Severity == model.SeverityAdvice && top == model.SeverityInfo) {
			top = a.Severity
		}
	}
	if err := rec.RecordAlertBatch(metrics.AlertEvent{
		HouseholdID: householdID,
		Region:      region,
		Alerts:      len(b.Alerts),
		TopSeverity: top,
		Time:        e.now(),
	}); err != nil {
		e.log.Errorf("alert metrics error: %v", err)
	}
}
