// Package engine drives the recommendation lifecycle: grid events open a
// cohort of per-household recommendations, households accept or decline, and
// acceptance flows into the savings ledger and best-effort device dispatch.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/homewatt/flex/core/device"
	"github.com/homewatt/flex/core/events"
	"github.com/homewatt/flex/core/ledger"
	"github.com/homewatt/flex/core/logger"
	"github.com/homewatt/flex/core/metrics"
	"github.com/homewatt/flex/core/model"
	"github.com/homewatt/flex/core/scoring"
	"github.com/homewatt/flex/core/store"
	"github.com/homewatt/flex/internal/eventbus"
	"github.com/homewatt/flex/internal/keyedmutex"
)

// maxDriftC caps the simulated indoor temperature drift per acceptance for
// households without linked hardware.
const maxDriftC = 1.0

// Engine is the recommendation state machine. Accept/Decline are
// compare-and-set on status, serialized per recommendation id; household
// mutations are serialized per household id. All domestic state commits
// before any external call.
type Engine struct {
	store    store.Store
	ledger   *ledger.Ledger
	devices  *device.Dispatcher
	rules    RuleEvaluator
	log      logger.Logger
	sink     metrics.MetricsSink
	bus      eventbus.EventBus
	recLocks *keyedmutex.KeyedMutex
	hhLocks  *keyedmutex.KeyedMutex
	now      func() time.Time

	pending *pendingAlerts
}

// RuleEvaluator is the alert rule engine dependency.
type RuleEvaluator interface {
	Evaluate(prices []model.HourlyPrice, h model.Household) model.AlertBatch
}

// Option tweaks engine construction.
type Option func(*Engine)

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. sink and bus may be nil; devices may be nil when no
// device-control provider is configured.
func New(st store.Store, led *ledger.Ledger, dev *device.Dispatcher, rules RuleEvaluator, log logger.Logger, sink metrics.MetricsSink, bus eventbus.EventBus, opts ...Option) (*Engine, error) {
	if st == nil || led == nil || rules == nil || log == nil {
		return nil, fmt.Errorf("engine: nil parameter provided to New")
	}
	e := &Engine{
		store:    st,
		ledger:   led,
		devices:  dev,
		rules:    rules,
		log:      log,
		sink:     sink,
		bus:      bus,
		recLocks: keyedmutex.New(),
		hhLocks:  keyedmutex.New(),
		now:      time.Now,
		pending:  newPendingAlerts(),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// TriggerResult is the outcome of opening a new recommendation cohort.
type TriggerResult struct {
	Event           model.GridEvent
	Recommendations []model.Recommendation
	Expired         int
}

// TriggerEvent deactivates the current event, expires its open
// recommendations, and opens a new cohort with one PENDING recommendation
// per household computed from the event template and the scoring model.
func (e *Engine) TriggerEvent(ctx context.Context, t model.EventType) (TriggerResult, error) {
	tpl, ok := TemplateFor(t)
	if !ok {
		return TriggerResult{}, fmt.Errorf("%w: unknown event type %v", model.ErrInvalidInput, t)
	}

	expired, err := e.supersede(ctx)
	if err != nil {
		return TriggerResult{}, err
	}

	now := e.now()
	ev := model.GridEvent{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  tpl.Severity,
		LoadPct:   tpl.LoadPct,
		PriceKWh:  tpl.PriceKWh,
		Active:    true,
		CreatedAt: now,
	}
	if err := e.store.PutEvent(ctx, ev); err != nil {
		return TriggerResult{}, err
	}

	households, err := e.store.ListHouseholds(ctx)
	if err != nil {
		return TriggerResult{}, err
	}
	recs := make([]model.Recommendation, 0, len(households))
	for _, h := range households {
		rec, err := e.recommend(ctx, ev, tpl, h, now)
		if err != nil {
			return TriggerResult{}, err
		}
		recs = append(recs, rec)
	}

	e.log.Infof("event %s opened %d recommendations, expired %d", ev.Type, len(recs), expired)
	if e.bus != nil {
		e.bus.Publish(events.EventTriggered{Event: ev, Recommendations: len(recs), Expired: expired})
	}
	return TriggerResult{Event: ev, Recommendations: recs, Expired: expired}, nil
}

// supersede deactivates the active event and expires the open cohort. One
// cohort is live at a time.
func (e *Engine) supersede(ctx context.Context) (int, error) {
	if prev, ok, err := e.store.ActiveEvent(ctx); err != nil {
		return 0, err
	} else if ok {
		prev.Active = false
		if err := e.store.PutEvent(ctx, prev); err != nil {
			return 0, err
		}
	}
	open, err := e.store.ListRecommendations(ctx, model.StatusPending)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, r := range open {
		ok, err := e.expire(ctx, r.ID)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

// expire moves one recommendation to EXPIRED. The PENDING snapshot can race
// an in-flight Accept or Decline, so status is re-read under the
// per-recommendation lock and terminal entries are left untouched.
func (e *Engine) expire(ctx context.Context, id string) (bool, error) {
	e.recLocks.Lock(id)
	defer e.recLocks.Unlock(id)

	rec, err := e.store.GetRecommendation(ctx, id)
	if err != nil {
		return false, err
	}
	if rec.Status.Terminal() {
		return false, nil
	}
	rec.Status = model.StatusExpired
	rec.RespondedAt = e.now()
	if err := e.store.PutRecommendation(ctx, rec); err != nil {
		return false, err
	}
	e.recordRecommendation(rec)
	return true, nil
}

// recommend scores one household against the event template and stores the
// PENDING recommendation.
func (e *Engine) recommend(ctx context.Context, ev model.GridEvent, tpl EventTemplate, h model.Household, now time.Time) (model.Recommendation, error) {
	res := scoring.Evaluate(scoring.Input{
		LoadPct:         tpl.LoadPct,
		PriceKWh:        tpl.PriceKWh,
		Severity:        tpl.Severity,
		CurrentSetpoint: h.HVAC.Setpoint,
		IndoorTemp:      h.HVAC.CurrentTemp,
		Mode:            h.HVAC.Mode,
		OutdoorTemp:     tpl.OutdoorC,
		Hour:            now.Hour(),
		Weekend:         now.Weekday() == time.Saturday || now.Weekday() == time.Sunday,
		EventType:       ev.Type,
	})
	credits := int(tpl.CreditsPerDegree*abs(res.DeltaC) + 0.5)
	if credits < res.Credits {
		credits = res.Credits
	}
	rec := model.Recommendation{
		ID:                  uuid.NewString(),
		EventID:             ev.ID,
		HouseholdID:         h.ID,
		CurrentSetpoint:     h.HVAC.Setpoint,
		RecommendedSetpoint: res.RecommendedSetpoint,
		EstimatedCredits:    credits,
		EstimatedSavingsUSD: res.CostSavedUSD,
		Reason:              strings.Join(res.Trace, "; "),
		Status:              model.StatusPending,
		CreatedAt:           now,
	}
	if err := e.store.PutRecommendation(ctx, rec); err != nil {
		return model.Recommendation{}, err
	}
	return rec, nil
}

// AcceptResult reports what acceptance committed and whether a device sync
// was attempted.
type AcceptResult struct {
	Recommendation model.Recommendation
	Household      model.Household
	DeviceSynced   bool
}

// Accept transitions a PENDING recommendation to ACCEPTED, applies the
// household mutations, accrues the savings and, when the threshold is
// crossed, settles. Device sync runs last and is best-effort.
func (e *Engine) Accept(ctx context.Context, id string) (AcceptResult, error) {
	rec, err := e.resolve(ctx, id, model.StatusAccepted)
	if err != nil {
		return AcceptResult{}, err
	}

	h, err := e.applyAcceptance(ctx, rec)
	if err != nil {
		return AcceptResult{}, err
	}

	if e.bus != nil {
		e.bus.Publish(events.RecommendationResolved{Recommendation: rec, Household: h})
	}
	e.recordRecommendation(rec)

	// Domestic state is committed; everything below is external.
	e.accrueAndSettle(ctx, h.ID, rec.EstimatedSavingsUSD)

	synced := false
	if e.devices != nil {
		cmd := device.FromSetpoint(h.HVAC, rec.RecommendedSetpoint)
		synced, err = e.devices.Dispatch(ctx, h, model.DeviceThermostat, cmd)
		if err != nil {
			e.log.Warnf("device sync for %s failed: %v", h.ID, err)
		}
	}
	return AcceptResult{Recommendation: rec, Household: h, DeviceSynced: synced}, nil
}

// Decline transitions a PENDING recommendation to DECLINED. No household
// mutation.
func (e *Engine) Decline(ctx context.Context, id string) (model.Recommendation, error) {
	rec, err := e.resolve(ctx, id, model.StatusDeclined)
	if err != nil {
		return model.Recommendation{}, err
	}
	if e.bus != nil {
		e.bus.Publish(events.RecommendationResolved{Recommendation: rec})
	}
	e.recordRecommendation(rec)
	return rec, nil
}

// resolve is the compare-and-set on status. Exactly one of two concurrent
// calls for the same id succeeds; the other fails with ErrAlreadyProcessed.
func (e *Engine) resolve(ctx context.Context, id string, to model.RecommendationStatus) (model.Recommendation, error) {
	e.recLocks.Lock(id)
	defer e.recLocks.Unlock(id)

	rec, err := e.store.GetRecommendation(ctx, id)
	if err != nil {
		return model.Recommendation{}, err
	}
	if rec.Status.Terminal() {
		return model.Recommendation{}, fmt.Errorf("recommendation %s is %s: %w", id, rec.Status, model.ErrAlreadyProcessed)
	}
	rec.Status = to
	rec.RespondedAt = e.now()
	if err := e.store.PutRecommendation(ctx, rec); err != nil {
		return model.Recommendation{}, err
	}
	return rec, nil
}

// applyAcceptance commits the household-side effects of an acceptance:
// setpoint, credits, participation, and the simulated drift for households
// without linked hardware.
func (e *Engine) applyAcceptance(ctx context.Context, rec model.Recommendation) (model.Household, error) {
	e.hhLocks.Lock(rec.HouseholdID)
	defer e.hhLocks.Unlock(rec.HouseholdID)

	h, err := e.store.GetHousehold(ctx, rec.HouseholdID)
	if err != nil {
		return model.Household{}, err
	}
	h.HVAC.Setpoint = rec.RecommendedSetpoint
	h.Credits += rec.EstimatedCredits
	h.Participation++
	if h.DeviceLinkID == "" {
		h.HVAC.CurrentTemp += driftStep(h.HVAC.CurrentTemp, rec.RecommendedSetpoint)
	}
	if err := e.store.PutHousehold(ctx, h); err != nil {
		return model.Household{}, err
	}
	return h, nil
}

// accrueAndSettle adds the savings to the ledger and settles when ready.
// Payment failures are logged; pending is retained for the next trigger.
func (e *Engine) accrueAndSettle(ctx context.Context, householdID string, savingsUSD float64) {
	if savingsUSD <= 0 {
		return
	}
	if err := e.ledger.Accrue(ctx, householdID, decimal.NewFromFloat(savingsUSD).Round(4)); err != nil {
		e.log.Errorf("accrue for %s: %v", householdID, err)
		return
	}
	ready, err := e.ledger.PayoutReady(ctx, householdID)
	if err != nil {
		e.log.Errorf("payout check for %s: %v", householdID, err)
		return
	}
	if !ready {
		return
	}
	if _, err := e.ledger.Settle(ctx, householdID); err != nil {
		e.log.Warnf("settlement for %s deferred: %v", householdID, err)
	}
}

func (e *Engine) recordRecommendation(rec model.Recommendation) {
	if e.sink == nil {
		return
	}
	if err := e.sink.RecordRecommendation(metrics.RecommendationEvent{
		RecommendationID: rec.ID,
		HouseholdID:      rec.HouseholdID,
		EventID:          rec.EventID,
		Status:           rec.Status,
		DeltaC:           rec.RecommendedSetpoint - rec.CurrentSetpoint,
		SavingsUSD:       rec.EstimatedSavingsUSD,
		Credits:          rec.EstimatedCredits,
		Time:             e.now(),
	}); err != nil {
		e.log.Errorf("recommendation metrics error: %v", err)
	}
}

// driftStep nudges the indoor temperature one step toward the setpoint,
// clamped to maxDriftC per acceptance.
func driftStep(current, setpoint float64) float64 {
	diff := setpoint - current
	if diff > maxDriftC {
		return maxDriftC
	}
	if diff < -maxDriftC {
		return -maxDriftC
	}
	return diff
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
