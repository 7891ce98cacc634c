package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/homewatt/flex/core/ledger"
	"github.com/homewatt/flex/core/model"
	"github.com/homewatt/flex/core/rules"
	"github.com/homewatt/flex/core/store"
)

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}

type fakePayment struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (p *fakePayment) Send(_ context.Context, _ string, _ decimal.Decimal) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		return "", errors.New("rail down")
	}
	return fmt.Sprintf("tx-%d", p.calls), nil
}

func (p *fakePayment) Balance(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}

func (p *fakePayment) RecentTransactions(context.Context, string) ([]ledger.Transaction, error) {
	return nil, nil
}

func usd(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testEngine(t *testing.T, pay ledger.Payment, households ...model.Household) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	for _, h := range households {
		if err := st.PutHousehold(ctx, h); err != nil {
			t.Fatalf("seed household: %v", err)
		}
	}
	led, err := ledger.New(st, pay, nopLogger{}, nil, nil)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	eng, err := New(st, led, nil, rules.New(), nopLogger{}, nil, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return eng, st
}

func home(id string) model.Household {
	return model.Household{
		ID:   id,
		Name: "Home " + id,
		HVAC: model.HVACState{CurrentTemp: 23, Setpoint: 21, Mode: model.ModeCool},
	}
}

func TestTriggerEventOpensCohort(t *testing.T) {
	eng, st := testEngine(t, &fakePayment{}, home("h1"), home("h2"))
	ctx := context.Background()

	res, err := eng.TriggerEvent(ctx, model.EventHeatWave)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if len(res.Recommendations) != 2 {
		t.Fatalf("expected one recommendation per household, got %d", len(res.Recommendations))
	}
	for _, r := range res.Recommendations {
		if r.Status != model.StatusPending {
			t.Fatalf("new recommendation must be PENDING, got %s", r.Status)
		}
		if r.EventID != res.Event.ID {
			t.Fatal("recommendation not tied to the event")
		}
	}
	ev, ok, _ := st.ActiveEvent(ctx)
	if !ok || ev.Type != model.EventHeatWave {
		t.Fatalf("expected active heat wave event, got %+v ok=%v", ev, ok)
	}
}

func TestTriggerEventSupersedesPrevious(t *testing.T) {
	eng, st := testEngine(t, &fakePayment{}, home("h1"), home("h2"))
	ctx := context.Background()

	first, err := eng.TriggerEvent(ctx, model.EventHeatWave)
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	second, err := eng.TriggerEvent(ctx, model.EventPriceSpike)
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if second.Expired != len(first.Recommendations) {
		t.Fatalf("expected %d expired, got %d", len(first.Recommendations), second.Expired)
	}
	for _, r := range first.Recommendations {
		got, _ := st.GetRecommendation(ctx, r.ID)
		if got.Status != model.StatusExpired {
			t.Fatalf("recommendation %s should be EXPIRED, is %s", r.ID, got.Status)
		}
	}
	prev, _, _ := st.ActiveEvent(ctx)
	if prev.ID != second.Event.ID {
		t.Fatal("previous event still active")
	}
}

func TestAcceptAppliesHouseholdState(t *testing.T) {
	eng, st := testEngine(t, &fakePayment{}, home("h1"))
	ctx := context.Background()

	res, _ := eng.TriggerEvent(ctx, model.EventHeatWave)
	rec := res.Recommendations[0]

	out, err := eng.Accept(ctx, rec.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	h, _ := st.GetHousehold(ctx, "h1")
	if h.HVAC.Setpoint != rec.RecommendedSetpoint {
		t.Fatalf("setpoint not applied: %v vs %v", h.HVAC.Setpoint, rec.RecommendedSetpoint)
	}
	if h.Credits != rec.EstimatedCredits || h.Participation != 1 {
		t.Fatalf("credits/participation not applied: %+v", h)
	}
	drift := h.HVAC.CurrentTemp - 23
	if drift < -1 || drift > 1 {
		t.Fatalf("simulated drift exceeds 1°C: %v", drift)
	}
	if out.Recommendation.Status != model.StatusAccepted || out.Recommendation.RespondedAt.IsZero() {
		t.Fatalf("unexpected resolved recommendation %+v", out.Recommendation)
	}
}

func TestAcceptIsIdempotentFailure(t *testing.T) {
	eng, _ := testEngine(t, &fakePayment{}, home("h1"))
	ctx := context.Background()
	res, _ := eng.TriggerEvent(ctx, model.EventDemandReduction)
	rec := res.Recommendations[0]

	if _, err := eng.Accept(ctx, rec.ID); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if _, err := eng.Accept(ctx, rec.ID); !errors.Is(err, model.ErrAlreadyProcessed) {
		t.Fatalf("second accept should fail with ErrAlreadyProcessed, got %v", err)
	}
	if _, err := eng.Decline(ctx, rec.ID); !errors.Is(err, model.ErrAlreadyProcessed) {
		t.Fatalf("decline after accept should fail, got %v", err)
	}
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	eng, _ := testEngine(t, &fakePayment{}, home("h1"))
	ctx := context.Background()
	res, _ := eng.TriggerEvent(ctx, model.EventPriceSpike)
	rec := res.Recommendations[0]

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Accept(ctx, rec.ID)
		}(i)
	}
	wg.Wait()

	success := 0
	for _, err := range errs {
		switch {
		case err == nil:
			success++
		case errors.Is(err, model.ErrAlreadyProcessed):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
}

// staleSnapshotStore fires a hook after returning the PENDING snapshot,
// simulating an Accept that lands between supersede's list and its expire
// loop.
type staleSnapshotStore struct {
	store.Store
	onSnapshot func(recs []model.Recommendation)
}

func (s *staleSnapshotStore) ListRecommendations(ctx context.Context, status model.RecommendationStatus) ([]model.Recommendation, error) {
	recs, err := s.Store.ListRecommendations(ctx, status)
	if err == nil && status == model.StatusPending && s.onSnapshot != nil {
		hook := s.onSnapshot
		s.onSnapshot = nil
		hook(recs)
	}
	return recs, err
}

func TestSupersedeSkipsRecommendationAcceptedAfterSnapshot(t *testing.T) {
	ctx := context.Background()
	raced := &staleSnapshotStore{Store: store.NewMemoryStore()}
	if err := raced.PutHousehold(ctx, home("h1")); err != nil {
		t.Fatalf("seed household: %v", err)
	}
	led, err := ledger.New(raced, &fakePayment{}, nopLogger{}, nil, nil)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	eng, err := New(raced, led, nil, rules.New(), nopLogger{}, nil, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	first, err := eng.TriggerEvent(ctx, model.EventHeatWave)
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	rec := first.Recommendations[0]

	raced.onSnapshot = func(recs []model.Recommendation) {
		if len(recs) != 1 {
			t.Fatalf("expected the open cohort in the snapshot, got %d", len(recs))
		}
		if _, err := eng.Accept(ctx, recs[0].ID); err != nil {
			t.Fatalf("accept during supersede: %v", err)
		}
	}
	second, err := eng.TriggerEvent(ctx, model.EventPriceSpike)
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}

	got, _ := raced.GetRecommendation(ctx, rec.ID)
	if got.Status != model.StatusAccepted {
		t.Fatalf("accepted recommendation was overwritten to %s", got.Status)
	}
	if second.Expired != 0 {
		t.Fatalf("accepted recommendation must not count as expired, got %d", second.Expired)
	}
	h, _ := raced.GetHousehold(ctx, "h1")
	if h.Credits != rec.EstimatedCredits || h.Participation != 1 {
		t.Fatalf("acceptance side effects lost: %+v", h)
	}
}

func TestDeclineLeavesHouseholdUntouched(t *testing.T) {
	eng, st := testEngine(t, &fakePayment{}, home("h1"))
	ctx := context.Background()
	res, _ := eng.TriggerEvent(ctx, model.EventColdSnap)
	rec := res.Recommendations[0]

	before, _ := st.GetHousehold(ctx, "h1")
	out, err := eng.Decline(ctx, rec.ID)
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if out.Status != model.StatusDeclined {
		t.Fatalf("expected DECLINED, got %s", out.Status)
	}
	after, _ := st.GetHousehold(ctx, "h1")
	if after.Credits != before.Credits || after.HVAC.Setpoint != before.HVAC.Setpoint || after.Participation != 0 {
		t.Fatalf("decline mutated the household: %+v", after)
	}
}

func TestAcceptUnknownIDNotFound(t *testing.T) {
	eng, _ := testEngine(t, &fakePayment{}, home("h1"))
	if _, err := eng.Accept(context.Background(), "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAcceptanceCrossingThresholdSettles(t *testing.T) {
	pay := &fakePayment{}
	eng, st := testEngine(t, pay, home("h1"))
	ctx := context.Background()

	h, _ := st.GetHousehold(ctx, "h1")
	h.SavingsPending = usd(0.60)
	h.PayoutAddress = "0xabc"
	_ = st.PutHousehold(ctx, h)

	rec := model.Recommendation{
		ID:                  "r1",
		HouseholdID:         "h1",
		CurrentSetpoint:     21,
		RecommendedSetpoint: 23,
		EstimatedSavingsUSD: 0.50,
		Status:              model.StatusPending,
	}
	_ = st.PutRecommendation(ctx, rec)

	if _, err := eng.Accept(ctx, "r1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	h, _ = st.GetHousehold(ctx, "h1")
	if !h.SavingsPending.IsZero() {
		t.Fatalf("pending should be settled to zero, got %s", h.SavingsPending)
	}
	if !h.SavingsPaid.Equal(usd(1.10)) {
		t.Fatalf("paid should be 1.10, got %s", h.SavingsPaid)
	}
	if pay.calls != 1 {
		t.Fatalf("payment should be called once, got %d", pay.calls)
	}
	payouts, _ := st.ListPayouts(ctx, "h1")
	if len(payouts) != 1 || !payouts[0].Amount.Equal(usd(1.10)) {
		t.Fatalf("expected one payout of 1.10, got %+v", payouts)
	}
}

func TestAcceptanceSurvivesPaymentFailure(t *testing.T) {
	pay := &fakePayment{fail: true}
	eng, st := testEngine(t, pay, home("h1"))
	ctx := context.Background()

	h, _ := st.GetHousehold(ctx, "h1")
	h.SavingsPending = usd(0.90)
	h.PayoutAddress = "0xabc"
	_ = st.PutHousehold(ctx, h)

	_ = st.PutRecommendation(ctx, model.Recommendation{
		ID: "r1", HouseholdID: "h1", CurrentSetpoint: 21, RecommendedSetpoint: 22,
		EstimatedSavingsUSD: 0.50, EstimatedCredits: 5, Status: model.StatusPending,
	})

	out, err := eng.Accept(ctx, "r1")
	if err != nil {
		t.Fatalf("acceptance must not fail on payment errors: %v", err)
	}
	if out.Recommendation.Status != model.StatusAccepted {
		t.Fatal("recommendation state must commit before the external call")
	}
	h, _ = st.GetHousehold(ctx, "h1")
	if !h.SavingsPending.Equal(usd(1.40)) {
		t.Fatalf("pending must be retained after payment failure, got %s", h.SavingsPending)
	}
	if h.Credits != 5 {
		t.Fatalf("credits must commit regardless of payment, got %d", h.Credits)
	}
}

func TestTriggerEventDeterministicPerClock(t *testing.T) {
	fixed := time.Date(2025, 7, 15, 17, 0, 0, 0, time.UTC)
	clock := func() time.Time { return fixed }

	build := func() TriggerResult {
		st := store.NewMemoryStore()
		_ = st.PutHousehold(context.Background(), home("h1"))
		led, _ := ledger.New(st, &fakePayment{}, nopLogger{}, nil, nil)
		eng, _ := New(st, led, nil, rules.New(), nopLogger{}, nil, nil, WithClock(clock))
		res, err := eng.TriggerEvent(context.Background(), model.EventHeatWave)
		if err != nil {
			t.Fatalf("trigger: %v", err)
		}
		return res
	}
	a, b := build(), build()
	ra, rb := a.Recommendations[0], b.Recommendations[0]
	if ra.RecommendedSetpoint != rb.RecommendedSetpoint || ra.EstimatedCredits != rb.EstimatedCredits {
		t.Fatalf("identical inputs produced different recommendations: %+v vs %+v", ra, rb)
	}
}
