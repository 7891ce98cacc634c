// Package ledger accrues dollar-denominated savings per household and
// converts them into external payouts once a threshold is crossed.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/homewatt/flex/core/events"
	"github.com/homewatt/flex/core/logger"
	"github.com/homewatt/flex/core/metrics"
	"github.com/homewatt/flex/core/model"
	"github.com/homewatt/flex/core/store"
	"github.com/homewatt/flex/internal/eventbus"
	"github.com/homewatt/flex/internal/keyedmutex"
)

// DefaultThresholdUSD is the fixed payout threshold.
var DefaultThresholdUSD = decimal.NewFromInt(1)

// Ledger implements the settlement lifecycle. The read-check-trigger
// sequence is serialized per household; the external payment call happens
// outside the household lock.
type Ledger struct {
	store     store.Store
	payment   Payment
	threshold decimal.Decimal
	// locks guards balance reads and writes; settleLocks serializes the
	// whole read-check-trigger sequence per household so concurrent
	// threshold crossings cannot both reach the payment rail. Accrue only
	// needs the balance lock and is never blocked by an external call.
	locks       *keyedmutex.KeyedMutex
	settleLocks *keyedmutex.KeyedMutex
	log         logger.Logger
	sink        metrics.SettlementRecorder
	bus         eventbus.EventBus
	now         func() time.Time
}

// Option tweaks ledger construction.
type Option func(*Ledger)

// WithThreshold overrides the payout threshold.
func WithThreshold(t decimal.Decimal) Option {
	return func(l *Ledger) { l.threshold = t }
}

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger. sink and bus may be nil.
func New(st store.Store, payment Payment, log logger.Logger, sink metrics.SettlementRecorder, bus eventbus.EventBus, opts ...Option) (*Ledger, error) {
	if st == nil || payment == nil || log == nil {
		return nil, fmt.Errorf("ledger: nil parameter provided to New")
	}
	l := &Ledger{
		store:       st,
		payment:     payment,
		threshold:   DefaultThresholdUSD,
		locks:       keyedmutex.New(),
		settleLocks: keyedmutex.New(),
		log:         log,
		sink:        sink,
		bus:         bus,
		now:         time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Accrue adds amount to the household's pending savings.
func (l *Ledger) Accrue(ctx context.Context, householdID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: accrual must not be negative", model.ErrInvalidInput)
	}
	l.locks.Lock(householdID)
	defer l.locks.Unlock(householdID)

	h, err := l.store.GetHousehold(ctx, householdID)
	if err != nil {
		return err
	}
	h.SavingsPending = h.SavingsPending.Add(amount)
	if err := l.store.PutHousehold(ctx, h); err != nil {
		return err
	}
	l.log.Debugf("accrued $%s for %s, pending $%s", amount, householdID, h.SavingsPending)
	return nil
}

// PayoutReady reports whether pending savings meet the threshold.
func (l *Ledger) PayoutReady(ctx context.Context, householdID string) (bool, error) {
	h, err := l.store.GetHousehold(ctx, householdID)
	if err != nil {
		return false, err
	}
	return h.SavingsPending.GreaterThanOrEqual(l.threshold), nil
}

// Settle converts pending savings into an external payout. The pending
// amount is snapshotted under the household lock, an in-flight attempt
// marker is persisted, the lock is released for the external call, and the
// ledger commits only on confirmed success. On failure pending is left
// untouched for the next qualifying trigger.
func (l *Ledger) Settle(ctx context.Context, householdID string) (model.PayoutRecord, error) {
	l.settleLocks.Lock(householdID)
	defer l.settleLocks.Unlock(householdID)

	attempt, err := l.beginAttempt(ctx, householdID)
	if err != nil {
		return model.PayoutRecord{}, err
	}

	txRef, err := l.payment.Send(ctx, attempt.Destination, attempt.Amount)
	if err != nil {
		l.failAttempt(ctx, attempt)
		l.recordSettlement(householdID, attempt.Amount, "", false)
		return model.PayoutRecord{}, fmt.Errorf("settle %s: %w: %v", householdID, model.ErrPayment, err)
	}

	rec, err := l.commitAttempt(ctx, attempt, txRef)
	if err != nil {
		return model.PayoutRecord{}, err
	}
	l.recordSettlement(householdID, attempt.Amount, txRef, true)
	if l.bus != nil {
		l.bus.Publish(events.SettlementCompleted{HouseholdID: householdID, Amount: attempt.Amount, TxRef: txRef})
	}
	l.log.Infof("settled $%s for %s (tx %s)", attempt.Amount, householdID, txRef)
	return rec, nil
}

// beginAttempt snapshots pending under the household lock and persists the
// in-flight marker before any external call.
func (l *Ledger) beginAttempt(ctx context.Context, householdID string) (model.PayoutAttempt, error) {
	l.locks.Lock(householdID)
	defer l.locks.Unlock(householdID)

	h, err := l.store.GetHousehold(ctx, householdID)
	if err != nil {
		return model.PayoutAttempt{}, err
	}
	if h.PayoutAddress == "" {
		return model.PayoutAttempt{}, fmt.Errorf("settle %s: %w", householdID, model.ErrNoDestination)
	}
	if h.SavingsPending.LessThan(l.threshold) {
		return model.PayoutAttempt{}, fmt.Errorf("settle %s: %w", householdID, model.ErrNotReady)
	}
	attempt := model.PayoutAttempt{
		ID:          uuid.NewString(),
		HouseholdID: householdID,
		Destination: h.PayoutAddress,
		Amount:      h.SavingsPending,
		State:       model.AttemptInFlight,
		StartedAt:   l.now(),
	}
	if err := l.store.PutAttempt(ctx, attempt); err != nil {
		return model.PayoutAttempt{}, err
	}
	return attempt, nil
}

// commitAttempt subtracts the snapshot (not zero-out: accruals made during
// the external call are preserved), credits paid, and appends the payout
// record.
func (l *Ledger) commitAttempt(ctx context.Context, attempt model.PayoutAttempt, txRef string) (model.PayoutRecord, error) {
	l.locks.Lock(attempt.HouseholdID)
	defer l.locks.Unlock(attempt.HouseholdID)

	h, err := l.store.GetHousehold(ctx, attempt.HouseholdID)
	if err != nil {
		return model.PayoutRecord{}, err
	}
	h.SavingsPending = h.SavingsPending.Sub(attempt.Amount)
	if h.SavingsPending.IsNegative() {
		h.SavingsPending = decimal.Zero
	}
	h.SavingsPaid = h.SavingsPaid.Add(attempt.Amount)
	if err := l.store.PutHousehold(ctx, h); err != nil {
		return model.PayoutRecord{}, err
	}
	rec := model.PayoutRecord{
		ID:          uuid.NewString(),
		HouseholdID: attempt.HouseholdID,
		Amount:      attempt.Amount,
		TxRef:       txRef,
		Timestamp:   l.now(),
	}
	if err := l.store.AppendPayout(ctx, rec); err != nil {
		return model.PayoutRecord{}, err
	}
	attempt.State = model.AttemptConfirmed
	if err := l.store.PutAttempt(ctx, attempt); err != nil {
		l.log.Warnf("attempt %s confirmed but marker update failed: %v", attempt.ID, err)
	}
	return rec, nil
}

func (l *Ledger) failAttempt(ctx context.Context, attempt model.PayoutAttempt) {
	attempt.State = model.AttemptFailed
	if err := l.store.PutAttempt(ctx, attempt); err != nil {
		l.log.Warnf("attempt %s failed and marker update failed too: %v", attempt.ID, err)
	}
}

// Reconcile resolves attempts left in flight by a crash between external
// confirmation and ledger commit. An attempt with a matching transaction in
// the rail's recent history is committed with that reference; otherwise it
// is marked failed and pending savings are retained for retry.
func (l *Ledger) Reconcile(ctx context.Context) error {
	open, err := l.store.OpenAttempts(ctx)
	if err != nil {
		return err
	}
	for _, attempt := range open {
		txs, err := l.payment.RecentTransactions(ctx, attempt.Destination)
		if err != nil {
			l.log.Warnf("reconcile %s: transaction history unavailable: %v", attempt.ID, err)
			continue
		}
		ref := ""
		for _, tx := range txs {
			if tx.Destination == attempt.Destination && tx.Amount.Equal(attempt.Amount) && !tx.Timestamp.Before(attempt.StartedAt) {
				ref = tx.Ref
				break
			}
		}
		if ref == "" {
			l.failAttempt(ctx, attempt)
			l.log.Infof("reconcile: attempt %s has no matching transaction, pending retained", attempt.ID)
			continue
		}
		if _, err := l.commitAttempt(ctx, attempt, ref); err != nil {
			l.log.Errorf("reconcile: commit of %s failed: %v", attempt.ID, err)
			continue
		}
		l.log.Infof("reconcile: attempt %s matched tx %s and was committed", attempt.ID, ref)
	}
	return nil
}

func (l *Ledger) recordSettlement(householdID string, amount decimal.Decimal, txRef string, ok bool) {
	if l.sink == nil {
		return
	}
	f, _ := amount.Float64()
	if err := l.sink.RecordSettlement(metrics.SettlementEvent{
		HouseholdID: householdID,
		AmountUSD:   f,
		TxRef:       txRef,
		Succeeded:   ok,
		Time:        l.now(),
	}); err != nil {
		l.log.Errorf("settlement metrics error: %v", err)
	}
}
