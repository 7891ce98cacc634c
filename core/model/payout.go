package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutRecord is the append-only trace of one confirmed settlement.
type PayoutRecord struct {
	ID          string
	HouseholdID string
	Amount      decimal.Decimal
	TxRef       string
	Timestamp   time.Time
}

// AttemptState tracks the progress of one settlement attempt.
type AttemptState string

const (
	AttemptInFlight  AttemptState = "in_flight"
	AttemptConfirmed AttemptState = "confirmed"
	AttemptFailed    AttemptState = "failed"
)

// PayoutAttempt is the in-flight marker persisted before calling the payment
// collaborator. It makes the snapshot/call/commit sequence reconcilable
// after a crash between external confirmation and ledger commit.
type PayoutAttempt struct {
	ID          string
	HouseholdID string
	Destination string
	Amount      decimal.Decimal
	State       AttemptState
	StartedAt   time.Time
}
