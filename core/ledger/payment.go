package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one entry of the external payment rail's history, used to
// reconcile in-flight attempts after a restart.
type Transaction struct {
	Ref         string
	Destination string
	Amount      decimal.Decimal
	Timestamp   time.Time
}

// Payment is the external payout collaborator. Calls are blocking I/O with
// no guaranteed response time and must not be made while holding entity
// locks.
type Payment interface {
	// Send transfers amount to destination and returns the external
	// transaction reference on confirmed success.
	Send(ctx context.Context, destination string, amount decimal.Decimal) (string, error)

	// Balance returns the payer balance for preflight checks.
	Balance(ctx context.Context, address string) (decimal.Decimal, error)

	// RecentTransactions lists recent outgoing transfers to the address.
	RecentTransactions(ctx context.Context, address string) ([]Transaction, error)
}
