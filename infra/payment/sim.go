package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/homewatt/flex/core/ledger"
)

// Simulator is a deterministic in-memory payment rail for tests and demo
// mode. Transfers always succeed unless a failure is injected.
type Simulator struct {
	mu      sync.Mutex
	seq     int
	history []ledger.Transaction
	balance decimal.Decimal
	failing bool
	now     func() time.Time
}

// NewSimulator creates a Simulator with the given starting balance.
func NewSimulator(balance decimal.Decimal) *Simulator {
	return &Simulator{balance: balance, now: time.Now}
}

// Fail toggles injected failures for subsequent Sends.
func (s *Simulator) Fail(on bool) {
	s.mu.Lock()
	s.failing = on
	s.mu.Unlock()
}

// Send records the transfer and returns a sequential reference.
func (s *Simulator) Send(_ context.Context, destination string, amount decimal.Decimal) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return "", fmt.Errorf("simulated rail failure")
	}
	if amount.GreaterThan(s.balance) {
		return "", fmt.Errorf("insufficient balance: have %s, need %s", s.balance, amount)
	}
	s.seq++
	ref := fmt.Sprintf("sim-%06d", s.seq)
	s.balance = s.balance.Sub(amount)
	s.history = append(s.history, ledger.Transaction{
		Ref:         ref,
		Destination: destination,
		Amount:      amount,
		Timestamp:   s.now(),
	})
	return ref, nil
}

// Balance returns the remaining simulated balance.
func (s *Simulator) Balance(context.Context, string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

// RecentTransactions returns the transfers sent to the address.
func (s *Simulator) RecentTransactions(_ context.Context, address string) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Transaction
	for _, tx := range s.history {
		if tx.Destination == address {
			out = append(out, tx)
		}
	}
	return out, nil
}

var _ ledger.Payment = (*Simulator)(nil)
