// Package settlement is the boundary to the value-transfer collaborator.
//
// The matching engine never moves collateral itself; it calls into a
// Collateral capability that mints complete sets (one unit of every outcome
// token per unit of collateral deposited). The capability is assumed atomic
// and idempotent on retry.
package settlement

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInvalidAmount is returned for non-positive mint amounts.
	ErrInvalidAmount = errors.New("settlement: mint amount must be positive")

	// ErrNoRequestID is returned when the idempotency key is missing.
	ErrNoRequestID = errors.New("settlement: request id required")
)

// Collateral mints outcome tokens against deposited collateral.
type Collateral interface {
	// MintCompleteSet credits the depositor with `amount` micro-units of
	// every outcome token. Idempotent on requestID: a retried request
	// credits at most once.
	MintCompleteSet(ctx context.Context, requestID string, depositor common.Address, amount int64) error

	// BalanceOf returns the depositor's balance for one outcome token.
	BalanceOf(ctx context.Context, depositor common.Address, outcome int) (int64, error)
}

// MemoryLedger is an in-memory Collateral for tests and development.
type MemoryLedger struct {
	mu           sync.Mutex
	outcomeCount int
	balances     map[common.Address][]int64
	seen         map[string]bool
}

// NewMemoryLedger creates a ledger for a market with outcomeCount outcomes.
func NewMemoryLedger(outcomeCount int) *MemoryLedger {
	return &MemoryLedger{
		outcomeCount: outcomeCount,
		balances:     make(map[common.Address][]int64),
		seen:         make(map[string]bool),
	}
}

func (m *MemoryLedger) MintCompleteSet(_ context.Context, requestID string, depositor common.Address, amount int64) error {
	if requestID == "" {
		return ErrNoRequestID
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen[requestID] {
		return nil // retried request, already credited
	}

	bal, ok := m.balances[depositor]
	if !ok {
		bal = make([]int64, m.outcomeCount)
		m.balances[depositor] = bal
	}
	for i := range bal {
		bal[i] += amount
	}
	m.seen[requestID] = true
	return nil
}

func (m *MemoryLedger) BalanceOf(_ context.Context, depositor common.Address, outcome int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[depositor]
	if !ok || outcome < 0 || outcome >= len(bal) {
		return 0, nil
	}
	return bal[outcome], nil
}
