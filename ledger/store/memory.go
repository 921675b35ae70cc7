// Package store provides an in-memory ledger.Store for tests and dev.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/warp/points-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[string][]ledger.Transaction
	balances     map[string]ledger.AccountBalance
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[string][]ledger.Transaction),
		balances:     make(map[string]ledger.AccountBalance),
	}
}

// Append inserts the transaction and writes the snapshot atomically,
// guarded on the whole prior snapshot the caller computed from.
func (m *Memory) Append(_ context.Context, tx ledger.Transaction, balance ledger.AccountBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prior, exists := m.balances[tx.UserID]
	if !exists {
		prior = ledger.ZeroBalance(tx.UserID)
	}

	// Roll the affected pool back to its claimed prior value. Both
	// pools of that reconstructed snapshot must match what is stored;
	// a mismatch in either means the caller read a stale snapshot,
	// even if it mutated the other pool.
	expected := balance
	switch tx.BalanceType {
	case ledger.BalanceBonus:
		expected.Bonus = tx.BalanceBefore
	default:
		expected.Purchased = tx.BalanceBefore
	}
	if !prior.Purchased.Equal(expected.Purchased) || !prior.Bonus.Equal(expected.Bonus) {
		return ledger.ErrConcurrentModification
	}

	m.transactions[tx.UserID] = append(m.transactions[tx.UserID], tx)
	m.balances[tx.UserID] = balance
	return nil
}

func (m *Memory) GetBalance(_ context.Context, userID string) (*ledger.AccountBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balance, exists := m.balances[userID]
	if !exists {
		return nil, nil
	}
	copied := balance
	return &copied, nil
}

func (m *Memory) Transactions(_ context.Context, userID string) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txs := m.transactions[userID]
	out := make([]ledger.Transaction, len(txs))
	copy(out, txs)
	return out, nil
}

func (m *Memory) ExpiredBonusAccounts(_ context.Context, now time.Time) ([]ledger.AccountBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []ledger.AccountBalance
	for _, balance := range m.balances {
		if balance.Bonus.IsPositive() && balance.BonusExpiresAt != nil && !balance.BonusExpiresAt.After(now) {
			expired = append(expired, balance)
		}
	}
	return expired, nil
}
