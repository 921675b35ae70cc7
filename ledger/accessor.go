/*
accessor.go - Read-only balance access and reconciliation

PURPOSE:
  Answers "what does this user have?" from the AccountBalance snapshot,
  not a ledger replay - the snapshot exists precisely so reads are one
  row. Replay is kept for reconciliation: summing the transaction
  stream from zero must reproduce the snapshot exactly, and Reconcile
  reports any drift per pool.

Accounts with no history read as zero balances by convention; callers
that need to distinguish can check HasHistory.
*/
package ledger

import (
	"context"
	"fmt"
)

// Accessor provides balance reads. It holds no state and performs no
// writes.
type Accessor struct {
	store Store
}

func NewAccessor(store Store) *Accessor {
	return &Accessor{store: store}
}

// GetBalance returns the user's current balance summary. An account
// with no history returns all zeros, never an error.
func (a *Accessor) GetBalance(ctx context.Context, userID string) (BalanceSummary, error) {
	if userID == "" {
		return BalanceSummary{}, &ValidationError{Field: "userId", Reason: "is required"}
	}

	balance, err := a.store.GetBalance(ctx, userID)
	if err != nil {
		return BalanceSummary{}, fmt.Errorf("read balance: %w", err)
	}
	if balance == nil {
		zero := ZeroBalance(userID)
		balance = &zero
	}

	return BalanceSummary{
		UserID:         userID,
		Balance:        balance.Purchased,
		BonusBalance:   balance.Bonus,
		BonusExpiresAt: balance.BonusExpiresAt,
		Total:          balance.Total(),
	}, nil
}

// HasHistory reports whether the account has any transactions.
func (a *Accessor) HasHistory(ctx context.Context, userID string) (bool, error) {
	balance, err := a.store.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance != nil, nil
}

// Transactions returns the user's full ledger, oldest first.
func (a *Accessor) Transactions(ctx context.Context, userID string) ([]Transaction, error) {
	return a.store.Transactions(ctx, userID)
}

// Replay recomputes both pools from the transaction stream, starting
// from zero. This is the reconciliation ground truth.
func (a *Accessor) Replay(ctx context.Context, userID string) (purchased, bonus Amount, err error) {
	txs, err := a.store.Transactions(ctx, userID)
	if err != nil {
		return Amount{}, Amount{}, fmt.Errorf("load transactions: %w", err)
	}
	purchased, bonus = replayTransactions(txs)
	return purchased, bonus, nil
}

// replayTransactions sums a transaction stream per pool from zero.
func replayTransactions(txs []Transaction) (purchased, bonus Amount) {
	purchased, bonus = ZeroAmount(), ZeroAmount()
	for _, tx := range txs {
		switch tx.BalanceType {
		case BalanceBonus:
			bonus = bonus.Add(tx.Amount)
		default:
			purchased = purchased.Add(tx.Amount)
		}
	}
	return purchased, bonus
}

// ReconciliationReport compares the snapshot with a ledger replay.
type ReconciliationReport struct {
	UserID            string
	Consistent        bool
	SnapshotPurchased Amount
	SnapshotBonus     Amount
	ReplayedPurchased Amount
	ReplayedBonus     Amount
	PurchasedDrift    Amount // snapshot - replay
	BonusDrift        Amount
	TransactionCount  int
}

// Reconcile replays the ledger and compares it with the stored
// snapshot. Returns ErrNotFound for accounts with no history - there
// is nothing to reconcile against.
func (a *Accessor) Reconcile(ctx context.Context, userID string) (ReconciliationReport, error) {
	balance, err := a.store.GetBalance(ctx, userID)
	if err != nil {
		return ReconciliationReport{}, fmt.Errorf("read balance: %w", err)
	}
	if balance == nil {
		return ReconciliationReport{}, fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}

	txs, err := a.store.Transactions(ctx, userID)
	if err != nil {
		return ReconciliationReport{}, fmt.Errorf("load transactions: %w", err)
	}

	purchased, bonus := replayTransactions(txs)

	report := ReconciliationReport{
		UserID:            userID,
		SnapshotPurchased: balance.Purchased,
		SnapshotBonus:     balance.Bonus,
		ReplayedPurchased: purchased,
		ReplayedBonus:     bonus,
		PurchasedDrift:    balance.Purchased.Sub(purchased),
		BonusDrift:        balance.Bonus.Sub(bonus),
		TransactionCount:  len(txs),
	}
	report.Consistent = report.PurchasedDrift.IsZero() && report.BonusDrift.IsZero()
	return report, nil
}
