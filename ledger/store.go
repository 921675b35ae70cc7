/*
store.go - Persistence contract for the ledger

PURPOSE:
  Defines the interface between the Engine and the database. The
  transaction log is append-only: the interface exposes no update or
  delete of transaction rows. Corrections are new offsetting
  transactions.

OPTIMISTIC CONCURRENCY:
  Append writes the transaction row and the updated balance snapshot
  in one storage transaction, guarded on the whole snapshot the caller
  read: the incoming snapshot with the affected pool rolled back to
  tx.BalanceBefore must match the stored row in both pools. If another
  writer got there first - even one that touched the other pool - the
  guard fails and Append returns ErrConcurrentModification.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - ledger/store: in-memory store for tests
*/
package ledger

import (
	"context"
	"time"
)

// Store persists transactions and balance snapshots.
// IMPORTANT: the transaction log is APPEND-ONLY. No Update, no Delete.
type Store interface {
	// Append atomically inserts tx and writes balance, guarded on the
	// prior snapshot the caller computed from: balance with the
	// affected pool rolled back to tx.BalanceBefore must match the
	// stored row in both pools. Creates the account row lazily when tx
	// is its first transaction. Returns ErrConcurrentModification if
	// the guard fails.
	Append(ctx context.Context, tx Transaction, balance AccountBalance) error

	// GetBalance returns the snapshot for userID, or nil when the
	// account has no history.
	GetBalance(ctx context.Context, userID string) (*AccountBalance, error)

	// Transactions returns the user's full ledger, oldest first.
	Transactions(ctx context.Context, userID string) ([]Transaction, error)

	// ExpiredBonusAccounts returns snapshots with bonus > 0 and
	// bonusExpiresAt <= now. Sweep enumeration; read-only.
	ExpiredBonusAccounts(ctx context.Context, now time.Time) ([]AccountBalance, error)
}
