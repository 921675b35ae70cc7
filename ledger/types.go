/*
Package ledger implements the points balance ledger.

PURPOSE:
  Every balance an account holds is split into two pools:
  - purchased: points bought with real money, never expire
  - bonus:     promotional/cashback points with an expiry date

  All balance changes flow through the Engine as Transactions in an
  append-only log. The AccountBalance row is a snapshot derived from
  that log; replaying the log from zero must always reproduce it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount:         a decimal quantity of points (never floats)
  - Transaction:    an immutable ledger entry with before/after balances
  - AccountBalance: the per-user snapshot the Engine maintains
  - Mutation:       a requested balance change, input to the Engine

DESIGN PRINCIPLES:
  1. Immutability: transactions are never modified, only offset
  2. Precision: decimal.Decimal end-to-end, strings at the API edge
  3. Single writer: only the Engine produces Transactions

SEE ALSO:
  - engine.go: the one write path
  - store.go:  persistence contract
  - errors.go: error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Decimal quantity of points
// =============================================================================

// Amount is a signed quantity of points. Arithmetic stays in decimal
// space; conversion to float happens only at presentation boundaries.
type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value int64) Amount {
	return Amount{Value: decimal.NewFromInt(value)}
}

func NewAmountFromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: d}, nil
}

// MustAmount parses s or returns zero. For constants and tests.
func MustAmount(s string) Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}
	}
	return Amount{Value: d}
}

func ZeroAmount() Amount { return Amount{Value: decimal.Zero} }

func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg()} }
func (a Amount) Abs() Amount               { return Amount{Value: a.Value.Abs()} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) String() string            { return a.Value.String() }

// =============================================================================
// BALANCE POOLS
// =============================================================================

// BalanceType selects which pool a transaction affects.
type BalanceType string

const (
	BalancePurchased BalanceType = "purchased"
	BalanceBonus     BalanceType = "bonus"
)

func (bt BalanceType) Valid() bool {
	return bt == BalancePurchased || bt == BalanceBonus
}

// =============================================================================
// TRANSACTION - Atomic change to a balance pool
// =============================================================================

type TransactionType string

const (
	TxPurchaseCredit TransactionType = "purchase_credit" // points bought
	TxDebit          TransactionType = "debit"           // points spent
	TxBonusGrant     TransactionType = "bonus_grant"     // promotional grant
	TxBonusExpiry    TransactionType = "bonus_expiry"    // sweep zeroed the bonus pool
	TxRefund         TransactionType = "refund"          // points returned after a reversal
	TxCommission     TransactionType = "commission"      // platform commission deducted
	TxCashback       TransactionType = "cashback"        // cashback credited as bonus points
)

func (tt TransactionType) Valid() bool {
	switch tt {
	case TxPurchaseCredit, TxDebit, TxBonusGrant, TxBonusExpiry, TxRefund, TxCommission, TxCashback:
		return true
	}
	return false
}

// IsCredit reports whether the type must carry a positive amount.
func (tt TransactionType) IsCredit() bool {
	switch tt {
	case TxPurchaseCredit, TxBonusGrant, TxRefund, TxCashback:
		return true
	}
	return false
}

// Transaction is one immutable row in the ledger. BalanceBefore and
// BalanceAfter refer to the pool named by BalanceType, and
// BalanceAfter = BalanceBefore + Amount always holds.
type Transaction struct {
	ID            string
	UserID        string
	Type          TransactionType
	Amount        Amount // signed: positive credits, negative debits
	BalanceType   BalanceType
	BalanceBefore Amount
	BalanceAfter  Amount
	Description   string
	Metadata      map[string]string
	CreatedAt     time.Time
}

// =============================================================================
// ACCOUNT BALANCE - Snapshot owned by the Engine
// =============================================================================

// AccountBalance is the current state of one user's pools. Created
// lazily on the first transaction; written only through Store.Append.
type AccountBalance struct {
	UserID    string
	Purchased Amount
	Bonus     Amount
	// Expiry of the whole bonus pool; grants only ever push it later.
	// Nil when the pool is empty or the account never received a grant.
	BonusExpiresAt *time.Time
	UpdatedAt      time.Time
}

func (b AccountBalance) Total() Amount { return b.Purchased.Add(b.Bonus) }

// Pool returns the balance of the named pool.
func (b AccountBalance) Pool(bt BalanceType) Amount {
	if bt == BalanceBonus {
		return b.Bonus
	}
	return b.Purchased
}

// ZeroBalance is the lazy-creation starting point for an account.
func ZeroBalance(userID string) AccountBalance {
	return AccountBalance{
		UserID:    userID,
		Purchased: ZeroAmount(),
		Bonus:     ZeroAmount(),
	}
}

// =============================================================================
// MUTATION - Input to the Engine
// =============================================================================

// Mutation describes one requested balance change.
type Mutation struct {
	UserID      string
	Type        TransactionType
	Amount      Amount // signed, sign must match Type
	BalanceType BalanceType
	Description string
	Metadata    map[string]string
}

// MutationResult is what the Engine returns on success.
type MutationResult struct {
	Balance     AccountBalance
	Transaction Transaction
}

// =============================================================================
// BALANCE SUMMARY - Read model for callers
// =============================================================================

// BalanceSummary is the shape balance reads return. Accounts with no
// history read as all-zero rather than not-found.
type BalanceSummary struct {
	UserID         string
	Balance        Amount
	BonusBalance   Amount
	BonusExpiresAt *time.Time
	Total          Amount
}
