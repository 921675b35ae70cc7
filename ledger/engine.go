/*
engine.go - The single write path for balances

PURPOSE:
  Applies one balance-changing operation as an atomic unit: validate,
  lock the user, read the snapshot, compute the new pool value, enforce
  floors, and hand the transaction + updated snapshot to the Store in
  one write.

CONCURRENCY:
  Mutations for the same user never interleave. A striped in-process
  mutex serializes them here; the Store's guarded write backs that up
  across processes, so a lost update is impossible either way.

BONUS EXPIRY POLICY:
  A bonus credit (bonus_grant or cashback) sets BonusExpiresAt to
  now + BonusValidity, but never shortens an existing later expiry
  (max wins). A bonus_expiry that empties the pool clears
  BonusExpiresAt.

The Engine does not retry. ErrConcurrentModification is surfaced as
retryable and the retry decision belongs to the caller.
*/
package ledger

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const lockStripes = 64

// Config tunes the Engine's business rules.
type Config struct {
	// BonusValidity is how long a fresh bonus grant lives.
	BonusValidity time.Duration

	// OverdraftFloor is the lowest value the purchased pool may reach.
	// Zero disables overdraft. The bonus pool floor is always zero.
	OverdraftFloor Amount

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// DefaultConfig matches production policy: one-year bonus validity,
// no overdraft.
func DefaultConfig() Config {
	return Config{
		BonusValidity:  365 * 24 * time.Hour,
		OverdraftFloor: ZeroAmount(),
	}
}

// Engine is the only component allowed to change balances.
type Engine struct {
	store  Store
	config Config
	locks  [lockStripes]sync.Mutex
}

func NewEngine(store Store, config Config) *Engine {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.BonusValidity <= 0 {
		config.BonusValidity = DefaultConfig().BonusValidity
	}
	if config.OverdraftFloor.IsPositive() {
		// A floor above zero makes no sense; treat as no overdraft.
		config.OverdraftFloor = ZeroAmount()
	}
	return &Engine{store: store, config: config}
}

// Apply validates and applies a single mutation. On success it returns
// the updated snapshot and the created transaction; on failure the
// balance is untouched.
func (e *Engine) Apply(ctx context.Context, m Mutation) (*MutationResult, error) {
	if err := e.validate(m); err != nil {
		return nil, err
	}

	e.lockUser(m.UserID)
	defer e.unlockUser(m.UserID)

	current, err := e.store.GetBalance(ctx, m.UserID)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if current == nil {
		// First transaction creates the account.
		zero := ZeroBalance(m.UserID)
		current = &zero
	}

	before := current.Pool(m.BalanceType)
	after := before.Add(m.Amount)

	if err := e.checkFloor(m, before, after); err != nil {
		return nil, err
	}

	now := e.config.Clock().UTC()
	updated := *current
	updated.UpdatedAt = now

	switch m.BalanceType {
	case BalanceBonus:
		updated.Bonus = after
	default:
		updated.Purchased = after
	}

	switch m.Type {
	case TxBonusGrant, TxCashback:
		// Cashback is bonus money and expires like any other grant.
		expiry := now.Add(e.config.BonusValidity)
		// A new credit never shortens an existing later expiry.
		if updated.BonusExpiresAt == nil || expiry.After(*updated.BonusExpiresAt) {
			updated.BonusExpiresAt = &expiry
		}
	case TxBonusExpiry:
		if updated.Bonus.IsZero() {
			updated.BonusExpiresAt = nil
		}
	}

	tx := Transaction{
		ID:            uuid.NewString(),
		UserID:        m.UserID,
		Type:          m.Type,
		Amount:        m.Amount,
		BalanceType:   m.BalanceType,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   m.Description,
		Metadata:      m.Metadata,
		CreatedAt:     now,
	}

	if err := e.store.Append(ctx, tx, updated); err != nil {
		return nil, err
	}

	return &MutationResult{Balance: updated, Transaction: tx}, nil
}

func (e *Engine) validate(m Mutation) error {
	if m.UserID == "" {
		return &ValidationError{Field: "userId", Reason: "is required"}
	}
	if !m.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", m.Type)}
	}
	if !m.BalanceType.Valid() {
		return &ValidationError{Field: "balanceType", Reason: fmt.Sprintf("unknown pool %q", m.BalanceType)}
	}
	if m.Amount.IsZero() {
		return &ValidationError{Field: "amount", Reason: "must be non-zero"}
	}
	if m.Type.IsCredit() && m.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Reason: fmt.Sprintf("must be positive for %s", m.Type)}
	}
	if !m.Type.IsCredit() && m.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: fmt.Sprintf("must be negative for %s", m.Type)}
	}

	// Pool constraints per type.
	switch m.Type {
	case TxBonusGrant, TxBonusExpiry, TxCashback:
		if m.BalanceType != BalanceBonus {
			return &ValidationError{Field: "balanceType", Reason: fmt.Sprintf("%s applies to the bonus pool", m.Type)}
		}
	case TxPurchaseCredit, TxRefund:
		if m.BalanceType != BalancePurchased {
			return &ValidationError{Field: "balanceType", Reason: fmt.Sprintf("%s applies to the purchased pool", m.Type)}
		}
	}
	return nil
}

func (e *Engine) checkFloor(m Mutation, before, after Amount) error {
	// The bonus pool floor is always zero; the purchased pool floor is
	// zero unless overdraft is configured with a negative floor.
	floor := ZeroAmount()
	if m.BalanceType == BalancePurchased {
		floor = e.config.OverdraftFloor
	}
	if after.LessThan(floor) {
		return &InsufficientFundsError{UserID: m.UserID, Pool: m.BalanceType, Available: before, Requested: m.Amount}
	}
	return nil
}

func (e *Engine) lockUser(userID string)   { e.locks[stripeFor(userID)].Lock() }
func (e *Engine) unlockUser(userID string) { e.locks[stripeFor(userID)].Unlock() }

func stripeFor(userID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return h.Sum32() % lockStripes
}
