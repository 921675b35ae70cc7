package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/ledger/store"
)

// =============================================================================
// BALANCE READS
// =============================================================================

func TestAccessor_UnknownAccount_ReadsAsZero(t *testing.T) {
	// Accounts with no history read as zero balances, not as errors.

	mem := store.NewMemory()
	accessor := ledger.NewAccessor(mem)

	summary, err := accessor.GetBalance(context.Background(), "ghost")
	require.NoError(t, err)

	assert.Equal(t, "ghost", summary.UserID)
	assert.True(t, summary.Balance.IsZero())
	assert.True(t, summary.BonusBalance.IsZero())
	assert.Nil(t, summary.BonusExpiresAt)
	assert.True(t, summary.Total.IsZero())
}

func TestAccessor_EmptyUserID_Rejected(t *testing.T) {
	accessor := ledger.NewAccessor(store.NewMemory())

	_, err := accessor.GetBalance(context.Background(), "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestAccessor_GetBalance_SumsPools(t *testing.T) {
	// GIVEN: 100 purchased and 40 bonus points
	// THEN: The summary reports both pools and their total

	mem := store.NewMemory()
	engine := ledger.NewEngine(mem, ledger.DefaultConfig())
	accessor := ledger.NewAccessor(mem)
	ctx := context.Background()

	_, err := engine.Apply(ctx, credit("user-1", 100))
	require.NoError(t, err)
	_, err = engine.Apply(ctx, bonusGrant("user-1", 40))
	require.NoError(t, err)

	summary, err := accessor.GetBalance(ctx, "user-1")
	require.NoError(t, err)

	assert.True(t, summary.Balance.Equal(ledger.NewAmount(100)))
	assert.True(t, summary.BonusBalance.Equal(ledger.NewAmount(40)))
	assert.True(t, summary.Total.Equal(ledger.NewAmount(140)))
	assert.NotNil(t, summary.BonusExpiresAt)
}

func TestAccessor_HasHistory(t *testing.T) {
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem, ledger.DefaultConfig())
	accessor := ledger.NewAccessor(mem)
	ctx := context.Background()

	has, err := accessor.HasHistory(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = engine.Apply(ctx, credit("user-1", 1))
	require.NoError(t, err)

	has, err = accessor.HasHistory(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, has)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestAccessor_Reconcile_ConsistentLedger(t *testing.T) {
	// GIVEN: A ledger written only through the Engine
	// WHEN: Replaying from zero
	// THEN: Replay reproduces the snapshot exactly, drift is zero

	mem := store.NewMemory()
	engine := ledger.NewEngine(mem, ledger.DefaultConfig())
	accessor := ledger.NewAccessor(mem)
	ctx := context.Background()

	_, err := engine.Apply(ctx, credit("user-1", 100))
	require.NoError(t, err)
	_, err = engine.Apply(ctx, debit("user-1", 30))
	require.NoError(t, err)
	_, err = engine.Apply(ctx, bonusGrant("user-1", 25))
	require.NoError(t, err)

	report, err := accessor.Reconcile(ctx, "user-1")
	require.NoError(t, err)

	assert.True(t, report.Consistent)
	assert.True(t, report.SnapshotPurchased.Equal(ledger.NewAmount(70)))
	assert.True(t, report.SnapshotBonus.Equal(ledger.NewAmount(25)))
	assert.True(t, report.ReplayedPurchased.Equal(ledger.NewAmount(70)))
	assert.True(t, report.ReplayedBonus.Equal(ledger.NewAmount(25)))
	assert.True(t, report.PurchasedDrift.IsZero())
	assert.True(t, report.BonusDrift.IsZero())
	assert.Equal(t, 3, report.TransactionCount)
}

func TestAccessor_Reconcile_DetectsDrift(t *testing.T) {
	// GIVEN: A snapshot corrupted by a write that bypassed the Engine
	// WHEN: Reconciling
	// THEN: The drift per pool is reported and Consistent is false

	mem := store.NewMemory()
	engine := ledger.NewEngine(mem, ledger.DefaultConfig())
	accessor := ledger.NewAccessor(mem)
	ctx := context.Background()

	_, err := engine.Apply(ctx, credit("user-1", 100))
	require.NoError(t, err)

	// A rogue write: the transaction says +10 but the snapshot jumps
	// to 999. BalanceBefore matches, so the store guard lets it in.
	rogue := ledger.Transaction{
		ID:            "tx-rogue",
		UserID:        "user-1",
		Type:          ledger.TxPurchaseCredit,
		Amount:        ledger.NewAmount(10),
		BalanceType:   ledger.BalancePurchased,
		BalanceBefore: ledger.NewAmount(100),
		BalanceAfter:  ledger.NewAmount(110),
		CreatedAt:     time.Now(),
	}
	require.NoError(t, mem.Append(ctx, rogue, ledger.AccountBalance{
		UserID:    "user-1",
		Purchased: ledger.NewAmount(999),
		Bonus:     ledger.ZeroAmount(),
	}))

	report, err := accessor.Reconcile(ctx, "user-1")
	require.NoError(t, err)

	assert.False(t, report.Consistent)
	assert.True(t, report.SnapshotPurchased.Equal(ledger.NewAmount(999)))
	assert.True(t, report.ReplayedPurchased.Equal(ledger.NewAmount(110)))
	assert.True(t, report.PurchasedDrift.Equal(ledger.NewAmount(889)))
	assert.True(t, report.BonusDrift.IsZero())
}

func TestAccessor_Reconcile_UnknownAccount_NotFound(t *testing.T) {
	accessor := ledger.NewAccessor(store.NewMemory())

	_, err := accessor.Reconcile(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestAccessor_Replay_SplitsByPool(t *testing.T) {
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem, ledger.DefaultConfig())
	accessor := ledger.NewAccessor(mem)
	ctx := context.Background()

	_, err := engine.Apply(ctx, credit("user-1", 50))
	require.NoError(t, err)
	_, err = engine.Apply(ctx, bonusGrant("user-1", 20))
	require.NoError(t, err)
	_, err = engine.Apply(ctx, ledger.Mutation{
		UserID:      "user-1",
		Type:        ledger.TxDebit,
		Amount:      ledger.NewAmount(-5),
		BalanceType: ledger.BalanceBonus,
	})
	require.NoError(t, err)

	purchased, bonus, err := accessor.Replay(ctx, "user-1")
	require.NoError(t, err)

	assert.True(t, purchased.Equal(ledger.NewAmount(50)))
	assert.True(t, bonus.Equal(ledger.NewAmount(15)))
}

func TestAccessor_Transactions_OldestFirst(t *testing.T) {
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem, ledger.DefaultConfig())
	accessor := ledger.NewAccessor(mem)
	ctx := context.Background()

	_, err := engine.Apply(ctx, credit("user-1", 10))
	require.NoError(t, err)
	_, err = engine.Apply(ctx, debit("user-1", 4))
	require.NoError(t, err)

	txs, err := accessor.Transactions(ctx, "user-1")
	require.NoError(t, err)

	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TxPurchaseCredit, txs[0].Type)
	assert.Equal(t, ledger.TxDebit, txs[1].Type)
}
