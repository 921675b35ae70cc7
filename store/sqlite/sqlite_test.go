package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/revenue"
	"github.com/warp/points-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func creditTx(id, userID string, amount, before int64, at time.Time) ledger.Transaction {
	return ledger.Transaction{
		ID:            id,
		UserID:        userID,
		Type:          ledger.TxPurchaseCredit,
		Amount:        ledger.NewAmount(amount),
		BalanceType:   ledger.BalancePurchased,
		BalanceBefore: ledger.NewAmount(before),
		BalanceAfter:  ledger.NewAmount(before + amount),
		CreatedAt:     at,
	}
}

func snapshot(userID string, purchased, bonus int64, at time.Time) ledger.AccountBalance {
	return ledger.AccountBalance{
		UserID:    userID,
		Purchased: ledger.NewAmount(purchased),
		Bonus:     ledger.NewAmount(bonus),
		UpdatedAt: at,
	}
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func TestSQLite_Append_CreatesAccountLazily(t *testing.T) {
	// GIVEN: No account row exists
	// WHEN: Appending a first transaction starting from zero
	// THEN: The account row is created with the snapshot

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := store.Append(ctx, creditTx("tx-1", "user-1", 100, 0, now), snapshot("user-1", 100, 0, now))
	require.NoError(t, err)

	balance, err := store.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, balance)
	assert.True(t, balance.Purchased.Equal(ledger.NewAmount(100)))
	assert.True(t, balance.Bonus.IsZero())
	assert.Nil(t, balance.BonusExpiresAt)
}

func TestSQLite_Append_FirstWriteMustStartFromZero(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	err := store.Append(context.Background(),
		creditTx("tx-1", "user-1", 100, 50, now), snapshot("user-1", 150, 0, now))
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
}

func TestSQLite_Append_StaleBalanceBefore_Rejected(t *testing.T) {
	// GIVEN: Account at 100
	// WHEN: A write claims the prior balance was 40
	// THEN: Rejected, and neither the snapshot nor the ledger changed

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Append(ctx, creditTx("tx-1", "user-1", 100, 0, now), snapshot("user-1", 100, 0, now)))

	err := store.Append(ctx, creditTx("tx-2", "user-1", 10, 40, now), snapshot("user-1", 50, 0, now))
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	balance, err := store.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, balance.Purchased.Equal(ledger.NewAmount(100)))

	txs, err := store.Transactions(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestSQLite_Append_BonusWriteOnFreshSnapshot_Accepted(t *testing.T) {
	// A bonus write whose snapshot carries the current purchased value
	// passes the guard even though the transaction names the bonus pool.

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Append(ctx, creditTx("tx-1", "user-1", 100, 0, now), snapshot("user-1", 100, 0, now)))

	expiry := now.Add(24 * time.Hour)
	grant := ledger.Transaction{
		ID:            "tx-2",
		UserID:        "user-1",
		Type:          ledger.TxBonusGrant,
		Amount:        ledger.NewAmount(50),
		BalanceType:   ledger.BalanceBonus,
		BalanceBefore: ledger.ZeroAmount(),
		BalanceAfter:  ledger.NewAmount(50),
		CreatedAt:     now,
	}
	balance := snapshot("user-1", 100, 50, now)
	balance.BonusExpiresAt = &expiry

	require.NoError(t, store.Append(ctx, grant, balance))

	got, err := store.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, got.Bonus.Equal(ledger.NewAmount(50)))
	require.NotNil(t, got.BonusExpiresAt)
	assert.True(t, expiry.Equal(*got.BonusExpiresAt), "expiry must round-trip exactly")
}

func TestSQLite_Append_StaleSnapshotOtherPool_Rejected(t *testing.T) {
	// GIVEN: Account at purchased 100
	// WHEN: A bonus write computed from the empty snapshot arrives - its
	//       BalanceBefore (bonus 0) matches the stored bonus pool, but
	//       its snapshot would wipe the purchased pool
	// THEN: Rejected; snapshot and ledger untouched

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Append(ctx, creditTx("tx-1", "user-1", 100, 0, now), snapshot("user-1", 100, 0, now)))

	grant := ledger.Transaction{
		ID:            "tx-2",
		UserID:        "user-1",
		Type:          ledger.TxBonusGrant,
		Amount:        ledger.NewAmount(50),
		BalanceType:   ledger.BalanceBonus,
		BalanceBefore: ledger.ZeroAmount(),
		BalanceAfter:  ledger.NewAmount(50),
		CreatedAt:     now.Add(time.Second),
	}
	err := store.Append(ctx, grant, snapshot("user-1", 0, 50, now.Add(time.Second)))
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	balance, err := store.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, balance.Purchased.Equal(ledger.NewAmount(100)), "rejected write must not touch the snapshot")
	assert.True(t, balance.Bonus.IsZero())

	txs, err := store.Transactions(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestSQLite_Append_EquivalentDecimalStrings_Match(t *testing.T) {
	// "100" and "100.00" are the same quantity; the guard compares
	// decimals, not strings.

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := creditTx("tx-1", "user-1", 0, 0, now)
	first.Amount = ledger.MustAmount("100.00")
	first.BalanceAfter = ledger.MustAmount("100.00")
	firstBalance := ledger.AccountBalance{
		UserID:    "user-1",
		Purchased: ledger.MustAmount("100.00"),
		Bonus:     ledger.ZeroAmount(),
		UpdatedAt: now,
	}
	require.NoError(t, store.Append(ctx, first, firstBalance))

	second := creditTx("tx-2", "user-1", 10, 100, now.Add(time.Second))
	err := store.Append(ctx, second, snapshot("user-1", 110, 0, now.Add(time.Second)))
	assert.NoError(t, err, "100 must compare equal to 100.00")
}

func TestSQLite_GetBalance_UnknownUser_Nil(t *testing.T) {
	store := newTestStore(t)

	balance, err := store.GetBalance(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, balance)
}

func TestSQLite_Transactions_RoundTrip(t *testing.T) {
	// Metadata and description survive the trip through SQLite.

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tx := creditTx("tx-1", "user-1", 100, 0, now)
	tx.Description = "starter pack"
	tx.Metadata = map[string]string{"orderId": "order-7"}
	require.NoError(t, store.Append(ctx, tx, snapshot("user-1", 100, 0, now)))

	txs, err := store.Transactions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)

	got := txs[0]
	assert.Equal(t, "tx-1", got.ID)
	assert.Equal(t, ledger.TxPurchaseCredit, got.Type)
	assert.True(t, got.Amount.Equal(ledger.NewAmount(100)))
	assert.Equal(t, "starter pack", got.Description)
	assert.Equal(t, map[string]string{"orderId": "order-7"}, got.Metadata)
}

func TestSQLite_Transactions_OrderedByTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, store.Append(ctx, creditTx("tx-a", "user-1", 10, 0, base), snapshot("user-1", 10, 0, base)))
	require.NoError(t, store.Append(ctx, creditTx("tx-b", "user-1", 5, 10, base.Add(time.Second)), snapshot("user-1", 15, 0, base)))
	require.NoError(t, store.Append(ctx, creditTx("tx-c", "user-1", 1, 15, base.Add(2*time.Second)), snapshot("user-1", 16, 0, base)))

	txs, err := store.Transactions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, "tx-a", txs[0].ID)
	assert.Equal(t, "tx-b", txs[1].ID)
	assert.Equal(t, "tx-c", txs[2].ID)
}

func TestSQLite_Transactions_SubSecondOrdering(t *testing.T) {
	// Timestamps are compared as strings in SQL, so a whole-second
	// timestamp must not sort after a fractional one within the same
	// second.

	store := newTestStore(t)
	ctx := context.Background()
	whole := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	fractional := whole.Add(500 * time.Millisecond)

	require.NoError(t, store.Append(ctx, creditTx("tx-whole", "user-1", 10, 0, whole), snapshot("user-1", 10, 0, whole)))
	require.NoError(t, store.Append(ctx, creditTx("tx-frac", "user-1", 5, 10, fractional), snapshot("user-1", 15, 0, fractional)))

	txs, err := store.Transactions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "tx-whole", txs[0].ID)
	assert.Equal(t, "tx-frac", txs[1].ID)
}

func TestSQLite_BonusExpiry_NanosecondPrecision(t *testing.T) {
	// The engine compares expiries at nanosecond precision; persistence
	// must not round them.

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 12, 0, 0, 123456789, time.UTC)
	expiry := now.Add(30 * 24 * time.Hour)

	grant := ledger.Transaction{
		ID:            "tx-1",
		UserID:        "user-1",
		Type:          ledger.TxBonusGrant,
		Amount:        ledger.NewAmount(50),
		BalanceType:   ledger.BalanceBonus,
		BalanceBefore: ledger.ZeroAmount(),
		BalanceAfter:  ledger.NewAmount(50),
		CreatedAt:     now,
	}
	balance := snapshot("user-1", 0, 50, now)
	balance.BonusExpiresAt = &expiry
	require.NoError(t, store.Append(ctx, grant, balance))

	got, err := store.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, got.BonusExpiresAt)
	assert.True(t, expiry.Equal(*got.BonusExpiresAt), "want %v, got %v", expiry, *got.BonusExpiresAt)

	txs, err := store.Transactions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, now.Equal(txs[0].CreatedAt))
}

func TestSQLite_Transactions_CorruptMetadata_Surfaced(t *testing.T) {
	// A row whose metadata_json no longer parses must fail the read, not
	// come back silently with nil metadata.

	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	now := time.Now().UTC()
	tx := creditTx("tx-1", "user-1", 100, 0, now)
	tx.Metadata = map[string]string{"orderId": "order-7"}
	require.NoError(t, store.Append(ctx, tx, snapshot("user-1", 100, 0, now)))

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.Exec(`UPDATE transactions SET metadata_json = '{broken' WHERE id = 'tx-1'`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = store.Transactions(ctx, "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt metadata")
}

func TestSQLite_ExpiredBonusAccounts(t *testing.T) {
	// GIVEN: Accounts with expired, future and zero-balance bonus pools
	// WHEN: Querying expired accounts
	// THEN: Only the expired account with a positive bonus is returned

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	seed := func(userID string, bonus int64, expiry *time.Time) {
		tx := ledger.Transaction{
			ID:            "tx-" + userID,
			UserID:        userID,
			Type:          ledger.TxBonusGrant,
			Amount:        ledger.NewAmount(bonus + 1),
			BalanceType:   ledger.BalanceBonus,
			BalanceBefore: ledger.ZeroAmount(),
			BalanceAfter:  ledger.NewAmount(bonus + 1),
			CreatedAt:     past,
		}
		balance := snapshot(userID, 0, bonus, now)
		balance.BonusExpiresAt = expiry
		require.NoError(t, store.Append(ctx, tx, balance))
	}

	seed("expired", 50, &past)
	seed("future", 50, &future)
	seed("drained", 0, &past)

	expired, err := store.ExpiredBonusAccounts(ctx, now)
	require.NoError(t, err)

	require.Len(t, expired, 1)
	assert.Equal(t, "expired", expired[0].UserID)
	assert.True(t, expired[0].Bonus.Equal(ledger.NewAmount(50)))
}

// =============================================================================
// REVENUE STORE
// =============================================================================

func pendingRecord(id string) revenue.Record {
	return revenue.Record{
		ID:                   id,
		ClientUserID:         "client-1",
		Commission:           ledger.NewAmount(10),
		Cashback:             ledger.NewAmount(2),
		Status:               revenue.StatusPending,
		LeadMagnetPurchaseID: "lm-" + id,
		CreatedAt:            time.Now().UTC(),
	}
}

func TestSQLite_Revenue_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := pendingRecord("rec-1")
	require.NoError(t, store.Create(ctx, record))

	got, err := store.Get(ctx, "rec-1")
	require.NoError(t, err)

	assert.Equal(t, "client-1", got.ClientUserID)
	assert.True(t, got.Commission.Equal(ledger.NewAmount(10)))
	assert.True(t, got.Cashback.Equal(ledger.NewAmount(2)))
	assert.Equal(t, revenue.StatusPending, got.Status)
	assert.Equal(t, revenue.SourceLeadMagnet, got.Source())
}

func TestSQLite_Revenue_Get_Unknown_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, revenue.ErrNotFound)
}

func TestSQLite_Revenue_Create_RejectsInvalidRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := pendingRecord("rec-1")
	record.OrderID = "order-1" // both sources set
	assert.ErrorIs(t, store.Create(ctx, record), revenue.ErrInvalidRecord)

	record = pendingRecord("rec-2")
	record.LeadMagnetPurchaseID = "" // no source
	assert.ErrorIs(t, store.Create(ctx, record), revenue.ErrInvalidRecord)
}

func TestSQLite_Revenue_StatusTransitions(t *testing.T) {
	// pending -> completed -> reversed is the only legal path.

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingRecord("rec-1")))

	// pending -> reversed: illegal
	err := store.SetStatus(ctx, "rec-1", revenue.StatusReversed)
	assert.ErrorIs(t, err, revenue.ErrInvalidTransition)

	require.NoError(t, store.SetStatus(ctx, "rec-1", revenue.StatusCompleted))

	// completed -> completed: illegal
	err = store.SetStatus(ctx, "rec-1", revenue.StatusCompleted)
	assert.ErrorIs(t, err, revenue.ErrInvalidTransition)

	require.NoError(t, store.SetStatus(ctx, "rec-1", revenue.StatusReversed))

	got, err := store.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, revenue.StatusReversed, got.Status)
}

func TestSQLite_Revenue_SetStatus_Unknown_NotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.SetStatus(context.Background(), "ghost", revenue.StatusCompleted)
	assert.ErrorIs(t, err, revenue.ErrNotFound)
}

func TestSQLite_Revenue_Completed_ExcludesOtherStatuses(t *testing.T) {
	// GIVEN: A pending, a completed and a reversed record
	// WHEN: Querying completed records
	// THEN: Only the completed one is returned

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingRecord("rec-pending")))

	require.NoError(t, store.Create(ctx, pendingRecord("rec-completed")))
	require.NoError(t, store.SetStatus(ctx, "rec-completed", revenue.StatusCompleted))

	require.NoError(t, store.Create(ctx, pendingRecord("rec-reversed")))
	require.NoError(t, store.SetStatus(ctx, "rec-reversed", revenue.StatusCompleted))
	require.NoError(t, store.SetStatus(ctx, "rec-reversed", revenue.StatusReversed))

	completed, err := store.Completed(ctx, revenue.Filter{})
	require.NoError(t, err)

	require.Len(t, completed, 1)
	assert.Equal(t, "rec-completed", completed[0].ID)
}

func TestSQLite_Revenue_Completed_FilterByClientAndTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	early := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)

	a := pendingRecord("rec-a")
	a.CreatedAt = early
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.SetStatus(ctx, "rec-a", revenue.StatusCompleted))

	b := pendingRecord("rec-b")
	b.ClientUserID = "client-2"
	b.CreatedAt = late
	require.NoError(t, store.Create(ctx, b))
	require.NoError(t, store.SetStatus(ctx, "rec-b", revenue.StatusCompleted))

	client := "client-2"
	byClient, err := store.Completed(ctx, revenue.Filter{ClientUserID: &client})
	require.NoError(t, err)
	require.Len(t, byClient, 1)
	assert.Equal(t, "rec-b", byClient[0].ID)

	cutoff := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	recent, err := store.Completed(ctx, revenue.Filter{From: &cutoff})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "rec-b", recent[0].ID)

	old, err := store.Completed(ctx, revenue.Filter{To: &cutoff})
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "rec-a", old[0].ID)
}
