/*
Package sqlite provides the SQLite-backed implementation of the
storage interfaces.

INTERFACES IMPLEMENTED:
  ledger.Store:  append-only transaction log + balance snapshots
  revenue.Store: platform revenue records

APPEND-ONLY ENFORCEMENT:
  There is no UPDATE or DELETE on the transactions table anywhere in
  this package. Corrections happen as new offsetting transactions.

CONCURRENCY:
  Append runs the snapshot guard and both writes inside one SQL
  transaction: read the stored row, compare both pools against the
  snapshot the caller computed from (the incoming snapshot with the
  affected pool rolled back to balance_before), then write. SQLite's
  single-writer model plus the package mutex make the compare-and-write
  race free; a failed compare surfaces as
  ledger.ErrConcurrentModification.

WAL MODE:
  The database is opened with WAL so readers don't block the writer.

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/revenue"
)

// timeFormat is RFC3339 with zero-padded nanoseconds. Timestamps are
// stored as TEXT and compared/sorted as strings in SQL, so the width
// must be fixed: with the bare RFC3339Nano layout "...:00Z" would sort
// after "...:00.5Z" ('Z' > '.').
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements ledger.Store and revenue.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer anyway, and a pooled
	// ":memory:" database would otherwise be one database per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Balance snapshots, one row per user, written only via Append
	CREATE TABLE IF NOT EXISTS account_balances (
		user_id TEXT PRIMARY KEY,
		purchased TEXT NOT NULL,
		bonus TEXT NOT NULL,
		bonus_expires_at TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_balances_bonus_expiry
		ON account_balances(bonus_expires_at)
		WHERE bonus_expires_at IS NOT NULL;

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_type TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		description TEXT,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user
		ON transactions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_type
		ON transactions(tx_type);

	-- Platform revenue records, never deleted
	CREATE TABLE IF NOT EXISTS revenue_records (
		id TEXT PRIMARY KEY,
		client_user_id TEXT NOT NULL,
		commission TEXT NOT NULL,
		cashback TEXT NOT NULL,
		status TEXT NOT NULL,
		lead_magnet_purchase_id TEXT,
		order_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK ((lead_magnet_purchase_id IS NULL) != (order_id IS NULL))
	);

	CREATE INDEX IF NOT EXISTS idx_revenue_status
		ON revenue_records(status);
	CREATE INDEX IF NOT EXISTS idx_revenue_client
		ON revenue_records(client_user_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

// Append inserts the transaction row and writes the balance snapshot
// in one SQL transaction, guarded on the whole stored snapshot.
func (s *Store) Append(ctx context.Context, tx ledger.Transaction, balance ledger.AccountBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ledger.ErrStoreUnavailable, err)
	}
	defer sqlTx.Rollback()

	var purchased, bonus string
	err = sqlTx.QueryRowContext(ctx,
		"SELECT purchased, bonus FROM account_balances WHERE user_id = ?",
		tx.UserID,
	).Scan(&purchased, &bonus)

	// Reconstruct the snapshot the caller computed from: the incoming
	// snapshot with the affected pool rolled back to BalanceBefore.
	// Both pools must match the stored row; a mismatch in either means
	// the write raced another one, even one against the other pool.
	expectedPurchased, expectedBonus := balance.Purchased, balance.Bonus
	if tx.BalanceType == ledger.BalanceBonus {
		expectedBonus = tx.BalanceBefore
	} else {
		expectedPurchased = tx.BalanceBefore
	}

	switch {
	case err == sql.ErrNoRows:
		// Lazy account creation: only valid for a first transaction
		// computed from the all-zero snapshot.
		if !expectedPurchased.IsZero() || !expectedBonus.IsZero() {
			return ledger.ErrConcurrentModification
		}
		_, err = sqlTx.ExecContext(ctx,
			`INSERT INTO account_balances (user_id, purchased, bonus, bonus_expires_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			balance.UserID, balance.Purchased.String(), balance.Bonus.String(),
			nullTime(balance.BonusExpiresAt), balance.UpdatedAt.UTC().Format(timeFormat),
		)
		if err != nil {
			return fmt.Errorf("%w: create account: %v", ledger.ErrStoreUnavailable, err)
		}
	case err != nil:
		return fmt.Errorf("%w: read snapshot: %v", ledger.ErrStoreUnavailable, err)
	default:
		storedPurchased, perr := ledger.NewAmountFromString(purchased)
		if perr != nil {
			return fmt.Errorf("corrupt purchased balance for %s: %w", tx.UserID, perr)
		}
		storedBonus, perr := ledger.NewAmountFromString(bonus)
		if perr != nil {
			return fmt.Errorf("corrupt bonus balance for %s: %w", tx.UserID, perr)
		}
		if !storedPurchased.Equal(expectedPurchased) || !storedBonus.Equal(expectedBonus) {
			return ledger.ErrConcurrentModification
		}
		_, err = sqlTx.ExecContext(ctx,
			`UPDATE account_balances
			 SET purchased = ?, bonus = ?, bonus_expires_at = ?, updated_at = ?
			 WHERE user_id = ?`,
			balance.Purchased.String(), balance.Bonus.String(),
			nullTime(balance.BonusExpiresAt), balance.UpdatedAt.UTC().Format(timeFormat),
			balance.UserID,
		)
		if err != nil {
			return fmt.Errorf("%w: update snapshot: %v", ledger.ErrStoreUnavailable, err)
		}
	}

	metadataJSON, _ := json.Marshal(tx.Metadata)
	_, err = sqlTx.ExecContext(ctx,
		`INSERT INTO transactions
		 (id, user_id, tx_type, amount, balance_type, balance_before, balance_after,
		  description, metadata_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Type, tx.Amount.String(), tx.BalanceType,
		tx.BalanceBefore.String(), tx.BalanceAfter.String(),
		nullString(tx.Description), string(metadataJSON),
		tx.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("%w: append transaction: %v", ledger.ErrStoreUnavailable, err)
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

// GetBalance returns the snapshot for a user, nil when absent.
func (s *Store) GetBalance(ctx context.Context, userID string) (*ledger.AccountBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		balance        ledger.AccountBalance
		purchased      string
		bonus          string
		bonusExpiresAt sql.NullString
		updatedAt      string
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, purchased, bonus, bonus_expires_at, updated_at FROM account_balances WHERE user_id = ?",
		userID,
	).Scan(&balance.UserID, &purchased, &bonus, &bonusExpiresAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}

	if balance.Purchased, err = ledger.NewAmountFromString(purchased); err != nil {
		return nil, fmt.Errorf("corrupt purchased balance for %s: %w", userID, err)
	}
	if balance.Bonus, err = ledger.NewAmountFromString(bonus); err != nil {
		return nil, fmt.Errorf("corrupt bonus balance for %s: %w", userID, err)
	}
	if bonusExpiresAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, bonusExpiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt bonus expiry for %s: %w", userID, err)
		}
		balance.BonusExpiresAt = &t
	}
	balance.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return &balance, nil
}

// Transactions returns the user's ledger, oldest first.
func (s *Store) Transactions(ctx context.Context, userID string) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, user_id, tx_type, amount, balance_type, balance_before, balance_after,
		       description, metadata_json, created_at
		FROM transactions
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// ExpiredBonusAccounts returns snapshots whose bonus expiry has passed.
// The bonus > 0 filter happens in decimal space, not in SQL.
func (s *Store) ExpiredBonusAccounts(ctx context.Context, now time.Time) ([]ledger.AccountBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT user_id, purchased, bonus, bonus_expires_at, updated_at
		FROM account_balances
		WHERE bonus_expires_at IS NOT NULL AND bonus_expires_at <= ?
		ORDER BY user_id
	`

	rows, err := s.db.QueryContext(ctx, query, now.UTC().Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var expired []ledger.AccountBalance
	for rows.Next() {
		var (
			balance        ledger.AccountBalance
			purchased      string
			bonus          string
			bonusExpiresAt sql.NullString
			updatedAt      string
		)
		if err := rows.Scan(&balance.UserID, &purchased, &bonus, &bonusExpiresAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		if balance.Purchased, err = ledger.NewAmountFromString(purchased); err != nil {
			return nil, fmt.Errorf("corrupt purchased balance for %s: %w", balance.UserID, err)
		}
		if balance.Bonus, err = ledger.NewAmountFromString(bonus); err != nil {
			return nil, fmt.Errorf("corrupt bonus balance for %s: %w", balance.UserID, err)
		}
		if !balance.Bonus.IsPositive() {
			continue
		}
		if bonusExpiresAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, bonusExpiresAt.String)
			balance.BonusExpiresAt = &t
		}
		balance.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		expired = append(expired, balance)
	}
	return expired, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx            ledger.Transaction
		amount        string
		balanceBefore string
		balanceAfter  string
		description   sql.NullString
		metadataJSON  sql.NullString
		createdAt     string
	)

	err := rows.Scan(
		&tx.ID, &tx.UserID, &tx.Type, &amount, &tx.BalanceType,
		&balanceBefore, &balanceAfter, &description, &metadataJSON, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if tx.Amount, err = ledger.NewAmountFromString(amount); err != nil {
		return tx, fmt.Errorf("corrupt amount in transaction %s: %w", tx.ID, err)
	}
	if tx.BalanceBefore, err = ledger.NewAmountFromString(balanceBefore); err != nil {
		return tx, fmt.Errorf("corrupt balance_before in transaction %s: %w", tx.ID, err)
	}
	if tx.BalanceAfter, err = ledger.NewAmountFromString(balanceAfter); err != nil {
		return tx, fmt.Errorf("corrupt balance_after in transaction %s: %w", tx.ID, err)
	}
	tx.Description = description.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata); err != nil {
			return tx, fmt.Errorf("corrupt metadata in transaction %s: %w", tx.ID, err)
		}
	}

	return tx, nil
}

// =============================================================================
// REVENUE STORE (revenue.Store interface)
// =============================================================================

// Create persists a revenue record. Status defaults to pending.
func (s *Store) Create(ctx context.Context, r revenue.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Status == "" {
		r.Status = revenue.StatusPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO revenue_records
		 (id, client_user_id, commission, cashback, status, lead_magnet_purchase_id, order_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ClientUserID, r.Commission.String(), r.Cashback.String(), r.Status,
		nullString(r.LeadMagnetPurchaseID), nullString(r.OrderID),
		r.CreatedAt.UTC().Format(timeFormat), now.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("%w: create revenue record: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

// Get returns a revenue record by ID.
func (s *Store) Get(ctx context.Context, id string) (*revenue.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getRecord(ctx, s.db, id)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRecord(ctx context.Context, q rowQuerier, id string) (*revenue.Record, error) {
	var (
		r            revenue.Record
		commission   string
		cashback     string
		leadMagnetID sql.NullString
		orderID      sql.NullString
		createdAt    string
		updatedAt    string
	)

	err := q.QueryRowContext(ctx,
		`SELECT id, client_user_id, commission, cashback, status, lead_magnet_purchase_id, order_id, created_at, updated_at
		 FROM revenue_records WHERE id = ?`,
		id,
	).Scan(&r.ID, &r.ClientUserID, &commission, &cashback, &r.Status, &leadMagnetID, &orderID, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, revenue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}

	if r.Commission, err = ledger.NewAmountFromString(commission); err != nil {
		return nil, fmt.Errorf("corrupt commission in record %s: %w", id, err)
	}
	if r.Cashback, err = ledger.NewAmountFromString(cashback); err != nil {
		return nil, fmt.Errorf("corrupt cashback in record %s: %w", id, err)
	}
	r.LeadMagnetPurchaseID = leadMagnetID.String
	r.OrderID = orderID.String
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &r, nil
}

// SetStatus transitions a record, enforcing the legal moves.
func (s *Store) SetStatus(ctx context.Context, id string, status revenue.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ledger.ErrStoreUnavailable, err)
	}
	defer sqlTx.Rollback()

	current, err := getRecord(ctx, sqlTx, id)
	if err != nil {
		return err
	}
	if !revenue.AllowedTransition(current.Status, status) {
		return fmt.Errorf("%w: %s -> %s", revenue.ErrInvalidTransition, current.Status, status)
	}

	_, err = sqlTx.ExecContext(ctx,
		"UPDATE revenue_records SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC().Format(timeFormat), id,
	)
	if err != nil {
		return fmt.Errorf("%w: update status: %v", ledger.ErrStoreUnavailable, err)
	}
	return sqlTx.Commit()
}

// Completed returns completed records matching the filter.
func (s *Store) Completed(ctx context.Context, f revenue.Filter) ([]revenue.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, client_user_id, commission, cashback, status, lead_magnet_purchase_id, order_id, created_at, updated_at
		FROM revenue_records
		WHERE status = ?
	`
	args := []any{revenue.StatusCompleted}

	if f.ClientUserID != nil {
		query += " AND client_user_id = ?"
		args = append(args, *f.ClientUserID)
	}
	if f.From != nil {
		query += " AND created_at >= ?"
		args = append(args, f.From.UTC().Format(timeFormat))
	}
	if f.To != nil {
		query += " AND created_at <= ?"
		args = append(args, f.To.UTC().Format(timeFormat))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var records []revenue.Record
	for rows.Next() {
		var (
			r            revenue.Record
			commission   string
			cashback     string
			leadMagnetID sql.NullString
			orderID      sql.NullString
			createdAt    string
			updatedAt    string
		)
		if err := rows.Scan(&r.ID, &r.ClientUserID, &commission, &cashback, &r.Status,
			&leadMagnetID, &orderID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan revenue record: %w", err)
		}
		if r.Commission, err = ledger.NewAmountFromString(commission); err != nil {
			return nil, fmt.Errorf("corrupt commission in record %s: %w", r.ID, err)
		}
		if r.Cashback, err = ledger.NewAmountFromString(cashback); err != nil {
			return nil, fmt.Errorf("corrupt cashback in record %s: %w", r.ID, err)
		}
		r.LeadMagnetPurchaseID = leadMagnetID.String
		r.OrderID = orderID.String
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}
