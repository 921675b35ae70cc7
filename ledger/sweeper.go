/*
sweeper.go - Bonus expiry batch job

PURPOSE:
  Zeroes the bonus pool of every account whose BonusExpiresAt has
  passed. Invoked by an external scheduler (daily cron hitting the
  jobs endpoint); there is no in-process timer here, so the sweep must
  be safe to trigger any number of times.

IDEMPOTENCE:
  A swept account has bonus = 0 and no expiry, so a re-run finds
  nothing. Two concurrent sweeps race through the Engine's per-user
  lock and the store's guarded write; exactly one bonus_expiry lands.

PARTIAL FAILURE:
  One account failing does not stop the sweep. The failure is logged
  and the result aggregates successes only. Failing to even enumerate
  eligible accounts is fatal for the run.
*/
package ledger

import (
	"context"
	"fmt"
	"log"
	"time"
)

// SweepResult summarizes one sweep run.
type SweepResult struct {
	ExpiredCount int
	TotalAmount  Amount // sum of zeroed bonus balances, positive
	Timestamp    time.Time
}

// Sweeper expires overdue bonus balances through the Engine.
type Sweeper struct {
	store  Store
	engine *Engine
}

func NewSweeper(store Store, engine *Engine) *Sweeper {
	return &Sweeper{store: store, engine: engine}
}

// Sweep expires every account whose bonus is overdue at now.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	result := SweepResult{TotalAmount: ZeroAmount(), Timestamp: now.UTC()}

	accounts, err := s.store.ExpiredBonusAccounts(ctx, now)
	if err != nil {
		return result, fmt.Errorf("enumerate expired accounts: %w", err)
	}

	for _, account := range accounts {
		// Re-read: a spend or fresh grant may have landed since
		// enumeration. An extended expiry drops out of this run.
		current, err := s.store.GetBalance(ctx, account.UserID)
		if err != nil {
			log.Printf("[Sweeper] skipping %s: %v", account.UserID, err)
			continue
		}
		if current == nil || !current.Bonus.IsPositive() ||
			current.BonusExpiresAt == nil || current.BonusExpiresAt.After(now) {
			continue
		}
		account = *current

		expired := account.Bonus
		_, err = s.engine.Apply(ctx, Mutation{
			UserID:      account.UserID,
			Type:        TxBonusExpiry,
			Amount:      expired.Neg(),
			BalanceType: BalanceBonus,
			Description: fmt.Sprintf("bonus points expired on %s", account.BonusExpiresAt.Format("2006-01-02")),
		})
		if err != nil {
			// ErrConcurrentModification here means someone spent or
			// re-granted bonus mid-sweep; the next run picks it up.
			log.Printf("[Sweeper] skipping %s: %v", account.UserID, err)
			continue
		}

		result.ExpiredCount++
		result.TotalAmount = result.TotalAmount.Add(expired)
	}

	log.Printf("[Sweeper] expired %d account(s), %s points total", result.ExpiredCount, result.TotalAmount)
	return result, nil
}
