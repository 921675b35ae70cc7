/*
aggregator.go - Read-only commission/cashback rollups

Purely derived numbers over status = completed records. There is no
fallback value: a store failure surfaces as an error, never as a
silent zero rollup.
*/
package revenue

import (
	"context"
	"fmt"

	"github.com/warp/points-ledger/ledger"
)

// Stats is the rollup over completed records. LeadMagnet + Service
// always equals TotalTransactions: the source partition is total.
type Stats struct {
	TotalCommission   ledger.Amount
	TotalCashback     ledger.Amount
	TotalTransactions int
	LeadMagnet        int
	Service           int
}

// Aggregator computes revenue rollups. No mutation capability.
type Aggregator struct {
	store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Stats sums commission and cashback over completed records matching
// the filter and partitions the count by source.
func (a *Aggregator) Stats(ctx context.Context, f Filter) (Stats, error) {
	records, err := a.store.Completed(ctx, f)
	if err != nil {
		return Stats{}, fmt.Errorf("load completed records: %w", err)
	}

	stats := Stats{
		TotalCommission: ledger.ZeroAmount(),
		TotalCashback:   ledger.ZeroAmount(),
	}
	for _, r := range records {
		stats.TotalCommission = stats.TotalCommission.Add(r.Commission)
		stats.TotalCashback = stats.TotalCashback.Add(r.Cashback)
		stats.TotalTransactions++
		if r.Source() == SourceLeadMagnet {
			stats.LeadMagnet++
		} else {
			stats.Service++
		}
	}
	return stats, nil
}
