/*
dto.go - Request/response shapes for the HTTP API

Decimal values cross the wire as strings so clients never see
floating-point drift. The one exception is the revenue stats response,
which is a display-only rollup and serializes as numbers.
*/
package api

import (
	"time"

	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/revenue"
)

// =============================================================================
// REQUESTS
// =============================================================================

// MutationRequest is the body of credit/debit/bonus/refund endpoints.
// Amount is a positive decimal string; the endpoint decides the sign.
type MutationRequest struct {
	Amount      string            `json:"amount"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CreateRevenueRecordRequest creates a platform revenue record.
// Exactly one of LeadMagnetPurchaseID / OrderID must be set.
type CreateRevenueRecordRequest struct {
	ClientUserID         string `json:"clientUserId"`
	Commission           string `json:"commission"`
	Cashback             string `json:"cashback"`
	LeadMagnetPurchaseID string `json:"leadMagnetPurchaseId,omitempty"`
	OrderID              string `json:"orderId,omitempty"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// BalanceResponse is the stable balance query shape.
type BalanceResponse struct {
	Balance        string  `json:"balance"`
	BonusBalance   string  `json:"bonusBalance"`
	BonusExpiresAt *string `json:"bonusExpiresAt"`
	Total          string  `json:"total"`
}

func toBalanceResponse(s ledger.BalanceSummary) BalanceResponse {
	resp := BalanceResponse{
		Balance:      s.Balance.String(),
		BonusBalance: s.BonusBalance.String(),
		Total:        s.Total.String(),
	}
	if s.BonusExpiresAt != nil {
		formatted := s.BonusExpiresAt.UTC().Format(time.RFC3339)
		resp.BonusExpiresAt = &formatted
	}
	return resp
}

// TransactionDTO is one ledger entry in history responses.
type TransactionDTO struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Amount        string            `json:"amount"`
	BalanceType   string            `json:"balanceType"`
	BalanceBefore string            `json:"balanceBefore"`
	BalanceAfter  string            `json:"balanceAfter"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     string            `json:"createdAt"`
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:            tx.ID,
		Type:          string(tx.Type),
		Amount:        tx.Amount.String(),
		BalanceType:   string(tx.BalanceType),
		BalanceBefore: tx.BalanceBefore.String(),
		BalanceAfter:  tx.BalanceAfter.String(),
		Description:   tx.Description,
		Metadata:      tx.Metadata,
		CreatedAt:     tx.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// MutationResponse returns the applied transaction and the new balance.
type MutationResponse struct {
	Balance     BalanceResponse `json:"balance"`
	Transaction TransactionDTO  `json:"transaction"`
}

// ReconciliationResponse reports snapshot-vs-replay drift.
type ReconciliationResponse struct {
	UserID            string `json:"userId"`
	Consistent        bool   `json:"consistent"`
	SnapshotPurchased string `json:"snapshotPurchased"`
	SnapshotBonus     string `json:"snapshotBonus"`
	ReplayedPurchased string `json:"replayedPurchased"`
	ReplayedBonus     string `json:"replayedBonus"`
	PurchasedDrift    string `json:"purchasedDrift"`
	BonusDrift        string `json:"bonusDrift"`
	TransactionCount  int    `json:"transactionCount"`
}

// SweepResponse is the bonus expiry job result.
type SweepResponse struct {
	ExpiredCount int    `json:"expiredCount"`
	TotalAmount  string `json:"totalAmount"`
	Timestamp    string `json:"timestamp"`
}

// RevenueStatsResponse is the display rollup. Floats are acceptable
// here and only here: this is the presentation boundary.
type RevenueStatsResponse struct {
	TotalCommission   float64            `json:"totalCommission"`
	TotalCashback     float64            `json:"totalCashback"`
	TotalTransactions int                `json:"totalTransactions"`
	ByType            RevenueStatsByType `json:"byType"`
}

type RevenueStatsByType struct {
	LeadMagnet int `json:"leadMagnet"`
	Service    int `json:"service"`
}

func toRevenueStatsResponse(s revenue.Stats) RevenueStatsResponse {
	return RevenueStatsResponse{
		TotalCommission:   s.TotalCommission.Value.InexactFloat64(),
		TotalCashback:     s.TotalCashback.Value.InexactFloat64(),
		TotalTransactions: s.TotalTransactions,
		ByType: RevenueStatsByType{
			LeadMagnet: s.LeadMagnet,
			Service:    s.Service,
		},
	}
}

// RevenueRecordDTO is one revenue record in responses.
type RevenueRecordDTO struct {
	ID                   string `json:"id"`
	ClientUserID         string `json:"clientUserId"`
	Commission           string `json:"commission"`
	Cashback             string `json:"cashback"`
	Status               string `json:"status"`
	LeadMagnetPurchaseID string `json:"leadMagnetPurchaseId,omitempty"`
	OrderID              string `json:"orderId,omitempty"`
	CreatedAt            string `json:"createdAt"`
}

func toRevenueRecordDTO(r revenue.Record) RevenueRecordDTO {
	return RevenueRecordDTO{
		ID:                   r.ID,
		ClientUserID:         r.ClientUserID,
		Commission:           r.Commission.String(),
		Cashback:             r.Cashback.String(),
		Status:               string(r.Status),
		LeadMagnetPurchaseID: r.LeadMagnetPurchaseID,
		OrderID:              r.OrderID,
		CreatedAt:            r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ErrorResponse is the uniform error shape.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
