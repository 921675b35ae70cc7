/*
handlers.go - HTTP handlers for the points ledger

ENDPOINTS:
  Balances:
    GET  /api/users/{id}/balance          Current balance summary
    GET  /api/users/{id}/transactions     Ledger history
    GET  /api/users/{id}/reconciliation   Snapshot vs replay drift

  Mutations (all funnel into the Engine):
    POST /api/users/{id}/credit           Purchased points credit
    POST /api/users/{id}/debit            Spend points
    POST /api/users/{id}/bonus            Bonus grant
    POST /api/users/{id}/refund           Return purchased points

  Jobs:
    POST /api/jobs/expire-bonuses         Daily sweep, bearer-secret guarded

  Revenue:
    POST /api/revenue/records             Create record
    POST /api/revenue/records/{id}/complete
    POST /api/revenue/records/{id}/reverse
    GET  /api/revenue/stats               Commission/cashback rollup

ERROR HANDLING:
  Client errors carry enough detail to react; infrastructure failures
  are logged with context and collapse to an opaque 500 message.
*/
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/revenue"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *ledger.Engine
	Accessor *ledger.Accessor
	Sweeper  *ledger.Sweeper
	Revenue  revenue.Store
	Stats    *revenue.Aggregator
	Clock    func() time.Time

	// SweepSecret guards the jobs endpoint. Empty disables the
	// endpoint entirely rather than leaving it open.
	SweepSecret string
}

// NewHandler wires the handler with its dependencies.
func NewHandler(engine *ledger.Engine, accessor *ledger.Accessor, sweeper *ledger.Sweeper, revStore revenue.Store, sweepSecret string) *Handler {
	return &Handler{
		Engine:      engine,
		Accessor:    accessor,
		Sweeper:     sweeper,
		Revenue:     revStore,
		Stats:       revenue.NewAggregator(revStore),
		Clock:       time.Now,
		SweepSecret: sweepSecret,
	}
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance returns the user's balance summary. Unknown accounts
// read as zero balances.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	summary, err := h.Accessor.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeLedgerError(w, r, "/users/{id}/balance", err)
		return
	}

	h.writeJSON(w, r, "/users/{id}/balance", http.StatusOK, toBalanceResponse(summary))
}

// GetTransactions returns the user's ledger history.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	txs, err := h.Accessor.Transactions(r.Context(), userID)
	if err != nil {
		h.writeLedgerError(w, r, "/users/{id}/transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	h.writeJSON(w, r, "/users/{id}/transactions", http.StatusOK, dtos)
}

// GetReconciliation replays the ledger and reports drift.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	report, err := h.Accessor.Reconcile(r.Context(), userID)
	if err != nil {
		h.writeLedgerError(w, r, "/users/{id}/reconciliation", err)
		return
	}

	h.writeJSON(w, r, "/users/{id}/reconciliation", http.StatusOK, ReconciliationResponse{
		UserID:            report.UserID,
		Consistent:        report.Consistent,
		SnapshotPurchased: report.SnapshotPurchased.String(),
		SnapshotBonus:     report.SnapshotBonus.String(),
		ReplayedPurchased: report.ReplayedPurchased.String(),
		ReplayedBonus:     report.ReplayedBonus.String(),
		PurchasedDrift:    report.PurchasedDrift.String(),
		BonusDrift:        report.BonusDrift.String(),
		TransactionCount:  report.TransactionCount,
	})
}

// =============================================================================
// MUTATION HANDLERS
// =============================================================================

// Credit adds purchased points.
func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	h.applyMutation(w, r, ledger.TxPurchaseCredit, ledger.BalancePurchased, false)
}

// Debit spends purchased points.
func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	h.applyMutation(w, r, ledger.TxDebit, ledger.BalancePurchased, true)
}

// Bonus grants bonus points with the configured validity.
func (h *Handler) Bonus(w http.ResponseWriter, r *http.Request) {
	h.applyMutation(w, r, ledger.TxBonusGrant, ledger.BalanceBonus, false)
}

// Refund returns purchased points after a reversal.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	h.applyMutation(w, r, ledger.TxRefund, ledger.BalancePurchased, false)
}

// applyMutation parses the body, fixes the sign for the endpoint, and
// funnels into the Engine.
func (h *Handler) applyMutation(w http.ResponseWriter, r *http.Request, txType ledger.TransactionType, pool ledger.BalanceType, negate bool) {
	endpoint := "/users/{id}/" + mutationEndpoint(txType)
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	userID := chi.URLParam(r, "id")

	var req MutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, endpoint, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := ledger.NewAmountFromString(req.Amount)
	if err != nil {
		h.writeError(w, r, endpoint, http.StatusBadRequest, "Invalid amount (decimal string required)", err)
		return
	}
	if !amount.IsPositive() {
		h.writeError(w, r, endpoint, http.StatusBadRequest, "Amount must be positive", nil)
		return
	}
	if negate {
		amount = amount.Neg()
	}

	result, err := h.Engine.Apply(r.Context(), ledger.Mutation{
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		BalanceType: pool,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		mutationsTotal.WithLabelValues(string(txType), "rejected").Inc()
		h.writeLedgerError(w, r, endpoint, err)
		return
	}

	mutationsTotal.WithLabelValues(string(txType), "applied").Inc()
	h.writeJSON(w, r, endpoint, http.StatusCreated, MutationResponse{
		Balance: toBalanceResponse(ledger.BalanceSummary{
			UserID:         result.Balance.UserID,
			Balance:        result.Balance.Purchased,
			BonusBalance:   result.Balance.Bonus,
			BonusExpiresAt: result.Balance.BonusExpiresAt,
			Total:          result.Balance.Total(),
		}),
		Transaction: toTransactionDTO(result.Transaction),
	})
}

func mutationEndpoint(txType ledger.TransactionType) string {
	switch txType {
	case ledger.TxPurchaseCredit:
		return "credit"
	case ledger.TxDebit:
		return "debit"
	case ledger.TxBonusGrant:
		return "bonus"
	case ledger.TxRefund:
		return "refund"
	}
	return string(txType)
}

// =============================================================================
// JOB HANDLERS
// =============================================================================

// ExpireBonuses runs the bonus expiry sweep. Guarded by a shared
// secret so only the scheduler can trigger it; idempotent, so
// duplicate triggers are harmless.
func (h *Handler) ExpireBonuses(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/jobs/expire-bonuses"

	if !h.authorizeSweep(r) {
		h.writeError(w, r, endpoint, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}

	result, err := h.Sweeper.Sweep(r.Context(), h.Clock())
	if err != nil {
		log.Printf("[API] bonus sweep failed: %v", err)
		h.writeError(w, r, endpoint, http.StatusInternalServerError, "Sweep failed", nil)
		return
	}

	sweepExpiredAccounts.Add(float64(result.ExpiredCount))
	sweepExpiredPoints.Add(result.TotalAmount.Value.InexactFloat64())

	h.writeJSON(w, r, endpoint, http.StatusOK, SweepResponse{
		ExpiredCount: result.ExpiredCount,
		TotalAmount:  result.TotalAmount.String(),
		Timestamp:    result.Timestamp.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) authorizeSweep(r *http.Request) bool {
	if h.SweepSecret == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(h.SweepSecret)) == 1
}

// =============================================================================
// REVENUE HANDLERS
// =============================================================================

// CreateRevenueRecord records a monetized event.
func (h *Handler) CreateRevenueRecord(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/revenue/records"

	var req CreateRevenueRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, endpoint, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	commission, err := ledger.NewAmountFromString(req.Commission)
	if err != nil {
		h.writeError(w, r, endpoint, http.StatusBadRequest, "Invalid commission", err)
		return
	}
	cashback, err := ledger.NewAmountFromString(req.Cashback)
	if err != nil {
		h.writeError(w, r, endpoint, http.StatusBadRequest, "Invalid cashback", err)
		return
	}

	record := revenue.Record{
		ID:                   uuid.NewString(),
		ClientUserID:         req.ClientUserID,
		Commission:           commission,
		Cashback:             cashback,
		Status:               revenue.StatusPending,
		LeadMagnetPurchaseID: req.LeadMagnetPurchaseID,
		OrderID:              req.OrderID,
		CreatedAt:            h.Clock().UTC(),
	}
	if err := h.Revenue.Create(r.Context(), record); err != nil {
		h.writeRevenueError(w, r, endpoint, err)
		return
	}

	h.writeJSON(w, r, endpoint, http.StatusCreated, toRevenueRecordDTO(record))
}

// CompleteRevenueRecord marks the record completed and credits the
// client's cashback as bonus points.
func (h *Handler) CompleteRevenueRecord(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/revenue/records/{id}/complete"
	id := chi.URLParam(r, "id")

	if err := h.Revenue.SetStatus(r.Context(), id, revenue.StatusCompleted); err != nil {
		h.writeRevenueError(w, r, endpoint, err)
		return
	}

	record, err := h.Revenue.Get(r.Context(), id)
	if err != nil {
		h.writeRevenueError(w, r, endpoint, err)
		return
	}

	if record.Cashback.IsPositive() {
		_, err := h.Engine.Apply(r.Context(), ledger.Mutation{
			UserID:      record.ClientUserID,
			Type:        ledger.TxCashback,
			Amount:      record.Cashback,
			BalanceType: ledger.BalanceBonus,
			Description: "cashback for " + string(record.Source()),
			Metadata:    map[string]string{"revenueRecordId": record.ID},
		})
		if err != nil {
			// The record is completed; the cashback credit failed.
			// Surface the failure instead of pretending it landed.
			log.Printf("[API] cashback credit failed for record %s: %v", id, err)
			h.writeError(w, r, endpoint, http.StatusInternalServerError, "Cashback credit failed", nil)
			return
		}
	}

	h.writeJSON(w, r, endpoint, http.StatusOK, toRevenueRecordDTO(*record))
}

// ReverseRevenueRecord marks a completed record reversed (refund).
func (h *Handler) ReverseRevenueRecord(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/revenue/records/{id}/reverse"
	id := chi.URLParam(r, "id")

	if err := h.Revenue.SetStatus(r.Context(), id, revenue.StatusReversed); err != nil {
		h.writeRevenueError(w, r, endpoint, err)
		return
	}

	record, err := h.Revenue.Get(r.Context(), id)
	if err != nil {
		h.writeRevenueError(w, r, endpoint, err)
		return
	}
	h.writeJSON(w, r, endpoint, http.StatusOK, toRevenueRecordDTO(*record))
}

// GetRevenueStats returns the commission/cashback rollup.
// Query params: clientUserId, from, to (RFC3339).
func (h *Handler) GetRevenueStats(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/revenue/stats"

	var filter revenue.Filter
	if v := r.URL.Query().Get("clientUserId"); v != "" {
		filter.ClientUserID = &v
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, r, endpoint, http.StatusBadRequest, "Invalid 'from' timestamp (RFC3339)", err)
			return
		}
		filter.From = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, r, endpoint, http.StatusBadRequest, "Invalid 'to' timestamp (RFC3339)", err)
			return
		}
		filter.To = &t
	}

	stats, err := h.Stats.Stats(r.Context(), filter)
	if err != nil {
		// No fallback value for financial stats.
		log.Printf("[API] revenue stats failed: %v", err)
		h.writeError(w, r, endpoint, http.StatusInternalServerError, "Failed to compute revenue stats", nil)
		return
	}

	h.writeJSON(w, r, endpoint, http.StatusOK, toRevenueStatsResponse(stats))
}

// =============================================================================
// ERROR MAPPING AND HELPERS
// =============================================================================

func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		h.writeError(w, r, endpoint, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		h.writeError(w, r, endpoint, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, ledger.ErrConcurrentModification):
		h.writeError(w, r, endpoint, http.StatusConflict, "Concurrent modification, retry the request", nil)
	case errors.Is(err, ledger.ErrNotFound):
		h.writeError(w, r, endpoint, http.StatusNotFound, "Account not found", nil)
	default:
		log.Printf("[API] %s: %v", endpoint, err)
		h.writeError(w, r, endpoint, http.StatusInternalServerError, "Internal error", nil)
	}
}

func (h *Handler) writeRevenueError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	switch {
	case errors.Is(err, revenue.ErrNotFound):
		h.writeError(w, r, endpoint, http.StatusNotFound, "Revenue record not found", nil)
	case errors.Is(err, revenue.ErrInvalidRecord):
		h.writeError(w, r, endpoint, http.StatusBadRequest, "Invalid revenue record", nil)
	case errors.Is(err, revenue.ErrInvalidTransition):
		h.writeError(w, r, endpoint, http.StatusConflict, err.Error(), nil)
	default:
		log.Printf("[API] %s: %v", endpoint, err)
		h.writeError(w, r, endpoint, http.StatusInternalServerError, "Internal error", nil)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, endpoint string, status int, payload any) {
	httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, endpoint string, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	h.writeJSON(w, r, endpoint, status, resp)
}
