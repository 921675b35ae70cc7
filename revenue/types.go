/*
Package revenue tracks platform revenue records and aggregates them.

PURPOSE:
  One Record per completed monetized event - a lead-magnet purchase or
  a service order - holding the commission the platform took and the
  cashback granted to the client. Records are never deleted; a refund
  transitions the record to reversed and it drops out of the rollups.

SOURCE PARTITION:
  Exactly one of LeadMagnetPurchaseID / OrderID is set. Every record
  is therefore either a lead-magnet or a service record, never both
  and never neither, which makes the by-type breakdown total.
*/
package revenue

import (
	"errors"
	"time"

	"github.com/warp/points-ledger/ledger"
)

// Status is the lifecycle state of a revenue record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusReversed  Status = "reversed"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted || s == StatusReversed
}

// SourceType partitions records by origin event.
type SourceType string

const (
	SourceLeadMagnet SourceType = "lead_magnet"
	SourceService    SourceType = "service"
)

var (
	// ErrNotFound is returned for unknown record IDs.
	ErrNotFound = errors.New("revenue record not found")

	// ErrInvalidRecord is returned when a record violates the
	// exactly-one-source rule or carries negative amounts.
	ErrInvalidRecord = errors.New("invalid revenue record")

	// ErrInvalidTransition is returned for status transitions other
	// than pending->completed and completed->reversed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Record is one platform revenue event. Amounts are non-negative
// decimals; reversal is a status change, not a sign flip.
type Record struct {
	ID                   string
	ClientUserID         string
	Commission           ledger.Amount
	Cashback             ledger.Amount
	Status               Status
	LeadMagnetPurchaseID string // mutually exclusive with OrderID
	OrderID              string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Source reports which side of the partition the record falls on.
func (r Record) Source() SourceType {
	if r.LeadMagnetPurchaseID != "" {
		return SourceLeadMagnet
	}
	return SourceService
}

// Validate enforces the structural invariants of a record.
func (r Record) Validate() error {
	if r.ClientUserID == "" {
		return ErrInvalidRecord
	}
	if (r.LeadMagnetPurchaseID == "") == (r.OrderID == "") {
		return ErrInvalidRecord
	}
	if r.Commission.IsNegative() || r.Cashback.IsNegative() {
		return ErrInvalidRecord
	}
	if r.Status != "" && !r.Status.Valid() {
		return ErrInvalidRecord
	}
	return nil
}
