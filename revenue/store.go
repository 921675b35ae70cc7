package revenue

import (
	"context"
	"time"
)

// Filter narrows revenue queries. Nil fields match everything.
type Filter struct {
	ClientUserID *string
	From         *time.Time
	To           *time.Time
}

func (f Filter) Matches(r Record) bool {
	if f.ClientUserID != nil && r.ClientUserID != *f.ClientUserID {
		return false
	}
	if f.From != nil && r.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && r.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// Store persists revenue records. Records are never deleted; the only
// write after creation is a status transition.
type Store interface {
	// Create persists a validated record. Status defaults to pending.
	Create(ctx context.Context, r Record) error

	// Get returns the record, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// SetStatus transitions a record. Legal moves are
	// pending->completed and completed->reversed; anything else is
	// ErrInvalidTransition.
	SetStatus(ctx context.Context, id string, status Status) error

	// Completed returns all completed records matching the filter,
	// oldest first.
	Completed(ctx context.Context, f Filter) ([]Record, error)
}

// AllowedTransition reports whether from -> to is a legal move.
func AllowedTransition(from, to Status) bool {
	switch {
	case from == StatusPending && to == StatusCompleted:
		return true
	case from == StatusCompleted && to == StatusReversed:
		return true
	}
	return false
}
