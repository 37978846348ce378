package calls

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("calls: record not found")
	ErrDuplicate     = errors.New("calls: external id already recorded")
	ErrInvalidRecord = errors.New("calls: invalid record")
)

// DefaultListLimit caps call log listings.
const DefaultListLimit = 100

// Mutator edits a record in place during Update. Returning an error aborts
// the update without writing.
type Mutator func(r *CallRecord) error

// Store is the only path to call records. Callers must not cache records
// across calls; Update always sees the current persisted row.
type Store interface {
	// Create inserts a new record. It returns ErrDuplicate when any external id
	// is already recorded.
	Create(ctx context.Context, r CallRecord) (CallRecord, error)
	FindByExternalID(ctx context.Context, id ExternalID) (CallRecord, error)
	// Update runs fn against the current row while holding it exclusively.
	Update(ctx context.Context, id ExternalID, fn Mutator) (CallRecord, error)
	// ListByOwner returns the owner's records, newest first.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]CallRecord, error)
}

func validateNew(r CallRecord) error {
	if r.ExternalID.IsZero() {
		return ErrInvalidRecord
	}
	if !r.Status.Valid() {
		return ErrInvalidRecord
	}
	if r.Direction != DirectionInbound && r.Direction != DirectionOutbound {
		return ErrInvalidRecord
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}
