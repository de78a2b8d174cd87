package ledger

import (
	"context"
	"errors"
)

// ErrInsufficientCredits is returned by Deduct when the ledger balance
// cannot cover the requested amount.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Deduction is the outcome of an atomic bulk deduction.
type Deduction struct {
	DeductedMinutes  int `json:"deducted_minutes"`
	RemainingMinutes int `json:"remaining_minutes"`
	LeftoverSeconds  int `json:"leftover_seconds"`
}

// Store is the remote, authoritative record of a user's remaining
// interview time. SetRemaining is an idempotent set, not a relative
// decrement; Deduct is the atomic decrement used for fixed-cost
// actions such as question generation.
type Store interface {
	Balance(ctx context.Context, userID string) (minutes, leftoverSeconds int, err error)
	SetRemaining(ctx context.Context, userID string, minutes, seconds int) error
	Add(ctx context.Context, userID string, minutes int) error
	Deduct(ctx context.Context, userID string, totalSeconds int) (Deduction, error)
}
