// Package reservation manages temporary holds that move funds from an
// account's available balance into its reserved balance. Every movement is a
// ledger transaction; the package never touches balances directly.
package reservation

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrReservationExpired is returned when a commit or release races the
	// sweep and loses: the hold was already returned to available. Benign,
	// resolved by the typed error rather than a corrupted balance.
	ErrReservationExpired = errors.New("reservation expired")

	// ErrNotActive indicates the reservation already reached a terminal state
	// other than Expired.
	ErrNotActive = errors.New("reservation is not active")

	// ErrDuplicateHold is returned when an account already has an active hold
	// for the same purpose and stacking was not requested.
	ErrDuplicateHold = errors.New("active reservation exists for purpose")

	// ErrNotFound indicates an unknown reservation id.
	ErrNotFound = errors.New("reservation not found")

	// ErrStateChanged is the repository-level signal that a conditional
	// status transition lost a race. Callers translate it.
	ErrStateChanged = errors.New("reservation state changed")
)

// Reservation statuses. Transitions are one-way: Active is the only
// non-terminal state.
const (
	StatusActive    = "active"
	StatusCommitted = "committed"
	StatusReleased  = "released"
	StatusExpired   = "expired"
)

// Reservation is a temporary hold against an account's available balance.
// A zero ExpiresAt means the hold never times out; its owner (e.g. an escrow)
// controls its lifetime explicitly.
type Reservation struct {
	ID      string
	Account string
	Purpose string
	Amount  int64
	Status  string
	// Stacked marks a hold explicitly allowed to coexist with other active
	// holds on the same (account, purpose).
	Stacked   bool
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository persists reservations.
type Repository interface {
	// Create inserts the hold. For a non-stacked hold the repository itself
	// enforces at most one active hold per (account, purpose), returning
	// ErrDuplicateHold on conflict; concurrent creates must not both land.
	Create(ctx context.Context, r Reservation) error
	Get(ctx context.Context, id string) (Reservation, error)
	// Transition flips the status only if it currently equals from,
	// returning ErrStateChanged otherwise.
	Transition(ctx context.Context, id, from, to string) error
	FindActive(ctx context.Context, account, purpose string) (Reservation, bool, error)
	// ExpiredBefore lists active reservations whose non-zero expiry is at or
	// before the given instant.
	ExpiredBefore(ctx context.Context, now time.Time) ([]Reservation, error)
}
