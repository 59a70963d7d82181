// Package escrow implements the two-party conditional transfer state machine
// built on reservations: funds are held on the buyer until release conditions
// or the auto-release deadline move them to the seller, or a refund returns
// them.
package escrow

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidTransition is returned when an action does not match the
	// escrow's current state. Transitions never silently no-op.
	ErrInvalidTransition = errors.New("invalid escrow transition")

	// ErrNotFound indicates an unknown escrow id.
	ErrNotFound = errors.New("escrow not found")

	// ErrStateChanged is the repository-level signal that a conditional
	// update lost a race. The engine translates it to ErrInvalidTransition.
	ErrStateChanged = errors.New("escrow state changed")
)

// Escrow statuses. Created → Funded → {Released | Refunded | Disputed};
// Disputed → {Released | Refunded}; Released/Refunded → Closed (terminal).
const (
	StatusCreated  = "created"
	StatusFunded   = "funded"
	StatusDisputed = "disputed"
	StatusReleased = "released"
	StatusRefunded = "refunded"
	StatusClosed   = "closed"
)

// Outcome names the arbiter's resolution of an escrow.
type Outcome string

const (
	OutcomeReleased Outcome = "released"
	OutcomeRefunded Outcome = "refunded"
)

// Escrow is a conditional transfer between a buyer and a seller account.
// While Funded or Disputed the amount is held as a reservation on the buyer,
// excluded from the buyer's available balance.
type Escrow struct {
	ID            string
	Buyer         string
	Seller        string
	Amount        int64
	Conditions    []string
	Deadline      time.Time
	Status        string
	ReservationID string
	DisputedBy    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repository persists escrows.
type Repository interface {
	Create(ctx context.Context, e Escrow) error
	Get(ctx context.Context, id string) (Escrow, error)
	// Update persists e only while the stored status equals expectStatus,
	// returning ErrStateChanged otherwise.
	Update(ctx context.Context, e Escrow, expectStatus string) error
	// ListFunded lists funded escrows, for the auto-release pass.
	ListFunded(ctx context.Context) ([]Escrow, error)
}

// ConditionEvaluator decides whether an escrow's named release conditions are
// all satisfied. It is an external collaborator; the default implementation
// treats an escrow with no conditions as never condition-released, leaving
// the deadline as the only automatic trigger.
type ConditionEvaluator interface {
	Satisfied(ctx context.Context, e Escrow) (bool, error)
}

// DeadlineOnly is the default ConditionEvaluator: conditions never resolve on
// their own and only the deadline auto-releases.
type DeadlineOnly struct{}

// Satisfied always reports false.
func (DeadlineOnly) Satisfied(context.Context, Escrow) (bool, error) { return false, nil }
