package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petaverse/peta_wallet/internal/notification"
	"github.com/petaverse/peta_wallet/internal/reservation"
)

// Engine drives the escrow state machine. All fund movements go through the
// reservation manager (and thus the ledger); the engine itself only flips
// states and emits notifications.
type Engine struct {
	reservations *reservation.Manager
	repo         Repository
	conditions   ConditionEvaluator
	notifier     notification.Notifier
	logger       *slog.Logger
}

// NewEngine builds an escrow engine. A nil evaluator defaults to
// DeadlineOnly.
func NewEngine(reservations *reservation.Manager, repo Repository, conditions ConditionEvaluator, notifier notification.Notifier, logger *slog.Logger) *Engine {
	if conditions == nil {
		conditions = DeadlineOnly{}
	}
	return &Engine{reservations: reservations, repo: repo, conditions: conditions, notifier: notifier, logger: logger}
}

// CreateInput captures the data required to open an escrow.
type CreateInput struct {
	Buyer      string
	Seller     string
	Amount     int64
	Conditions []string
	Deadline   time.Time
	Actor      string
}

// Create opens an escrow and immediately attempts to fund it from the buyer.
// On funding failure (typically insufficient funds) the escrow stays Created
// and the error is returned; Fund can retry later.
func (e *Engine) Create(ctx context.Context, input CreateInput) (Escrow, error) {
	if input.Amount <= 0 {
		return Escrow{}, fmt.Errorf("amount must be positive")
	}
	if input.Buyer == "" || input.Seller == "" || input.Buyer == input.Seller {
		return Escrow{}, fmt.Errorf("escrow requires distinct buyer and seller accounts")
	}
	if !input.Deadline.After(time.Now()) {
		return Escrow{}, fmt.Errorf("deadline must be in the future")
	}

	esc := Escrow{
		ID:         uuid.NewString(),
		Buyer:      input.Buyer,
		Seller:     input.Seller,
		Amount:     input.Amount,
		Conditions: input.Conditions,
		Deadline:   input.Deadline.UTC(),
		Status:     StatusCreated,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := e.repo.Create(ctx, esc); err != nil {
		return Escrow{}, err
	}

	funded, err := e.fund(ctx, esc, input.Actor)
	if err != nil {
		return esc, err
	}
	return funded, nil
}

// Fund retries funding of an escrow that is still Created.
func (e *Engine) Fund(ctx context.Context, id, actor string) (Escrow, error) {
	esc, err := e.repo.Get(ctx, id)
	if err != nil {
		return Escrow{}, err
	}
	if esc.Status != StatusCreated {
		return Escrow{}, ErrInvalidTransition
	}
	return e.fund(ctx, esc, actor)
}

func (e *Engine) fund(ctx context.Context, esc Escrow, actor string) (Escrow, error) {
	// The hold carries no ttl: the escrow deadline is enforced by the
	// auto-release pass, and a dispute may hold funds past it.
	res, err := e.reservations.Reserve(ctx, reservation.ReserveInput{
		Account: esc.Buyer,
		Amount:  esc.Amount,
		Purpose: "escrow:" + esc.ID,
		Actor:   actor,
	})
	if err != nil {
		if errors.Is(err, reservation.ErrDuplicateHold) {
			// Another funder's hold is already in place.
			return Escrow{}, ErrInvalidTransition
		}
		return Escrow{}, err
	}

	esc.Status = StatusFunded
	esc.ReservationID = res.ID
	esc.UpdatedAt = time.Now().UTC()
	if err := e.repo.Update(ctx, esc, StatusCreated); err != nil {
		if errors.Is(err, ErrStateChanged) {
			// Another funder won; give this hold back.
			if relErr := e.reservations.Release(ctx, res.ID, actor); relErr != nil {
				e.logger.Error("duplicate funding release failed", "escrow_id", esc.ID, "error", relErr)
			}
			return Escrow{}, ErrInvalidTransition
		}
		return Escrow{}, err
	}

	e.notify(ctx, notification.KindEscrowFunded, esc.Seller, esc)
	return esc, nil
}

// Get returns the escrow by id.
func (e *Engine) Get(ctx context.Context, id string) (Escrow, error) {
	return e.repo.Get(ctx, id)
}

// Dispute suspends the auto-release timer. Only a Funded escrow can be
// disputed, and only before the funds moved.
func (e *Engine) Dispute(ctx context.Context, id, party string) (Escrow, error) {
	esc, err := e.repo.Get(ctx, id)
	if err != nil {
		return Escrow{}, err
	}
	if esc.Status != StatusFunded {
		return Escrow{}, ErrInvalidTransition
	}

	esc.Status = StatusDisputed
	esc.DisputedBy = party
	esc.UpdatedAt = time.Now().UTC()
	if err := e.repo.Update(ctx, esc, StatusFunded); err != nil {
		if errors.Is(err, ErrStateChanged) {
			return Escrow{}, ErrInvalidTransition
		}
		return Escrow{}, err
	}

	e.notify(ctx, notification.KindEscrowDisputed, esc.Seller, esc)
	return esc, nil
}

// Resolve finishes a Funded or Disputed escrow: Released commits the buyer's
// hold to the seller, Refunded returns it to the buyer. The escrow then
// closes; no further mutation is permitted.
//
// The outcome is claimed on the escrow before any funds move. A failure after
// the claim leaves the escrow in the outcome state with its hold possibly
// unconsumed; retrying Resolve with the same outcome resumes from there
// instead of wedging.
func (e *Engine) Resolve(ctx context.Context, id string, outcome Outcome, actor string) (Escrow, error) {
	return e.resolve(ctx, id, outcome, actor, true)
}

// resolve claims the outcome and moves the funds. fromDisputed is false for
// the auto-release pass, which must never touch a disputed escrow.
func (e *Engine) resolve(ctx context.Context, id string, outcome Outcome, actor string, fromDisputed bool) (Escrow, error) {
	if outcome != OutcomeReleased && outcome != OutcomeRefunded {
		return Escrow{}, fmt.Errorf("unknown outcome %q", outcome)
	}

	esc, err := e.repo.Get(ctx, id)
	if err != nil {
		return Escrow{}, err
	}

	switch esc.Status {
	case StatusDisputed:
		if !fromDisputed {
			return Escrow{}, ErrInvalidTransition
		}
		fallthrough
	case StatusFunded:
		prev := esc.Status
		esc.Status = string(outcome)
		esc.UpdatedAt = time.Now().UTC()
		if err := e.repo.Update(ctx, esc, prev); err != nil {
			if errors.Is(err, ErrStateChanged) {
				return Escrow{}, ErrInvalidTransition
			}
			return Escrow{}, err
		}
	case string(outcome):
		// An earlier resolution was interrupted after claiming this outcome;
		// resume it.
	default:
		return Escrow{}, ErrInvalidTransition
	}

	// An ErrNotActive hold here means a previous attempt already moved the
	// funds; the escrow claim guarantees nothing else touched it.
	var kind string
	switch outcome {
	case OutcomeReleased:
		err := e.reservations.Commit(ctx, esc.ReservationID, esc.Seller, actor)
		if err != nil && !errors.Is(err, reservation.ErrNotActive) {
			return Escrow{}, err
		}
		kind = notification.KindEscrowReleased
	case OutcomeRefunded:
		err := e.reservations.Release(ctx, esc.ReservationID, actor)
		if err != nil && !errors.Is(err, reservation.ErrNotActive) {
			return Escrow{}, err
		}
		kind = notification.KindEscrowRefunded
	}

	e.notify(ctx, kind, esc.Buyer, esc)

	esc.Status = StatusClosed
	esc.UpdatedAt = time.Now().UTC()
	if err := e.repo.Update(ctx, esc, string(outcome)); err != nil {
		return Escrow{}, err
	}
	return esc, nil
}

// AutoRelease resolves every funded escrow whose conditions are satisfied or
// whose deadline has passed without an open dispute. Run from the scheduler.
func (e *Engine) AutoRelease(ctx context.Context, now time.Time) error {
	funded, err := e.repo.ListFunded(ctx)
	if err != nil {
		return err
	}
	for _, esc := range funded {
		due := !esc.Deadline.After(now)
		if !due {
			ok, err := e.conditions.Satisfied(ctx, esc)
			if err != nil {
				e.logger.Error("condition evaluation failed", "escrow_id", esc.ID, "error", err)
				continue
			}
			due = ok
		}
		if !due {
			continue
		}
		if _, err := e.resolve(ctx, esc.ID, OutcomeReleased, "escrow-auto-release", false); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue // disputed or resolved since listing
			}
			e.logger.Error("escrow auto-release failed", "escrow_id", esc.ID, "error", err)
		}
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, kind, destination string, esc Escrow) {
	if e.notifier == nil {
		return
	}
	msg := notification.Message{
		Kind:        kind,
		Destination: destination,
		Body:        fmt.Sprintf("escrow %s for %d now %s", esc.ID, esc.Amount, esc.Status),
	}
	if err := e.notifier.Send(ctx, msg); err != nil {
		e.logger.Warn("escrow notification failed", "escrow_id", esc.ID, "kind", kind, "error", err)
	}
}
