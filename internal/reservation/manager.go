package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petaverse/peta_wallet/internal/ledger"
)

// Manager reserves, releases and commits holds by issuing ledger transactions.
type Manager struct {
	core   *ledger.Core
	repo   Repository
	logger *slog.Logger
}

// NewManager builds a reservation manager.
func NewManager(core *ledger.Core, repo Repository, logger *slog.Logger) *Manager {
	return &Manager{core: core, repo: repo, logger: logger}
}

// ReserveInput captures the data required to place a hold.
type ReserveInput struct {
	Account string
	Amount  int64
	Purpose string
	// TTL of zero or less creates a hold without a timeout.
	TTL   time.Duration
	Actor string
	// Stack permits more than one active hold per (account, purpose).
	Stack bool
}

// Reserve places a hold, moving amount from available to reserved on the
// account. Fails with ledger.ErrInsufficientFunds when the available balance
// cannot cover it.
func (m *Manager) Reserve(ctx context.Context, input ReserveInput) (Reservation, error) {
	if input.Amount <= 0 {
		return Reservation{}, ledger.ErrInvalidAmount
	}
	if input.Purpose == "" {
		return Reservation{}, fmt.Errorf("purpose is required")
	}

	// Cheap pre-check; the repository's conditional Create is what actually
	// arbitrates concurrent holds.
	if !input.Stack {
		if _, exists, err := m.repo.FindActive(ctx, input.Account, input.Purpose); err != nil {
			return Reservation{}, err
		} else if exists {
			return Reservation{}, ErrDuplicateHold
		}
	}

	r := Reservation{
		ID:        uuid.NewString(),
		Account:   input.Account,
		Purpose:   input.Purpose,
		Amount:    input.Amount,
		Status:    StatusActive,
		Stacked:   input.Stack,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if input.TTL > 0 {
		r.ExpiresAt = r.CreatedAt.Add(input.TTL)
	}

	_, err := m.core.Execute(ctx, ledger.Request{
		ClientTxID: "reserve:" + r.ID,
		Steps:      []ledger.Step{{Account: input.Account, Kind: ledger.StepReserve, Amount: input.Amount}},
		Actor:      input.Actor,
		Reference:  r.ID,
	})
	if err != nil {
		return Reservation{}, err
	}

	if err := m.repo.Create(ctx, r); err != nil {
		// The hold is on the ledger but the row did not land; release it so
		// no funds stay stuck. Losing the duplicate race is a normal outcome.
		if !errors.Is(err, ErrDuplicateHold) {
			m.logger.Error("reservation row create failed, releasing hold", "reservation_id", r.ID, "error", err)
		}
		m.releaseFunds(ctx, r, "unwind")
		return Reservation{}, err
	}

	return r, nil
}

// Get returns the reservation by id.
func (m *Manager) Get(ctx context.Context, id string) (Reservation, error) {
	return m.repo.Get(ctx, id)
}

// Release returns an active hold to the account's available balance.
func (m *Manager) Release(ctx context.Context, id, actor string) error {
	r, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := m.repo.Transition(ctx, id, StatusActive, StatusReleased); err != nil {
		return m.asTerminalError(ctx, id, err)
	}

	if _, err := m.core.Execute(ctx, ledger.Request{
		ClientTxID: "resrelease:" + id,
		Steps:      []ledger.Step{{Account: r.Account, Kind: ledger.StepRelease, Amount: r.Amount}},
		Actor:      actor,
		Reference:  id,
	}); err != nil {
		return err
	}
	return nil
}

// Commit converts the hold into a capture moving the reserved amount to the
// destination account. Fails with ErrReservationExpired when the sweep
// already released it.
func (m *Manager) Commit(ctx context.Context, id, destination, actor string) error {
	r, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := m.repo.Transition(ctx, id, StatusActive, StatusCommitted); err != nil {
		return m.asTerminalError(ctx, id, err)
	}

	if _, err := m.core.Execute(ctx, ledger.Request{
		ClientTxID: "rescommit:" + id,
		Steps: []ledger.Step{
			{Account: r.Account, Kind: ledger.StepCapture, Amount: r.Amount},
			{Account: destination, Kind: ledger.StepTransfer, Amount: r.Amount},
		},
		Actor:     actor,
		Reference: id,
	}); err != nil {
		return err
	}
	return nil
}

// expire is the sweep-only transition for overdue holds.
func (m *Manager) expire(ctx context.Context, r Reservation) error {
	if err := m.repo.Transition(ctx, r.ID, StatusActive, StatusExpired); err != nil {
		if errors.Is(err, ErrStateChanged) {
			return nil // someone committed or released it first
		}
		return err
	}
	return m.releaseFunds(ctx, r, "expire")
}

func (m *Manager) releaseFunds(ctx context.Context, r Reservation, reason string) error {
	_, err := m.core.Execute(ctx, ledger.Request{
		ClientTxID: "res" + reason + ":" + r.ID,
		Steps:      []ledger.Step{{Account: r.Account, Kind: ledger.StepRelease, Amount: r.Amount}},
		Actor:      "reservation-sweep",
		Reference:  r.ID,
	})
	if err != nil {
		m.logger.Error("hold release failed", "reservation_id", r.ID, "reason", reason, "error", err)
	}
	return err
}

func (m *Manager) asTerminalError(ctx context.Context, id string, err error) error {
	if !errors.Is(err, ErrStateChanged) {
		return err
	}
	current, getErr := m.repo.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	if current.Status == StatusExpired {
		return ErrReservationExpired
	}
	return ErrNotActive
}
