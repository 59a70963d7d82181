package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientFunds occurs when a debiting step would drive an account's
	// available balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidStepSum indicates the transfer steps of a transaction do not
	// sum to zero, violating conservation of value.
	ErrInvalidStepSum = errors.New("transaction steps do not sum to zero")

	// ErrConcurrencyConflict is returned when the optimistic retry budget is
	// exhausted without a clean compare-and-swap of every touched account.
	ErrConcurrencyConflict = errors.New("concurrent balance update conflict")

	// ErrUnknownAccount is returned for privileged step kinds that reference
	// an account which does not exist; lazy creation is disabled for them.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrEmptyTransaction indicates a transaction with no steps.
	ErrEmptyTransaction = errors.New("transaction has no steps")

	// ErrInvalidAmount indicates a step amount outside its kind's valid range.
	ErrInvalidAmount = errors.New("invalid step amount")

	// ErrPrivilegeRequired indicates a mint or burn step from an unprivileged caller.
	ErrPrivilegeRequired = errors.New("mint/burn requires a privileged actor")

	// ErrVersionConflict is the store-level signal that an account version
	// moved between read and write. The core retries on it; callers never see it.
	ErrVersionConflict = errors.New("balance version conflict")

	// ErrTransactionInFlight is returned when a client transaction id is
	// resubmitted while the original execution has not reached a terminal
	// status yet. The caller retries with the same id once the outcome exists.
	ErrTransactionInFlight = errors.New("transaction outcome still pending")
)

// StepKind enumerates the balance movements a transaction step can express.
type StepKind string

const (
	// StepTransfer applies a signed amount to an account's available balance.
	StepTransfer StepKind = "transfer"
	// StepReserve moves amount from available to reserved on one account.
	StepReserve StepKind = "reserve"
	// StepRelease moves amount from reserved back to available on one account.
	StepRelease StepKind = "release"
	// StepCapture debits amount from reserved; it must be paired with a
	// crediting transfer step so the transaction still conserves value.
	StepCapture StepKind = "capture"
	// StepMint credits available out of nothing. Privileged.
	StepMint StepKind = "mint"
	// StepBurn debits available into nothing. Privileged.
	StepBurn StepKind = "burn"
)

// Transaction statuses.
const (
	StatusPending  = "pending"
	StatusApplied  = "applied"
	StatusRejected = "rejected"
)

// Step is one balance movement within an atomic transaction.
type Step struct {
	Account string
	Kind    StepKind
	// Amount is signed for transfer steps and strictly positive for every
	// other kind.
	Amount int64
}

// Request describes a transaction to execute atomically.
type Request struct {
	// ClientTxID is the caller-supplied idempotency key. Resubmitting an id
	// that already applied returns the original record without mutation.
	ClientTxID string
	Steps      []Step
	Actor      string
	// Privileged authorizes mint and burn steps.
	Privileged bool
	// Reference carries optional correlation metadata (escrow id, order id...).
	Reference string
}

// Record is the immutable outcome of an executed transaction.
type Record struct {
	ID          string
	ClientTxID  string
	Steps       []Step
	Status      string
	Actor       string
	Reference   string
	FailureCode string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Balance is one account's balance snapshot, stamped with the optimistic
// version the store conditions writes on.
type Balance struct {
	Account   string
	Available int64
	Reserved  int64
	Version   int64
}

// Write is a conditional balance update: it only lands if the account is
// still at PrevVersion, and bumps the version by one.
type Write struct {
	Account     string
	Available   int64
	Reserved    int64
	PrevVersion int64
}

// Store is the durable balance store. Apply must be atomic across all writes:
// either every account is updated or none is, and any stale PrevVersion must
// fail the whole batch with ErrVersionConflict.
type Store interface {
	Ensure(ctx context.Context, account string) error
	Get(ctx context.Context, account string) (Balance, error)
	Apply(ctx context.Context, writes []Write) error
}

// Records persists transaction outcomes keyed by the client transaction id.
// Begin is the idempotency gate: it must claim the id atomically so two
// executions of the same client transaction can never both proceed.
type Records interface {
	Find(ctx context.Context, clientTxID string) (Record, bool, error)
	// Begin inserts the pending record, claiming its client transaction id.
	// It reports false without error when the id is already claimed.
	Begin(ctx context.Context, rec Record) (bool, error)
	// Finish stores the terminal outcome of a previously begun record.
	Finish(ctx context.Context, rec Record) error
	// Abandon drops a still-pending claim whose execution ended without a
	// terminal outcome, so a retry under the same id can run.
	Abandon(ctx context.Context, clientTxID string) error
}
