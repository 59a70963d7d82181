// Package audit keeps the append-only journal of every balance mutation and
// the reconciliation pass that replays it against the live balance store.
package audit

import (
	"context"
	"errors"
	"time"
)

// ErrReconcileRunning is returned when a reconciliation pass is requested
// while another one is still in flight.
var ErrReconcileRunning = errors.New("reconciliation already running")

// Entry is one immutable journal record. It is never updated or deleted and
// is the sole source of truth for reconciliation. Entries for one account are
// totally ordered by the account's version counter.
type Entry struct {
	TransactionID   string
	Account         string
	AvailableBefore int64
	AvailableAfter  int64
	ReservedBefore  int64
	ReservedAfter   int64
	Version         int64
	Actor           string
	At              time.Time
}

// Journal is the append-only sink for audit entries.
type Journal interface {
	Append(ctx context.Context, entries []Entry) error
	// EntriesSince returns the account's entries with version greater than
	// afterVersion, in ascending version order.
	EntriesSince(ctx context.Context, account string, afterVersion int64) ([]Entry, error)
	// Accounts lists every account that has at least one journal entry.
	Accounts(ctx context.Context) ([]string, error)
}

// Checkpoint marks the last version at which an account's journal and live
// balance were known to agree.
type Checkpoint struct {
	Account   string
	Version   int64
	Available int64
	Reserved  int64
	UpdatedAt time.Time
}

// CheckpointStore persists reconciliation checkpoints.
type CheckpointStore interface {
	Get(ctx context.Context, account string) (Checkpoint, bool, error)
	Save(ctx context.Context, cp Checkpoint) error
}

// BalanceState is the live store's view of an account, as consumed by the
// reconciler.
type BalanceState struct {
	Available int64
	Reserved  int64
	Version   int64
}

// BalanceFunc reads the live balance for an account. ok is false when the
// account does not exist in the store.
type BalanceFunc func(ctx context.Context, account string) (state BalanceState, ok bool, err error)

// Discrepancy reports drift between the journal replay and the live store.
// It is never auto-corrected; resolving one is an operator action.
type Discrepancy struct {
	Account           string    `json:"account"`
	ExpectedAvailable int64     `json:"expected_available"`
	ExpectedReserved  int64     `json:"expected_reserved"`
	ActualAvailable   int64     `json:"actual_available"`
	ActualReserved    int64     `json:"actual_reserved"`
	ExpectedVersion   int64     `json:"expected_version"`
	ActualVersion     int64     `json:"actual_version"`
	DetectedAt        time.Time `json:"detected_at"`
}
