package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/petaverse/peta_wallet/internal/audit"
)

// Failure codes stored on rejected records so an idempotent replay can
// reproduce the original typed error.
const (
	failureInsufficientFunds = "insufficient_funds"
	failureInvalidStepSum    = "invalid_step_sum"
	failureUnknownAccount    = "unknown_account"
	failureInvalidAmount     = "invalid_amount"
	failurePrivilege         = "privilege_required"
	failureEmpty             = "empty_transaction"
)

// Core executes atomic multi-account transactions against the balance store.
// It is the sole mutator of balances: reservations, escrows and transfers all
// route their movements through Execute.
type Core struct {
	store      Store
	records    Records
	journal    audit.Journal
	maxRetries int
	logger     *slog.Logger
}

// NewCore wires a ledger core. maxRetries bounds the optimistic retry loop;
// values below one are clamped to one attempt.
func NewCore(store Store, records Records, journal audit.Journal, maxRetries int, logger *slog.Logger) *Core {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Core{store: store, records: records, journal: journal, maxRetries: maxRetries, logger: logger}
}

// GetBalance returns the account's balance snapshot, creating the account on
// first reference.
func (c *Core) GetBalance(ctx context.Context, account string) (Balance, error) {
	bal, err := c.store.Get(ctx, account)
	if errors.Is(err, ErrUnknownAccount) {
		if err := c.store.Ensure(ctx, account); err != nil {
			return Balance{}, err
		}
		return c.store.Get(ctx, account)
	}
	return bal, err
}

// delta accumulates the projected effect of a transaction on one account.
type delta struct {
	available int64
	reserved  int64
	// privileged marks accounts touched by mint/burn, for which lazy
	// creation is disabled.
	privileged bool
}

// Execute validates and applies all steps of the request atomically.
//
// The client transaction id is claimed with a pending record before anything
// else: of two in-flight executions carrying the same id, exactly one wins
// the claim and mutates balances. The loser reads back the winner's outcome,
// or gets ErrTransactionInFlight while that outcome does not exist yet.
//
// Balance writes are conditioned on the versions read at the top of each
// attempt; a conflict on any touched account aborts the attempt and the whole
// transaction is retried from a fresh read, up to the configured budget.
// Validation failures are recorded as rejected and never mutate balances.
func (c *Core) Execute(ctx context.Context, req Request) (Record, error) {
	if req.ClientTxID == "" {
		req.ClientTxID = uuid.NewString()
	}

	rec := Record{
		ID:         uuid.NewString(),
		ClientTxID: req.ClientTxID,
		Steps:      req.Steps,
		Status:     StatusPending,
		Actor:      req.Actor,
		Reference:  req.Reference,
		CreatedAt:  time.Now().UTC(),
	}
	claimed, err := c.records.Begin(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	if !claimed {
		prior, ok, err := c.records.Find(ctx, req.ClientTxID)
		if err != nil {
			return Record{}, err
		}
		if !ok || prior.Status == StatusPending {
			return prior, ErrTransactionInFlight
		}
		return prior, failureError(prior.FailureCode)
	}

	if err := c.validateShape(req); err != nil {
		return c.reject(ctx, rec, err)
	}

	deltas, accounts := projectDeltas(req.Steps)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepJitter(ctx, attempt); err != nil {
				c.abandon(ctx, req.ClientTxID)
				return Record{}, err
			}
		}

		balances, err := c.readBalances(ctx, accounts, deltas)
		if err != nil {
			var vErr validationErr
			if errors.As(err, &vErr) {
				return c.reject(ctx, rec, vErr.err)
			}
			c.abandon(ctx, req.ClientTxID)
			return Record{}, err
		}

		writes := make([]Write, 0, len(accounts))
		for _, account := range accounts {
			bal := balances[account]
			d := deltas[account]
			next := Write{
				Account:     account,
				Available:   bal.Available + d.available,
				Reserved:    bal.Reserved + d.reserved,
				PrevVersion: bal.Version,
			}
			if next.Available < 0 || next.Reserved < 0 {
				return c.reject(ctx, rec, ErrInsufficientFunds)
			}
			writes = append(writes, next)
		}

		if err := c.store.Apply(ctx, writes); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				lastErr = err
				continue
			}
			c.abandon(ctx, req.ClientTxID)
			return Record{}, err
		}

		rec.Status = StatusApplied
		rec.CompletedAt = time.Now().UTC()

		entries := make([]audit.Entry, 0, len(writes))
		for _, w := range writes {
			before := balances[w.Account]
			entries = append(entries, audit.Entry{
				TransactionID:   rec.ID,
				Account:         w.Account,
				AvailableBefore: before.Available,
				AvailableAfter:  w.Available,
				ReservedBefore:  before.Reserved,
				ReservedAfter:   w.Reserved,
				Version:         w.PrevVersion + 1,
				Actor:           req.Actor,
				At:              rec.CompletedAt,
			})
		}
		if err := c.journal.Append(ctx, entries); err != nil {
			// Balances already moved; surfacing the journal failure without a
			// record would invite a client retry that double-applies.
			c.logger.Error("audit append failed", "tx_id", rec.ID, "error", err)
		}

		if err := c.records.Finish(ctx, rec); err != nil {
			c.logger.Error("transaction record save failed", "tx_id", rec.ID, "error", err)
		}
		return rec, nil
	}

	c.logger.Warn("transaction retries exhausted",
		"client_tx_id", req.ClientTxID, "attempts", c.maxRetries, "error", lastErr)
	c.abandon(ctx, req.ClientTxID)
	return Record{}, ErrConcurrencyConflict
}

// abandon releases the idempotency claim after a non-terminal failure, so the
// caller can retry under the same client transaction id. It runs detached
// from the request context, which may already be cancelled.
func (c *Core) abandon(ctx context.Context, clientTxID string) {
	if err := c.records.Abandon(context.WithoutCancel(ctx), clientTxID); err != nil {
		c.logger.Error("pending record abandon failed", "client_tx_id", clientTxID, "error", err)
	}
}

func (c *Core) validateShape(req Request) error {
	if len(req.Steps) == 0 {
		return ErrEmptyTransaction
	}

	var transferSum, captureSum int64
	for _, s := range req.Steps {
		if s.Account == "" {
			return fmt.Errorf("%w: step missing account", ErrUnknownAccount)
		}
		switch s.Kind {
		case StepTransfer:
			if s.Amount == 0 {
				return ErrInvalidAmount
			}
			transferSum += s.Amount
		case StepReserve, StepRelease, StepCapture:
			if s.Amount <= 0 {
				return ErrInvalidAmount
			}
			if s.Kind == StepCapture {
				captureSum += s.Amount
			}
		case StepMint, StepBurn:
			if s.Amount <= 0 {
				return ErrInvalidAmount
			}
			if !req.Privileged {
				return ErrPrivilegeRequired
			}
		default:
			return fmt.Errorf("%w: unknown step kind %q", ErrInvalidAmount, s.Kind)
		}
	}

	// Conservation of value: transfers must balance, with captured funds
	// counting as the debit side of their paired credit. Mint and burn are
	// the explicit, privileged exceptions.
	if transferSum != captureSum {
		return ErrInvalidStepSum
	}
	return nil
}

type validationErr struct{ err error }

func (v validationErr) Error() string { return v.err.Error() }
func (v validationErr) Unwrap() error { return v.err }

func (c *Core) readBalances(ctx context.Context, accounts []string, deltas map[string]delta) (map[string]Balance, error) {
	balances := make(map[string]Balance, len(accounts))
	for _, account := range accounts {
		bal, err := c.store.Get(ctx, account)
		if errors.Is(err, ErrUnknownAccount) {
			if deltas[account].privileged {
				return nil, validationErr{fmt.Errorf("%w: %s", ErrUnknownAccount, account)}
			}
			if err := c.store.Ensure(ctx, account); err != nil {
				return nil, err
			}
			bal, err = c.store.Get(ctx, account)
			if err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		}
		balances[account] = bal
	}
	return balances, nil
}

// reject finalizes the claimed record as rejected (for idempotent replay) and
// returns the typed error. No balance is mutated.
func (c *Core) reject(ctx context.Context, rec Record, cause error) (Record, error) {
	rec.Status = StatusRejected
	rec.FailureCode = failureCode(cause)
	rec.CompletedAt = time.Now().UTC()
	if err := c.records.Finish(ctx, rec); err != nil {
		c.logger.Error("rejection record save failed", "client_tx_id", rec.ClientTxID, "error", err)
	}
	return rec, cause
}

// projectDeltas folds steps into one net movement per account and returns the
// distinct accounts in ascending order, fixing a global write order so
// overlapping transactions resolve through version conflicts instead of
// deadlock.
func projectDeltas(steps []Step) (map[string]delta, []string) {
	deltas := make(map[string]delta)
	for _, s := range steps {
		d := deltas[s.Account]
		switch s.Kind {
		case StepTransfer:
			d.available += s.Amount
		case StepReserve:
			d.available -= s.Amount
			d.reserved += s.Amount
		case StepRelease:
			d.available += s.Amount
			d.reserved -= s.Amount
		case StepCapture:
			d.reserved -= s.Amount
		case StepMint:
			d.available += s.Amount
			d.privileged = true
		case StepBurn:
			d.available -= s.Amount
			d.privileged = true
		}
		deltas[s.Account] = d
	}

	accounts := make([]string, 0, len(deltas))
	for account := range deltas {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	return deltas, accounts
}

func sleepJitter(ctx context.Context, attempt int) error {
	// Cap the exponent so large retry budgets don't overflow the shift.
	if attempt > 8 {
		attempt = 8
	}
	base := time.Millisecond << uint(attempt)
	jitter := time.Duration(rand.Int63n(int64(base)))
	select {
	case <-time.After(base + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func failureCode(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return failureInsufficientFunds
	case errors.Is(err, ErrInvalidStepSum):
		return failureInvalidStepSum
	case errors.Is(err, ErrUnknownAccount):
		return failureUnknownAccount
	case errors.Is(err, ErrInvalidAmount):
		return failureInvalidAmount
	case errors.Is(err, ErrPrivilegeRequired):
		return failurePrivilege
	case errors.Is(err, ErrEmptyTransaction):
		return failureEmpty
	default:
		return "rejected"
	}
}

func failureError(code string) error {
	switch code {
	case "":
		return nil
	case failureInsufficientFunds:
		return ErrInsufficientFunds
	case failureInvalidStepSum:
		return ErrInvalidStepSum
	case failureUnknownAccount:
		return ErrUnknownAccount
	case failureInvalidAmount:
		return ErrInvalidAmount
	case failurePrivilege:
		return ErrPrivilegeRequired
	case failureEmpty:
		return ErrEmptyTransaction
	default:
		return errors.New(code)
	}
}
