package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists account balances in PostgreSQL. The version column
// drives the compare-and-swap: an update conditioned on a stale version
// matches zero rows and the whole batch rolls back.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed balance store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ensure guarantees a balance row exists for the account.
func (s *PostgresStore) Ensure(ctx context.Context, account string) error {
	_, err := s.db.Exec(ctx, `INSERT INTO balances (account, available, reserved, version)
        VALUES ($1, 0, 0, 0) ON CONFLICT (account) DO NOTHING`, account)
	return err
}

// Get reads the account's balance and version stamp.
func (s *PostgresStore) Get(ctx context.Context, account string) (Balance, error) {
	row := s.db.QueryRow(ctx, `SELECT available, reserved, version FROM balances WHERE account = $1`, account)
	bal := Balance{Account: account}
	if err := row.Scan(&bal.Available, &bal.Reserved, &bal.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
		}
		return Balance{}, err
	}
	return bal, nil
}

// Apply performs the conditional update of every touched account in one
// database transaction. Any stale version fails the batch with
// ErrVersionConflict and leaves no balance modified.
func (s *PostgresStore) Apply(ctx context.Context, writes []Write) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, w := range writes {
		tag, err := tx.Exec(ctx, `UPDATE balances
            SET available = $1, reserved = $2, version = version + 1
            WHERE account = $3 AND version = $4`,
			w.Available, w.Reserved, w.Account, w.PrevVersion)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrVersionConflict, w.Account)
		}
	}

	return tx.Commit(ctx)
}

// PostgresRecords persists transaction records keyed by client transaction id.
type PostgresRecords struct {
	db *pgxpool.Pool
}

// NewPostgresRecords constructs a Postgres-backed transaction record repository.
func NewPostgresRecords(db *pgxpool.Pool) *PostgresRecords {
	return &PostgresRecords{db: db}
}

// Find returns the recorded outcome for a client transaction id, if any.
func (r *PostgresRecords) Find(ctx context.Context, clientTxID string) (Record, bool, error) {
	row := r.db.QueryRow(ctx, `SELECT id, steps, status, actor, reference, failure_code, created_at, completed_at
        FROM ledger_transactions WHERE client_tx_id = $1`, clientTxID)

	rec := Record{ClientTxID: clientTxID}
	var steps []byte
	var completed *time.Time
	err := row.Scan(&rec.ID, &steps, &rec.Status, &rec.Actor, &rec.Reference, &rec.FailureCode, &rec.CreatedAt, &completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	if completed != nil {
		rec.CompletedAt = completed.UTC()
	}
	if err := json.Unmarshal(steps, &rec.Steps); err != nil {
		return Record{}, false, fmt.Errorf("decode steps for %s: %w", clientTxID, err)
	}
	return rec, true, nil
}

// Begin claims the client transaction id with a pending row. The unique
// constraint on client_tx_id arbitrates concurrent claims: only the insert
// that lands reports true.
func (r *PostgresRecords) Begin(ctx context.Context, rec Record) (bool, error) {
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return false, err
	}
	tag, err := r.db.Exec(ctx, `INSERT INTO ledger_transactions
        (id, client_tx_id, steps, status, actor, reference, failure_code, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (client_tx_id) DO NOTHING`,
		rec.ID, rec.ClientTxID, steps, rec.Status, rec.Actor, rec.Reference, rec.FailureCode, rec.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Finish records the terminal outcome on the pending row.
func (r *PostgresRecords) Finish(ctx context.Context, rec Record) error {
	_, err := r.db.Exec(ctx, `UPDATE ledger_transactions
        SET status = $1, failure_code = $2, completed_at = $3
        WHERE client_tx_id = $4 AND status = $5`,
		rec.Status, rec.FailureCode, rec.CompletedAt, rec.ClientTxID, StatusPending)
	return err
}

// Abandon removes a pending claim so a retry under the same id can run.
// Terminal rows are never touched.
func (r *PostgresRecords) Abandon(ctx context.Context, clientTxID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM ledger_transactions
        WHERE client_tx_id = $1 AND status = $2`, clientTxID, StatusPending)
	return err
}
