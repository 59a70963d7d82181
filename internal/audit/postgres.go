package audit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresJournal stores audit entries in PostgreSQL, keyed by transaction id
// and account for efficient replay.
type PostgresJournal struct {
	db *pgxpool.Pool
}

// NewPostgresJournal constructs a Postgres-backed journal.
func NewPostgresJournal(db *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// Append inserts the entries. Rows are write-once; there is no update path.
func (j *PostgresJournal) Append(ctx context.Context, entries []Entry) error {
	tx, err := j.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, e := range entries {
		_, err := tx.Exec(ctx, `INSERT INTO audit_entries
            (id, transaction_id, account, available_before, available_after, reserved_before, reserved_after, version, actor, at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			uuid.New(), e.TransactionID, e.Account,
			e.AvailableBefore, e.AvailableAfter, e.ReservedBefore, e.ReservedAfter,
			e.Version, e.Actor, e.At)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// EntriesSince returns the account's entries past the given version in
// ascending version order.
func (j *PostgresJournal) EntriesSince(ctx context.Context, account string, afterVersion int64) ([]Entry, error) {
	rows, err := j.db.Query(ctx, `SELECT transaction_id, account, available_before, available_after,
            reserved_before, reserved_after, version, actor, at
        FROM audit_entries WHERE account = $1 AND version > $2 ORDER BY version ASC`, account, afterVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TransactionID, &e.Account, &e.AvailableBefore, &e.AvailableAfter,
			&e.ReservedBefore, &e.ReservedAfter, &e.Version, &e.Actor, &e.At); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Accounts lists every account present in the journal.
func (j *PostgresJournal) Accounts(ctx context.Context) ([]string, error) {
	rows, err := j.db.Query(ctx, `SELECT DISTINCT account FROM audit_entries ORDER BY account`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// PostgresCheckpoints stores reconciliation checkpoints.
type PostgresCheckpoints struct {
	db *pgxpool.Pool
}

// NewPostgresCheckpoints constructs a Postgres-backed checkpoint store.
func NewPostgresCheckpoints(db *pgxpool.Pool) *PostgresCheckpoints {
	return &PostgresCheckpoints{db: db}
}

// Get reads the account's checkpoint.
func (s *PostgresCheckpoints) Get(ctx context.Context, account string) (Checkpoint, bool, error) {
	row := s.db.QueryRow(ctx, `SELECT version, available, reserved, updated_at
        FROM reconcile_checkpoints WHERE account = $1`, account)
	cp := Checkpoint{Account: account}
	err := row.Scan(&cp.Version, &cp.Available, &cp.Reserved, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

// Save upserts the account's checkpoint.
func (s *PostgresCheckpoints) Save(ctx context.Context, cp Checkpoint) error {
	_, err := s.db.Exec(ctx, `INSERT INTO reconcile_checkpoints (account, version, available, reserved, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (account) DO UPDATE SET version = $2, available = $3, reserved = $4, updated_at = $5`,
		cp.Account, cp.Version, cp.Available, cp.Reserved, cp.UpdatedAt)
	return err
}
