package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores reservations in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a reservation row. A partial unique index on
// (account, purpose) WHERE status = 'active' AND NOT stacked arbitrates
// concurrent non-stacked holds; the losing insert maps to ErrDuplicateHold.
func (r *PostgresRepository) Create(ctx context.Context, res Reservation) error {
	var expires *time.Time
	if !res.ExpiresAt.IsZero() {
		t := res.ExpiresAt.UTC()
		expires = &t
	}
	_, err := r.db.Exec(ctx, `INSERT INTO reservations
        (id, account, purpose, amount, status, stacked, expires_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		res.ID, res.Account, res.Purpose, res.Amount, res.Status, res.Stacked, expires, res.CreatedAt.UTC(), res.UpdatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateHold
	}
	return err
}

// Get fetches a reservation by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Reservation, error) {
	row := r.db.QueryRow(ctx, `SELECT id, account, purpose, amount, status, stacked, expires_at, created_at, updated_at
        FROM reservations WHERE id = $1`, id)

	var res Reservation
	var expires *time.Time
	err := row.Scan(&res.ID, &res.Account, &res.Purpose, &res.Amount, &res.Status, &res.Stacked, &expires, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrNotFound
	}
	if err != nil {
		return Reservation{}, err
	}
	if expires != nil {
		res.ExpiresAt = expires.UTC()
	}
	return res, nil
}

// Transition conditionally flips the status; a zero-row update means the
// reservation either does not exist or already moved on.
func (r *PostgresRepository) Transition(ctx context.Context, id, from, to string) error {
	tag, err := r.db.Exec(ctx, `UPDATE reservations SET status = $1, updated_at = $2
        WHERE id = $3 AND status = $4`, to, time.Now().UTC(), id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrStateChanged
	}
	return nil
}

// FindActive returns the active hold for (account, purpose), if any.
func (r *PostgresRepository) FindActive(ctx context.Context, account, purpose string) (Reservation, bool, error) {
	row := r.db.QueryRow(ctx, `SELECT id, account, purpose, amount, status, stacked, expires_at, created_at, updated_at
        FROM reservations WHERE account = $1 AND purpose = $2 AND status = $3 LIMIT 1`,
		account, purpose, StatusActive)

	var res Reservation
	var expires *time.Time
	err := row.Scan(&res.ID, &res.Account, &res.Purpose, &res.Amount, &res.Status, &res.Stacked, &expires, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, false, nil
	}
	if err != nil {
		return Reservation{}, false, err
	}
	if expires != nil {
		res.ExpiresAt = expires.UTC()
	}
	return res, true, nil
}

// ExpiredBefore lists active reservations whose expiry has passed.
func (r *PostgresRepository) ExpiredBefore(ctx context.Context, now time.Time) ([]Reservation, error) {
	rows, err := r.db.Query(ctx, `SELECT id, account, purpose, amount, status, stacked, expires_at, created_at, updated_at
        FROM reservations WHERE status = $1 AND expires_at IS NOT NULL AND expires_at <= $2`,
		StatusActive, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overdue []Reservation
	for rows.Next() {
		var res Reservation
		var expires *time.Time
		if err := rows.Scan(&res.ID, &res.Account, &res.Purpose, &res.Amount, &res.Status, &res.Stacked, &expires, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		if expires != nil {
			res.ExpiresAt = expires.UTC()
		}
		overdue = append(overdue, res)
	}
	return overdue, rows.Err()
}
