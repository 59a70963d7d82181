package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores escrows in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts an escrow row.
func (r *PostgresRepository) Create(ctx context.Context, e Escrow) error {
	_, err := r.db.Exec(ctx, `INSERT INTO escrows
        (id, buyer, seller, amount, conditions, deadline, status, reservation_id, disputed_by, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.Buyer, e.Seller, e.Amount, e.Conditions, e.Deadline.UTC(), e.Status,
		e.ReservationID, e.DisputedBy, e.CreatedAt.UTC(), e.UpdatedAt.UTC())
	return err
}

// Get fetches an escrow by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Escrow, error) {
	row := r.db.QueryRow(ctx, `SELECT id, buyer, seller, amount, conditions, deadline, status, reservation_id, disputed_by, created_at, updated_at
        FROM escrows WHERE id = $1`, id)
	return scanEscrow(row)
}

// Update persists the escrow only while the stored status matches.
func (r *PostgresRepository) Update(ctx context.Context, e Escrow, expectStatus string) error {
	tag, err := r.db.Exec(ctx, `UPDATE escrows
        SET status = $1, reservation_id = $2, disputed_by = $3, updated_at = $4
        WHERE id = $5 AND status = $6`,
		e.Status, e.ReservationID, e.DisputedBy, time.Now().UTC(), e.ID, expectStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, e.ID); err != nil {
			return err
		}
		return ErrStateChanged
	}
	return nil
}

// ListFunded lists funded escrows for the auto-release pass.
func (r *PostgresRepository) ListFunded(ctx context.Context) ([]Escrow, error) {
	rows, err := r.db.Query(ctx, `SELECT id, buyer, seller, amount, conditions, deadline, status, reservation_id, disputed_by, created_at, updated_at
        FROM escrows WHERE status = $1`, StatusFunded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var funded []Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		funded = append(funded, e)
	}
	return funded, rows.Err()
}

func scanEscrow(row pgx.Row) (Escrow, error) {
	var e Escrow
	err := row.Scan(&e.ID, &e.Buyer, &e.Seller, &e.Amount, &e.Conditions, &e.Deadline, &e.Status,
		&e.ReservationID, &e.DisputedBy, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Escrow{}, ErrNotFound
	}
	if err != nil {
		return Escrow{}, err
	}
	e.Deadline = e.Deadline.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}
