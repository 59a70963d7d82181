package fraud

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

type memoryRepository struct {
	mu     sync.RWMutex
	byUser map[string][]Assessment
}

// NewMemoryRepository creates an in-memory assessment history for tests and
// dev mode.
func NewMemoryRepository() Repository {
	return &memoryRepository{byUser: make(map[string][]Assessment)}
}

func (r *memoryRepository) Save(_ context.Context, a Assessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[a.Principal] = append(r.byUser[a.Principal], a)
	return nil
}

func (r *memoryRepository) History(_ context.Context, principal string, limit int) ([]Assessment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	history := r.byUser[principal]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]Assessment, len(history))
	copy(out, history)
	return out, nil
}

// PostgresRepository stores assessments in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save inserts an assessment row.
func (r *PostgresRepository) Save(ctx context.Context, a Assessment) error {
	factors, err := json.Marshal(a.Factors)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO fraud_assessments
        (id, principal, account, score, factors, level, at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Principal, a.Account, a.Score, factors, a.Level, a.At)
	return err
}

// History returns the principal's most recent assessments, oldest first.
func (r *PostgresRepository) History(ctx context.Context, principal string, limit int) ([]Assessment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT id, principal, account, score, factors, level, at
        FROM fraud_assessments WHERE principal = $1 ORDER BY at DESC LIMIT $2`, principal, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []Assessment
	for rows.Next() {
		var a Assessment
		var factors []byte
		if err := rows.Scan(&a.ID, &a.Principal, &a.Account, &a.Score, &factors, &a.Level, &a.At); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(factors, &a.Factors); err != nil {
			return nil, err
		}
		history = append(history, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse to oldest-first
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}
