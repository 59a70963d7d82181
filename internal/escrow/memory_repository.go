package escrow

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	escrows map[string]Escrow
}

// NewMemoryRepository creates an in-memory escrow repository for tests and
// dev mode.
func NewMemoryRepository() Repository {
	return &memoryRepository{escrows: make(map[string]Escrow)}
}

func (r *memoryRepository) Create(_ context.Context, e Escrow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escrows[e.ID] = e
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Escrow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.escrows[id]
	if !ok {
		return Escrow{}, ErrNotFound
	}
	return e, nil
}

func (r *memoryRepository) Update(_ context.Context, e Escrow, expectStatus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.escrows[e.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != expectStatus {
		return ErrStateChanged
	}
	r.escrows[e.ID] = e
	return nil
}

func (r *memoryRepository) ListFunded(_ context.Context) ([]Escrow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var funded []Escrow
	for _, e := range r.escrows {
		if e.Status == StatusFunded {
			funded = append(funded, e)
		}
	}
	return funded, nil
}
