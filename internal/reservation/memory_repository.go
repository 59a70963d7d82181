package reservation

import (
	"context"
	"sync"
	"time"
)

type memoryRepository struct {
	mu           sync.RWMutex
	reservations map[string]Reservation
}

// NewMemoryRepository creates an in-memory reservation repository for tests
// and dev mode.
func NewMemoryRepository() Repository {
	return &memoryRepository{reservations: make(map[string]Reservation)}
}

func (r *memoryRepository) Create(_ context.Context, res Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !res.Stacked {
		for _, existing := range r.reservations {
			if existing.Account == res.Account && existing.Purpose == res.Purpose && existing.Status == StatusActive {
				return ErrDuplicateHold
			}
		}
	}
	r.reservations[res.ID] = res
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.reservations[id]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	return res, nil
}

func (r *memoryRepository) Transition(_ context.Context, id, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return ErrNotFound
	}
	if res.Status != from {
		return ErrStateChanged
	}
	res.Status = to
	res.UpdatedAt = time.Now().UTC()
	r.reservations[id] = res
	return nil
}

func (r *memoryRepository) FindActive(_ context.Context, account, purpose string) (Reservation, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, res := range r.reservations {
		if res.Account == account && res.Purpose == purpose && res.Status == StatusActive {
			return res, true, nil
		}
	}
	return Reservation{}, false, nil
}

func (r *memoryRepository) ExpiredBefore(_ context.Context, now time.Time) ([]Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var overdue []Reservation
	for _, res := range r.reservations {
		if res.Status == StatusActive && !res.ExpiresAt.IsZero() && !res.ExpiresAt.After(now) {
			overdue = append(overdue, res)
		}
	}
	return overdue, nil
}
