package wallet

import (
	"context"
	"fmt"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	wallets map[string]Wallet
}

// NewMemoryRepository provides an in-memory wallet store for tests and dev
// mode.
func NewMemoryRepository() Repository {
	return &memoryRepository{wallets: make(map[string]Wallet)}
}

func (r *memoryRepository) Create(_ context.Context, wallet Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.wallets[wallet.ID]; exists {
		return fmt.Errorf("wallet %s already exists", wallet.ID)
	}
	r.wallets[wallet.ID] = wallet
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wallet, exists := r.wallets[id]
	if !exists {
		return Wallet{}, ErrNotFound
	}
	return wallet, nil
}

func (r *memoryRepository) SetStatus(_ context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	wallet, exists := r.wallets[id]
	if !exists {
		return ErrNotFound
	}
	wallet.Status = status
	r.wallets[id] = wallet
	return nil
}
