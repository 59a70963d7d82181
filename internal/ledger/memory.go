package ledger

import (
	"context"
	"fmt"
	"sync"
)

type memoryStore struct {
	mu       sync.RWMutex
	balances map[string]Balance
}

// NewMemoryStore creates a concurrency-safe in-memory balance store useful for
// unit tests and dev mode.
func NewMemoryStore() Store {
	return &memoryStore{balances: make(map[string]Balance)}
}

func (s *memoryStore) Ensure(_ context.Context, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.balances[account]; !exists {
		s.balances[account] = Balance{Account: account}
	}
	return nil
}

func (s *memoryStore) Get(_ context.Context, account string) (Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bal, exists := s.balances[account]
	if !exists {
		return Balance{}, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	return bal, nil
}

func (s *memoryStore) Apply(_ context.Context, writes []Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range writes {
		current, exists := s.balances[w.Account]
		if !exists {
			return fmt.Errorf("%w: %s", ErrUnknownAccount, w.Account)
		}
		if current.Version != w.PrevVersion {
			return fmt.Errorf("%w: %s at %d, expected %d", ErrVersionConflict, w.Account, current.Version, w.PrevVersion)
		}
	}

	for _, w := range writes {
		s.balances[w.Account] = Balance{
			Account:   w.Account,
			Available: w.Available,
			Reserved:  w.Reserved,
			Version:   w.PrevVersion + 1,
		}
	}
	return nil
}

type memoryRecords struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryRecords creates an in-memory transaction record repository.
func NewMemoryRecords() Records {
	return &memoryRecords{records: make(map[string]Record)}
}

func (r *memoryRecords) Find(_ context.Context, clientTxID string) (Record, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[clientTxID]
	return rec, ok, nil
}

func (r *memoryRecords) Begin(_ context.Context, rec Record) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.ClientTxID]; exists {
		return false, nil
	}
	r.records[rec.ClientTxID] = rec
	return true, nil
}

func (r *memoryRecords) Finish(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ClientTxID] = rec
	return nil
}

func (r *memoryRecords) Abandon(_ context.Context, clientTxID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[clientTxID]; ok && rec.Status == StatusPending {
		delete(r.records, clientTxID)
	}
	return nil
}
