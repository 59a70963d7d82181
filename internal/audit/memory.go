package audit

import (
	"context"
	"sort"
	"sync"
)

type memoryJournal struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

// NewMemoryJournal creates an in-memory append-only journal for tests and dev
// mode.
func NewMemoryJournal() Journal {
	return &memoryJournal{entries: make(map[string][]Entry)}
}

func (j *memoryJournal) Append(_ context.Context, entries []Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range entries {
		j.entries[e.Account] = append(j.entries[e.Account], e)
	}
	return nil
}

func (j *memoryJournal) EntriesSince(_ context.Context, account string, afterVersion int64) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Entry
	for _, e := range j.entries[account] {
		if e.Version > afterVersion {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Version < out[k].Version })
	return out, nil
}

func (j *memoryJournal) Accounts(_ context.Context) ([]string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	accounts := make([]string, 0, len(j.entries))
	for account := range j.entries {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	return accounts, nil
}

type memoryCheckpoints struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
}

// NewMemoryCheckpoints creates an in-memory checkpoint store.
func NewMemoryCheckpoints() CheckpointStore {
	return &memoryCheckpoints{checkpoints: make(map[string]Checkpoint)}
}

func (s *memoryCheckpoints) Get(_ context.Context, account string) (Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[account]
	return cp, ok, nil
}

func (s *memoryCheckpoints) Save(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.Account] = cp
	return nil
}
