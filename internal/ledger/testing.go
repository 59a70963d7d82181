package ledger

// SeedBalance is a test helper that sets the available balance for an account
// when using the in-memory store.
func SeedBalance(s Store, account string, available int64) {
	if mem, ok := s.(*memoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		bal := mem.balances[account]
		bal.Account = account
		bal.Available = available
		mem.balances[account] = bal
	}
}
