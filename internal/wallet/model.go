package wallet

import "time"

// Wallet represents a player's stored-coin account backed by the ledger.
type Wallet struct {
	ID          string
	OwnerID     string
	AccountCode string
	Currency    string
	Status      string
	CreatedAt   time.Time
}

// Balance is a wallet's ledger snapshot: spendable funds, funds held by
// reservations, and the optimistic version stamp.
type Balance struct {
	WalletID  string
	Available int64
	Reserved  int64
	Version   int64
	AsOf      time.Time
}
