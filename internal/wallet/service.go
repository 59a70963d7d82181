package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petaverse/peta_wallet/internal/ledger"
)

const (
	statusActive = "active"
	// StatusFrozen marks wallets under restriction; the fraud evaluator
	// treats transfers from them as flagged.
	StatusFrozen = "frozen"

	defaultCurrency = "PTC"
)

// Service exposes wallet operations backed by the ledger.
type Service struct {
	repo Repository
	core *ledger.Core
}

// NewService builds a wallet service instance.
func NewService(repo Repository, core *ledger.Core) *Service {
	return &Service{repo: repo, core: core}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	OwnerID  string
	Currency string
}

// Create provisions a wallet and its ledger account.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return Wallet{}, err
	}

	walletID := uuid.New().String()
	accountCode := fmt.Sprintf("wallet:%s", walletID)

	// Materialize the balance row; accounts are created lazily on first
	// reference and never deleted.
	if _, err := s.core.GetBalance(ctx, accountCode); err != nil {
		return Wallet{}, err
	}

	currency := input.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	w := Wallet{
		ID:          walletID,
		OwnerID:     input.OwnerID,
		AccountCode: accountCode,
		Currency:    currency,
		Status:      statusActive,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, w); err != nil {
		return Wallet{}, err
	}

	return w, nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// Freeze restricts a wallet. Transfers from a frozen wallet score as flagged
// in fraud evaluation; funds are untouched.
func (s *Service) Freeze(ctx context.Context, id string) error {
	return s.repo.SetStatus(ctx, id, StatusFrozen)
}

// Unfreeze lifts a restriction.
func (s *Service) Unfreeze(ctx context.Context, id string) error {
	return s.repo.SetStatus(ctx, id, statusActive)
}

// Balance returns the ledger balance for the wallet.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	bal, err := s.core.GetBalance(ctx, w.AccountCode)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		WalletID:  w.ID,
		Available: bal.Available,
		Reserved:  bal.Reserved,
		Version:   bal.Version,
		AsOf:      time.Now().UTC(),
	}, nil
}
