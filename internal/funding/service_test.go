package funding

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/petaverse/peta_wallet/internal/audit"
	"github.com/petaverse/peta_wallet/internal/ledger"
	"github.com/petaverse/peta_wallet/internal/logging"
	"github.com/petaverse/peta_wallet/internal/wallet"
)

type decliningProcessor struct{}

func (decliningProcessor) AuthorizePurchase(context.Context, PurchaseAuthorization) (Decision, error) {
	return Decision{Approved: false}, nil
}

func (decliningProcessor) AuthorizePayout(context.Context, PayoutAuthorization) (Decision, error) {
	return Decision{Approved: false}, nil
}

func newTestService(t *testing.T, p Processor) (*Service, *wallet.Service) {
	t.Helper()
	store := ledger.NewMemoryStore()
	core := ledger.NewCore(store, ledger.NewMemoryRecords(), audit.NewMemoryJournal(), 5, logging.Discard())
	wallets := wallet.NewService(wallet.NewMemoryRepository(), core)
	svc, err := NewService(core, wallets, p)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, wallets
}

func TestPurchaseMintsIntoWallet(t *testing.T) {
	svc, wallets := newTestService(t, nil)
	w, err := wallets.Create(context.Background(), wallet.CreateInput{OwnerID: uuid.NewString()})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	res, err := svc.Purchase(context.Background(), PurchaseInput{
		WalletID:     w.ID,
		Amount:       1000,
		ClientTxID:   "purchase-1",
		PaymentToken: "tok-1",
	})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if res.WalletAvailable != 1000 {
		t.Fatalf("expected 1000 coins got %d", res.WalletAvailable)
	}
	if res.ProcessorReference == "" {
		t.Fatal("expected a processor reference")
	}

	// Replays do not double-mint.
	res2, err := svc.Purchase(context.Background(), PurchaseInput{
		WalletID:     w.ID,
		Amount:       1000,
		ClientTxID:   "purchase-1",
		PaymentToken: "tok-1",
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res2.WalletAvailable != 1000 {
		t.Fatalf("replay minted again, balance %d", res2.WalletAvailable)
	}
}

func TestRedeemBurnsFromWallet(t *testing.T) {
	svc, wallets := newTestService(t, nil)
	w, err := wallets.Create(context.Background(), wallet.CreateInput{OwnerID: uuid.NewString()})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	if _, err := svc.Purchase(context.Background(), PurchaseInput{
		WalletID: w.ID, Amount: 1000, PaymentToken: "tok-1",
	}); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	res, err := svc.Redeem(context.Background(), RedeemInput{
		WalletID:      w.ID,
		Amount:        400,
		PayoutAccount: "bank-1",
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.WalletAvailable != 600 {
		t.Fatalf("expected 600 coins got %d", res.WalletAvailable)
	}

	// Burning more than the balance fails within the ledger.
	_, err = svc.Redeem(context.Background(), RedeemInput{
		WalletID:      w.ID,
		Amount:        5000,
		PayoutAccount: "bank-1",
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds got %v", err)
	}
}

func TestDeclinedAuthorizationsDoNotTouchLedger(t *testing.T) {
	svc, wallets := newTestService(t, decliningProcessor{})
	w, err := wallets.Create(context.Background(), wallet.CreateInput{OwnerID: uuid.NewString()})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	if _, err := svc.Purchase(context.Background(), PurchaseInput{
		WalletID: w.ID, Amount: 1000, PaymentToken: "tok-1",
	}); err == nil {
		t.Fatal("expected declined purchase to fail")
	}

	bal, err := wallets.Balance(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Available != 0 || bal.Version != 0 {
		t.Fatalf("declined purchase mutated balance: %+v", bal)
	}
}
