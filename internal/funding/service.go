package funding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petaverse/peta_wallet/internal/ledger"
	"github.com/petaverse/peta_wallet/internal/wallet"
)

// TreasuryActor is recorded on mint/burn transactions issued by this service.
const TreasuryActor = "treasury"

// Service issues and retires platform coins. Purchases mint into the buyer's
// wallet once the processor approves the real-money leg; redemptions burn
// from it. Mint and burn are the only privileged ledger operations.
type Service struct {
	core      *ledger.Core
	wallets   *wallet.Service
	processor Processor
}

// NewService prepares a funding service.
func NewService(core *ledger.Core, wallets *wallet.Service, processor Processor) (*Service, error) {
	if wallets == nil {
		return nil, fmt.Errorf("wallet service is required")
	}
	if processor == nil {
		processor = StaticProcessor{}
	}
	return &Service{core: core, wallets: wallets, processor: processor}, nil
}

// PurchaseInput captures the data for a coin purchase.
type PurchaseInput struct {
	WalletID     string
	Amount       int64
	ClientTxID   string
	PaymentToken string
}

// RedeemInput captures the data for a coin redemption.
type RedeemInput struct {
	WalletID      string
	Amount        int64
	ClientTxID    string
	PayoutAccount string
}

// Result represents the domain outcome of an issuance operation.
type Result struct {
	TransactionID      string
	WalletAvailable    int64
	ProcessorReference string
	CompletedAt        time.Time
}

// Purchase mints coins into the wallet after the processor approves payment.
func (s *Service) Purchase(ctx context.Context, input PurchaseInput) (Result, error) {
	if input.Amount <= 0 {
		return Result{}, fmt.Errorf("amount must be positive")
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}

	w, err := s.wallets.Get(ctx, input.WalletID)
	if err != nil {
		return Result{}, err
	}

	decision, err := s.processor.AuthorizePurchase(ctx, PurchaseAuthorization{
		PaymentToken: input.PaymentToken,
		Amount:       input.Amount,
	})
	if err != nil {
		return Result{}, err
	}
	if !decision.Approved {
		return Result{}, fmt.Errorf("purchase declined by processor")
	}

	rec, err := s.core.Execute(ctx, ledger.Request{
		ClientTxID: input.ClientTxID,
		Steps:      []ledger.Step{{Account: w.AccountCode, Kind: ledger.StepMint, Amount: input.Amount}},
		Actor:      TreasuryActor,
		Privileged: true,
		Reference:  decision.Reference,
	})
	if err != nil {
		return Result{}, err
	}

	bal, err := s.core.GetBalance(ctx, w.AccountCode)
	if err != nil {
		return Result{}, err
	}

	return Result{
		TransactionID:      rec.ID,
		WalletAvailable:    bal.Available,
		ProcessorReference: decision.Reference,
		CompletedAt:        rec.CompletedAt,
	}, nil
}

// Redeem burns coins from the wallet after the processor approves the payout.
func (s *Service) Redeem(ctx context.Context, input RedeemInput) (Result, error) {
	if input.Amount <= 0 {
		return Result{}, fmt.Errorf("amount must be positive")
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}

	w, err := s.wallets.Get(ctx, input.WalletID)
	if err != nil {
		return Result{}, err
	}

	decision, err := s.processor.AuthorizePayout(ctx, PayoutAuthorization{
		PayoutAccount: input.PayoutAccount,
		Amount:        input.Amount,
	})
	if err != nil {
		return Result{}, err
	}
	if !decision.Approved {
		return Result{}, fmt.Errorf("payout declined by processor")
	}

	rec, err := s.core.Execute(ctx, ledger.Request{
		ClientTxID: input.ClientTxID,
		Steps:      []ledger.Step{{Account: w.AccountCode, Kind: ledger.StepBurn, Amount: input.Amount}},
		Actor:      TreasuryActor,
		Privileged: true,
		Reference:  decision.Reference,
	})
	if err != nil {
		return Result{}, err
	}

	bal, err := s.core.GetBalance(ctx, w.AccountCode)
	if err != nil {
		return Result{}, err
	}

	return Result{
		TransactionID:      rec.ID,
		WalletAvailable:    bal.Available,
		ProcessorReference: decision.Reference,
		CompletedAt:        rec.CompletedAt,
	}, nil
}
