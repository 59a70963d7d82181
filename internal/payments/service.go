package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petaverse/peta_wallet/internal/fraud"
	"github.com/petaverse/peta_wallet/internal/ledger"
	"github.com/petaverse/peta_wallet/internal/notification"
	"github.com/petaverse/peta_wallet/internal/review"
	"github.com/petaverse/peta_wallet/internal/wallet"
)

// ErrNotOwner indicates the caller does not own the source wallet.
var ErrNotOwner = errors.New("not owner of source wallet")

// Service orchestrates wallet-to-wallet transfers: the fraud evaluator gates
// the request, the ledger applies it, the notifier hears about it.
type Service struct {
	core      *ledger.Core
	wallets   *wallet.Service
	evaluator *fraud.Evaluator
	reviews   *review.Service
	notifier  notification.Notifier
	threshold int
	logger    *slog.Logger
}

// NewService constructs a payment service. threshold is the risk score at or
// above which transfers are parked for manual review.
func NewService(core *ledger.Core, wallets *wallet.Service, evaluator *fraud.Evaluator, reviews *review.Service, notifier notification.Notifier, threshold int, logger *slog.Logger) *Service {
	if threshold <= 0 {
		threshold = 60
	}
	return &Service{core: core, wallets: wallets, evaluator: evaluator, reviews: reviews, notifier: notifier, threshold: threshold, logger: logger}
}

// TransferInput captures the data needed to move coins between wallets.
type TransferInput struct {
	FromWalletID string
	ToWalletID   string
	Amount       int64
	ClientTxID   string
	Principal    string
}

// TransferResult describes the ledger outcome of a transfer.
type TransferResult struct {
	TransactionID string
	FromAvailable int64
	ToAvailable   int64
	CompletedAt   time.Time
	// ReviewCaseID is set when the transfer was blocked for manual review.
	ReviewCaseID string
}

// Transfer posts an atomic two-step ledger transaction between wallets. A
// risk score at or above the threshold short-circuits before the ledger is
// touched: the transfer is parked as a review case and fraud.ErrFraudBlocked
// is returned with the case id.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if input.Amount <= 0 {
		return TransferResult{}, fmt.Errorf("amount must be positive")
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.New().String()
	}

	fromWallet, err := s.wallets.Get(ctx, input.FromWalletID)
	if err != nil {
		return TransferResult{}, err
	}
	if input.Principal != "" && fromWallet.OwnerID != input.Principal {
		return TransferResult{}, ErrNotOwner
	}
	toWallet, err := s.wallets.Get(ctx, input.ToWalletID)
	if err != nil {
		return TransferResult{}, err
	}

	assessment := s.evaluator.Assess(ctx, fraud.Context{
		Principal:        input.Principal,
		Account:          fromWallet.AccountCode,
		Amount:           input.Amount,
		AccountCreatedAt: fromWallet.CreatedAt,
		Flagged:          fromWallet.Status == wallet.StatusFrozen,
	})
	if assessment.Score >= s.threshold {
		return s.block(ctx, input, assessment)
	}

	return s.post(ctx, input, fromWallet, toWallet)
}

// ApproveReview redeems a manual-review case and posts the parked transfer,
// bypassing the fraud gate exactly once.
func (s *Service) ApproveReview(ctx context.Context, caseID, token string) (TransferResult, error) {
	if s.reviews == nil {
		return TransferResult{}, review.ErrCaseExpired
	}
	c, err := s.reviews.Redeem(ctx, caseID, token)
	if err != nil {
		return TransferResult{}, err
	}

	fromWallet, err := s.wallets.Get(ctx, c.FromWalletID)
	if err != nil {
		return TransferResult{}, err
	}
	toWallet, err := s.wallets.Get(ctx, c.ToWalletID)
	if err != nil {
		return TransferResult{}, err
	}

	return s.post(ctx, TransferInput{
		FromWalletID: c.FromWalletID,
		ToWalletID:   c.ToWalletID,
		Amount:       c.Amount,
		ClientTxID:   c.ClientTxID,
		Principal:    c.Principal,
	}, fromWallet, toWallet)
}

func (s *Service) post(ctx context.Context, input TransferInput, fromWallet, toWallet wallet.Wallet) (TransferResult, error) {
	rec, err := s.core.Execute(ctx, ledger.Request{
		ClientTxID: input.ClientTxID,
		Steps: []ledger.Step{
			{Account: fromWallet.AccountCode, Kind: ledger.StepTransfer, Amount: -input.Amount},
			{Account: toWallet.AccountCode, Kind: ledger.StepTransfer, Amount: input.Amount},
		},
		Actor: input.Principal,
	})
	if err != nil {
		return TransferResult{}, err
	}

	fromBal, err := s.core.GetBalance(ctx, fromWallet.AccountCode)
	if err != nil {
		return TransferResult{}, err
	}
	toBal, err := s.core.GetBalance(ctx, toWallet.AccountCode)
	if err != nil {
		return TransferResult{}, err
	}

	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindTransferReceived,
			Destination: toWallet.OwnerID,
			Body:        fmt.Sprintf("You received %d from wallet %s", input.Amount, input.FromWalletID),
		})
	}

	return TransferResult{
		TransactionID: rec.ID,
		FromAvailable: fromBal.Available,
		ToAvailable:   toBal.Available,
		CompletedAt:   rec.CompletedAt,
	}, nil
}

func (s *Service) block(ctx context.Context, input TransferInput, assessment fraud.Assessment) (TransferResult, error) {
	if s.reviews == nil {
		s.logger.Warn("transfer blocked, review service unavailable",
			"principal", input.Principal, "score", assessment.Score, "level", assessment.Level)
		return TransferResult{}, fraud.ErrFraudBlocked
	}

	c, token, err := s.reviews.Open(ctx, review.Case{
		FromWalletID: input.FromWalletID,
		ToWalletID:   input.ToWalletID,
		Amount:       input.Amount,
		ClientTxID:   input.ClientTxID,
		Principal:    input.Principal,
		RiskScore:    assessment.Score,
	})
	if err != nil {
		return TransferResult{}, err
	}

	s.logger.Warn("transfer blocked for manual review",
		"case_id", c.ID, "principal", input.Principal, "score", assessment.Score, "level", assessment.Level)

	if s.notifier != nil {
		// The ops channel receives the single-use approval token.
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindFraudBlocked,
			Destination: "fraud-ops",
			Body:        fmt.Sprintf("case %s score %d token %s", c.ID, assessment.Score, token),
		})
	}

	return TransferResult{ReviewCaseID: c.ID}, fraud.ErrFraudBlocked
}
