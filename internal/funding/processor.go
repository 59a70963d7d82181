package funding

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// PurchaseAuthorization carries the real-money side of a coin purchase to the
// payment processor.
type PurchaseAuthorization struct {
	PaymentToken string
	Amount       int64
}

// PayoutAuthorization carries the real-money side of a coin redemption.
type PayoutAuthorization struct {
	PayoutAccount string
	Amount        int64
}

// Decision is the processor's answer to an authorization attempt.
type Decision struct {
	Approved  bool
	Reference string
}

// Processor connects to the external payment processor that settles the
// real-money leg of coin purchases and redemptions.
type Processor interface {
	AuthorizePurchase(ctx context.Context, auth PurchaseAuthorization) (Decision, error)
	AuthorizePayout(ctx context.Context, auth PayoutAuthorization) (Decision, error)
}

// StaticProcessor approves everything with a synthetic reference. Used in dev
// mode and tests.
type StaticProcessor struct{}

// AuthorizePurchase approves the purchase.
func (StaticProcessor) AuthorizePurchase(_ context.Context, auth PurchaseAuthorization) (Decision, error) {
	if auth.Amount <= 0 {
		return Decision{}, fmt.Errorf("amount must be positive")
	}
	return Decision{Approved: true, Reference: "static-" + uuid.NewString()}, nil
}

// AuthorizePayout approves the payout.
func (StaticProcessor) AuthorizePayout(_ context.Context, auth PayoutAuthorization) (Decision, error) {
	if auth.Amount <= 0 {
		return Decision{}, fmt.Errorf("amount must be positive")
	}
	return Decision{Approved: true, Reference: "static-" + uuid.NewString()}, nil
}
