// Package fraud scores proposed transactions before the ledger sees them.
// The evaluator is advisory and stateless per call: it never mutates
// balances, and a blocked transaction is a business decision handled by the
// manual-review workflow, not a system fault.
package fraud

import (
	"context"
	"errors"
	"time"
)

// ErrFraudBlocked short-circuits a transaction whose risk level is at or
// above the configured threshold before the ledger is invoked.
var ErrFraudBlocked = errors.New("transaction blocked pending manual review")

// Risk levels.
const (
	LevelLow      = "low"
	LevelMedium   = "medium"
	LevelHigh     = "high"
	LevelCritical = "critical"
)

// Point contributions of the platform's risk factors.
const (
	PointsOffHours     = 20
	PointsHighVelocity = 30
	PointsNewAccount   = 15
	PointsFlagged      = 25
)

// Context describes the transaction/user under evaluation.
type Context struct {
	Principal string
	Account   string
	Amount    int64
	// AccountCreatedAt is when the acting account was provisioned; accounts
	// younger than a day score as new.
	AccountCreatedAt time.Time
	// Flagged marks accounts under restriction (inactive, frozen, reported).
	Flagged bool
	// At is the evaluation instant; zero means now.
	At time.Time
}

// Factor is one weighted contribution to a risk score.
type Factor struct {
	Name   string
	Points int
}

// Assessment is the outcome of one evaluation. Ephemeral per call, persisted
// only for audit and history.
type Assessment struct {
	ID        string
	Principal string
	Account   string
	Score     int
	Factors   []Factor
	Level     string
	At        time.Time
}

// Repository keeps assessment history.
type Repository interface {
	Save(ctx context.Context, a Assessment) error
	History(ctx context.Context, principal string, limit int) ([]Assessment, error)
}

// Velocity counts recent transactions per principal within a sliding window.
type Velocity interface {
	// Observe records one transaction and returns the count observed in the
	// current window, this one included.
	Observe(ctx context.Context, principal string) (int64, error)
}

// Level maps a score onto the platform's risk bands.
func Level(score int) string {
	switch {
	case score < 30:
		return LevelLow
	case score < 60:
		return LevelMedium
	case score < 85:
		return LevelHigh
	default:
		return LevelCritical
	}
}
