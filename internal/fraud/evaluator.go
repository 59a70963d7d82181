package fraud

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Off-hours window in UTC. Activity between these bounds scores as unusual.
const (
	offHoursStart = 22
	offHoursEnd   = 6
)

const newAccountAge = 24 * time.Hour

// Evaluator combines weighted, additive risk factors into an assessment.
type Evaluator struct {
	velocity      Velocity
	velocityLimit int64
	repo          Repository
	logger        *slog.Logger
}

// NewEvaluator builds an evaluator. velocity and repo may be nil, in which
// case the velocity factor never fires and assessments are not persisted.
func NewEvaluator(velocity Velocity, velocityLimit int, repo Repository, logger *slog.Logger) *Evaluator {
	if velocityLimit <= 0 {
		velocityLimit = 10
	}
	return &Evaluator{velocity: velocity, velocityLimit: int64(velocityLimit), repo: repo, logger: logger}
}

// Assess scores the context. It never returns an error for degraded inputs:
// an unreachable velocity counter simply contributes nothing (fail-open), and
// a failed history write is logged, not surfaced.
func (e *Evaluator) Assess(ctx context.Context, fc Context) Assessment {
	at := fc.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var factors []Factor

	if hour := at.UTC().Hour(); hour >= offHoursStart || hour < offHoursEnd {
		factors = append(factors, Factor{Name: "off_hours_activity", Points: PointsOffHours})
	}

	if e.velocity != nil {
		count, err := e.velocity.Observe(ctx, fc.Principal)
		if err != nil {
			e.logger.Warn("velocity counter unavailable", "principal", fc.Principal, "error", err)
		} else if count > e.velocityLimit {
			factors = append(factors, Factor{Name: "high_transaction_velocity", Points: PointsHighVelocity})
		}
	}

	if !fc.AccountCreatedAt.IsZero() && at.Sub(fc.AccountCreatedAt) < newAccountAge {
		factors = append(factors, Factor{Name: "new_account", Points: PointsNewAccount})
	}

	if fc.Flagged {
		factors = append(factors, Factor{Name: "flagged_account", Points: PointsFlagged})
	}

	score := 0
	for _, f := range factors {
		score += f.Points
	}

	a := Assessment{
		ID:        uuid.NewString(),
		Principal: fc.Principal,
		Account:   fc.Account,
		Score:     score,
		Factors:   factors,
		Level:     Level(score),
		At:        at,
	}

	if e.repo != nil {
		if err := e.repo.Save(ctx, a); err != nil {
			e.logger.Warn("assessment history save failed", "assessment_id", a.ID, "error", err)
		}
	}
	return a
}
