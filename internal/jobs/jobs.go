// Package jobs runs the service's periodic work: the reservation expiry
// sweep, escrow auto-release, and balance reconciliation.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/petaverse/peta_wallet/internal/audit"
	"github.com/petaverse/peta_wallet/internal/escrow"
	"github.com/petaverse/peta_wallet/internal/reservation"
)

// Runner owns the background loops. The reservation sweep needs sub-second
// cadence and runs on its own ticker; the slower escrow and reconciliation
// passes are cron-scheduled.
type Runner struct {
	sweeper *reservation.Sweeper
	cron    *cron.Cron
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// NewRunner schedules the escrow auto-release and reconciliation passes and
// prepares the sweeper loop.
func NewRunner(sweeper *reservation.Sweeper, engine *escrow.Engine, reconciler *audit.Reconciler, escrowSpec, reconcileSpec string, logger *slog.Logger) (*Runner, error) {
	c := cron.New()

	if _, err := c.AddFunc(escrowSpec, func() {
		if err := engine.AutoRelease(context.Background(), time.Now().UTC()); err != nil {
			logger.Error("escrow auto-release pass failed", "error", err)
		}
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc(reconcileSpec, func() {
		discrepancies, err := reconciler.Reconcile(context.Background())
		if errors.Is(err, audit.ErrReconcileRunning) {
			return
		}
		if err != nil {
			logger.Error("reconciliation pass failed", "error", err)
			return
		}
		for _, d := range discrepancies {
			logger.Error("balance discrepancy",
				"account", d.Account,
				"expected_available", d.ExpectedAvailable, "actual_available", d.ActualAvailable,
				"expected_reserved", d.ExpectedReserved, "actual_reserved", d.ActualReserved)
		}
	}); err != nil {
		return nil, err
	}

	return &Runner{sweeper: sweeper, cron: c, logger: logger}, nil
}

// Start launches the loops.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.sweeper.Run(ctx)
	r.cron.Start()
	r.logger.Info("background jobs started")
}

// Stop halts the loops, waiting for a running cron job to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.cron.Stop().Done()
	r.logger.Info("background jobs stopped")
}
