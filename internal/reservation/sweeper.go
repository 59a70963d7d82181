package reservation

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically releases overdue holds. It is the only actor permitted
// to transition a reservation to Expired.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper builds a sweeper that runs at the given interval.
func NewSweeper(manager *Manager, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Sweeper{manager: manager, interval: interval, logger: logger}
}

// Run blocks, sweeping until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("reservation sweep failed", "error", err)
			}
		}
	}
}

// Sweep expires every active reservation past its ttl, returning held funds
// to available.
func (s *Sweeper) Sweep(ctx context.Context) error {
	overdue, err := s.manager.repo.ExpiredBefore(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, r := range overdue {
		if err := s.manager.expire(ctx, r); err != nil {
			s.logger.Error("reservation expiry failed", "reservation_id", r.ID, "error", err)
		}
	}
	return nil
}
