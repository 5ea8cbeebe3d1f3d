package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
	"github.com/example/roadside-dispatch/internal/storage"
)

const (
	DefaultExpireAfter   = 30 * time.Minute
	DefaultSweepInterval = time.Minute
	sweepBatch           = 500
)

// ExpireStale moves SENT_SUCCESS requests older than ExpireAfter to
// EXPIRED and returns how many it moved. A request answered between the
// query and the write is left alone.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	after := s.ExpireAfter
	if after <= 0 {
		after = DefaultExpireAfter
	}
	stale, err := s.Store.Query(ctx, storage.Filter{
		Statuses: []models.Status{models.StatusSentSuccess},
		To:       s.now().Add(-after),
		Limit:    sweepBatch,
	})
	if err != nil {
		return 0, wrapStore("*", err)
	}

	expired := 0
	for _, r := range stale {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		_, err := s.Transition(ctx, r.ID, models.StatusExpired)
		switch {
		case err == nil:
			expired++
			observability.ExpiredTotal.Inc()
		case errors.Is(err, models.ErrInvalidTransition):
		default:
			s.logger().Warn("expire request failed", "request_id", r.ID, "error", err)
		}
	}
	if expired > 0 {
		s.logger().Info("expired stale requests", "count", expired)
	}
	return expired, nil
}

// RunExpiryMonitor sweeps on every tick until ctx is done.
func (s *Service) RunExpiryMonitor(ctx context.Context) {
	every := s.SweepInterval
	if every <= 0 {
		every = DefaultSweepInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireStale(ctx); err != nil && ctx.Err() == nil {
				s.logger().Error("expiry sweep failed", "error", err)
			}
		}
	}
}
