package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/roadside-dispatch/internal/events"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
	"github.com/example/roadside-dispatch/internal/storage"
)

// Service applies externally requested status changes to ledger entries.
// Every write is conditional on the status that was read, so concurrent
// callers racing on the same record produce exactly one winner.
type Service struct {
	Store  storage.RequestStore
	Events events.Sink
	Logger *slog.Logger

	// ExpireAfter is how long a SENT_SUCCESS request waits for an answer.
	ExpireAfter   time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Service) Get(ctx context.Context, id string) (*models.ServiceRequest, error) {
	r, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, wrapStore(id, err)
	}
	return r, nil
}

// Transition moves request id to target. Edges leaving PENDING_SENT belong
// to the dispatcher and are rejected here.
func (s *Service) Transition(ctx context.Context, id string, target models.Status) (*models.ServiceRequest, error) {
	if !target.Valid() {
		return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", target)}
	}
	cur, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, wrapStore(id, err)
	}
	if target.DispatcherOnly() || !models.CanTransition(cur.Status, target) {
		return nil, s.reject(id, cur.Status, target)
	}

	updated, err := s.Store.UpdateStatus(ctx, id, cur.Status, target, nil)
	if errors.Is(err, models.ErrStatusConflict) {
		latest, gerr := s.Store.Get(ctx, id)
		if gerr != nil {
			return nil, wrapStore(id, gerr)
		}
		s.logger().Info("status transition lost race", "request_id", id, "to", target, "current", latest.Status)
		return nil, s.reject(id, latest.Status, target)
	}
	if err != nil {
		return nil, wrapStore(id, err)
	}

	observability.TransitionsTotal.WithLabelValues(string(target)).Inc()
	events.PublishLogged(ctx, s.Events, s.logger(), models.EventFor(updated, cur.Status))
	s.logger().Info("status transition", "request_id", id, "garage_id", updated.GarageID, "from", cur.Status, "to", target)
	return updated, nil
}

func (s *Service) reject(id string, from, to models.Status) error {
	observability.TransitionRejectedTotal.Inc()
	return &models.TransitionError{ID: id, From: from, To: to}
}

func wrapStore(id string, err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("request %s: %w", id, models.ErrNotFound)
	}
	if errors.Is(err, models.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: request %s: %v", models.ErrPersistence, id, err)
}
