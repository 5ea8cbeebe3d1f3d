package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/roadside-dispatch/internal/models"
)

// Sink receives ledger status events. Publishing is best effort: callers log
// failures and never roll the ledger back because of them.
type Sink interface {
	Publish(ctx context.Context, e models.StatusEvent) error
}

type Nop struct{}

func (Nop) Publish(context.Context, models.StatusEvent) error { return nil }

// Fanout publishes to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, e models.StatusEvent) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishLogged publishes e and logs instead of returning a failure.
func PublishLogged(ctx context.Context, s Sink, logger *slog.Logger, e models.StatusEvent) {
	if s == nil {
		return
	}
	if err := s.Publish(ctx, e); err != nil {
		logger.Warn("status event publish failed", "request_id", e.RequestID, "to", e.To, "error", err)
	}
}
