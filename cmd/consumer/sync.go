package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
)

const maxBackoff = 30 * time.Second

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type garageWriter interface {
	Upsert(ctx context.Context, g models.Garage) error
}

type snapshotInvalidator interface {
	Invalidate(ctx context.Context) error
}

type noInvalidate struct{}

func (noInvalidate) Invalidate(context.Context) error { return nil }

// consume applies garage updates until ctx is done. Read errors back off
// exponentially; bad messages are counted and skipped.
func consume(ctx context.Context, r messageReader, w garageWriter, inv snapshotInvalidator, logger *slog.Logger) {
	backoff := time.Second
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		g, err := decodeGarage(m.Value)
		if err != nil {
			observability.GarageUpdatesTotal.WithLabelValues("invalid").Inc()
			logger.Warn("invalid garage update", "offset", m.Offset, "error", err)
			continue
		}
		if err := applyWithRetry(ctx, w, inv, g, 3, 200*time.Millisecond); err != nil {
			observability.GarageUpdatesTotal.WithLabelValues("failed").Inc()
			logger.Error("garage update failed", "garage_id", g.ID, "error", err)
			continue
		}
		observability.GarageUpdatesTotal.WithLabelValues("applied").Inc()
		logger.Info("garage updated", "garage_id", g.ID, "tokens", len(g.PushTokens))
	}
}

func decodeGarage(b []byte) (models.Garage, error) {
	var g models.Garage
	if err := json.Unmarshal(b, &g); err != nil {
		return models.Garage{}, err
	}
	g.ID = strings.TrimSpace(g.ID)
	if g.ID == "" {
		return models.Garage{}, &models.ValidationError{Field: "id", Reason: "required"}
	}
	if strings.TrimSpace(g.Name) == "" {
		return models.Garage{}, &models.ValidationError{Field: "name", Reason: "required"}
	}
	if err := geo.ValidateCoord(g.Loc); err != nil {
		return models.Garage{}, err
	}
	return g, nil
}

// applyWithRetry writes g and then drops the cached snapshot, retrying the
// pair with doubling delay.
func applyWithRetry(ctx context.Context, w garageWriter, inv snapshotInvalidator, g models.Garage, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = w.Upsert(ctx, g); err == nil {
			if err = inv.Invalidate(ctx); err == nil {
				return nil
			}
		}
		if i == attempts-1 || !sleep(ctx, delay) {
			break
		}
		delay *= 2
	}
	return fmt.Errorf("apply garage %s: %w", g.ID, err)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
