package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/roadside-dispatch/internal/models"
)

func newReq(status models.Status, garage string, created time.Time) *models.ServiceRequest {
	return &models.ServiceRequest{
		RequesterName:  "Dana",
		RequesterPhone: "+15550100",
		Loc:            models.Coord{Lat: 1, Lon: 2},
		GarageID:       garage,
		Status:         status,
		CreatedAt:      created,
	}
}

func TestMemoryCreateAssignsIDAndTimestamps(t *testing.T) {
	s := NewMemoryStore()
	r := newReq(models.StatusPendingSent, "g1", time.Time{})
	id, err := s.Create(context.Background(), r)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, id, r.ID)

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
}

func TestMemoryCreateRejectsDuplicateID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	first := newReq(models.StatusSentSuccess, "g1", time.Time{})
	first.ID = "req-1"
	_, err := s.Create(ctx, first)
	require.NoError(t, err)

	dup := newReq(models.StatusNoGarageFound, "", time.Time{})
	dup.ID = "req-1"
	_, err = s.Create(ctx, dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPersistence))

	got, err := s.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSentSuccess, got.Status)
	assert.Equal(t, "g1", got.GarageID)
}

func TestMemoryUpdateStatusIsConditional(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, _ := s.Create(ctx, newReq(models.StatusPendingSent, "g1", time.Time{}))

	summary := &models.DispatchSummary{Tokens: []string{"t"}, Tickets: []models.Ticket{{Token: "t", Status: models.TicketOK}}}
	got, err := s.UpdateStatus(ctx, id, models.StatusPendingSent, models.StatusSentSuccess, summary)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSentSuccess, got.Status)
	assert.Len(t, got.Dispatch.Tickets, 1)

	_, err = s.UpdateStatus(ctx, id, models.StatusPendingSent, models.StatusSendFailed, nil)
	assert.True(t, errors.Is(err, models.ErrStatusConflict))

	got, _ = s.Get(ctx, id)
	assert.Equal(t, models.StatusSentSuccess, got.Status)
	assert.Len(t, got.Dispatch.Tickets, 1, "nil summary keeps the previous one")

	_, err = s.UpdateStatus(ctx, "missing", models.StatusPendingSent, models.StatusSentSuccess, nil)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestMemoryConcurrentUpdateSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, _ := s.Create(ctx, newReq(models.StatusSentSuccess, "g1", time.Time{}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, next := range []models.Status{models.StatusGarageAccepted, models.StatusGarageDeclined, models.StatusDriverCanceled} {
		wg.Add(1)
		go func(next models.Status) {
			defer wg.Done()
			if _, err := s.UpdateStatus(ctx, id, models.StatusSentSuccess, next, nil); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(next)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryQueryFiltersAndOrders(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, _ = s.Create(ctx, newReq(models.StatusSentSuccess, "g1", now.Add(-1*time.Hour)))
	_, _ = s.Create(ctx, newReq(models.StatusServiceCompleted, "g1", now.Add(-2*time.Hour)))
	_, _ = s.Create(ctx, newReq(models.StatusSentSuccess, "g2", now.Add(-3*time.Hour)))
	_, _ = s.Create(ctx, newReq(models.StatusSentSuccess, "g1", now.Add(-48*time.Hour)))

	got, err := s.Query(ctx, Filter{From: now.Add(-24 * time.Hour), To: now})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].CreatedAt.After(got[1].CreatedAt))
	assert.True(t, got[1].CreatedAt.After(got[2].CreatedAt))

	got, _ = s.Query(ctx, Filter{GarageID: "g1", From: now.Add(-24 * time.Hour)})
	assert.Len(t, got, 2)

	got, _ = s.Query(ctx, Filter{Statuses: []models.Status{models.StatusSentSuccess}})
	assert.Len(t, got, 3)

	got, _ = s.Query(ctx, Filter{Limit: 1})
	require.Len(t, got, 1)
	assert.Equal(t, now.Add(-1*time.Hour), got[0].CreatedAt)
}
