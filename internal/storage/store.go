package storage

import (
	"context"
	"time"

	"github.com/example/roadside-dispatch/internal/models"
)

// RequestStore persists ledger entries. UpdateStatus is a conditional write:
// it only applies when the stored status equals expected, otherwise it
// returns models.ErrStatusConflict and leaves the record untouched.
type RequestStore interface {
	Create(ctx context.Context, r *models.ServiceRequest) (string, error)
	Get(ctx context.Context, id string) (*models.ServiceRequest, error)
	UpdateStatus(ctx context.Context, id string, expected, next models.Status, summary *models.DispatchSummary) (*models.ServiceRequest, error)
	Query(ctx context.Context, f Filter) ([]models.ServiceRequest, error)
}

// Filter selects requests by creation time window [From, To), garage and
// status. Zero values do not filter. Results are newest first.
type Filter struct {
	GarageID string
	Statuses []models.Status
	From     time.Time
	To       time.Time
	Limit    int
}

func (f Filter) match(r *models.ServiceRequest) bool {
	if f.GarageID != "" && r.GarageID != f.GarageID {
		return false
	}
	if !f.From.IsZero() && r.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.CreatedAt.Before(f.To) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}
