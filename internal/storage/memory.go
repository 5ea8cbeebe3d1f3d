package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/roadside-dispatch/internal/models"
)

type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.ServiceRequest
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*models.ServiceRequest), Clock: time.Now}
}

func (m *MemoryStore) now() time.Time {
	if m.Clock == nil {
		return time.Now().UTC()
	}
	return m.Clock().UTC()
}

func (m *MemoryStore) Create(_ context.Context, r *models.ServiceRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	} else if _, ok := m.requests[r.ID]; ok {
		return "", fmt.Errorf("%w: request %s already exists", models.ErrPersistence, r.ID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	m.requests[r.ID] = clone(r)
	return r.ID, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return clone(r), nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, expected, next models.Status, summary *models.DispatchSummary) (*models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if r.Status != expected {
		return nil, models.ErrStatusConflict
	}
	r.Status = next
	if summary != nil {
		r.Dispatch = cloneSummary(*summary)
	}
	r.UpdatedAt = m.now()
	return clone(r), nil
}

func (m *MemoryStore) Query(_ context.Context, f Filter) ([]models.ServiceRequest, error) {
	m.mu.RLock()
	out := make([]models.ServiceRequest, 0)
	for _, r := range m.requests {
		if f.match(r) {
			out = append(out, *clone(r))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func clone(r *models.ServiceRequest) *models.ServiceRequest {
	cp := *r
	cp.Dispatch = cloneSummary(r.Dispatch)
	return &cp
}

func cloneSummary(s models.DispatchSummary) models.DispatchSummary {
	cp := s
	cp.Tokens = append([]string(nil), s.Tokens...)
	cp.Tickets = append([]models.Ticket(nil), s.Tickets...)
	return cp
}
