package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/example/roadside-dispatch/internal/models"
)

// GarageRegistry is the read side of the garage directory. ListAll returns
// a snapshot the caller may keep; it must not be mutated.
type GarageRegistry interface {
	ListAll(ctx context.Context) ([]models.Garage, error)
	GetByID(ctx context.Context, id string) (models.Garage, error)
}

// Memory keeps garages in insertion order.
type Memory struct {
	mu      sync.RWMutex
	garages []models.Garage
}

func NewMemory(garages ...models.Garage) *Memory {
	m := &Memory{}
	for _, g := range garages {
		m.Upsert(g)
	}
	return m
}

// LoadFile builds a Memory registry from a JSON array of garages.
func LoadFile(path string) (*Memory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read garage seed: %w", err)
	}
	var garages []models.Garage
	if err := json.Unmarshal(b, &garages); err != nil {
		return nil, fmt.Errorf("decode garage seed %s: %w", path, err)
	}
	return NewMemory(garages...), nil
}

func (m *Memory) Upsert(g models.Garage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.garages {
		if m.garages[i].ID == g.ID {
			m.garages[i] = g
			return
		}
	}
	m.garages = append(m.garages, g)
}

func (m *Memory) ListAll(_ context.Context) ([]models.Garage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Garage, len(m.garages))
	copy(out, m.garages)
	return out, nil
}

func (m *Memory) GetByID(_ context.Context, id string) (models.Garage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.garages {
		if g.ID == id {
			return g, nil
		}
	}
	return models.Garage{}, models.ErrNotFound
}
