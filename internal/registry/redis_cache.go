package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/roadside-dispatch/internal/models"
)

// SnapshotCache is the subset of redis operations the cache needs.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type redisAdapter struct{ c *redis.Client }

// NewRedisSnapshotCache adapts a go-redis client. A missing key is reported
// as redis.Nil.
func NewRedisSnapshotCache(c *redis.Client) SnapshotCache { return &redisAdapter{c: c} }

func (r *redisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	return r.c.Get(ctx, key).Bytes()
}

func (r *redisAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *redisAdapter) Delete(ctx context.Context, key string) error {
	return r.c.Del(ctx, key).Err()
}

// Cached serves ListAll from a JSON snapshot in redis and falls back to the
// wrapped registry on miss or cache failure. GetByID always goes to the source.
type Cached struct {
	source GarageRegistry
	cache  SnapshotCache
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(source GarageRegistry, cache SnapshotCache, key string, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	if key == "" {
		key = "garages:snapshot"
	}
	return &Cached{source: source, cache: cache, key: key, ttl: ttl, logger: logger}
}

func (c *Cached) ListAll(ctx context.Context) ([]models.Garage, error) {
	b, err := c.cache.Get(ctx, c.key)
	if err == nil {
		var garages []models.Garage
		if err := json.Unmarshal(b, &garages); err == nil {
			return garages, nil
		}
		c.logger.Warn("garage snapshot undecodable, reloading", "key", c.key)
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("garage snapshot cache read failed", "key", c.key, "error", err)
	}

	garages, err := c.source.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(garages); err == nil {
		if err := c.cache.Set(ctx, c.key, b, c.ttl); err != nil {
			c.logger.Warn("garage snapshot cache write failed", "key", c.key, "error", err)
		}
	}
	return garages, nil
}

func (c *Cached) GetByID(ctx context.Context, id string) (models.Garage, error) {
	return c.source.GetByID(ctx, id)
}

// Invalidate drops the snapshot so the next ListAll reloads from the source.
func (c *Cached) Invalidate(ctx context.Context) error {
	return c.cache.Delete(ctx, c.key)
}
