package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/models"
)

// Cache holds recently read models. Implementations treat backend errors as misses.
type Cache interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Model, bool)
	Set(ctx context.Context, model *models.Model)
	Delete(ctx context.Context, id uuid.UUID)
}

// NopCache never stores anything
type NopCache struct{}

func (NopCache) Get(context.Context, uuid.UUID) (*models.Model, bool) { return nil, false }
func (NopCache) Set(context.Context, *models.Model)                   {}
func (NopCache) Delete(context.Context, uuid.UUID)                    {}

// LocalCache keeps models in process memory
type LocalCache struct {
	items *gocache.Cache
}

// NewLocalCache creates an in-process cache with the given expiry
func NewLocalCache(ttl time.Duration) *LocalCache {
	return &LocalCache{items: gocache.New(ttl, 2*ttl)}
}

func (c *LocalCache) Get(_ context.Context, id uuid.UUID) (*models.Model, bool) {
	v, ok := c.items.Get(id.String())
	if !ok {
		return nil, false
	}
	return v.(*models.Model).Clone(), true
}

func (c *LocalCache) Set(_ context.Context, model *models.Model) {
	c.items.SetDefault(model.ID.String(), model.Clone())
}

func (c *LocalCache) Delete(_ context.Context, id uuid.UUID) {
	c.items.Delete(id.String())
}

// RedisCache shares cached models between instances
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache creates a Redis-backed cache
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisCache) key(id uuid.UUID) string {
	return fmt.Sprintf("ml_service:model:%s", id)
}

func (c *RedisCache) Get(ctx context.Context, id uuid.UUID) (*models.Model, bool) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Model cache read failed", zap.String("model_id", id.String()), zap.Error(err))
		}
		return nil, false
	}

	var model models.Model
	if err := json.Unmarshal(data, &model); err != nil {
		c.logger.Warn("Discarding malformed cached model", zap.String("model_id", id.String()), zap.Error(err))
		return nil, false
	}
	return &model, true
}

func (c *RedisCache) Set(ctx context.Context, model *models.Model) {
	data, err := json.Marshal(model)
	if err != nil {
		c.logger.Warn("Failed to marshal model for cache", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.key(model.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Model cache write failed", zap.String("model_id", model.ID.String()), zap.Error(err))
	}
}

func (c *RedisCache) Delete(ctx context.Context, id uuid.UUID) {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		c.logger.Warn("Model cache delete failed", zap.String("model_id", id.String()), zap.Error(err))
	}
}
