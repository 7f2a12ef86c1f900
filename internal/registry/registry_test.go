package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/models"
	"github.com/helenavibes/ML-service/internal/repository"
)

func newRegistry(t *testing.T, cache Cache) (*Registry, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	return New(store, cache, zap.NewNop()), store
}

func TestRegistryCreate(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t, nil)

	tests := []struct {
		name    string
		req     CreateModelRequest
		wantErr error
	}{
		{"valid", CreateModelRequest{Name: "Classifier", ModelType: models.ModelTypeClassification, CostPerRecord: decimal.RequireFromString("0.5")}, nil},
		{"zero cost", CreateModelRequest{Name: "Free", ModelType: models.ModelTypeRegression, CostPerRecord: decimal.Zero}, models.ErrInvalidAmount},
		{"duplicate", CreateModelRequest{Name: "Classifier", ModelType: models.ModelTypeClassification, CostPerRecord: decimal.NewFromInt(1)}, models.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, err := reg.Create(ctx, tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, model.IsActive)
		})
	}

	t.Run("unknown type", func(t *testing.T) {
		_, err := reg.Create(ctx, CreateModelRequest{Name: "X", ModelType: "CLUSTERING", CostPerRecord: decimal.NewFromInt(1)})
		assert.Error(t, err)
	})

	t.Run("blank name", func(t *testing.T) {
		_, err := reg.Create(ctx, CreateModelRequest{Name: "  ", ModelType: models.ModelTypeRegression, CostPerRecord: decimal.NewFromInt(1)})
		assert.Error(t, err)
	})
}

func TestRegistryUpdatesInvalidateCache(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t, NewLocalCache(time.Minute))

	model, err := reg.Create(ctx, CreateModelRequest{Name: "m", ModelType: models.ModelTypeRegression, CostPerRecord: decimal.NewFromInt(1)})
	require.NoError(t, err)

	got, err := reg.Get(ctx, model.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	_, err = reg.SetActive(ctx, model.ID, false)
	require.NoError(t, err)

	got, err = reg.Get(ctx, model.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	active, err := reg.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = reg.UpdateCost(ctx, model.ID, decimal.RequireFromString("0.25"))
	require.NoError(t, err)
	got, err = reg.Get(ctx, model.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.25", got.CostPerRecord.String())

	_, err = reg.UpdateCost(ctx, model.ID, decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = reg.SetActive(ctx, uuid.New(), true)
	assert.ErrorIs(t, err, models.ErrModelNotFound)
}

func TestRegistryFindByName(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t, nil)

	model, err := reg.Create(ctx, CreateModelRequest{Name: "Advanced Regressor", ModelType: models.ModelTypeRegression, CostPerRecord: decimal.NewFromInt(1)})
	require.NoError(t, err)

	found, err := reg.FindByName(ctx, "Advanced Regressor")
	require.NoError(t, err)
	assert.Equal(t, model.ID, found.ID)

	_, err = reg.FindByName(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrModelNotFound)
}

func TestLocalCacheReturnsCopies(t *testing.T) {
	ctx := context.Background()
	cache := NewLocalCache(time.Minute)
	model := &models.Model{ID: uuid.New(), Name: "m"}
	cache.Set(ctx, model)

	got, ok := cache.Get(ctx, model.ID)
	require.True(t, ok)
	got.Name = "changed"

	again, ok := cache.Get(ctx, model.ID)
	require.True(t, ok)
	assert.Equal(t, "m", again.Name)

	cache.Delete(ctx, model.ID)
	_, ok = cache.Get(ctx, model.ID)
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := NewRedisCache(client, time.Minute, zap.NewNop())
	model := &models.Model{
		ID:            uuid.New(),
		Name:          "Basic Classifier",
		ModelType:     models.ModelTypeClassification,
		CostPerRecord: decimal.RequireFromString("0.5"),
		IsActive:      true,
	}

	_, ok := cache.Get(ctx, model.ID)
	assert.False(t, ok)

	cache.Set(ctx, model)
	assert.True(t, mr.Exists("ml_service:model:"+model.ID.String()))

	got, ok := cache.Get(ctx, model.ID)
	require.True(t, ok)
	assert.Equal(t, model.Name, got.Name)
	assert.True(t, got.CostPerRecord.Equal(model.CostPerRecord))

	mr.FastForward(2 * time.Minute)
	_, ok = cache.Get(ctx, model.ID)
	assert.False(t, ok)

	cache.Set(ctx, model)
	cache.Delete(ctx, model.ID)
	_, ok = cache.Get(ctx, model.ID)
	assert.False(t, ok)

	require.NoError(t, mr.Set("ml_service:model:"+model.ID.String(), "not json"))
	_, ok = cache.Get(ctx, model.ID)
	assert.False(t, ok)
}
