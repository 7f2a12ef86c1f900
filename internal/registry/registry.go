package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/models"
	"github.com/helenavibes/ML-service/internal/repository"
)

// Registry serves model lookups through a cache and handles admin changes
type Registry struct {
	store  repository.Store
	cache  Cache
	logger *zap.Logger
}

// CreateModelRequest describes a new model
type CreateModelRequest struct {
	Name          string           `json:"name" yaml:"name"`
	Description   string           `json:"description" yaml:"description"`
	ModelType     models.ModelType `json:"model_type" yaml:"model_type"`
	CostPerRecord decimal.Decimal  `json:"cost_per_record" yaml:"cost_per_record"`
}

// New creates a registry; a nil cache disables caching
func New(store repository.Store, cache Cache, logger *zap.Logger) *Registry {
	if cache == nil {
		cache = NopCache{}
	}
	return &Registry{store: store, cache: cache, logger: logger}
}

// Get returns a model by id, active or not
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*models.Model, error) {
	if model, ok := r.cache.Get(ctx, id); ok {
		return model, nil
	}

	model, err := r.store.GetModel(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.Set(ctx, model)
	return model, nil
}

// ListActive returns models that accept new tasks
func (r *Registry) ListActive(ctx context.Context) ([]*models.Model, error) {
	return r.store.ListModels(ctx, true)
}

// List returns every model
func (r *Registry) List(ctx context.Context) ([]*models.Model, error) {
	return r.store.ListModels(ctx, false)
}

// FindByName returns the model with the given name
func (r *Registry) FindByName(ctx context.Context, name string) (*models.Model, error) {
	all, err := r.store.ListModels(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, m := range all {
		if m.Name == name {
			return m, nil
		}
	}
	return nil, models.ErrModelNotFound
}

// Create registers a new active model
func (r *Registry) Create(ctx context.Context, req CreateModelRequest) (*models.Model, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if !req.ModelType.Valid() {
		return nil, fmt.Errorf("unknown model type %q", req.ModelType)
	}
	if !req.CostPerRecord.IsPositive() {
		return nil, fmt.Errorf("cost per record %s: %w", req.CostPerRecord, models.ErrInvalidAmount)
	}

	model := &models.Model{
		ID:            uuid.New(),
		Name:          name,
		Description:   req.Description,
		ModelType:     req.ModelType,
		CostPerRecord: req.CostPerRecord,
		IsActive:      true,
	}
	if err := r.store.SaveModel(ctx, model); err != nil {
		return nil, err
	}

	r.logger.Info("Model registered",
		zap.String("model_id", model.ID.String()),
		zap.String("name", model.Name),
		zap.String("cost_per_record", model.CostPerRecord.String()))
	return model, nil
}

// SetActive activates or deactivates a model
func (r *Registry) SetActive(ctx context.Context, id uuid.UUID, active bool) (*models.Model, error) {
	return r.update(ctx, id, func(m *models.Model) error {
		m.IsActive = active
		return nil
	})
}

// UpdateCost changes the per-record rate. Completed tasks keep the total they were charged.
func (r *Registry) UpdateCost(ctx context.Context, id uuid.UUID, cost decimal.Decimal) (*models.Model, error) {
	if !cost.IsPositive() {
		return nil, fmt.Errorf("cost per record %s: %w", cost, models.ErrInvalidAmount)
	}
	return r.update(ctx, id, func(m *models.Model) error {
		m.CostPerRecord = cost
		return nil
	})
}

func (r *Registry) update(ctx context.Context, id uuid.UUID, change func(*models.Model) error) (*models.Model, error) {
	var model *models.Model
	err := r.store.InTx(ctx, func(ctx context.Context, repo repository.Repository) error {
		var err error
		model, err = repo.GetModel(ctx, id)
		if err != nil {
			return err
		}
		if err := change(model); err != nil {
			return err
		}
		return repo.SaveModel(ctx, model)
	})
	if err != nil {
		return nil, err
	}

	r.cache.Delete(ctx, id)
	r.logger.Info("Model updated",
		zap.String("model_id", id.String()),
		zap.Bool("is_active", model.IsActive),
		zap.String("cost_per_record", model.CostPerRecord.String()))
	return model, nil
}
