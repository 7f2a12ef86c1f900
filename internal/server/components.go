package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/accounts"
	"github.com/helenavibes/ML-service/internal/config"
	"github.com/helenavibes/ML-service/internal/database"
	"github.com/helenavibes/ML-service/internal/events"
	"github.com/helenavibes/ML-service/internal/inference"
	"github.com/helenavibes/ML-service/internal/jobs"
	"github.com/helenavibes/ML-service/internal/ledger"
	"github.com/helenavibes/ML-service/internal/metrics"
	"github.com/helenavibes/ML-service/internal/registry"
	"github.com/helenavibes/ML-service/internal/repository"
	"github.com/helenavibes/ML-service/internal/seed"
	"github.com/helenavibes/ML-service/internal/tasks"
	"github.com/helenavibes/ML-service/internal/validation"
)

const jobTimeout = 10 * time.Minute

// Components holds the wired services shared by the server and the admin CLI
type Components struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    repository.Store
	Database *database.Database // nil with the memory driver
	Redis    *redis.Client      // nil when disabled
	Kafka    *events.KafkaPublisher
	Hub      *events.Hub

	Gatherer prometheus.Gatherer
	Metrics  *metrics.Collector

	Ledger    *ledger.Ledger
	Accounts  *accounts.Service
	Registry  *registry.Registry
	Predictor inference.Predictor
	Tasks     *tasks.Service
	Scheduler *jobs.Scheduler
}

// NewComponents opens storage and the optional backends and wires every service
func NewComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger}

	if err := c.openStore(); err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr(),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.Database,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			c.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.Redis = rdb
		logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr()))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Gatherer = reg
	c.Metrics = metrics.NewCollector(reg)

	c.Hub = events.NewHub(c.Redis, logger)
	sinks := []events.Sink{{Name: "websocket", Publisher: c.Hub}}
	if cfg.Kafka.Enabled {
		kp, err := events.NewKafkaPublisher(cfg.Kafka, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		c.Kafka = kp
		sinks = append(sinks, events.Sink{Name: "kafka", Publisher: kp})
	}
	publisher := events.NewFanout(logger, c.Metrics, sinks...)

	cache, err := c.modelCache()
	if err != nil {
		c.Close()
		return nil, err
	}

	validator, err := validation.New(cfg.Tasks.RequiredFields, cfg.Tasks.RecordSchema)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create record validator: %w", err)
	}

	c.Predictor = inference.NewStubPredictor()
	if cb := cfg.Tasks.CircuitBreaker; cb.Enabled {
		c.Predictor = inference.NewCircuitBreaker(c.Predictor, cb.FailureThreshold, cb.ResetTimeout, logger)
	}

	c.Ledger = ledger.New(c.Store, logger, ledger.WithMetrics(c.Metrics), ledger.WithPublisher(publisher))
	c.Accounts = accounts.NewService(c.Store, cfg.Auth, logger)
	c.Registry = registry.New(c.Store, cache, logger)
	c.Tasks = tasks.NewService(c.Store, c.Ledger, validator, c.Predictor, c.Registry, logger,
		tasks.WithMetrics(c.Metrics),
		tasks.WithPublisher(publisher),
		tasks.WithPredictTimeout(cfg.Tasks.PredictTimeout),
		tasks.WithMaxRecords(cfg.Tasks.MaxRecords),
	)

	c.Scheduler = jobs.NewScheduler(logger, jobTimeout)
	if cfg.Jobs.Enabled {
		if err := c.scheduleJobs(); err != nil {
			c.Close()
			return nil, err
		}
	}

	return c, nil
}

func (c *Components) openStore() error {
	cfg := c.Config.Database
	if cfg.Driver == "memory" {
		c.Logger.Warn("Using in-memory store; data will not survive a restart")
		c.Store = repository.NewMemoryStore()
		return nil
	}

	db, err := database.NewDatabase(cfg, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(cfg.MigrateMode); err != nil {
		db.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	c.Database = db
	c.Store = database.NewStore(db)
	return nil
}

func (c *Components) modelCache() (registry.Cache, error) {
	cfg := c.Config.Registry
	switch cfg.Cache {
	case "redis":
		if c.Redis == nil {
			return nil, fmt.Errorf("registry cache %q requires redis.enabled", cfg.Cache)
		}
		return registry.NewRedisCache(c.Redis, cfg.CacheTTL, c.Logger), nil
	case "local":
		return registry.NewLocalCache(cfg.CacheTTL), nil
	default:
		return registry.NopCache{}, nil
	}
}

func (c *Components) scheduleJobs() error {
	cfg := c.Config.Jobs
	if cfg.ReconcileSchedule != "" {
		if err := c.Scheduler.Add(cfg.ReconcileSchedule, jobs.NewReconcileJob(c.Store, c.Ledger, c.Logger)); err != nil {
			return fmt.Errorf("failed to schedule reconcile job: %w", err)
		}
	}
	if cfg.RecoverSchedule != "" {
		job := jobs.NewRecoverJob(c.Tasks, c.Config.Tasks.StaleAfter)
		if err := c.Scheduler.Add(cfg.RecoverSchedule, job); err != nil {
			return fmt.Errorf("failed to schedule recover job: %w", err)
		}
	}
	return nil
}

// Seed loads the seed file (or the built-in demo data) and applies it
func (c *Components) Seed(ctx context.Context, path string) (*seed.Result, error) {
	file, err := seed.Load(path)
	if err != nil {
		return nil, err
	}
	return seed.NewSeeder(c.Accounts, c.Ledger, c.Registry, c.Logger).Apply(ctx, file)
}

// Close releases the backends opened by NewComponents
func (c *Components) Close() error {
	var errs []error
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	return errors.Join(errs...)
}
