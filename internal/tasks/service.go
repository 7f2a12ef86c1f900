package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/helenavibes/ML-service/internal/events"
	"github.com/helenavibes/ML-service/internal/inference"
	"github.com/helenavibes/ML-service/internal/ledger"
	"github.com/helenavibes/ML-service/internal/metrics"
	"github.com/helenavibes/ML-service/internal/models"
	"github.com/helenavibes/ML-service/internal/pricing"
	"github.com/helenavibes/ML-service/internal/repository"
	"github.com/helenavibes/ML-service/internal/validation"
)

const (
	msgNoValidRecords = "no valid records"
	msgAbandoned      = "task abandoned while processing"
)

// ErrTooManyRecords is returned when a request exceeds the configured record limit
var ErrTooManyRecords = errors.New("too many records")

// ModelLookup resolves models by id
type ModelLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Model, error)
}

// Admission is a task that passed the balance check, together with the model
// and the cost fixed at admission time
type Admission struct {
	Task  *models.PredictionTask
	Model *models.Model
	Cost  decimal.Decimal
}

// Service drives prediction tasks through their lifecycle
type Service struct {
	store     repository.Store
	ledger    *ledger.Ledger
	validator validation.Validator
	predictor inference.Predictor
	models    ModelLookup
	logger    *zap.Logger
	metrics   *metrics.Collector
	publisher events.Publisher
	tracer    trace.Tracer

	predictTimeout time.Duration
	maxRecords     int
	now            func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithMetrics records task metrics
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithPublisher emits a task event after each terminal transition commits
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithPredictTimeout bounds each predictor call; zero means no bound
func WithPredictTimeout(d time.Duration) Option {
	return func(s *Service) { s.predictTimeout = d }
}

// WithMaxRecords limits the number of records in one request; zero means no limit
func WithMaxRecords(n int) Option {
	return func(s *Service) { s.maxRecords = n }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a task lifecycle service
func NewService(
	store repository.Store,
	l *ledger.Ledger,
	v validation.Validator,
	p inference.Predictor,
	lookup ModelLookup,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:     store,
		ledger:    l,
		validator: v,
		predictor: p,
		models:    lookup,
		logger:    logger,
		publisher: events.Nop{},
		tracer:    otel.Tracer("github.com/helenavibes/ML-service/internal/tasks"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit runs a request through Create, Admit, Execute and Settle and returns
// the final task. A predictor failure returns the FAILED task together with a
// *models.PredictionError; a balance shortfall at settlement returns the
// FAILED task together with a *models.InsufficientBalanceError.
func (s *Service) Submit(ctx context.Context, userID, modelID uuid.UUID, records []models.Record) (*models.PredictionTask, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.Submit", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.String("model_id", modelID.String()),
		attribute.Int("records", len(records)),
	))
	defer span.End()

	task, err := s.Create(ctx, userID, modelID, records)
	if err != nil {
		return nil, traceErr(span, err)
	}
	if task.Status == models.TaskStatusValidationError {
		span.SetAttributes(attribute.String("status", string(task.Status)))
		return task, nil
	}

	adm, err := s.Admit(ctx, task)
	if err != nil {
		return nil, traceErr(span, err)
	}

	// Once admitted the task must reach a terminal status even if the caller goes away.
	detached := context.WithoutCancel(ctx)

	results, err := s.Execute(ctx, adm)
	if err != nil {
		failed, ferr := s.Fail(detached, adm.Task.ID, err.Error())
		if ferr != nil {
			return nil, traceErr(span, errors.Join(err, ferr))
		}
		return failed, traceErr(span, err)
	}

	settled, err := s.Settle(detached, adm, results)
	if settled != nil {
		span.SetAttributes(attribute.String("status", string(settled.Status)))
	}
	return settled, traceErr(span, err)
}

// Create validates the request and partitions the records. With no valid
// records the task is persisted in VALIDATION_ERROR and returned; otherwise a
// PENDING task is returned without being persisted.
func (s *Service) Create(ctx context.Context, userID, modelID uuid.UUID, records []models.Record) (*models.PredictionTask, error) {
	if s.maxRecords > 0 && len(records) > s.maxRecords {
		return nil, fmt.Errorf("%d records exceeds the limit of %d: %w", len(records), s.maxRecords, ErrTooManyRecords)
	}

	model, err := s.models.Get(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if !model.IsActive {
		return nil, fmt.Errorf("model %s: %w", model.ID, models.ErrModelInactive)
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, fmt.Errorf("user %s: %w", user.ID, models.ErrUserInactive)
	}

	valid, invalid := s.validator.Validate(records)
	now := s.now().UTC()
	task := &models.PredictionTask{
		ID:          uuid.New(),
		UserID:      user.ID,
		ModelID:     model.ID,
		InputData:   datatypes.JSONSlice[models.Record](records),
		ValidData:   datatypes.JSONSlice[models.Record](valid),
		InvalidData: datatypes.JSONSlice[models.Record](invalid),
		Status:      models.TaskStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if task.InputData == nil {
		task.InputData = datatypes.JSONSlice[models.Record]{}
	}

	if len(valid) > 0 {
		return task, nil
	}

	task.Status = models.TaskStatusValidationError
	task.ErrorMessage = msgNoValidRecords
	task.CompletedAt = &now
	if err := s.store.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}
	s.finished(ctx, task)
	return task, nil
}

// Admit locks the user, checks the balance covers the task's cost and
// persists the task in PROCESSING. Nothing is debited and nothing is persisted
// when the balance is short.
func (s *Service) Admit(ctx context.Context, task *models.PredictionTask) (*Admission, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.Admit", trace.WithAttributes(attribute.String("task_id", task.ID.String())))
	defer span.End()

	if !CanTransition(task.Status, models.TaskStatusProcessing) {
		return nil, traceErr(span, &models.TransitionError{TaskID: task.ID, From: task.Status, To: models.TaskStatusProcessing})
	}

	model, err := s.models.Get(ctx, task.ModelID)
	if err != nil {
		return nil, traceErr(span, err)
	}
	if !model.IsActive {
		return nil, traceErr(span, fmt.Errorf("model %s: %w", model.ID, models.ErrModelInactive))
	}

	cost, err := pricing.Cost(model, task.ValidCount())
	if err != nil {
		return nil, traceErr(span, err)
	}

	admitted := task.Clone()
	err = s.store.InTx(ctx, func(ctx context.Context, repo repository.Repository) error {
		user, err := repo.LockUser(ctx, task.UserID)
		if err != nil {
			return err
		}
		if !user.IsActive {
			return fmt.Errorf("user %s: %w", user.ID, models.ErrUserInactive)
		}
		if user.Balance.LessThan(cost) {
			return &models.InsufficientBalanceError{UserID: user.ID, Required: cost, Available: user.Balance}
		}
		admitted.Status = models.TaskStatusProcessing
		return repo.SaveTask(ctx, admitted)
	})
	if err != nil {
		if errors.Is(err, models.ErrInsufficientBalance) {
			s.metrics.RecordInsufficientBalance("admit")
		}
		return nil, traceErr(span, err)
	}

	s.logger.Debug("Task admitted",
		zap.String("task_id", admitted.ID.String()),
		zap.String("cost", cost.String()),
		zap.Int("valid_records", admitted.ValidCount()))
	return &Admission{Task: admitted, Model: model, Cost: cost}, nil
}

type prediction struct {
	results []interface{}
	err     error
}

// Execute calls the predictor on the admitted task's valid records. No lock is
// held and no unit of work is open while it runs. Timeouts, predictor errors
// and result count mismatches are returned as *models.PredictionError.
func (s *Service) Execute(ctx context.Context, adm *Admission) ([]interface{}, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.Execute", trace.WithAttributes(
		attribute.String("task_id", adm.Task.ID.String()),
		attribute.String("model", adm.Model.Name),
	))
	defer span.End()

	if s.predictTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.predictTimeout)
		defer cancel()
	}

	records := []models.Record(adm.Task.ValidData)
	done := make(chan prediction, 1)
	start := s.now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- prediction{err: fmt.Errorf("predictor panicked: %v", r)}
			}
		}()
		results, err := s.predictor.Predict(ctx, adm.Model, records)
		done <- prediction{results: results, err: err}
	}()

	var out prediction
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = fmt.Errorf("predictor did not finish: %w", ctx.Err())
	}
	s.metrics.RecordPrediction(s.now().Sub(start))

	if out.err == nil && len(out.results) != len(records) {
		out.err = fmt.Errorf("predictor returned %d results for %d records", len(out.results), len(records))
	}
	if out.err != nil {
		s.logger.Warn("Prediction failed",
			zap.String("task_id", adm.Task.ID.String()),
			zap.String("model", adm.Model.Name),
			zap.Error(out.err))
		return nil, traceErr(span, &models.PredictionError{TaskID: adm.Task.ID, Err: out.err})
	}
	return out.results, nil
}

// Settle debits the admitted cost and completes the task in one unit of work.
// The task is locked before its status is checked, then the user is locked
// for the debit. If the balance falls short the unit rolls back and the task
// is failed instead.
func (s *Service) Settle(ctx context.Context, adm *Admission, results []interface{}) (*models.PredictionTask, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.Settle", trace.WithAttributes(
		attribute.String("task_id", adm.Task.ID.String()),
		attribute.String("cost", adm.Cost.String()),
	))
	defer span.End()

	var (
		settled *models.PredictionTask
		debit   *models.Transaction
	)
	err := s.store.InTx(ctx, func(ctx context.Context, repo repository.Repository) error {
		task, err := repo.LockTask(ctx, adm.Task.ID)
		if err != nil {
			return err
		}
		if !CanTransition(task.Status, models.TaskStatusCompleted) {
			return &models.TransitionError{TaskID: task.ID, From: task.Status, To: models.TaskStatusCompleted}
		}

		if adm.Cost.IsPositive() {
			taskID := task.ID
			debit, err = s.ledger.WithdrawTx(ctx, repo, task.UserID, adm.Cost,
				fmt.Sprintf("ML Prediction using %s", adm.Model.Name), &taskID)
			if err != nil {
				return err
			}
		}

		now := s.now().UTC()
		task.Status = models.TaskStatusCompleted
		task.Result = datatypes.JSONSlice[interface{}](results)
		task.TotalCost = decimal.NewNullDecimal(adm.Cost)
		task.ErrorMessage = ""
		task.CompletedAt = &now
		settled = task
		return repo.SaveTask(ctx, task)
	})
	if err != nil {
		var short *models.InsufficientBalanceError
		if errors.As(err, &short) {
			s.metrics.RecordInsufficientBalance("settle")
			failed, ferr := s.Fail(ctx, adm.Task.ID, short.Error())
			if ferr != nil {
				return nil, traceErr(span, errors.Join(err, ferr))
			}
			return failed, traceErr(span, err)
		}
		return nil, traceErr(span, err)
	}

	if debit != nil {
		s.ledger.Committed(ctx, debit)
	}
	s.finished(ctx, settled)
	return settled, nil
}

// Fail moves a PROCESSING task to FAILED with reason under the task's lock.
// It never debits.
func (s *Service) Fail(ctx context.Context, taskID uuid.UUID, reason string) (*models.PredictionTask, error) {
	var failed *models.PredictionTask
	err := s.store.InTx(ctx, func(ctx context.Context, repo repository.Repository) error {
		task, err := repo.LockTask(ctx, taskID)
		if err != nil {
			return err
		}
		if !CanTransition(task.Status, models.TaskStatusFailed) {
			return &models.TransitionError{TaskID: task.ID, From: task.Status, To: models.TaskStatusFailed}
		}

		now := s.now().UTC()
		task.Status = models.TaskStatusFailed
		task.ErrorMessage = reason
		task.Result = nil
		task.TotalCost = decimal.NullDecimal{}
		task.CompletedAt = &now
		failed = task
		return repo.SaveTask(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	s.finished(ctx, failed)
	return failed, nil
}

// RecoverStale fails PROCESSING tasks not updated since olderThan ago. Such
// tasks were never charged, so failing them is always safe. Tasks settled
// concurrently are skipped.
func (s *Service) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	stale, err := s.store.ListTasksByStatus(ctx, models.TaskStatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale tasks: %w", err)
	}

	recovered := 0
	for _, task := range stale {
		if _, err := s.Fail(ctx, task.ID, msgAbandoned); err != nil {
			if errors.Is(err, models.ErrInvalidTransition) {
				continue
			}
			return recovered, fmt.Errorf("failed to recover task %s: %w", task.ID, err)
		}
		recovered++
	}

	if recovered > 0 {
		s.metrics.RecordRecovered(recovered)
		s.logger.Warn("Recovered stale tasks", zap.Int("count", recovered), zap.Time("cutoff", cutoff))
	}
	return recovered, nil
}

// Get returns a task visible to requester: its owner or an admin
func (s *Service) Get(ctx context.Context, requester *models.User, taskID uuid.UUID) (*models.PredictionTask, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != requester.ID && !requester.IsAdmin() {
		return nil, fmt.Errorf("task %s: %w", taskID, models.ErrForbidden)
	}
	return task, nil
}

// List returns the user's tasks, newest first
func (s *Service) List(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*models.PredictionTask, error) {
	return s.store.ListTasksByUser(ctx, userID, offset, limit)
}

// finished records, logs and publishes a committed terminal task
func (s *Service) finished(ctx context.Context, task *models.PredictionTask) {
	s.metrics.RecordTask(task)

	fields := []zap.Field{
		zap.String("task_id", task.ID.String()),
		zap.String("user_id", task.UserID.String()),
		zap.String("status", string(task.Status)),
		zap.Int("valid_records", task.ValidCount()),
		zap.Int("invalid_records", task.InvalidCount()),
	}
	if task.TotalCost.Valid {
		fields = append(fields, zap.String("total_cost", task.TotalCost.Decimal.String()))
	}
	if task.ErrorMessage != "" {
		fields = append(fields, zap.String("error_message", task.ErrorMessage))
	}
	s.logger.Info("Task finished", fields...)

	if err := s.publisher.Publish(ctx, events.NewTaskEvent(task)); err != nil {
		s.logger.Warn("Failed to publish task event",
			zap.String("task_id", task.ID.String()),
			zap.Error(err))
	}
}

func traceErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
