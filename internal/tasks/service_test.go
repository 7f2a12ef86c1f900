package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/events"
	"github.com/helenavibes/ML-service/internal/inference"
	"github.com/helenavibes/ML-service/internal/ledger"
	"github.com/helenavibes/ML-service/internal/models"
	"github.com/helenavibes/ML-service/internal/registry"
	"github.com/helenavibes/ML-service/internal/repository"
	"github.com/helenavibes/ML-service/internal/validation"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// gatedStore pauses the first SaveTask made inside a unit of work until
// release is closed, leaving that unit's locks held.
type gatedStore struct {
	repository.Store
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func newGatedStore(store repository.Store) *gatedStore {
	return &gatedStore{Store: store, reached: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) InTx(ctx context.Context, fn repository.TxFunc) error {
	return g.Store.InTx(ctx, func(ctx context.Context, repo repository.Repository) error {
		return fn(ctx, &gatedRepo{Repository: repo, gate: g})
	})
}

func (g *gatedStore) pause() {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.reached)
		<-g.release
	}
}

type gatedRepo struct {
	repository.Repository
	gate *gatedStore
}

func (r *gatedRepo) SaveTask(ctx context.Context, task *models.PredictionTask) error {
	r.gate.pause()
	return r.Repository.SaveTask(ctx, task)
}

type TaskServiceTestSuite struct {
	suite.Suite
	ctx       context.Context
	store     *repository.MemoryStore
	ledger    *ledger.Ledger
	registry  *registry.Registry
	publisher *recordingPublisher
	predictor inference.Predictor
	service   *Service

	user  *models.User
	model *models.Model
}

func (s *TaskServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = repository.NewMemoryStore()
	s.ledger = ledger.New(s.store, zap.NewNop())
	s.registry = registry.New(s.store, nil, zap.NewNop())
	s.publisher = &recordingPublisher{}
	s.predictor = inference.NewStubPredictor()
	s.service = s.newService()

	s.user = &models.User{Username: "alice", Email: "alice@example.com", Role: models.RoleUser, IsActive: true}
	s.Require().NoError(s.store.SaveUser(s.ctx, s.user))

	var err error
	s.model, err = s.registry.Create(s.ctx, registry.CreateModelRequest{
		Name:          "Basic Classifier",
		ModelType:     models.ModelTypeClassification,
		CostPerRecord: s.dec("0.5"),
	})
	s.Require().NoError(err)
}

func (s *TaskServiceTestSuite) newService(opts ...Option) *Service {
	predictor := inference.PredictorFunc(func(ctx context.Context, m *models.Model, r []models.Record) ([]interface{}, error) {
		return s.predictor.Predict(ctx, m, r)
	})
	opts = append([]Option{WithPublisher(s.publisher), WithPredictTimeout(time.Second)}, opts...)
	return NewService(s.store, s.ledger, validation.NewRequiredFields(), predictor, s.registry, zap.NewNop(), opts...)
}

func (s *TaskServiceTestSuite) dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (s *TaskServiceTestSuite) deposit(amount string) {
	_, err := s.ledger.Deposit(s.ctx, s.user.ID, s.dec(amount), "initial balance")
	s.Require().NoError(err)
}

func (s *TaskServiceTestSuite) assertBalance(expected string) {
	balance, err := s.ledger.BalanceOf(s.ctx, s.user.ID)
	s.Require().NoError(err)
	s.True(balance.Equal(s.dec(expected)), "balance %s, expected %s", balance, expected)

	rec, err := s.ledger.Reconcile(s.ctx, s.user.ID)
	s.Require().NoError(err)
	s.True(rec.Consistent())
}

func records(valid, invalid int) []models.Record {
	out := make([]models.Record, 0, valid+invalid)
	for i := 0; i < valid; i++ {
		out = append(out, models.Record{"feature1": i, "feature2": float64(i) / 2})
	}
	for i := 0; i < invalid; i++ {
		out = append(out, models.Record{"feature1": i})
	}
	return out
}

func (s *TaskServiceTestSuite) withdrawalsFor(taskID uuid.UUID) []*models.Transaction {
	linked, err := s.store.ListTransactionsByTask(s.ctx, taskID)
	s.Require().NoError(err)
	return linked
}

func (s *TaskServiceTestSuite) TestSubmitChargesValidRecordsOnly() {
	s.deposit("100")

	task, err := s.service.Submit(s.ctx, s.user.ID, s.model.ID, records(10, 2))
	s.Require().NoError(err)

	s.Equal(models.TaskStatusCompleted, task.Status)
	s.Equal(10, task.ValidCount())
	s.Equal(2, task.InvalidCount())
	s.Len(task.InputData, 12)
	s.Require().True(task.TotalCost.Valid)
	s.True(task.TotalCost.Decimal.Equal(s.dec("5")))
	s.Len(task.Result, 10)
	s.Equal("prediction_0", task.Result[0])
	s.NotNil(task.CompletedAt)
	s.Empty(task.ErrorMessage)
	s.assertBalance("95")

	linked := s.withdrawalsFor(task.ID)
	s.Require().Len(linked, 1)
	s.Equal(models.TransactionWithdrawal, linked[0].Type)
	s.True(linked[0].Amount.Equal(s.dec("5")))
	s.Equal("ML Prediction using Basic Classifier", linked[0].Description)

	stored, err := s.store.GetTask(s.ctx, task.ID)
	s.Require().NoError(err)
	s.Equal(models.TaskStatusCompleted, stored.Status)

	s.Contains(s.publisher.types(), events.TaskCompleted)
}

func (s *TaskServiceTestSuite) TestSubmitRejectsInsufficientBalance() {
	s.deposit("1")

	task, err := s.service.Submit(s.ctx, s.user.ID, s.model.ID, records(10, 0))
	s.Nil(task)

	var short *models.InsufficientBalanceError
	s.Require().ErrorAs(err, &short)
	s.True(short.Required.Equal(s.dec("5")))
	s.True(short.Available.Equal(s.dec("1")))
	s.assertBalance("1")

	tasks, err := s.service.List(s.ctx, s.user.ID, 0, 0)
	s.Require().NoError(err)
	s.Empty(tasks)
}

func (s *TaskServiceTestSuite) TestExactBalanceIsEnough() {
	s.deposit("5")

	task, err := s.service.Submit(s.ctx, s.user.ID, s.model.ID, records(10, 0))
	s.Require().NoError(err)
	s.Equal(models.TaskStatusCompleted, task.Status)
	s.assertBalance("0")
}

func (s *TaskServiceTestSuite) TestValidationErrorIsFree() {
	s.deposit("10")

	for _, input := range [][]models.Record{records(0, 3), {}, nil} {
		task, err := s.service.Submit(s.ctx, s.user.ID, s.model.ID, input)
		s.Require().NoError(err)
		s.Equal(models.TaskStatusValidationError, task.Status)
		s.Equal(msgNoValidRecords, task.ErrorMessage)
		s.False(task.TotalCost.Valid)
		s.Nil(task.Result)
		s.NotNil(task.CompletedAt)
		s.Empty(s.withdrawalsFor(task.ID))
	}
	s.assertBalance("10")

	tasks, err := s.service.List(s.ctx, s.user.ID, 0, 0)
	s.Require().NoError(err)
	s.Len(tasks, 3)
	s.Contains(s.publisher.types(), events.TaskValidationError)
}

func (s *TaskServiceTestSuite) TestValidationErrorWithZeroBalance() {
	task, err := s.service.Submit(s.ctx, s.user.ID, s.model.ID, records(0, 1))
	s.Require().NoError(err)
	s.Equal(models.TaskStatusValidationError, task.Status)
}

func (s *TaskServiceTestSuite) TestPredictorFailureLeavesBalance() {
	s.deposit("100")
	cause := errors.New("model backend unavailable")
	s.predictor = inference.PredictorFunc(func(context.Context, *models.Model, []models.Record) ([]interface{}, error) {
		return nil, cause
	})

	task, err := s.service.Submit(s.ctx, s.user.ID, s.model.ID, records(4, 0))
	s.ErrorIs(err, models.ErrPrediction)
	s.ErrorIs(err, cause)

	s.Require().NotNil(task)
	s.Equal(models.TaskStatusFailed, task.Status)
	s.Contains(task.ErrorMessage, "model backend unavailable")
	s.False(task.TotalCost.Valid)
	s.Nil(task.Result)
	s.Empty(s.withdrawalsFor(task.ID))
	s.assertBalance("100")
	s.Contains(s.publisher.types(), events.TaskFailed)
}

func (s *TaskServiceTestSuite) TestPredictorTimeout() {
	s.deposit("100")
	s.service = s.newService(WithPredictTimeout(20 * time.Millisecond))
	s.predictor = inference.PredictorFunc(func(ctx context.Context, _ *models.Model, r []models.Record) ([]interface{}, error) {
		time.Sleep(200 * time.Millisecond)
		return make([]interface{}, len(r)), nil
	})

	task, err := s.service.Submit(s.ctx, s.user.ID, s.model.ID, records(2, 0))
	s.ErrorIs(err, models.ErrPrediction)
	s.ErrorIs(err, context.DeadlineExceeded)
	s.Require().NotNil(task)
	s.Equal(models.TaskStatusFailed, task.Status)
	s.assertBalance("100")
}

func (s *TaskServiceTestSuite) TestPredictorResultCountMismatch() {
	s.deposit("100")
	s.predictor = inference.PredictorFunc(func(context.Context, *models.Model, []models.Record) ([]interface{}, error) {
		return []interface{}{"only one"}, nil
	})

	task, err := s.service.Submit(s.ctx, s.user.ID, s.model.ID, records(3, 0))
	s.ErrorIs(err, models.ErrPrediction)
	s.Require().NotNil(task)
	s.Equal(models.TaskStatusFailed, task.Status)
	s.assertBalance("100")
}

func (s *TaskServiceTestSuite) TestPredictorPanic() {
	s.deposit("100")
	s.predictor = inference.PredictorFunc(func(context.Context, *models.Model, []models.Record) ([]interface{}, error) {
		panic("boom")
	})

	task, err := s.service.Submit(s.ctx, s.user.ID, s.model.ID, records(1, 0))
	s.ErrorIs(err, models.ErrPrediction)
	s.Require().NotNil(task)
	s.Equal(models.TaskStatusFailed, task.Status)
	s.assertBalance("100")
}

func (s *TaskServiceTestSuite) TestSettleRechecksBalance() {
	s.deposit("10")

	task, err := s.service.Create(s.ctx, s.user.ID, s.model.ID, records(10, 0))
	s.Require().NoError(err)
	s.Equal(models.TaskStatusPending, task.Status)

	adm, err := s.service.Admit(s.ctx, task)
	s.Require().NoError(err)
	s.Equal(models.TaskStatusProcessing, adm.Task.Status)
	s.True(adm.Cost.Equal(s.dec("5")))
	s.assertBalance("10")

	// A concurrent charge drains the balance between admission and settlement.
	_, err = s.ledger.Withdraw(s.ctx, s.user.ID, s.dec("8"), "other work", nil)
	s.Require().NoError(err)

	results, err := s.service.Execute(s.ctx, adm)
	s.Require().NoError(err)

	settled, err := s.service.Settle(s.ctx, adm, results)
	s.ErrorIs(err, models.ErrInsufficientBalance)
	s.Require().NotNil(settled)
	s.Equal(models.TaskStatusFailed, settled.Status)
	s.False(settled.TotalCost.Valid)
	s.Nil(settled.Result)
	s.Empty(s.withdrawalsFor(task.ID))
	s.assertBalance("2")
}

func (s *TaskServiceTestSuite) TestCostFixedAtAdmission() {
	s.deposit("100")

	task, err := s.service.Create(s.ctx, s.user.ID, s.model.ID, records(2, 0))
	s.Require().NoError(err)
	adm, err := s.service.Admit(s.ctx, task)
	s.Require().NoError(err)

	_, err = s.registry.UpdateCost(s.ctx, s.model.ID, s.dec("3"))
	s.Require().NoError(err)

	results, err := s.service.Execute(s.ctx, adm)
	s.Require().NoError(err)
	settled, err := s.service.Settle(s.ctx, adm, results)
	s.Require().NoError(err)
	s.True(settled.TotalCost.Decimal.Equal(s.dec("1")))
	s.assertBalance("99")
}

func (s *TaskServiceTestSuite) TestSettleTwiceIsRejected() {
	s.deposit("100")

	task, err := s.service.Create(s.ctx, s.user.ID, s.model.ID, records(2, 0))
	s.Require().NoError(err)
	adm, err := s.service.Admit(s.ctx, task)
	s.Require().NoError(err)
	results, err := s.service.Execute(s.ctx, adm)
	s.Require().NoError(err)

	_, err = s.service.Settle(s.ctx, adm, results)
	s.Require().NoError(err)
	_, err = s.service.Settle(s.ctx, adm, results)
	s.ErrorIs(err, models.ErrInvalidTransition)

	_, err = s.service.Fail(s.ctx, task.ID, "late failure")
	s.ErrorIs(err, models.ErrInvalidTransition)

	_, err = s.service.Admit(s.ctx, adm.Task)
	s.ErrorIs(err, models.ErrInvalidTransition)
	s.assertBalance("99")
}

func (s *TaskServiceTestSuite) TestCreateRejections() {
	s.deposit("100")

	_, err := s.service.Submit(s.ctx, s.user.ID, uuid.New(), records(1, 0))
	s.ErrorIs(err, models.ErrModelNotFound)

	_, err = s.service.Submit(s.ctx, uuid.New(), s.model.ID, records(1, 0))
	s.ErrorIs(err, models.ErrUserNotFound)

	_, err = s.registry.SetActive(s.ctx, s.model.ID, false)
	s.Require().NoError(err)
	_, err = s.service.Submit(s.ctx, s.user.ID, s.model.ID, records(1, 0))
	s.ErrorIs(err, models.ErrModelInactive)

	_, err = s.registry.SetActive(s.ctx, s.model.ID, true)
	s.Require().NoError(err)
	s.user.IsActive = false
	s.Require().NoError(s.store.SaveUser(s.ctx, s.user))
	_, err = s.service.Submit(s.ctx, s.user.ID, s.model.ID, records(1, 0))
	s.ErrorIs(err, models.ErrUserInactive)

	s.assertBalance("100")
}

func (s *TaskServiceTestSuite) TestMaxRecords() {
	s.deposit("100")
	s.service = s.newService(WithMaxRecords(3))

	_, err := s.service.Submit(s.ctx, s.user.ID, s.model.ID, records(4, 0))
	s.ErrorIs(err, ErrTooManyRecords)

	task, err := s.service.Submit(s.ctx, s.user.ID, s.model.ID, records(3, 0))
	s.Require().NoError(err)
	s.Equal(models.TaskStatusCompleted, task.Status)
}

func (s *TaskServiceTestSuite) TestRecoverStale() {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := start
	s.store = repository.NewMemoryStore(repository.WithClock(func() time.Time { return clock }))
	s.ledger = ledger.New(s.store, zap.NewNop())
	s.registry = registry.New(s.store, nil, zap.NewNop())
	s.Require().NoError(s.store.SaveUser(s.ctx, s.user))
	s.Require().NoError(s.store.SaveModel(s.ctx, s.model))
	s.service = s.newService(WithClock(func() time.Time { return clock }))
	s.deposit("100")

	task, err := s.service.Create(s.ctx, s.user.ID, s.model.ID, records(2, 0))
	s.Require().NoError(err)
	stuck, err := s.service.Admit(s.ctx, task)
	s.Require().NoError(err)

	clock = start.Add(3 * time.Minute)
	task, err = s.service.Create(s.ctx, s.user.ID, s.model.ID, records(2, 0))
	s.Require().NoError(err)
	fresh, err := s.service.Admit(s.ctx, task)
	s.Require().NoError(err)

	clock = start.Add(6 * time.Minute)
	n, err := s.service.RecoverStale(s.ctx, 5*time.Minute)
	s.Require().NoError(err)
	s.Equal(1, n)

	recovered, err := s.store.GetTask(s.ctx, stuck.Task.ID)
	s.Require().NoError(err)
	s.Equal(models.TaskStatusFailed, recovered.Status)
	s.Equal(msgAbandoned, recovered.ErrorMessage)

	pending, err := s.store.GetTask(s.ctx, fresh.Task.ID)
	s.Require().NoError(err)
	s.Equal(models.TaskStatusProcessing, pending.Status)

	_, err = s.service.Settle(s.ctx, stuck, []interface{}{"a", "b"})
	s.ErrorIs(err, models.ErrInvalidTransition)
	s.assertBalance("100")
}

func (s *TaskServiceTestSuite) TestGetVisibility() {
	s.deposit("100")
	task, err := s.service.Submit(s.ctx, s.user.ID, s.model.ID, records(1, 0))
	s.Require().NoError(err)

	got, err := s.service.Get(s.ctx, s.user, task.ID)
	s.Require().NoError(err)
	s.Equal(task.ID, got.ID)

	other := &models.User{ID: uuid.New(), Role: models.RoleUser}
	_, err = s.service.Get(s.ctx, other, task.ID)
	s.ErrorIs(err, models.ErrForbidden)

	admin := &models.User{ID: uuid.New(), Role: models.RoleAdmin}
	_, err = s.service.Get(s.ctx, admin, task.ID)
	s.NoError(err)

	_, err = s.service.Get(s.ctx, s.user, uuid.New())
	s.ErrorIs(err, models.ErrTaskNotFound)
}

func (s *TaskServiceTestSuite) TestConcurrentSubmitsNeverOverspend() {
	s.deposit("10")

	const workers = 30
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := s.service.Submit(s.ctx, s.user.ID, s.model.ID, records(2, 0))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				completed++
				assert.Equal(s.T(), models.TaskStatusCompleted, task.Status)
			case errors.Is(err, models.ErrInsufficientBalance):
				rejected++
			default:
				assert.NoError(s.T(), err)
			}
		}()
	}
	wg.Wait()

	s.Equal(10, completed)
	s.Equal(workers, completed+rejected)
	s.assertBalance("0")
}

func (s *TaskServiceTestSuite) admitted(valid int) (*Admission, []interface{}) {
	task, err := s.service.Create(s.ctx, s.user.ID, s.model.ID, records(valid, 0))
	s.Require().NoError(err)
	adm, err := s.service.Admit(s.ctx, task)
	s.Require().NoError(err)
	results, err := s.service.Execute(s.ctx, adm)
	s.Require().NoError(err)
	return adm, results
}

func (s *TaskServiceTestSuite) gatedService(gate *gatedStore) *Service {
	return NewService(gate, s.ledger, validation.NewRequiredFields(), s.predictor, s.registry, zap.NewNop())
}

func (s *TaskServiceTestSuite) TestConcurrentSettleChargesOnce() {
	s.deposit("100")
	adm, results := s.admitted(2)

	gate := newGatedStore(s.store)
	service := s.gatedService(gate)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := service.Settle(s.ctx, adm, results)
			errs <- err
		}()
	}

	<-gate.reached
	s.Never(func() bool { return len(errs) > 0 }, 50*time.Millisecond, 5*time.Millisecond,
		"second settle ran while the task was locked")
	close(gate.release)

	var settled, rejected int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			settled++
		case errors.Is(err, models.ErrInvalidTransition):
			rejected++
		default:
			s.NoError(err)
		}
	}
	s.Equal(1, settled)
	s.Equal(1, rejected)

	task, err := s.store.GetTask(s.ctx, adm.Task.ID)
	s.Require().NoError(err)
	s.Equal(models.TaskStatusCompleted, task.Status)
	s.Len(s.withdrawalsFor(adm.Task.ID), 1)
	s.assertBalance("99")
}

func (s *TaskServiceTestSuite) TestFailDuringSettleKeepsCompletedTask() {
	s.deposit("100")
	adm, results := s.admitted(10)

	gate := newGatedStore(s.store)
	service := s.gatedService(gate)

	settleErr := make(chan error, 1)
	go func() {
		_, err := service.Settle(s.ctx, adm, results)
		settleErr <- err
	}()
	<-gate.reached

	failErr := make(chan error, 1)
	go func() {
		_, err := service.Fail(s.ctx, adm.Task.ID, "worker lost")
		failErr <- err
	}()
	s.Never(func() bool { return len(failErr) > 0 }, 50*time.Millisecond, 5*time.Millisecond,
		"fail ran while settle held the task")
	close(gate.release)

	s.NoError(<-settleErr)
	s.ErrorIs(<-failErr, models.ErrInvalidTransition)

	task, err := s.store.GetTask(s.ctx, adm.Task.ID)
	s.Require().NoError(err)
	s.Equal(models.TaskStatusCompleted, task.Status)
	s.True(task.TotalCost.Decimal.Equal(s.dec("5")))
	s.Len(s.withdrawalsFor(adm.Task.ID), 1)
	s.assertBalance("95")
}

func (s *TaskServiceTestSuite) TestRecoverStaleDuringSettleSkipsTask() {
	s.deposit("100")
	adm, results := s.admitted(10)

	gate := newGatedStore(s.store)
	service := s.gatedService(gate)
	recoverer := s.newService(WithClock(func() time.Time { return time.Now().Add(time.Hour) }))

	settleErr := make(chan error, 1)
	go func() {
		_, err := service.Settle(s.ctx, adm, results)
		settleErr <- err
	}()
	<-gate.reached

	type recovery struct {
		n   int
		err error
	}
	recovered := make(chan recovery, 1)
	go func() {
		n, err := recoverer.RecoverStale(s.ctx, time.Minute)
		recovered <- recovery{n: n, err: err}
	}()
	s.Never(func() bool { return len(recovered) > 0 }, 50*time.Millisecond, 5*time.Millisecond,
		"recovery failed a task while settle held it")
	close(gate.release)

	s.NoError(<-settleErr)
	r := <-recovered
	s.NoError(r.err)
	s.Zero(r.n)

	task, err := s.store.GetTask(s.ctx, adm.Task.ID)
	s.Require().NoError(err)
	s.Equal(models.TaskStatusCompleted, task.Status)
	s.Len(s.withdrawalsFor(adm.Task.ID), 1)
	s.assertBalance("95")
}

func (s *TaskServiceTestSuite) TestSettleAfterConcurrentFailDoesNotCharge() {
	s.deposit("100")
	adm, results := s.admitted(10)

	gate := newGatedStore(s.store)
	service := s.gatedService(gate)

	failErr := make(chan error, 1)
	go func() {
		_, err := service.Fail(s.ctx, adm.Task.ID, "worker lost")
		failErr <- err
	}()
	<-gate.reached

	settleErr := make(chan error, 1)
	go func() {
		_, err := service.Settle(s.ctx, adm, results)
		settleErr <- err
	}()
	s.Never(func() bool { return len(settleErr) > 0 }, 50*time.Millisecond, 5*time.Millisecond,
		"settle ran while fail held the task")
	close(gate.release)

	s.NoError(<-failErr)
	s.ErrorIs(<-settleErr, models.ErrInvalidTransition)

	task, err := s.store.GetTask(s.ctx, adm.Task.ID)
	s.Require().NoError(err)
	s.Equal(models.TaskStatusFailed, task.Status)
	s.Empty(s.withdrawalsFor(adm.Task.ID))
	s.assertBalance("100")
}

func TestTaskServiceSuite(t *testing.T) {
	suite.Run(t, new(TaskServiceTestSuite))
}

func TestCanTransition(t *testing.T) {
	statuses := []models.TaskStatus{
		models.TaskStatusPending,
		models.TaskStatusProcessing,
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
		models.TaskStatusValidationError,
	}
	allowed := map[string]bool{
		"PENDING->PROCESSING":       true,
		"PENDING->VALIDATION_ERROR": true,
		"PROCESSING->COMPLETED":     true,
		"PROCESSING->FAILED":        true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			key := fmt.Sprintf("%s->%s", from, to)
			t.Run(key, func(t *testing.T) {
				require.Equal(t, allowed[key], CanTransition(from, to))
			})
		}
	}

	for _, terminal := range []models.TaskStatus{models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusValidationError} {
		assert.True(t, terminal.Terminal())
	}
}
