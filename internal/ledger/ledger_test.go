package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/models"
	"github.com/helenavibes/ML-service/internal/repository"
)

type LedgerTestSuite struct {
	suite.Suite
	ctx    context.Context
	store  *repository.MemoryStore
	ledger *Ledger
	user   *models.User
}

func (s *LedgerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = repository.NewMemoryStore()
	s.ledger = New(s.store, zap.NewNop())

	s.user = &models.User{
		Username: "alice",
		Email:    "alice@example.com",
		Role:     models.RoleUser,
		IsActive: true,
	}
	s.Require().NoError(s.store.SaveUser(s.ctx, s.user))
}

func (s *LedgerTestSuite) dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (s *LedgerTestSuite) assertBalance(expected string) {
	balance, err := s.ledger.BalanceOf(s.ctx, s.user.ID)
	s.Require().NoError(err)
	s.True(balance.Equal(s.dec(expected)), "balance %s, expected %s", balance, expected)
}

func (s *LedgerTestSuite) assertReconciled() {
	rec, err := s.ledger.Reconcile(s.ctx, s.user.ID)
	s.Require().NoError(err)
	s.True(rec.Consistent())
}

func (s *LedgerTestSuite) TestDeposit() {
	tx, err := s.ledger.Deposit(s.ctx, s.user.ID, s.dec("100"), "initial balance")
	s.Require().NoError(err)

	s.Equal(models.TransactionDeposit, tx.Type)
	s.Equal("initial balance", tx.Description)
	s.Nil(tx.TaskID)
	s.assertBalance("100")
	s.assertReconciled()
}

func (s *LedgerTestSuite) TestInvalidAmounts() {
	for _, amount := range []string{"0", "-1", "-0.000001"} {
		_, err := s.ledger.Deposit(s.ctx, s.user.ID, s.dec(amount), "")
		s.ErrorIs(err, models.ErrInvalidAmount, amount)

		_, err = s.ledger.Withdraw(s.ctx, s.user.ID, s.dec(amount), "", nil)
		s.ErrorIs(err, models.ErrInvalidAmount, amount)

		_, err = s.ledger.Refund(s.ctx, s.user.ID, s.dec(amount), "", nil)
		s.ErrorIs(err, models.ErrInvalidAmount, amount)
	}

	history, err := s.ledger.History(s.ctx, s.user.ID, 0, 0)
	s.Require().NoError(err)
	s.Empty(history)
}

func (s *LedgerTestSuite) TestUnknownUser() {
	_, err := s.ledger.Deposit(s.ctx, uuid.New(), s.dec("1"), "")
	s.ErrorIs(err, models.ErrUserNotFound)

	_, err = s.ledger.BalanceOf(s.ctx, uuid.New())
	s.ErrorIs(err, models.ErrUserNotFound)
}

func (s *LedgerTestSuite) TestWithdrawInsufficient() {
	_, err := s.ledger.Deposit(s.ctx, s.user.ID, s.dec("1.0"), "")
	s.Require().NoError(err)

	_, err = s.ledger.Withdraw(s.ctx, s.user.ID, s.dec("1.000001"), "", nil)
	s.ErrorIs(err, models.ErrInsufficientBalance)

	var ibe *models.InsufficientBalanceError
	s.Require().ErrorAs(err, &ibe)
	s.True(ibe.Available.Equal(s.dec("1")))

	s.assertBalance("1")
	s.assertReconciled()
}

func (s *LedgerTestSuite) TestRoundTrip() {
	_, err := s.ledger.Deposit(s.ctx, s.user.ID, s.dec("10"), "")
	s.Require().NoError(err)

	_, err = s.ledger.Deposit(s.ctx, s.user.ID, s.dec("42.125"), "")
	s.Require().NoError(err)
	_, err = s.ledger.Withdraw(s.ctx, s.user.ID, s.dec("42.125"), "", nil)
	s.Require().NoError(err)

	s.assertBalance("10")
	history, err := s.ledger.History(s.ctx, s.user.ID, 0, 0)
	s.Require().NoError(err)
	s.Len(history, 3)
	s.Equal(models.TransactionWithdrawal, history[0].Type)
	s.assertReconciled()
}

func (s *LedgerTestSuite) TestExactBalanceWithdrawal() {
	_, err := s.ledger.Deposit(s.ctx, s.user.ID, s.dec("0.3"), "")
	s.Require().NoError(err)
	for i := 0; i < 3; i++ {
		_, err = s.ledger.Withdraw(s.ctx, s.user.ID, s.dec("0.1"), "", nil)
		s.Require().NoError(err)
	}
	s.assertBalance("0")
	s.assertReconciled()
}

func (s *LedgerTestSuite) TestConcurrentWithdrawalsNoDoubleSpend() {
	_, err := s.ledger.Deposit(s.ctx, s.user.ID, s.dec("10"), "")
	s.Require().NoError(err)

	const attempts = 40
	var succeeded, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ledger.Withdraw(s.ctx, s.user.ID, s.dec("1"), "", nil)
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, models.ErrInsufficientBalance):
				atomic.AddInt32(&rejected, 1)
			default:
				s.Fail("unexpected error", err.Error())
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(10), succeeded)
	s.Equal(int32(attempts-10), rejected)
	s.assertBalance("0")
	s.assertReconciled()
}

func (s *LedgerTestSuite) TestWithdrawTxRollsBackWithCaller() {
	_, err := s.ledger.Deposit(s.ctx, s.user.ID, s.dec("5"), "")
	s.Require().NoError(err)

	err = s.store.InTx(s.ctx, func(ctx context.Context, repo repository.Repository) error {
		if _, err := s.ledger.WithdrawTx(ctx, repo, s.user.ID, s.dec("5"), "", nil); err != nil {
			return err
		}
		return models.ErrPrediction
	})
	s.ErrorIs(err, models.ErrPrediction)

	s.assertBalance("5")
	s.assertReconciled()
}

func (s *LedgerTestSuite) completedTask(cost string) *models.PredictionTask {
	task := &models.PredictionTask{
		UserID:    s.user.ID,
		ModelID:   uuid.New(),
		Status:    models.TaskStatusCompleted,
		TotalCost: decimal.NewNullDecimal(s.dec(cost)),
	}
	s.Require().NoError(s.store.SaveTask(s.ctx, task))
	return task
}

func (s *LedgerTestSuite) TestRefundBoundedByCharge() {
	_, err := s.ledger.Deposit(s.ctx, s.user.ID, s.dec("10"), "")
	s.Require().NoError(err)
	task := s.completedTask("5")
	_, err = s.ledger.Withdraw(s.ctx, s.user.ID, s.dec("5"), "charge", &task.ID)
	s.Require().NoError(err)

	_, err = s.ledger.Refund(s.ctx, s.user.ID, s.dec("3"), "partial", &task.ID)
	s.Require().NoError(err)

	_, err = s.ledger.Refund(s.ctx, s.user.ID, s.dec("2.5"), "too much", &task.ID)
	s.ErrorIs(err, models.ErrRefundExceedsCharge)

	_, err = s.ledger.Refund(s.ctx, s.user.ID, s.dec("2"), "rest", &task.ID)
	s.Require().NoError(err)

	s.assertBalance("10")
	s.assertReconciled()
}

func (s *LedgerTestSuite) TestRefundRejectsForeignOrUnchargedTask() {
	other := &models.User{Username: "bob", Email: "bob@example.com", Role: models.RoleUser, IsActive: true}
	s.Require().NoError(s.store.SaveUser(s.ctx, other))

	task := s.completedTask("1")
	_, err := s.ledger.Refund(s.ctx, other.ID, s.dec("1"), "", &task.ID)
	s.ErrorIs(err, models.ErrForbidden)

	failed := &models.PredictionTask{UserID: s.user.ID, Status: models.TaskStatusFailed}
	s.Require().NoError(s.store.SaveTask(s.ctx, failed))
	_, err = s.ledger.Refund(s.ctx, s.user.ID, s.dec("1"), "", &failed.ID)
	s.ErrorIs(err, models.ErrRefundExceedsCharge)

	missing := uuid.New()
	_, err = s.ledger.Refund(s.ctx, s.user.ID, s.dec("1"), "", &missing)
	s.ErrorIs(err, models.ErrTaskNotFound)
}

func (s *LedgerTestSuite) TestReconcileDetectsDrift() {
	_, err := s.ledger.Deposit(s.ctx, s.user.ID, s.dec("10"), "")
	s.Require().NoError(err)

	// write the projection behind the ledger's back
	s.Require().NoError(s.store.UpdateBalance(s.ctx, s.user.ID, s.dec("12")))

	rec, err := s.ledger.Reconcile(s.ctx, s.user.ID)
	s.ErrorIs(err, models.ErrBalanceDrift)
	s.Require().NotNil(rec)
	s.True(rec.Drift.Equal(s.dec("2")))
	s.False(rec.Consistent())
}

func TestLedgerTestSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}
