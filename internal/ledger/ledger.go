package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/events"
	"github.com/helenavibes/ML-service/internal/metrics"
	"github.com/helenavibes/ML-service/internal/models"
	"github.com/helenavibes/ML-service/internal/repository"
)

// Ledger owns every balance mutation. Each operation appends one transaction
// and writes the new balance inside a single unit of work that holds the
// user's lock, so the stored balance always equals the transaction sum.
type Ledger struct {
	store     repository.Store
	logger    *zap.Logger
	metrics   *metrics.Collector
	publisher events.Publisher
}

// Option configures a Ledger
type Option func(*Ledger)

// WithMetrics records transaction metrics
func WithMetrics(c *metrics.Collector) Option {
	return func(l *Ledger) { l.metrics = c }
}

// WithPublisher emits a TransactionCreated event after each committed entry
func WithPublisher(p events.Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// New creates a ledger backed by store
func New(store repository.Store, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		logger:    logger,
		publisher: events.Nop{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reconciliation compares a user's stored balance with the transaction log
type Reconciliation struct {
	UserID  uuid.UUID       `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
	LogSum  decimal.Decimal `json:"log_sum"`
	Drift   decimal.Decimal `json:"drift"`
}

// Consistent reports whether the stored balance matches the log
func (r *Reconciliation) Consistent() bool {
	return r.Drift.IsZero()
}

// BalanceOf returns the user's current balance
func (l *Ledger) BalanceOf(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return user.Balance, nil
}

// Deposit credits amount to the user
func (l *Ledger) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description string) (*models.Transaction, error) {
	return l.credit(ctx, userID, models.TransactionDeposit, amount, description, nil)
}

// Withdraw debits amount from the user in its own unit of work
func (l *Ledger) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description string, taskID *uuid.UUID) (*models.Transaction, error) {
	var tx *models.Transaction
	err := l.store.InTx(ctx, func(ctx context.Context, repo repository.Repository) error {
		var err error
		tx, err = l.WithdrawTx(ctx, repo, userID, amount, description, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.Committed(ctx, tx)
	return tx, nil
}

// WithdrawTx debits amount inside a unit of work owned by the caller. The
// sufficiency check runs against the balance read under the user's lock.
// The caller is responsible for calling Committed once its unit commits.
func (l *Ledger) WithdrawTx(ctx context.Context, repo repository.Repository, userID uuid.UUID, amount decimal.Decimal, description string, taskID *uuid.UUID) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("withdraw %s: %w", amount, models.ErrInvalidAmount)
	}

	user, err := repo.LockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Balance.LessThan(amount) {
		return nil, &models.InsufficientBalanceError{
			UserID:    userID,
			Required:  amount,
			Available: user.Balance,
		}
	}

	tx := &models.Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        models.TransactionWithdrawal,
		Amount:      amount,
		Description: description,
		TaskID:      taskID,
	}
	if err := l.apply(ctx, repo, user, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Refund credits amount back to the user. When taskID is set the task must
// belong to the user, be COMPLETED, and the total refunded for it may not
// exceed its charge.
func (l *Ledger) Refund(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description string, taskID *uuid.UUID) (*models.Transaction, error) {
	return l.credit(ctx, userID, models.TransactionRefund, amount, description, taskID)
}

func (l *Ledger) credit(ctx context.Context, userID uuid.UUID, typ models.TransactionType, amount decimal.Decimal, description string, taskID *uuid.UUID) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%s %s: %w", typ, amount, models.ErrInvalidAmount)
	}

	tx := &models.Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        typ,
		Amount:      amount,
		Description: description,
		TaskID:      taskID,
	}

	err := l.store.InTx(ctx, func(ctx context.Context, repo repository.Repository) error {
		user, err := repo.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if typ == models.TransactionRefund && taskID != nil {
			if err := checkRefund(ctx, repo, userID, *taskID, amount); err != nil {
				return err
			}
		}
		return l.apply(ctx, repo, user, tx)
	})
	if err != nil {
		return nil, err
	}

	l.Committed(ctx, tx)
	return tx, nil
}

func checkRefund(ctx context.Context, repo repository.Repository, userID, taskID uuid.UUID, amount decimal.Decimal) error {
	task, err := repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.UserID != userID {
		return fmt.Errorf("task %s belongs to another user: %w", taskID, models.ErrForbidden)
	}
	if task.Status != models.TaskStatusCompleted || !task.TotalCost.Valid {
		return fmt.Errorf("task %s has no charge to refund: %w", taskID, models.ErrRefundExceedsCharge)
	}

	linked, err := repo.ListTransactionsByTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task transactions: %w", err)
	}
	refunded := decimal.Zero
	for _, t := range linked {
		if t.Type == models.TransactionRefund {
			refunded = refunded.Add(t.Amount)
		}
	}
	if refunded.Add(amount).GreaterThan(task.TotalCost.Decimal) {
		return fmt.Errorf("task %s charged %s, already refunded %s: %w",
			taskID, task.TotalCost.Decimal, refunded, models.ErrRefundExceedsCharge)
	}
	return nil
}

// apply appends tx and writes the resulting balance for a locked user
func (l *Ledger) apply(ctx context.Context, repo repository.Repository, user *models.User, tx *models.Transaction) error {
	balance := user.Balance.Add(tx.Signed())
	if balance.IsNegative() {
		return &models.InsufficientBalanceError{UserID: user.ID, Required: tx.Amount, Available: user.Balance}
	}
	if err := repo.AppendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	if err := repo.UpdateBalance(ctx, user.ID, balance); err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

// Committed records metrics, logs and publishes a transaction whose unit of
// work has committed
func (l *Ledger) Committed(ctx context.Context, tx *models.Transaction) {
	l.metrics.RecordTransaction(tx)
	l.logger.Info("Ledger transaction recorded",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("user_id", tx.UserID.String()),
		zap.String("type", string(tx.Type)),
		zap.String("amount", tx.Amount.String()))

	if err := l.publisher.Publish(ctx, events.NewTransactionEvent(tx)); err != nil {
		l.logger.Warn("Failed to publish transaction event",
			zap.String("transaction_id", tx.ID.String()),
			zap.Error(err))
	}
}

// Reconcile compares the stored balance with the transaction log. A mismatch
// is returned as both a Reconciliation and an error wrapping ErrBalanceDrift.
func (l *Ledger) Reconcile(ctx context.Context, userID uuid.UUID) (*Reconciliation, error) {
	var rec *Reconciliation
	err := l.store.InTx(ctx, func(ctx context.Context, repo repository.Repository) error {
		user, err := repo.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		sum, err := repo.SumTransactions(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to sum transactions: %w", err)
		}
		rec = &Reconciliation{
			UserID:  userID,
			Balance: user.Balance,
			LogSum:  sum,
			Drift:   user.Balance.Sub(sum),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !rec.Consistent() {
		l.metrics.RecordDrift(rec.Drift)
		l.logger.Error("Balance drift detected",
			zap.String("user_id", userID.String()),
			zap.String("balance", rec.Balance.String()),
			zap.String("log_sum", rec.LogSum.String()))
		return rec, fmt.Errorf("user %s drift %s: %w", userID, rec.Drift, models.ErrBalanceDrift)
	}
	return rec, nil
}

// History returns the user's transactions, newest first
func (l *Ledger) History(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*models.Transaction, error) {
	if _, err := l.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return l.store.ListTransactionsByUser(ctx, userID, offset, limit)
}
