package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/ledger"
	"github.com/helenavibes/ML-service/internal/models"
)

const (
	ReconcileJobName = "reconcile-balances"
	RecoverJobName   = "recover-stale-tasks"
)

// UserLister lists every user
type UserLister interface {
	ListUsers(ctx context.Context) ([]*models.User, error)
}

// StaleRecoverer fails abandoned PROCESSING tasks
type StaleRecoverer interface {
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// ReconcileJob checks every user's balance against the transaction log
type ReconcileJob struct {
	users  UserLister
	ledger *ledger.Ledger
	logger *zap.Logger
}

func NewReconcileJob(users UserLister, l *ledger.Ledger, logger *zap.Logger) *ReconcileJob {
	return &ReconcileJob{users: users, ledger: l, logger: logger}
}

func (j *ReconcileJob) Name() string { return ReconcileJobName }

// Run reconciles all users. Drift for some users does not stop the others;
// the returned error wraps models.ErrBalanceDrift when any drifted.
func (j *ReconcileJob) Run(ctx context.Context) error {
	users, err := j.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	drifted := 0
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := j.ledger.Reconcile(ctx, user.ID); err != nil {
			if errors.Is(err, models.ErrBalanceDrift) {
				drifted++
				continue
			}
			return fmt.Errorf("failed to reconcile user %s: %w", user.ID, err)
		}
	}

	j.logger.Info("Balances reconciled", zap.Int("users", len(users)), zap.Int("drifted", drifted))
	if drifted > 0 {
		return fmt.Errorf("%d of %d users: %w", drifted, len(users), models.ErrBalanceDrift)
	}
	return nil
}

// RecoverJob fails PROCESSING tasks that have not moved for olderThan
type RecoverJob struct {
	tasks     StaleRecoverer
	olderThan time.Duration
}

func NewRecoverJob(tasks StaleRecoverer, olderThan time.Duration) *RecoverJob {
	return &RecoverJob{tasks: tasks, olderThan: olderThan}
}

func (j *RecoverJob) Name() string { return RecoverJobName }

func (j *RecoverJob) Run(ctx context.Context) error {
	_, err := j.tasks.RecoverStale(ctx, j.olderThan)
	return err
}
