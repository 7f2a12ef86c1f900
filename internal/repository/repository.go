package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/helenavibes/ML-service/internal/models"
)

// Repository is the persistence contract used by the ledger and the task
// lifecycle. Lookups return models.ErrUserNotFound, models.ErrModelNotFound or
// models.ErrTaskNotFound for missing rows. Transaction and task lists are
// newest first; a non-positive limit means no limit.
type Repository interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	// LockUser reads the user and holds an exclusive per-user lock until the
	// enclosing unit of work ends. Outside InTx it behaves like GetUser.
	LockUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// SaveUser inserts or updates a user. The balance column is never written:
	// new users start at zero and only UpdateBalance moves it.
	SaveUser(ctx context.Context, user *models.User) error
	UpdateBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error
	ListUsers(ctx context.Context) ([]*models.User, error)

	GetModel(ctx context.Context, id uuid.UUID) (*models.Model, error)
	SaveModel(ctx context.Context, model *models.Model) error
	ListModels(ctx context.Context, activeOnly bool) ([]*models.Model, error)

	AppendTransaction(ctx context.Context, tx *models.Transaction) error
	SumTransactions(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	ListTransactionsByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*models.Transaction, error)
	ListTransactionsByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Transaction, error)

	SaveTask(ctx context.Context, task *models.PredictionTask) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.PredictionTask, error)
	// LockTask reads the task and holds an exclusive per-task lock until the
	// enclosing unit of work ends. Status transitions read through it so two
	// units can never both act on the same prior status.
	LockTask(ctx context.Context, id uuid.UUID) (*models.PredictionTask, error)
	ListTasksByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*models.PredictionTask, error)
	ListTasksByStatus(ctx context.Context, status models.TaskStatus, updatedBefore time.Time) ([]*models.PredictionTask, error)
}

// TxFunc is a unit of work run against a transactional repository
type TxFunc func(ctx context.Context, repo Repository) error

// Store is a Repository that can run atomic units of work
type Store interface {
	Repository
	// InTx runs fn atomically. Any error returned by fn, or a panic, rolls
	// back every write made through repo.
	InTx(ctx context.Context, fn TxFunc) error
	Ping(ctx context.Context) error
	Close() error
}
