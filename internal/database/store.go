package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/helenavibes/ML-service/internal/models"
	"github.com/helenavibes/ML-service/internal/repository"
)

// Store implements repository.Store on Postgres
type Store struct {
	db   *gorm.DB
	root *Database
}

// NewStore creates a Postgres-backed store
func NewStore(db *Database) *Store {
	return &Store{db: db.DB, root: db}
}

var _ repository.Store = (*Store)(nil)

// InTx runs fn in a database transaction. Row locks taken through LockUser
// and LockTask are held until it commits or rolls back.
func (s *Store) InTx(ctx context.Context, fn repository.TxFunc) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &Store{db: tx, root: s.root})
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.root.Health(ctx)
}

func (s *Store) Close() error {
	return s.root.Close()
}

func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

func conflict(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%v: %w", err, models.ErrConflict)
	}
	return err
}

// User operations

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err, models.ErrUserNotFound)
	}
	return &user, nil
}

func (s *Store) LockUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, models.ErrUserNotFound)
	}
	return &user, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFound(err, models.ErrUserNotFound)
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, notFound(err, models.ErrUserNotFound)
	}
	return &user, nil
}

// SaveUser upserts every user column except balance
func (s *Store) SaveUser(ctx context.Context, user *models.User) error {
	err := s.db.WithContext(ctx).
		Omit("balance").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "email", "password_hash", "role", "is_active", "updated_at"}),
		}).
		Create(user).Error
	return conflict(err)
}

func (s *Store) UpdateBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("balance for user %s cannot be negative: %s", userID, balance)
	}
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"balance":    balance,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	err := s.db.WithContext(ctx).Order("username").Find(&users).Error
	return users, err
}

// Model operations

func (s *Store) GetModel(ctx context.Context, id uuid.UUID) (*models.Model, error) {
	var model models.Model
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, notFound(err, models.ErrModelNotFound)
	}
	return &model, nil
}

func (s *Store) SaveModel(ctx context.Context, model *models.Model) error {
	return conflict(s.db.WithContext(ctx).Save(model).Error)
}

func (s *Store) ListModels(ctx context.Context, activeOnly bool) ([]*models.Model, error) {
	var list []*models.Model
	query := s.db.WithContext(ctx).Order("name")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Find(&list).Error
	return list, err
}

// Transaction operations

func (s *Store) AppendTransaction(ctx context.Context, tx *models.Transaction) error {
	return s.db.WithContext(ctx).Create(tx).Error
}

func (s *Store) SumTransactions(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("SUM(CASE WHEN type = ? THEN -amount ELSE amount END)", models.TransactionWithdrawal).
		Where("user_id = ?", userID).
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func (s *Store) ListTransactionsByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*models.Transaction, error) {
	var list []*models.Transaction
	err := paged(s.db.WithContext(ctx), offset, limit).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

func (s *Store) ListTransactionsByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Transaction, error) {
	var list []*models.Transaction
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at").
		Find(&list).Error
	return list, err
}

// Task operations

func (s *Store) SaveTask(ctx context.Context, task *models.PredictionTask) error {
	return s.db.WithContext(ctx).Save(task).Error
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*models.PredictionTask, error) {
	var task models.PredictionTask
	if err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, notFound(err, models.ErrTaskNotFound)
	}
	return &task, nil
}

func (s *Store) LockTask(ctx context.Context, id uuid.UUID) (*models.PredictionTask, error) {
	var task models.PredictionTask
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&task, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, models.ErrTaskNotFound)
	}
	return &task, nil
}

func (s *Store) ListTasksByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*models.PredictionTask, error) {
	var list []*models.PredictionTask
	err := paged(s.db.WithContext(ctx), offset, limit).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

func (s *Store) ListTasksByStatus(ctx context.Context, status models.TaskStatus, updatedBefore time.Time) ([]*models.PredictionTask, error) {
	var list []*models.PredictionTask
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, updatedBefore).
		Order("updated_at").
		Find(&list).Error
	return list, err
}

func paged(db *gorm.DB, offset, limit int) *gorm.DB {
	if offset > 0 {
		db = db.Offset(offset)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	return db
}
