package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UserRole represents the access level of a user
type UserRole string

const (
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

// ModelType represents the kind of prediction a model produces
type ModelType string

const (
	ModelTypeClassification ModelType = "CLASSIFICATION"
	ModelTypeRegression     ModelType = "REGRESSION"
)

// Valid reports whether t is a known model type
func (t ModelType) Valid() bool {
	return t == ModelTypeClassification || t == ModelTypeRegression
}

// TransactionType represents the kind of ledger entry. The sign of a
// transaction is carried by its type, never by its amount.
type TransactionType string

const (
	TransactionDeposit    TransactionType = "DEPOSIT"
	TransactionWithdrawal TransactionType = "WITHDRAWAL"
	TransactionRefund     TransactionType = "REFUND"
)

// Credit reports whether transactions of this type increase the balance
func (t TransactionType) Credit() bool {
	return t == TransactionDeposit || t == TransactionRefund
}

// TaskStatus represents the lifecycle state of a prediction task
type TaskStatus string

const (
	TaskStatusPending         TaskStatus = "PENDING"
	TaskStatusProcessing      TaskStatus = "PROCESSING"
	TaskStatusCompleted       TaskStatus = "COMPLETED"
	TaskStatusFailed          TaskStatus = "FAILED"
	TaskStatusValidationError TaskStatus = "VALIDATION_ERROR"
)

// Terminal reports whether no transition leaves the status
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusValidationError:
		return true
	}
	return false
}

// Record is a single input row submitted for prediction
type Record map[string]interface{}

// Has reports whether the record carries the named field
func (r Record) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// User is an account holding a balance.
//
// Balance is a projection of the user's transaction log. It is written only by
// the ledger through Repository.UpdateBalance; SaveUser never touches it.
type User struct {
	ID           uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	Username     string          `gorm:"size:50;not null;uniqueIndex" json:"username"`
	Email        string          `gorm:"size:100;not null;uniqueIndex" json:"email"`
	PasswordHash string          `gorm:"not null" json:"-"`
	Role         UserRole        `gorm:"type:varchar(16);not null" json:"role"`
	Balance      decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0" json:"balance"`
	IsActive     bool            `gorm:"not null" json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Clone returns a copy of the user
func (u *User) Clone() *User {
	c := *u
	return &c
}

// Model is a priced prediction model
type Model struct {
	ID            uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	Name          string          `gorm:"size:100;not null;uniqueIndex" json:"name"`
	Description   string          `gorm:"size:500" json:"description"`
	ModelType     ModelType       `gorm:"type:varchar(32);not null" json:"model_type"`
	CostPerRecord decimal.Decimal `gorm:"type:numeric(20,6);not null" json:"cost_per_record"`
	IsActive      bool            `gorm:"not null;index" json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Clone returns a copy of the model
func (m *Model) Clone() *Model {
	c := *m
	return &c
}

// Transaction is an immutable ledger entry
type Transaction struct {
	ID          uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	UserID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	Type        TransactionType `gorm:"type:varchar(16);not null;index" json:"type"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,6);not null" json:"amount"`
	Description string          `gorm:"size:255" json:"description,omitempty"`
	TaskID      *uuid.UUID      `gorm:"type:uuid;index" json:"task_id,omitempty"`
	CreatedAt   time.Time       `gorm:"not null;index" json:"created_at"`
}

// Signed returns the amount with the sign implied by the transaction type
func (t *Transaction) Signed() decimal.Decimal {
	if t.Type.Credit() {
		return t.Amount
	}
	return t.Amount.Neg()
}

// Clone returns a copy of the transaction
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.TaskID != nil {
		id := *t.TaskID
		c.TaskID = &id
	}
	return &c
}

// PredictionTask is the full lifecycle record of one prediction request
type PredictionTask struct {
	ID           uuid.UUID                       `gorm:"type:uuid;primary_key" json:"id"`
	UserID       uuid.UUID                       `gorm:"type:uuid;not null;index" json:"user_id"`
	ModelID      uuid.UUID                       `gorm:"type:uuid;not null;index" json:"model_id"`
	InputData    datatypes.JSONSlice[Record]      `gorm:"type:jsonb" json:"input_data"`
	ValidData    datatypes.JSONSlice[Record]      `gorm:"type:jsonb" json:"valid_data"`
	InvalidData  datatypes.JSONSlice[Record]      `gorm:"type:jsonb" json:"invalid_data"`
	Status       TaskStatus                      `gorm:"type:varchar(32);not null;index" json:"status"`
	Result       datatypes.JSONSlice[interface{}] `gorm:"type:jsonb" json:"result,omitempty"`
	TotalCost    decimal.NullDecimal             `gorm:"type:numeric(20,6)" json:"total_cost"`
	ErrorMessage string                          `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time                       `json:"created_at"`
	UpdatedAt    time.Time                       `gorm:"index" json:"updated_at"`
	CompletedAt  *time.Time                      `json:"completed_at,omitempty"`
}

// ValidCount returns the number of records that passed validation
func (t *PredictionTask) ValidCount() int {
	return len(t.ValidData)
}

// InvalidCount returns the number of records that failed validation
func (t *PredictionTask) InvalidCount() int {
	return len(t.InvalidData)
}

// Clone returns a copy of the task that shares no mutable state with t
func (t *PredictionTask) Clone() *PredictionTask {
	c := *t
	c.InputData = cloneRecords(t.InputData)
	c.ValidData = cloneRecords(t.ValidData)
	c.InvalidData = cloneRecords(t.InvalidData)
	if t.Result != nil {
		c.Result = append(datatypes.JSONSlice[interface{}]{}, t.Result...)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

func cloneRecords(records datatypes.JSONSlice[Record]) datatypes.JSONSlice[Record] {
	if records == nil {
		return nil
	}
	out := make(datatypes.JSONSlice[Record], len(records))
	for i, r := range records {
		cp := make(Record, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

// BeforeCreate hook for users
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (m *Model) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (t *PredictionTask) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
