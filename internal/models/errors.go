package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrModelInactive       = errors.New("model is not active")
	ErrModelNotFound       = errors.New("model not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrUserInactive        = errors.New("user is not active")
	ErrTaskNotFound        = errors.New("task not found")
	ErrInvalidTransition   = errors.New("invalid task status transition")
	ErrPrediction          = errors.New("prediction failed")
	ErrForbidden           = errors.New("forbidden")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrConflict            = errors.New("already exists")
	ErrRefundExceedsCharge = errors.New("refund exceeds task charge")
	ErrBalanceDrift        = errors.New("balance does not match transaction log")
)

// InsufficientBalanceError carries the amounts involved in a rejected debit
type InsufficientBalanceError struct {
	UserID    uuid.UUID
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, available %s", e.Required.String(), e.Available.String())
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// PredictionError reports a predictor failure for a task
type PredictionError struct {
	TaskID uuid.UUID
	Err    error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("prediction failed for task %s: %v", e.TaskID, e.Err)
}

// Is lets errors.Is match ErrPrediction while Unwrap exposes the cause
func (e *PredictionError) Is(target error) bool {
	return target == ErrPrediction
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}

// TransitionError reports a task status change the lifecycle does not allow
type TransitionError struct {
	TaskID uuid.UUID
	From   TaskStatus
	To     TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot move from %s to %s", e.TaskID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
