package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTransactionSigned(t *testing.T) {
	amount := decimal.RequireFromString("2.5")

	tests := []struct {
		txType   TransactionType
		expected string
	}{
		{TransactionDeposit, "2.5"},
		{TransactionRefund, "2.5"},
		{TransactionWithdrawal, "-2.5"},
	}

	for _, tt := range tests {
		t.Run(string(tt.txType), func(t *testing.T) {
			tx := &Transaction{Type: tt.txType, Amount: amount}
			assert.Equal(t, tt.expected, tx.Signed().String())
		})
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.False(t, TaskStatusPending.Terminal())
	assert.False(t, TaskStatusProcessing.Terminal())
	assert.True(t, TaskStatusCompleted.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
	assert.True(t, TaskStatusValidationError.Terminal())
}

func TestPredictionTaskClone(t *testing.T) {
	task := &PredictionTask{
		ID:        uuid.New(),
		ValidData: []Record{{"feature1": 1, "feature2": 2}},
		Result:    []interface{}{"prediction_0"},
	}

	clone := task.Clone()
	clone.ValidData[0]["feature1"] = 99
	clone.Result[0] = "changed"

	assert.Equal(t, 1, task.ValidData[0]["feature1"])
	assert.Equal(t, "prediction_0", task.Result[0])
	assert.Equal(t, 1, clone.ValidCount())
	assert.Equal(t, 0, clone.InvalidCount())
}

func TestTypedErrors(t *testing.T) {
	t.Run("insufficient balance", func(t *testing.T) {
		err := fmt.Errorf("settle: %w", &InsufficientBalanceError{
			Required:  decimal.NewFromInt(5),
			Available: decimal.NewFromInt(1),
		})
		assert.True(t, errors.Is(err, ErrInsufficientBalance))

		var ibe *InsufficientBalanceError
		assert.True(t, errors.As(err, &ibe))
		assert.Equal(t, "5", ibe.Required.String())
	})

	t.Run("prediction", func(t *testing.T) {
		err := &PredictionError{TaskID: uuid.New(), Err: context.DeadlineExceeded}
		assert.True(t, errors.Is(err, ErrPrediction))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("transition", func(t *testing.T) {
		err := &TransitionError{From: TaskStatusCompleted, To: TaskStatusFailed}
		assert.True(t, errors.Is(err, ErrInvalidTransition))
	})
}
