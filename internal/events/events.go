package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/metrics"
	"github.com/helenavibes/ML-service/internal/models"
)

// Type identifies what happened
type Type string

const (
	TaskCompleted       Type = "task.completed"
	TaskFailed          Type = "task.failed"
	TaskValidationError Type = "task.validation_error"
	TransactionCreated  Type = "transaction.created"
)

// Event is a notification about a committed state change
type Event struct {
	ID          uuid.UUID           `json:"id"`
	Type        Type                `json:"type"`
	UserID      uuid.UUID           `json:"user_id"`
	OccurredAt  time.Time           `json:"occurred_at"`
	Task        *TaskPayload        `json:"task,omitempty"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
}

// TaskPayload summarises a task without its record data
type TaskPayload struct {
	ID           uuid.UUID           `json:"id"`
	ModelID      uuid.UUID           `json:"model_id"`
	Status       models.TaskStatus   `json:"status"`
	ValidCount   int                 `json:"valid_count"`
	InvalidCount int                 `json:"invalid_count"`
	TotalCost    decimal.NullDecimal `json:"total_cost"`
	ErrorMessage string              `json:"error_message,omitempty"`
}

// NewTaskEvent builds the event for a task that reached a terminal status
func NewTaskEvent(task *models.PredictionTask) Event {
	var typ Type
	switch task.Status {
	case models.TaskStatusCompleted:
		typ = TaskCompleted
	case models.TaskStatusValidationError:
		typ = TaskValidationError
	default:
		typ = TaskFailed
	}

	return Event{
		ID:         uuid.New(),
		Type:       typ,
		UserID:     task.UserID,
		OccurredAt: time.Now().UTC(),
		Task: &TaskPayload{
			ID:           task.ID,
			ModelID:      task.ModelID,
			Status:       task.Status,
			ValidCount:   task.ValidCount(),
			InvalidCount: task.InvalidCount(),
			TotalCost:    task.TotalCost,
			ErrorMessage: task.ErrorMessage,
		},
	}
}

// NewTransactionEvent builds the event for an appended ledger transaction
func NewTransactionEvent(tx *models.Transaction) Event {
	return Event{
		ID:          uuid.New(),
		Type:        TransactionCreated,
		UserID:      tx.UserID,
		OccurredAt:  time.Now().UTC(),
		Transaction: tx.Clone(),
	}
}

// Publisher delivers events to a sink
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Sink is a named publisher inside a Fanout
type Sink struct {
	Name      string
	Publisher Publisher
}

// Fanout publishes every event to all sinks. A failing sink does not stop
// delivery to the others.
type Fanout struct {
	sinks   []Sink
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewFanout creates a fanout publisher; collector may be nil
func NewFanout(logger *zap.Logger, collector *metrics.Collector, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, logger: logger, metrics: collector}
}

func (f *Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range f.sinks {
		err := sink.Publisher.Publish(ctx, event)
		f.metrics.RecordEvent(sink.Name, err)
		if err != nil {
			f.logger.Warn("Failed to publish event",
				zap.String("sink", sink.Name),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name, err))
		}
	}
	return errors.Join(errs...)
}
