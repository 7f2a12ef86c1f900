package inference

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/models"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("predictor circuit breaker is open")

// BreakerState is the state of a CircuitBreaker
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker wraps a Predictor and stops calling it after
// failureThreshold consecutive failures. After resetTimeout one trial call is
// let through; success closes the breaker, failure opens it again.
type CircuitBreaker struct {
	next             Predictor
	failureThreshold int
	resetTimeout     time.Duration
	logger           *zap.Logger
	now              func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	trial    bool
}

// NewCircuitBreaker wraps next
func NewCircuitBreaker(next Predictor, failureThreshold int, resetTimeout time.Duration, logger *zap.Logger) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &CircuitBreaker{
		next:             next,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		logger:           logger,
		now:              time.Now,
	}
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

func (cb *CircuitBreaker) Predict(ctx context.Context, model *models.Model, records []models.Record) ([]interface{}, error) {
	if err := cb.allow(); err != nil {
		return nil, err
	}

	results, err := cb.next.Predict(ctx, model, records)
	cb.record(err)
	return results, err
}

func (cb *CircuitBreaker) currentState() BreakerState {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.trial {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.trial = true
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state != StateClosed {
			cb.logger.Info("Predictor circuit breaker closed")
		}
		cb.state = StateClosed
		cb.failures = 0
		cb.trial = false
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
		if cb.state != StateOpen {
			cb.logger.Warn("Predictor circuit breaker opened",
				zap.Int("consecutive_failures", cb.failures),
				zap.Error(err))
		}
		cb.state = StateOpen
		cb.openedAt = cb.now()
		cb.trial = false
	}
}
