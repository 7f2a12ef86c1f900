package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/helenavibes/ML-service/internal/models"
)

const namespace = "ml_service"

// Collector holds all metrics for the prediction service.
// A nil *Collector is valid and records nothing.
type Collector struct {
	// Task metrics
	tasksTotal          *prometheus.CounterVec
	taskRecords         *prometheus.CounterVec
	predictionDuration  prometheus.Histogram
	tasksRecovered      prometheus.Counter
	insufficientBalance *prometheus.CounterVec

	// Ledger metrics
	transactionsTotal *prometheus.CounterVec
	transactionAmount *prometheus.CounterVec
	balanceDrift      prometheus.Counter

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Event metrics
	eventsPublished *prometheus.CounterVec
	eventErrors     *prometheus.CounterVec
}

// NewCollector creates a collector registered with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "total",
			Help:      "Prediction tasks that reached a terminal status",
		}, []string{"status"}),
		taskRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "records_total",
			Help:      "Records submitted for prediction by validation outcome",
		}, []string{"outcome"}),
		predictionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "prediction_duration_seconds",
			Help:      "Time spent in the predictor",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		tasksRecovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "recovered_total",
			Help:      "Abandoned PROCESSING tasks moved to FAILED",
		}),
		insufficientBalance: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "insufficient_balance_total",
			Help:      "Tasks rejected for insufficient balance",
		}, []string{"stage"}),
		transactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Ledger transactions appended",
		}, []string{"type"}),
		transactionAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transaction_amount_total",
			Help:      "Sum of ledger transaction amounts",
		}, []string{"type"}),
		balanceDrift: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "balance_drift_total",
			Help:      "Users whose stored balance disagreed with their transaction log",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published",
		}, []string{"sink"}),
		eventErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "errors_total",
			Help:      "Event publish failures",
		}, []string{"sink"}),
	}
}

// RecordTask records a task reaching a terminal status
func (c *Collector) RecordTask(task *models.PredictionTask) {
	if c == nil {
		return
	}
	c.tasksTotal.WithLabelValues(string(task.Status)).Inc()
	c.taskRecords.WithLabelValues("valid").Add(float64(task.ValidCount()))
	c.taskRecords.WithLabelValues("invalid").Add(float64(task.InvalidCount()))
}

func (c *Collector) RecordPrediction(d time.Duration) {
	if c == nil {
		return
	}
	c.predictionDuration.Observe(d.Seconds())
}

func (c *Collector) RecordRecovered(n int) {
	if c == nil {
		return
	}
	c.tasksRecovered.Add(float64(n))
}

// RecordInsufficientBalance counts a rejection at "admit" or "settle"
func (c *Collector) RecordInsufficientBalance(stage string) {
	if c == nil {
		return
	}
	c.insufficientBalance.WithLabelValues(stage).Inc()
}

func (c *Collector) RecordTransaction(tx *models.Transaction) {
	if c == nil {
		return
	}
	c.transactionsTotal.WithLabelValues(string(tx.Type)).Inc()
	c.transactionAmount.WithLabelValues(string(tx.Type)).Add(tx.Amount.InexactFloat64())
}

func (c *Collector) RecordDrift(delta decimal.Decimal) {
	if c == nil || delta.IsZero() {
		return
	}
	c.balanceDrift.Inc()
}

func (c *Collector) RecordHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) RecordEvent(sink string, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.eventErrors.WithLabelValues(sink).Inc()
		return
	}
	c.eventsPublished.WithLabelValues(sink).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
