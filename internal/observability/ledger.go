package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tto-ledger/ledger/internal/shared"
)

// LedgerMetrics counts ledger operations by outcome and tracks compensation.
type LedgerMetrics struct {
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	compensations *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger collectors against registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Ledger operations by name and outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_operation_duration_seconds",
		Help:    "Ledger operation duration.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"operation"})
	compensations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_compensations_total",
		Help: "Compensating cleanups by operation and result.",
	}, []string{"operation", "result"})
	registerer.MustRegister(operations, duration, compensations)
	return &LedgerMetrics{operations: operations, duration: duration, compensations: compensations}
}

// Observe records one finished operation.
func (m *LedgerMetrics) Observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, Outcome(err)).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Compensation records one cleanup attempt.
func (m *LedgerMetrics) Compensation(operation string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.compensations.WithLabelValues(operation, result).Inc()
}

var outcomes = []struct {
	err   error
	label string
}{
	{shared.ErrNotFound, "not_found"},
	{shared.ErrInvalidRecipient, "invalid_recipient"},
	{shared.ErrOutstandingDebt, "outstanding_debt"},
	{shared.ErrInsufficientBalance, "insufficient_balance"},
	{shared.ErrBudgetExceeded, "budget_exceeded"},
	{shared.ErrInvalidAmount, "invalid_amount"},
	{shared.ErrProjectClosed, "project_closed"},
	{shared.ErrInvalidTransition, "invalid_transition"},
	{shared.ErrInvalidInput, "invalid_input"},
	{shared.ErrConcurrencyConflict, "conflict"},
	{shared.ErrIdempotencyConflict, "duplicate"},
	{shared.ErrPersistence, "persistence"},
}

// Outcome maps an operation error onto a bounded label value.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.label
		}
	}
	return "error"
}
