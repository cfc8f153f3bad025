package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a missing project, person, balance or distribution.
	ErrNotFound = errors.New("ledger: not found")
	// ErrInvalidInput indicates a malformed request detected before any mutation.
	ErrInvalidInput = errors.New("ledger: invalid input")
	// ErrInvalidRecipient indicates an inactive recipient or one without an IBAN.
	ErrInvalidRecipient = errors.New("ledger: invalid recipient")
	// ErrOutstandingDebt indicates the recipient must settle debt first.
	ErrOutstandingDebt = errors.New("ledger: outstanding debt")
	// ErrInsufficientBalance indicates available funds do not cover the request.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrBudgetExceeded indicates allocations would exceed the distributable amount.
	ErrBudgetExceeded = errors.New("ledger: distributable budget exceeded")
	// ErrInvalidAmount indicates an item above its ceiling or a total mismatch.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrAmountMismatch indicates the total differs from the sum of items.
	ErrAmountMismatch = fmt.Errorf("%w: total does not match sum of items", ErrInvalidAmount)
	// ErrProjectClosed indicates the project no longer accepts distributions.
	ErrProjectClosed = errors.New("ledger: project closed for distribution")
	// ErrInvalidTransition indicates a status change that the workflow forbids.
	ErrInvalidTransition = errors.New("ledger: invalid status transition")
	// ErrConcurrencyConflict indicates a lost race on a serialized check; retry.
	ErrConcurrencyConflict = errors.New("ledger: concurrency conflict")
	// ErrPersistence indicates an underlying storage failure.
	ErrPersistence = errors.New("ledger: persistence failure")
)

// CompensationError reports an operation whose rollback steps also failed.
type CompensationError struct {
	Op       string
	Cause    error
	Failures []error
}

func (e *CompensationError) Error() string {
	return "ledger: " + e.Op + ": compensation incomplete: " + errors.Join(e.Failures...).Error() + " (cause: " + e.Cause.Error() + ")"
}

func (e *CompensationError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures)+1)
	out = append(out, e.Cause)
	return append(out, e.Failures...)
}
