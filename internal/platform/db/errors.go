package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tto-ledger/ledger/internal/shared"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeCheckViolation       = "23514"
)

// MapError translates pgx failures into the ledger error taxonomy. Errors that
// already carry a ledger sentinel are returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		shared.ErrNotFound, shared.ErrInvalidInput, shared.ErrInvalidRecipient,
		shared.ErrOutstandingDebt, shared.ErrInsufficientBalance, shared.ErrBudgetExceeded,
		shared.ErrInvalidAmount, shared.ErrProjectClosed, shared.ErrInvalidTransition,
		shared.ErrConcurrencyConflict, shared.ErrPersistence,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", shared.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("%w: %w", shared.ErrConcurrencyConflict, err)
		case codeCheckViolation:
			// Non-negativity CHECK constraints on balances back the service guards.
			return fmt.Errorf("%w: %w", shared.ErrInsufficientBalance, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", shared.ErrPersistence, err)
}
