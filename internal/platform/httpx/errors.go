// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/tto-ledger/ledger/internal/shared"
)

type problemMapping struct {
	err    error
	status int
	slug   string
	title  string
}

// More specific errors come first: ErrAmountMismatch wraps ErrInvalidAmount.
var problemMappings = []problemMapping{
	{shared.ErrNotFound, http.StatusNotFound, "not-found", "Not Found"},
	{shared.ErrInvalidRecipient, http.StatusUnprocessableEntity, "invalid-recipient", "Invalid Recipient"},
	{shared.ErrOutstandingDebt, http.StatusUnprocessableEntity, "outstanding-debt", "Outstanding Debt"},
	{shared.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient-balance", "Insufficient Balance"},
	{shared.ErrBudgetExceeded, http.StatusUnprocessableEntity, "budget-exceeded", "Budget Exceeded"},
	{shared.ErrAmountMismatch, http.StatusUnprocessableEntity, "amount-mismatch", "Amount Mismatch"},
	{shared.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid-amount", "Invalid Amount"},
	{shared.ErrProjectClosed, http.StatusConflict, "project-closed", "Project Closed"},
	{shared.ErrInvalidTransition, http.StatusConflict, "invalid-transition", "Invalid Transition"},
	{shared.ErrIdempotencyConflict, http.StatusConflict, "duplicate-request", "Duplicate Request"},
	{shared.ErrConcurrencyConflict, http.StatusConflict, "concurrency-conflict", "Concurrency Conflict"},
	{shared.ErrInvalidInput, http.StatusBadRequest, "validation-failed", "Validation Failed"},
}

// RespondError maps ledger errors to RFC7807 responses. Storage and unknown
// errors hide their detail.
func RespondError(w http.ResponseWriter, err error) {
	for _, m := range problemMappings {
		if errors.Is(err, m.err) {
			JSON(w, m.status, ProblemDetail{
				Type:   "/problems/" + m.slug,
				Title:  m.title,
				Status: m.status,
				Detail: err.Error(),
			})
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
