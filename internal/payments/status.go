package payments

import (
	"fmt"

	"github.com/tto-ledger/ledger/internal/shared"
)

// Status enumerates the instruction lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusApproved, StatusRejected},
	StatusApproved:   {StatusProcessing},
	StatusProcessing: {StatusCompleted},
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// ValidateTransition checks a status change against the lifecycle.
func ValidateTransition(current, target Status) error {
	for _, next := range transitions[current] {
		if next == target {
			return nil
		}
	}
	return fmt.Errorf("%w: payment instruction %s -> %s", shared.ErrInvalidTransition, current, target)
}
