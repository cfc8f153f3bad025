package payments

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tto-ledger/ledger/internal/money"
	"github.com/tto-ledger/ledger/internal/shared"
)

// Instruction is an order to pay a recipient out of their reserved balance.
type Instruction struct {
	ID              int64            `json:"id"`
	Reference       uuid.UUID        `json:"reference"`
	Recipient       shared.PersonRef `json:"recipient"`
	TotalAmount     money.Money      `json:"total_amount"`
	Status          Status           `json:"status"`
	Notes           string           `json:"notes"`
	CreatedBy       int64            `json:"created_by"`
	StatusChangedBy int64            `json:"status_changed_by,omitempty"`
	Items           []Item           `json:"items"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Item is one line of an instruction, optionally drawn from an income
// distribution entitlement.
type Item struct {
	ID                   int64       `json:"id"`
	InstructionID        int64       `json:"instruction_id"`
	IncomeDistributionID *int64      `json:"income_distribution_id,omitempty"`
	Amount               money.Money `json:"amount"`
	Description          string      `json:"description"`
}

// ItemInput is a requested instruction line.
type ItemInput struct {
	IncomeDistributionID *int64
	Amount               money.Money
	Description          string
}

// CreateInput is the payload of an instruction request.
type CreateInput struct {
	Recipient      shared.PersonRef
	TotalAmount    money.Money
	Items          []ItemInput
	Notes          string
	ActorID        int64
	IdempotencyKey string
}

// Validate performs the checks that need no storage access. The sum check
// runs later, after the per-item distribution checks.
func (in CreateInput) Validate() error {
	if err := in.Recipient.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidRecipient, err)
	}
	if !in.TotalAmount.IsPositive() {
		return fmt.Errorf("%w: total amount must be positive", shared.ErrInvalidAmount)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: at least one item required", shared.ErrInvalidInput)
	}
	for i, item := range in.Items {
		if !item.Amount.IsPositive() {
			return fmt.Errorf("%w: item %d amount must be positive", shared.ErrInvalidAmount, i+1)
		}
		if item.IncomeDistributionID != nil && *item.IncomeDistributionID <= 0 {
			return fmt.Errorf("%w: item %d income distribution id must be positive", shared.ErrInvalidInput, i+1)
		}
	}
	return nil
}

func (in CreateInput) normalized() CreateInput {
	in.TotalAmount = in.TotalAmount.Round()
	in.Notes = strings.TrimSpace(in.Notes)
	items := make([]ItemInput, len(in.Items))
	for i, item := range in.Items {
		item.Amount = item.Amount.Round()
		item.Description = strings.TrimSpace(item.Description)
		items[i] = item
	}
	in.Items = items
	return in
}

// ItemsTotal sums the requested item amounts.
func ItemsTotal(items []ItemInput) money.Money {
	total := money.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}

// CheckTotal rejects a total that differs from the item sum by more than the
// rounding tolerance.
func CheckTotal(total money.Money, items []ItemInput) error {
	sum := ItemsTotal(items)
	if !total.WithinTolerance(sum) {
		return fmt.Errorf("%w: total %s, items %s", shared.ErrAmountMismatch, total.StringFixed(), sum.StringFixed())
	}
	return nil
}
