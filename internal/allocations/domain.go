package allocations

import (
	"fmt"
	"strings"
	"time"

	"github.com/tto-ledger/ledger/internal/money"
	"github.com/tto-ledger/ledger/internal/projects"
	"github.com/tto-ledger/ledger/internal/shared"
)

// Allocation is a signed manual adjustment of a representative's balance
// against a project.
type Allocation struct {
	ID        int64            `json:"id"`
	ProjectID int64            `json:"project_id"`
	Person    shared.PersonRef `json:"person"`
	Amount    money.Money      `json:"amount"`
	Notes     string           `json:"notes"`
	CreatedBy int64            `json:"created_by"`
	CreatedAt time.Time        `json:"created_at"`
}

// CreateInput is the payload of an allocation request.
type CreateInput struct {
	ProjectID int64
	Person    shared.PersonRef
	Amount    money.Money
	Notes     string
	ActorID   int64
}

// Validate performs the checks that need no storage access.
func (in CreateInput) Validate() error {
	if in.ProjectID <= 0 {
		return fmt.Errorf("%w: project id required", shared.ErrInvalidInput)
	}
	if err := in.Person.Validate(); err != nil {
		return err
	}
	if in.Amount.IsZero() {
		return fmt.Errorf("%w: allocation amount must not be zero", shared.ErrInvalidAmount)
	}
	if len(in.Notes) > 2000 {
		return fmt.Errorf("%w: notes too long", shared.ErrInvalidInput)
	}
	return nil
}

func (in CreateInput) normalized() CreateInput {
	in.Amount = in.Amount.Round()
	in.Notes = strings.TrimSpace(in.Notes)
	return in
}

// TeamMember is a representative with their allocation total and live balance.
type TeamMember struct {
	RepresentativeID int64                       `json:"representative_id"`
	Person           shared.PersonRef            `json:"person"`
	FullName         string                      `json:"full_name"`
	Role             projects.RepresentativeRole `json:"role"`
	AllocatedAmount  money.Money                 `json:"allocated_amount"`
	CurrentBalance   money.Money                 `json:"current_balance"`
}

// ProjectSummary is the financial summary of a project with its team.
type ProjectSummary struct {
	Summary                projects.FinancialSummary `json:"summary"`
	AllocatedTotal         money.Money               `json:"allocated_total"`
	RemainingDistributable money.Money               `json:"remaining_distributable"`
	Team                   []TeamMember              `json:"team"`
}

// CheckBudget rejects an allocation that would push the project's allocation
// total past its distributable amount.
func CheckBudget(distributable, allocated, amount money.Money) error {
	next := allocated.Add(amount)
	if next.GreaterThan(distributable) {
		return fmt.Errorf("%w: allocations would total %s, distributable is %s",
			shared.ErrBudgetExceeded, next.StringFixed(), distributable.StringFixed())
	}
	return nil
}
