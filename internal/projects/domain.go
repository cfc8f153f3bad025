package projects

import (
	"fmt"
	"time"

	"github.com/tto-ledger/ledger/internal/money"
	"github.com/tto-ledger/ledger/internal/shared"
)

// Status enumerates project lifecycle values.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Project carries the commercial terms the summary calculator needs.
type Project struct {
	ID                     int64
	Code                   string
	Title                  string
	CommissionRate         money.Money
	Budget                 money.Money
	Status                 Status
	StampDutyAmount        money.Money
	StampDutyPaidByClient  bool
	RefereeFeeAmount       money.Money
	RefereeFeePaidByClient bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ClientStampDuty is the stamp duty borne by the counter-party, zero otherwise.
func (p Project) ClientStampDuty() money.Money {
	if p.StampDutyPaidByClient {
		return p.StampDutyAmount
	}
	return money.Zero
}

// ClientRefereeFee is the referee-board fee borne by the counter-party, zero otherwise.
func (p Project) ClientRefereeFee() money.Money {
	if p.RefereeFeePaidByClient {
		return p.RefereeFeeAmount
	}
	return money.Zero
}

// AcceptsDistributions reports whether new allocations may target the project.
func (p Project) AcceptsDistributions() bool {
	return p.Status == StatusActive
}

// Income is an invoice raised against a project and its collection state.
type Income struct {
	ID              int64
	ProjectID       int64
	Number          string
	GrossAmount     money.Money
	VATRate         money.Money
	VATAmount       money.Money
	CollectedAmount money.Money
	Date            time.Time
}

// ExpenseShareType tells who bears a representative-shared expense.
type ExpenseShareType string

const (
	ShareClient ExpenseShareType = "client"
	ShareShared ExpenseShareType = "shared"
)

// Expense is charged to a project, or organization-wide when ProjectID is nil.
type Expense struct {
	ID           int64
	ProjectID    *int64
	Description  string
	Amount       money.Money
	IsTTOExpense bool
	ShareType    ExpenseShareType
	Date         time.Time
}

// RepresentativeRole enumerates project roles.
type RepresentativeRole string

const (
	RoleProjectLeader RepresentativeRole = "project_leader"
	RoleResearcher    RepresentativeRole = "researcher"
)

// Representative links a project to exactly one user or personnel record.
type Representative struct {
	ID        int64
	ProjectID int64
	Person    shared.PersonRef
	Role      RepresentativeRole
	FullName  string
}

// Person is the recipient view of a user or personnel record.
type Person struct {
	Ref      shared.PersonRef
	FullName string
	Email    string
	IBAN     string
	IsActive bool
}

// IncomeDistribution is a pre-existing entitlement of a representative.
type IncomeDistribution struct {
	ID               int64
	IncomeID         int64
	ProjectID        int64
	RepresentativeID int64
	Person           shared.PersonRef
	Amount           money.Money
}

// Snapshot bundles the inputs of a financial summary.
type Snapshot struct {
	Project  Project
	Incomes  []Income
	Expenses []Expense
}

// ValidateIncomeAgainstBudget rejects a new income that would push the
// cumulative gross of the project past its budget.
func ValidateIncomeAgainstBudget(project Project, existing []Income, gross money.Money) error {
	if !gross.IsPositive() {
		return fmt.Errorf("%w: income gross amount must be positive", shared.ErrInvalidAmount)
	}
	total := gross
	for _, inc := range existing {
		total = total.Add(inc.GrossAmount)
	}
	if total.GreaterThan(project.Budget) {
		return fmt.Errorf("%w: cumulative income %s exceeds project budget %s", shared.ErrBudgetExceeded, total.StringFixed(), project.Budget.StringFixed())
	}
	return nil
}
