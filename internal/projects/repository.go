package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tto-ledger/ledger/internal/platform/db"
	"github.com/tto-ledger/ledger/internal/shared"
)

// Repository is the read-only view of projects and their financial inputs.
type Repository interface {
	GetProject(ctx context.Context, id int64) (Project, error)
	ListIncomes(ctx context.Context, projectID int64) ([]Income, error)
	ListExpenses(ctx context.Context, projectID int64) ([]Expense, error)
	ListRepresentatives(ctx context.Context, projectID int64) ([]Representative, error)
	GetPerson(ctx context.Context, ref shared.PersonRef) (Person, error)
	GetIncomeDistribution(ctx context.Context, id int64) (IncomeDistribution, error)
}

var _ Repository = (*pgRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) GetProject(ctx context.Context, id int64) (Project, error) {
	var p Project
	err := r.pool.QueryRow(ctx, `SELECT id, code, title, commission_rate, budget, status,
stamp_duty_amount, stamp_duty_paid_by_client, referee_fee_amount, referee_fee_paid_by_client, created_at, updated_at
FROM projects WHERE id=$1`, id).
		Scan(&p.ID, &p.Code, &p.Title, &p.CommissionRate, &p.Budget, &p.Status,
			&p.StampDutyAmount, &p.StampDutyPaidByClient, &p.RefereeFeeAmount, &p.RefereeFeePaidByClient, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, fmt.Errorf("%w: project %d", shared.ErrNotFound, id)
		}
		return Project{}, db.MapError(err)
	}
	return p, nil
}

func (r *pgRepository) ListIncomes(ctx context.Context, projectID int64) ([]Income, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, project_id, COALESCE(income_number, ''), gross_amount, vat_rate, vat_amount, collected_amount, income_date
FROM incomes WHERE project_id=$1 ORDER BY id`, projectID)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []Income
	for rows.Next() {
		var inc Income
		if err := rows.Scan(&inc.ID, &inc.ProjectID, &inc.Number, &inc.GrossAmount, &inc.VATRate, &inc.VATAmount, &inc.CollectedAmount, &inc.Date); err != nil {
			return nil, db.MapError(err)
		}
		out = append(out, inc)
	}
	return out, db.MapError(rows.Err())
}

func (r *pgRepository) ListExpenses(ctx context.Context, projectID int64) ([]Expense, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, project_id, description, amount, is_tto_expense, COALESCE(expense_share_type, ''), expense_date
FROM expenses WHERE project_id=$1 ORDER BY id`, projectID)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []Expense
	for rows.Next() {
		var exp Expense
		var share string
		if err := rows.Scan(&exp.ID, &exp.ProjectID, &exp.Description, &exp.Amount, &exp.IsTTOExpense, &share, &exp.Date); err != nil {
			return nil, db.MapError(err)
		}
		exp.ShareType = ExpenseShareType(share)
		out = append(out, exp)
	}
	return out, db.MapError(rows.Err())
}

func (r *pgRepository) ListRepresentatives(ctx context.Context, projectID int64) ([]Representative, error) {
	rows, err := r.pool.Query(ctx, `SELECT pr.id, pr.project_id, pr.user_id, pr.personnel_id, pr.role,
COALESCE(u.full_name, p.full_name, '')
FROM project_representatives pr
LEFT JOIN users u ON u.id = pr.user_id
LEFT JOIN personnel p ON p.id = pr.personnel_id
WHERE pr.project_id=$1 ORDER BY pr.id`, projectID)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []Representative
	for rows.Next() {
		var rep Representative
		if err := rows.Scan(&rep.ID, &rep.ProjectID, &rep.Person.UserID, &rep.Person.PersonnelID, &rep.Role, &rep.FullName); err != nil {
			return nil, db.MapError(err)
		}
		out = append(out, rep)
	}
	return out, db.MapError(rows.Err())
}

func (r *pgRepository) GetPerson(ctx context.Context, ref shared.PersonRef) (Person, error) {
	table := "users"
	if ref.Kind() == shared.PersonPersonnel {
		table = "personnel"
	}
	person := Person{Ref: ref}
	err := r.pool.QueryRow(ctx, `SELECT full_name, COALESCE(email, ''), COALESCE(iban, ''), is_active FROM `+table+` WHERE id=$1`, ref.ID()).
		Scan(&person.FullName, &person.Email, &person.IBAN, &person.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Person{}, fmt.Errorf("%w: %s", shared.ErrNotFound, ref)
		}
		return Person{}, db.MapError(err)
	}
	return person, nil
}

func (r *pgRepository) GetIncomeDistribution(ctx context.Context, id int64) (IncomeDistribution, error) {
	var d IncomeDistribution
	err := r.pool.QueryRow(ctx, `SELECT d.id, d.income_id, pr.project_id, d.representative_id, pr.user_id, pr.personnel_id, d.amount
FROM income_distributions d
JOIN project_representatives pr ON pr.id = d.representative_id
WHERE d.id=$1`, id).
		Scan(&d.ID, &d.IncomeID, &d.ProjectID, &d.RepresentativeID, &d.Person.UserID, &d.Person.PersonnelID, &d.Amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IncomeDistribution{}, fmt.Errorf("%w: income distribution %d", shared.ErrNotFound, id)
		}
		return IncomeDistribution{}, db.MapError(err)
	}
	return d, nil
}
