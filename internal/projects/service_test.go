package projects

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tto-ledger/ledger/internal/shared"
)

type stubRepo struct {
	project  Project
	incomes  []Income
	expenses []Expense
	reps     []Representative
	fail     error
}

func (r *stubRepo) GetProject(ctx context.Context, id int64) (Project, error) {
	if r.project.ID != id {
		return Project{}, fmt.Errorf("%w: project %d", shared.ErrNotFound, id)
	}
	return r.project, nil
}

func (r *stubRepo) ListIncomes(ctx context.Context, projectID int64) ([]Income, error) {
	return r.incomes, r.fail
}

func (r *stubRepo) ListExpenses(ctx context.Context, projectID int64) ([]Expense, error) {
	return r.expenses, nil
}

func (r *stubRepo) ListRepresentatives(ctx context.Context, projectID int64) ([]Representative, error) {
	return r.reps, nil
}

func (r *stubRepo) GetPerson(ctx context.Context, ref shared.PersonRef) (Person, error) {
	return Person{}, shared.ErrNotFound
}

func (r *stubRepo) GetIncomeDistribution(ctx context.Context, id int64) (IncomeDistribution, error) {
	return IncomeDistribution{}, shared.ErrNotFound
}

func TestServiceFinancialSummary(t *testing.T) {
	repo := &stubRepo{
		project: baseProject("20"),
		incomes: []Income{{ID: 1, ProjectID: 1, GrossAmount: m("1000"), CollectedAmount: m("1000")}},
	}
	svc := NewService(repo)

	project, summary, err := svc.FinancialSummary(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "P-1", project.Code)
	require.Equal(t, "800.00", summary.DistributableAmount.StringFixed())

	_, _, err = svc.FinancialSummary(context.Background(), 99)
	require.ErrorIs(t, err, shared.ErrNotFound)

	repo.fail = errors.New("boom")
	_, _, err = svc.FinancialSummary(context.Background(), 1)
	require.EqualError(t, err, "boom")
}

func TestServiceRepresentativeLookup(t *testing.T) {
	repo := &stubRepo{
		project: baseProject("0"),
		reps: []Representative{
			{ID: 1, ProjectID: 1, Person: shared.UserRef(5), Role: RoleProjectLeader},
			{ID: 2, ProjectID: 1, Person: shared.PersonnelRef(5), Role: RoleResearcher},
		},
	}
	svc := NewService(repo)

	rep, err := svc.Representative(context.Background(), 1, shared.PersonnelRef(5))
	require.NoError(t, err)
	require.Equal(t, int64(2), rep.ID)

	_, err = svc.Representative(context.Background(), 1, shared.UserRef(6))
	require.ErrorIs(t, err, shared.ErrNotFound)
}
