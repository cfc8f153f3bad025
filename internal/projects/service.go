package projects

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tto-ledger/ledger/internal/shared"
)

// Service loads project inputs and derives summaries from them.
type Service struct {
	repo Repository
}

// NewService constructs the project read service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Snapshot loads the project with its incomes and expenses concurrently.
func (s *Service) Snapshot(ctx context.Context, projectID int64) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.repo.GetProject(gctx, projectID)
		snap.Project = p
		return err
	})
	g.Go(func() error {
		incomes, err := s.repo.ListIncomes(gctx, projectID)
		snap.Incomes = incomes
		return err
	})
	g.Go(func() error {
		expenses, err := s.repo.ListExpenses(gctx, projectID)
		snap.Expenses = expenses
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// FinancialSummary loads inputs and returns the project with its summary.
func (s *Service) FinancialSummary(ctx context.Context, projectID int64) (Project, FinancialSummary, error) {
	snap, err := s.Snapshot(ctx, projectID)
	if err != nil {
		return Project{}, FinancialSummary{}, err
	}
	return snap.Project, Summarize(snap), nil
}

// Representatives lists the representatives of a project.
func (s *Service) Representatives(ctx context.Context, projectID int64) ([]Representative, error) {
	return s.repo.ListRepresentatives(ctx, projectID)
}

// Representative returns the representative link of person on the project, or
// ErrNotFound when the person is not linked.
func (s *Service) Representative(ctx context.Context, projectID int64, person shared.PersonRef) (Representative, error) {
	reps, err := s.repo.ListRepresentatives(ctx, projectID)
	if err != nil {
		return Representative{}, err
	}
	for _, rep := range reps {
		if rep.Person.Equal(person) {
			return rep, nil
		}
	}
	return Representative{}, fmt.Errorf("%w: %s is not a representative of project %d", shared.ErrNotFound, person, projectID)
}

// Person returns the recipient view of a user or personnel record.
func (s *Service) Person(ctx context.Context, ref shared.PersonRef) (Person, error) {
	return s.repo.GetPerson(ctx, ref)
}

// IncomeDistribution returns a distribution entitlement.
func (s *Service) IncomeDistribution(ctx context.Context, id int64) (IncomeDistribution, error) {
	return s.repo.GetIncomeDistribution(ctx, id)
}
