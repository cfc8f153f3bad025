package projects

import (
	"context"
	"fmt"
	"sync"

	"github.com/tto-ledger/ledger/internal/shared"
)

// MemoryRepository serves project inputs from process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	projects map[int64]Project
	incomes  map[int64][]Income
	expenses map[int64][]Expense
	reps     map[int64][]Representative
	people   map[string]Person
	dists    map[int64]IncomeDistribution
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		projects: make(map[int64]Project),
		incomes:  make(map[int64][]Income),
		expenses: make(map[int64][]Expense),
		reps:     make(map[int64][]Representative),
		people:   make(map[string]Person),
		dists:    make(map[int64]IncomeDistribution),
	}
}

// PutProject stores or replaces a project.
func (m *MemoryRepository) PutProject(p Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
}

// AddIncome appends an income after checking it against the project budget.
func (m *MemoryRepository) AddIncome(in Income) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[in.ProjectID]
	if !ok {
		return fmt.Errorf("%w: project %d", shared.ErrNotFound, in.ProjectID)
	}
	if err := ValidateIncomeAgainstBudget(p, m.incomes[in.ProjectID], in.GrossAmount); err != nil {
		return err
	}
	m.incomes[in.ProjectID] = append(m.incomes[in.ProjectID], in)
	return nil
}

// AddExpense appends an expense. Organization-wide expenses are kept under
// project id zero.
func (m *MemoryRepository) AddExpense(e Expense) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var key int64
	if e.ProjectID != nil {
		key = *e.ProjectID
	}
	m.expenses[key] = append(m.expenses[key], e)
}

// AddRepresentative links a person to a project.
func (m *MemoryRepository) AddRepresentative(r Representative) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reps[r.ProjectID] = append(m.reps[r.ProjectID], r)
}

// PutPerson stores or replaces a recipient record.
func (m *MemoryRepository) PutPerson(p Person) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.people[p.Ref.Key()] = p
}

// PutIncomeDistribution stores or replaces an entitlement.
func (m *MemoryRepository) PutIncomeDistribution(d IncomeDistribution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dists[d.ID] = d
}

func (m *MemoryRepository) GetProject(_ context.Context, id int64) (Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return Project{}, fmt.Errorf("%w: project %d", shared.ErrNotFound, id)
	}
	return p, nil
}

func (m *MemoryRepository) ListIncomes(_ context.Context, projectID int64) ([]Income, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Income(nil), m.incomes[projectID]...), nil
}

func (m *MemoryRepository) ListExpenses(_ context.Context, projectID int64) ([]Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Expense(nil), m.expenses[projectID]...), nil
}

func (m *MemoryRepository) ListRepresentatives(_ context.Context, projectID int64) ([]Representative, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Representative(nil), m.reps[projectID]...), nil
}

func (m *MemoryRepository) GetPerson(_ context.Context, ref shared.PersonRef) (Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.people[ref.Key()]
	if !ok {
		return Person{}, fmt.Errorf("%w: %s", shared.ErrNotFound, ref)
	}
	return p, nil
}

func (m *MemoryRepository) GetIncomeDistribution(_ context.Context, id int64) (IncomeDistribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dists[id]
	if !ok {
		return IncomeDistribution{}, fmt.Errorf("%w: income distribution %d", shared.ErrNotFound, id)
	}
	return d, nil
}
