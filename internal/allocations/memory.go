package allocations

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tto-ledger/ledger/internal/money"
	"github.com/tto-ledger/ledger/internal/shared"
)

// MemoryRepository keeps allocations in process memory. Transactions on the
// same project are serialized by LockProject, matching the advisory lock of
// the Postgres repository.
type MemoryRepository struct {
	mu       sync.Mutex
	nextID   int64
	rows     map[int64]Allocation
	projects map[int64]*sync.Mutex
	now      func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows:     make(map[int64]Allocation),
		projects: make(map[int64]*sync.Mutex),
		now:      time.Now,
	}
}

func (m *MemoryRepository) projectMutex(projectID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.projects[projectID]
	if !ok {
		mu = &sync.Mutex{}
		m.projects[projectID] = mu
	}
	return mu
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{repo: m}
	defer tx.unlock()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.mu.Lock()
	for _, a := range tx.pending {
		m.rows[a.ID] = a
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return fmt.Errorf("%w: allocation %d", shared.ErrNotFound, id)
	}
	delete(m.rows, id)
	return nil
}

func (m *MemoryRepository) List(_ context.Context, projectID int64) ([]Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Allocation
	for id := int64(1); id <= m.nextID; id++ {
		if a, ok := m.rows[id]; ok && a.ProjectID == projectID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryRepository) SumByPerson(_ context.Context, projectID int64) (map[string]money.Money, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]money.Money)
	for _, a := range m.rows {
		if a.ProjectID == projectID {
			out[a.Person.Key()] = out[a.Person.Key()].Add(a.Amount)
		}
	}
	return out, nil
}

func (m *MemoryRepository) sum(projectID int64) money.Money {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := money.Zero
	for _, a := range m.rows {
		if a.ProjectID == projectID {
			total = total.Add(a.Amount)
		}
	}
	return total
}

type memoryTx struct {
	repo    *MemoryRepository
	locked  []*sync.Mutex
	pending []Allocation
}

func (t *memoryTx) unlock() {
	for i := len(t.locked) - 1; i >= 0; i-- {
		t.locked[i].Unlock()
	}
	t.locked = nil
}

func (t *memoryTx) LockProject(_ context.Context, projectID int64) error {
	mu := t.repo.projectMutex(projectID)
	mu.Lock()
	t.locked = append(t.locked, mu)
	return nil
}

func (t *memoryTx) SumForProject(_ context.Context, projectID int64) (money.Money, error) {
	total := t.repo.sum(projectID)
	for _, a := range t.pending {
		if a.ProjectID == projectID {
			total = total.Add(a.Amount)
		}
	}
	return total, nil
}

func (t *memoryTx) Insert(_ context.Context, a Allocation) (Allocation, error) {
	t.repo.mu.Lock()
	t.repo.nextID++
	a.ID = t.repo.nextID
	a.CreatedAt = t.repo.now()
	t.repo.mu.Unlock()
	t.pending = append(t.pending, a)
	return a, nil
}
