package balances

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tto-ledger/ledger/internal/shared"
)

// MemoryRepository keeps balances in process memory. A transaction works on
// a copy of the state and commits it only when fn succeeds; one transaction
// runs at a time.
type MemoryRepository struct {
	txMu   sync.Mutex
	mu     sync.RWMutex
	nextID int64
	nextTx int64
	byKey  map[string]Balance
	txns   []Transaction
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byKey: make(map[string]Balance)}
}

// Seed stores b as the current balance of its person.
func (m *MemoryRepository) Seed(b Balance) Balance {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == 0 {
		m.nextID++
		b.ID = m.nextID
	}
	m.byKey[b.Person.Key()] = b
	return b
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	work := &memoryTx{
		nextID: m.nextID,
		nextTx: m.nextTx,
		byKey:  make(map[string]Balance, len(m.byKey)),
	}
	for k, v := range m.byKey {
		work.byKey[k] = v
	}
	m.mu.RUnlock()

	if err := fn(ctx, work); err != nil {
		return err
	}

	m.mu.Lock()
	m.byKey = work.byKey
	m.nextID = work.nextID
	m.nextTx = work.nextTx
	m.txns = append(m.txns, work.txns...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, person shared.PersonRef) (Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.byKey[person.Key()]
	if !ok {
		return Balance{}, fmt.Errorf("%w: balance of %s", shared.ErrNotFound, person)
	}
	return b, nil
}

func (m *MemoryRepository) ListTransactions(_ context.Context, person shared.PersonRef, limit int) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.byKey[person.Key()]
	if !ok {
		return nil, nil
	}
	var out []Transaction
	for _, t := range m.txns {
		if t.BalanceID == b.ID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryTx struct {
	nextID int64
	nextTx int64
	byKey  map[string]Balance
	txns   []Transaction
}

func (t *memoryTx) GetForUpdate(_ context.Context, person shared.PersonRef) (Balance, error) {
	b, ok := t.byKey[person.Key()]
	if !ok {
		t.nextID++
		b = Balance{ID: t.nextID, Person: person}
		t.byKey[person.Key()] = b
	}
	return b, nil
}

func (t *memoryTx) Update(_ context.Context, b Balance) error {
	key := b.Person.Key()
	current, ok := t.byKey[key]
	if !ok || current.ID != b.ID {
		return fmt.Errorf("%w: balance %d", shared.ErrNotFound, b.ID)
	}
	if b.Available.IsNegative() || b.Reserved.IsNegative() || b.Debt.IsNegative() {
		return fmt.Errorf("%w: balance %d would go negative", shared.ErrInsufficientBalance, b.ID)
	}
	t.byKey[key] = b
	return nil
}

func (t *memoryTx) InsertTransaction(_ context.Context, tr Transaction) (Transaction, error) {
	t.nextTx++
	tr.ID = t.nextTx
	t.txns = append(t.txns, tr)
	return tr, nil
}
