package payments

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tto-ledger/ledger/internal/shared"
)

// MemoryRepository keeps instructions in process memory.
type MemoryRepository struct {
	mu         sync.Mutex
	txMu       sync.Mutex
	nextID     int64
	nextItemID int64
	rows       map[int64]Instruction
	items      map[int64][]Item
	now        func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows:  make(map[int64]Instruction),
		items: make(map[int64][]Item),
		now:   time.Now,
	}
}

func (m *MemoryRepository) Insert(_ context.Context, in Instruction) (Instruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	in.ID = m.nextID
	in.CreatedAt = m.now()
	in.UpdatedAt = in.CreatedAt
	in.Items = nil
	m.rows[in.ID] = in
	return in, nil
}

func (m *MemoryRepository) InsertItems(_ context.Context, instructionID int64, items []Item) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[instructionID]; !ok {
		return nil, fmt.Errorf("%w: payment instruction %d", shared.ErrNotFound, instructionID)
	}
	out := make([]Item, len(items))
	for i, item := range items {
		m.nextItemID++
		item.ID = m.nextItemID
		item.InstructionID = instructionID
		out[i] = item
	}
	m.items[instructionID] = append(m.items[instructionID], out...)
	return out, nil
}

func (m *MemoryRepository) DeleteItems(_ context.Context, instructionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, instructionID)
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return fmt.Errorf("%w: payment instruction %d", shared.ErrNotFound, id)
	}
	if len(m.items[id]) > 0 {
		return fmt.Errorf("%w: payment instruction %d still has items", shared.ErrPersistence, id)
	}
	delete(m.rows, id)
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id int64) (Instruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.rows[id]
	if !ok {
		return Instruction{}, fmt.Errorf("%w: payment instruction %d", shared.ErrNotFound, id)
	}
	in.Items = append([]Item(nil), m.items[id]...)
	return in, nil
}

func (m *MemoryRepository) ListByRecipient(_ context.Context, recipient shared.PersonRef, limit int) ([]Instruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Instruction
	for _, in := range m.rows {
		if in.Recipient.Equal(recipient) {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored instructions and items.
func (m *MemoryRepository) Count() (instructions, items int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, list := range m.items {
		items += len(list)
	}
	return len(m.rows), items
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	tx := &memoryTx{repo: m, updates: make(map[int64]Instruction)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, in := range tx.updates {
		m.rows[id] = in
	}
	return nil
}

type memoryTx struct {
	repo    *MemoryRepository
	updates map[int64]Instruction
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id int64) (Instruction, error) {
	if in, ok := t.updates[id]; ok {
		return in, nil
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	in, ok := t.repo.rows[id]
	if !ok {
		return Instruction{}, fmt.Errorf("%w: payment instruction %d", shared.ErrNotFound, id)
	}
	return in, nil
}

func (t *memoryTx) UpdateStatus(ctx context.Context, id int64, status Status, actorID int64) error {
	in, err := t.GetForUpdate(ctx, id)
	if err != nil {
		return err
	}
	in.Status = status
	in.StatusChangedBy = actorID
	in.UpdatedAt = t.repo.now()
	t.updates[id] = in
	return nil
}
