package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tto-ledger/ledger/internal/platform/db"
	"github.com/tto-ledger/ledger/internal/shared"
)

// Repository defines instruction data access. Inserts are individual
// statements; the service removes them again when a later step fails.
type Repository interface {
	Insert(ctx context.Context, in Instruction) (Instruction, error)
	InsertItems(ctx context.Context, instructionID int64, items []Item) ([]Item, error)
	DeleteItems(ctx context.Context, instructionID int64) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (Instruction, error)
	ListByRecipient(ctx context.Context, recipient shared.PersonRef, limit int) ([]Instruction, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository defines status changes within a transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Instruction, error)
	UpdateStatus(ctx context.Context, id int64, status Status, actorID int64) error
}

var (
	_ Repository   = (*pgRepository)(nil)
	_ TxRepository = (*pgTxRepository)(nil)
)

type pgRepository struct {
	pool *pgxpool.Pool
}

type pgTxRepository struct {
	tx pgx.Tx
}

// NewRepository constructs the Postgres backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func nullableActor(id int64) any {
	if id > 0 {
		return id
	}
	return nil
}

func (r *pgRepository) Insert(ctx context.Context, in Instruction) (Instruction, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO payment_instructions (reference, user_id, personnel_id, total_amount, status, notes, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at, updated_at`,
		in.Reference, in.Recipient.UserID, in.Recipient.PersonnelID, in.TotalAmount, in.Status, in.Notes, nullableActor(in.CreatedBy)).
		Scan(&in.ID, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return Instruction{}, db.MapError(err)
	}
	return in, nil
}

func (r *pgRepository) InsertItems(ctx context.Context, instructionID int64, items []Item) ([]Item, error) {
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`INSERT INTO payment_instruction_items (instruction_id, income_distribution_id, amount, description)
VALUES ($1,$2,$3,$4) RETURNING id`, instructionID, item.IncomeDistributionID, item.Amount, item.Description)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	out := make([]Item, len(items))
	for i, item := range items {
		item.InstructionID = instructionID
		if err := results.QueryRow().Scan(&item.ID); err != nil {
			return nil, db.MapError(err)
		}
		out[i] = item
	}
	return out, nil
}

func (r *pgRepository) DeleteItems(ctx context.Context, instructionID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM payment_instruction_items WHERE instruction_id=$1`, instructionID)
	return db.MapError(err)
}

func (r *pgRepository) Delete(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM payment_instructions WHERE id=$1`, id)
	if err != nil {
		return db.MapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment instruction %d", shared.ErrNotFound, id)
	}
	return nil
}

const instructionColumns = `id, reference, user_id, personnel_id, total_amount, status, notes,
COALESCE(created_by, 0), COALESCE(status_changed_by, 0), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstruction(row rowScanner) (Instruction, error) {
	var in Instruction
	err := row.Scan(&in.ID, &in.Reference, &in.Recipient.UserID, &in.Recipient.PersonnelID, &in.TotalAmount,
		&in.Status, &in.Notes, &in.CreatedBy, &in.StatusChangedBy, &in.CreatedAt, &in.UpdatedAt)
	return in, err
}

func (r *pgRepository) Get(ctx context.Context, id int64) (Instruction, error) {
	in, err := scanInstruction(r.pool.QueryRow(ctx, `SELECT `+instructionColumns+` FROM payment_instructions WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Instruction{}, fmt.Errorf("%w: payment instruction %d", shared.ErrNotFound, id)
		}
		return Instruction{}, db.MapError(err)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, instruction_id, income_distribution_id, amount, description
FROM payment_instruction_items WHERE instruction_id=$1 ORDER BY id`, id)
	if err != nil {
		return Instruction{}, db.MapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.InstructionID, &item.IncomeDistributionID, &item.Amount, &item.Description); err != nil {
			return Instruction{}, db.MapError(err)
		}
		in.Items = append(in.Items, item)
	}
	return in, db.MapError(rows.Err())
}

func (r *pgRepository) ListByRecipient(ctx context.Context, recipient shared.PersonRef, limit int) ([]Instruction, error) {
	if limit <= 0 {
		limit = 50
	}
	col := "user_id"
	if recipient.Kind() == shared.PersonPersonnel {
		col = "personnel_id"
	}
	rows, err := r.pool.Query(ctx, `SELECT `+instructionColumns+` FROM payment_instructions
WHERE `+col+`=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, recipient.ID(), limit)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []Instruction
	for rows.Next() {
		in, err := scanInstruction(rows)
		if err != nil {
			return nil, db.MapError(err)
		}
		out = append(out, in)
	}
	return out, db.MapError(rows.Err())
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

func (r *pgTxRepository) GetForUpdate(ctx context.Context, id int64) (Instruction, error) {
	in, err := scanInstruction(r.tx.QueryRow(ctx, `SELECT `+instructionColumns+` FROM payment_instructions WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Instruction{}, fmt.Errorf("%w: payment instruction %d", shared.ErrNotFound, id)
		}
		return Instruction{}, err
	}
	return in, nil
}

func (r *pgTxRepository) UpdateStatus(ctx context.Context, id int64, status Status, actorID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE payment_instructions SET status=$2, status_changed_by=$3, updated_at=NOW() WHERE id=$1`,
		id, status, nullableActor(actorID))
	return err
}
