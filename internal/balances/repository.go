package balances

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tto-ledger/ledger/internal/platform/db"
	"github.com/tto-ledger/ledger/internal/shared"
)

// Repository defines balance data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, person shared.PersonRef) (Balance, error)
	ListTransactions(ctx context.Context, person shared.PersonRef, limit int) ([]Transaction, error)
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	// GetForUpdate returns the balance row locked for the rest of the
	// transaction, creating an empty one when the person has none yet.
	GetForUpdate(ctx context.Context, person shared.PersonRef) (Balance, error)
	Update(ctx context.Context, b Balance) error
	InsertTransaction(ctx context.Context, t Transaction) (Transaction, error)
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

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

func personColumn(person shared.PersonRef) string {
	if person.Kind() == shared.PersonPersonnel {
		return "personnel_id"
	}
	return "user_id"
}

func (r *pgRepository) Get(ctx context.Context, person shared.PersonRef) (Balance, error) {
	b := Balance{Person: person}
	err := r.pool.QueryRow(ctx, `SELECT id, available_amount, reserved_amount, debt_amount, updated_at
FROM balances WHERE `+personColumn(person)+`=$1`, person.ID()).
		Scan(&b.ID, &b.Available, &b.Reserved, &b.Debt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, fmt.Errorf("%w: balance of %s", shared.ErrNotFound, person)
		}
		return Balance{}, db.MapError(err)
	}
	return b, nil
}

func (r *pgRepository) ListTransactions(ctx context.Context, person shared.PersonRef, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT t.id, t.balance_id, t.kind, t.amount, t.available_before, t.available_after,
t.reserved_after, t.debt_after, t.reference_type, t.reference_id, t.description, t.created_at
FROM balance_transactions t JOIN balances b ON b.id = t.balance_id
WHERE b.`+personColumn(person)+`=$1 ORDER BY t.created_at DESC, t.id DESC LIMIT $2`, person.ID(), limit)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.BalanceID, &t.Kind, &t.Amount, &t.AvailableBefore, &t.AvailableAfter,
			&t.ReservedAfter, &t.DebtAfter, &t.ReferenceType, &t.ReferenceID, &t.Description, &t.CreatedAt); err != nil {
			return nil, db.MapError(err)
		}
		out = append(out, t)
	}
	return out, db.MapError(rows.Err())
}

func (r *pgTxRepository) GetForUpdate(ctx context.Context, person shared.PersonRef) (Balance, error) {
	col := personColumn(person)
	if _, err := r.tx.Exec(ctx, `INSERT INTO balances (`+col+`) VALUES ($1) ON CONFLICT (`+col+`) DO NOTHING`, person.ID()); err != nil {
		return Balance{}, err
	}
	b := Balance{Person: person}
	err := r.tx.QueryRow(ctx, `SELECT id, available_amount, reserved_amount, debt_amount, updated_at
FROM balances WHERE `+col+`=$1 FOR UPDATE`, person.ID()).
		Scan(&b.ID, &b.Available, &b.Reserved, &b.Debt, &b.UpdatedAt)
	if err != nil {
		return Balance{}, err
	}
	return b, nil
}

func (r *pgTxRepository) Update(ctx context.Context, b Balance) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE balances SET available_amount=$2, reserved_amount=$3, debt_amount=$4, updated_at=NOW() WHERE id=$1`,
		b.ID, b.Available, b.Reserved, b.Debt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: balance %d", shared.ErrNotFound, b.ID)
	}
	return nil
}

func (r *pgTxRepository) InsertTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	var refID any
	if t.ReferenceID != nil {
		refID = *t.ReferenceID
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO balance_transactions (balance_id, kind, amount, available_before, available_after,
reserved_after, debt_after, reference_type, reference_id, description)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at`,
		t.BalanceID, t.Kind, t.Amount, t.AvailableBefore, t.AvailableAfter, t.ReservedAfter, t.DebtAfter,
		t.ReferenceType, refID, t.Description).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	return t, nil
}
