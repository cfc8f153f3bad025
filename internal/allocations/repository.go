package allocations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tto-ledger/ledger/internal/money"
	"github.com/tto-ledger/ledger/internal/platform/db"
	"github.com/tto-ledger/ledger/internal/shared"
)

// Repository defines allocation data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, projectID int64) ([]Allocation, error)
	SumByPerson(ctx context.Context, projectID int64) (map[string]money.Money, error)
}

// TxRepository defines operations within the budget-check transaction.
type TxRepository interface {
	// LockProject holds an exclusive transaction-scoped lock on the project's
	// allocation set until commit or rollback.
	LockProject(ctx context.Context, projectID int64) error
	SumForProject(ctx context.Context, projectID int64) (money.Money, error)
	Insert(ctx context.Context, a Allocation) (Allocation, error)
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

func (r *pgRepository) Delete(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM manual_balance_allocations WHERE id=$1`, id)
	if err != nil {
		return db.MapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: allocation %d", shared.ErrNotFound, id)
	}
	return nil
}

func (r *pgRepository) List(ctx context.Context, projectID int64) ([]Allocation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, project_id, user_id, personnel_id, amount, notes, COALESCE(created_by, 0), created_at
FROM manual_balance_allocations WHERE project_id=$1 ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Person.UserID, &a.Person.PersonnelID, &a.Amount, &a.Notes, &a.CreatedBy, &a.CreatedAt); err != nil {
			return nil, db.MapError(err)
		}
		out = append(out, a)
	}
	return out, db.MapError(rows.Err())
}

func (r *pgRepository) SumByPerson(ctx context.Context, projectID int64) (map[string]money.Money, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, personnel_id, COALESCE(SUM(amount), 0)
FROM manual_balance_allocations WHERE project_id=$1 GROUP BY user_id, personnel_id`, projectID)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	out := make(map[string]money.Money)
	for rows.Next() {
		var (
			ref shared.PersonRef
			sum money.Money
		)
		if err := rows.Scan(&ref.UserID, &ref.PersonnelID, &sum); err != nil {
			return nil, db.MapError(err)
		}
		out[ref.Key()] = sum
	}
	return out, db.MapError(rows.Err())
}

func (r *pgTxRepository) LockProject(ctx context.Context, projectID int64) error {
	_, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('ledger:project:' || $1::text, 0))`, projectID)
	return err
}

func (r *pgTxRepository) SumForProject(ctx context.Context, projectID int64) (money.Money, error) {
	var sum money.Money
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM manual_balance_allocations WHERE project_id=$1`, projectID).Scan(&sum)
	return sum, err
}

func (r *pgTxRepository) Insert(ctx context.Context, a Allocation) (Allocation, error) {
	var createdBy any
	if a.CreatedBy > 0 {
		createdBy = a.CreatedBy
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO manual_balance_allocations (project_id, user_id, personnel_id, amount, notes, created_by)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
		a.ProjectID, a.Person.UserID, a.Person.PersonnelID, a.Amount, a.Notes, createdBy).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return Allocation{}, err
	}
	return a, nil
}
