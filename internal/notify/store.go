package notify

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tto-ledger/ledger/internal/platform/db"
)

// PgStore writes notifications into the notifications table.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore constructs a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Insert stores m as unread.
func (s *PgStore) Insert(ctx context.Context, m Message) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO notifications (user_id, personnel_id, type, title, message)
VALUES ($1,$2,$3,$4,$5)`, m.Recipient.UserID, m.Recipient.PersonnelID, m.Type, m.Title, m.Message)
	return db.MapError(err)
}
