package balances

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tto-ledger/ledger/internal/money"
	"github.com/tto-ledger/ledger/internal/shared"
)

// Reference types recorded on journal rows.
const (
	RefAllocation  = "manual_allocation"
	RefInstruction = "payment_instruction"
	RefManual      = "manual_adjustment"
)

// Service applies movements to balances. Each call is one transaction that
// locks the balance row, so concurrent movements on the same person
// serialize in the database.
type Service struct {
	repo  Repository
	retry shared.RetryPolicy
	now   func() time.Time
}

// NewService constructs a balance service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, retry: shared.DefaultRetryPolicy, now: time.Now}
}

// WithRetryPolicy overrides the conflict retry policy.
func (s *Service) WithRetryPolicy(p shared.RetryPolicy) {
	s.retry = p
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns the balance of a person. A person that never received a
// movement has an all-zero balance.
func (s *Service) Get(ctx context.Context, person shared.PersonRef) (Balance, error) {
	if err := person.Validate(); err != nil {
		return Balance{}, err
	}
	b, err := s.repo.Get(ctx, person)
	if errors.Is(err, shared.ErrNotFound) {
		return Balance{Person: person}, nil
	}
	return b, err
}

// History returns the most recent journal rows of a person.
func (s *Service) History(ctx context.Context, person shared.PersonRef, limit int) ([]Transaction, error) {
	if err := person.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, person, limit)
}

// Adjust applies one movement and journals it.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (Balance, error) {
	if err := in.Validate(); err != nil {
		return Balance{}, err
	}
	var out Balance
	err := shared.RetryOnConflict(ctx, s.retry, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetForUpdate(ctx, in.Person)
			if err != nil {
				return err
			}
			next, err := current.Apply(in.Kind, in.Amount)
			if err != nil {
				return err
			}
			next.UpdatedAt = s.now()
			if err := tx.Update(ctx, next); err != nil {
				return err
			}
			entry := Transaction{
				BalanceID:       current.ID,
				Kind:            in.Kind,
				Amount:          in.Amount,
				AvailableBefore: current.Available,
				AvailableAfter:  next.Available,
				ReservedAfter:   next.Reserved,
				DebtAfter:       next.Debt,
				ReferenceType:   in.ReferenceType,
				Description:     in.Description,
				CreatedAt:       next.UpdatedAt,
			}
			if in.ReferenceID != 0 {
				ref := in.ReferenceID
				entry.ReferenceID = &ref
			}
			if _, err := tx.InsertTransaction(ctx, entry); err != nil {
				return err
			}
			out = next
			return nil
		})
	})
	if err != nil {
		return Balance{}, err
	}
	return out, nil
}

// ApplySigned credits a positive amount and debits a negative one. A zero
// amount is rejected.
func (s *Service) ApplySigned(ctx context.Context, person shared.PersonRef, amount money.Money, refType string, refID int64, description string) (Balance, error) {
	kind := KindCredit
	if amount.IsNegative() {
		kind = KindDebit
	}
	return s.Adjust(ctx, AdjustInput{
		Person:        person,
		Kind:          kind,
		Amount:        amount.Abs(),
		ReferenceType: refType,
		ReferenceID:   refID,
		Description:   description,
	})
}

// Reserve earmarks available funds for a payment instruction.
func (s *Service) Reserve(ctx context.Context, person shared.PersonRef, amount money.Money, instructionID int64) (Balance, error) {
	return s.Adjust(ctx, AdjustInput{
		Person:        person,
		Kind:          KindReserve,
		Amount:        amount,
		ReferenceType: RefInstruction,
		ReferenceID:   instructionID,
		Description:   fmt.Sprintf("reserve for payment instruction %d", instructionID),
	})
}

// ReleaseReservation returns reserved funds to available.
func (s *Service) ReleaseReservation(ctx context.Context, person shared.PersonRef, amount money.Money, instructionID int64) (Balance, error) {
	return s.Adjust(ctx, AdjustInput{
		Person:        person,
		Kind:          KindRelease,
		Amount:        amount,
		ReferenceType: RefInstruction,
		ReferenceID:   instructionID,
		Description:   fmt.Sprintf("release reservation of payment instruction %d", instructionID),
	})
}

// ConsumeReservation pays reserved funds out once an instruction completes.
func (s *Service) ConsumeReservation(ctx context.Context, person shared.PersonRef, amount money.Money, instructionID int64) (Balance, error) {
	return s.Adjust(ctx, AdjustInput{
		Person:        person,
		Kind:          KindConsume,
		Amount:        amount,
		ReferenceType: RefInstruction,
		ReferenceID:   instructionID,
		Description:   fmt.Sprintf("payout of payment instruction %d", instructionID),
	})
}
