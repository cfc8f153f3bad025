package balances

import (
	"fmt"
	"time"

	"github.com/tto-ledger/ledger/internal/money"
	"github.com/tto-ledger/ledger/internal/shared"
)

// Kind enumerates ledger movements on a balance.
type Kind string

const (
	// KindCredit adds to available funds.
	KindCredit Kind = "credit"
	// KindDebit removes from available funds.
	KindDebit Kind = "debit"
	// KindReserve moves funds from available to reserved.
	KindReserve Kind = "reserve"
	// KindRelease moves reserved funds back to available.
	KindRelease Kind = "release"
	// KindConsume pays reserved funds out of the ledger.
	KindConsume Kind = "consume"
	// KindDebt records an amount the person owes.
	KindDebt Kind = "debt"
	// KindSettleDebt pays debt from available funds.
	KindSettleDebt Kind = "settle_debt"
)

// Valid reports whether k is a known movement.
func (k Kind) Valid() bool {
	switch k {
	case KindCredit, KindDebit, KindReserve, KindRelease, KindConsume, KindDebt, KindSettleDebt:
		return true
	}
	return false
}

// Balance is the single ledger position of one user or personnel record.
type Balance struct {
	ID        int64            `json:"id"`
	Person    shared.PersonRef `json:"person"`
	Available money.Money      `json:"available_amount"`
	Reserved  money.Money      `json:"reserved_amount"`
	Debt      money.Money      `json:"debt_amount"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Apply returns the balance after the movement. All three amounts stay
// non-negative; a movement that would break that is rejected unchanged.
func (b Balance) Apply(kind Kind, amount money.Money) (Balance, error) {
	if !amount.IsPositive() {
		return b, fmt.Errorf("%w: adjustment amount must be positive", shared.ErrInvalidAmount)
	}
	next := b
	switch kind {
	case KindCredit:
		next.Available = b.Available.Add(amount)
	case KindDebit:
		next.Available = b.Available.Sub(amount)
	case KindReserve:
		next.Available = b.Available.Sub(amount)
		next.Reserved = b.Reserved.Add(amount)
	case KindRelease:
		next.Reserved = b.Reserved.Sub(amount)
		next.Available = b.Available.Add(amount)
	case KindConsume:
		next.Reserved = b.Reserved.Sub(amount)
	case KindDebt:
		next.Debt = b.Debt.Add(amount)
	case KindSettleDebt:
		if amount.GreaterThan(b.Debt) {
			return b, fmt.Errorf("%w: settlement %s exceeds debt %s", shared.ErrInvalidAmount, amount.StringFixed(), b.Debt.StringFixed())
		}
		next.Available = b.Available.Sub(amount)
		next.Debt = b.Debt.Sub(amount)
	default:
		return b, fmt.Errorf("%w: unknown adjustment kind %q", shared.ErrInvalidInput, kind)
	}
	if next.Available.IsNegative() {
		return b, fmt.Errorf("%w: available %s, requested %s", shared.ErrInsufficientBalance, b.Available.StringFixed(), amount.StringFixed())
	}
	if next.Reserved.IsNegative() {
		return b, fmt.Errorf("%w: reserved %s, requested %s", shared.ErrInvalidAmount, b.Reserved.StringFixed(), amount.StringFixed())
	}
	return next, nil
}

// Transaction journals one applied movement.
type Transaction struct {
	ID              int64       `json:"id"`
	BalanceID       int64       `json:"balance_id"`
	Kind            Kind        `json:"kind"`
	Amount          money.Money `json:"amount"`
	AvailableBefore money.Money `json:"available_before"`
	AvailableAfter  money.Money `json:"available_after"`
	ReservedAfter   money.Money `json:"reserved_after"`
	DebtAfter       money.Money `json:"debt_after"`
	ReferenceType   string      `json:"reference_type"`
	ReferenceID     *int64      `json:"reference_id,omitempty"`
	Description     string      `json:"description"`
	CreatedAt       time.Time   `json:"created_at"`
}

// AdjustInput describes a ledger movement request.
type AdjustInput struct {
	Person        shared.PersonRef
	Kind          Kind
	Amount        money.Money
	ReferenceType string
	ReferenceID   int64
	Description   string
}

// Validate checks the request before any storage access.
func (in AdjustInput) Validate() error {
	if err := in.Person.Validate(); err != nil {
		return err
	}
	if !in.Kind.Valid() {
		return fmt.Errorf("%w: unknown adjustment kind %q", shared.ErrInvalidInput, in.Kind)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: adjustment amount must be positive", shared.ErrInvalidAmount)
	}
	return nil
}
