// Package money wraps fixed-precision decimal arithmetic for ledger amounts.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept at the output boundary.
const Scale = 2

var (
	// Zero is the additive identity.
	Zero = Money{}
	// Cent is the smallest representable currency unit.
	Cent = Money{d: decimal.New(1, -Scale)}
	// Tolerance absorbs rounding when comparing totals against item sums.
	Tolerance = Cent

	hundred = decimal.NewFromInt(100)

	// ErrInvalidAmount indicates an unparsable monetary string.
	ErrInvalidAmount = errors.New("money: invalid amount")
)

// Money is an immutable decimal currency amount. The zero value is 0.
type Money struct {
	d decimal.Decimal
}

// New builds an amount from a whole number of currency units.
func New(units int64) Money {
	return Money{d: decimal.NewFromInt(units)}
}

// FromDecimal wraps an existing decimal value.
func FromDecimal(d decimal.Decimal) Money {
	return Money{d: d}
}

// Parse reads a decimal string. Both "1234.56" and "1234,56" are accepted.
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Money{d: d}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Sum adds all amounts.
func Sum(values ...Money) Money {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v.d)
	}
	return Money{d: total}
}

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }
func (m Money) Mul(o Money) Money { return Money{d: m.d.Mul(o.d)} }
func (m Money) Neg() Money        { return Money{d: m.d.Neg()} }
func (m Money) Abs() Money        { return Money{d: m.d.Abs()} }

// Div divides by o. Division by zero returns Zero and false.
func (m Money) Div(o Money) (Money, bool) {
	if o.d.IsZero() {
		return Zero, false
	}
	return Money{d: m.d.Div(o.d)}, true
}

// Percent returns m × rate / 100.
func (m Money) Percent(rate Money) Money {
	return Money{d: m.d.Mul(rate.d).Div(hundred)}
}

// Complement returns 100 − m, used for splitting a rate into its remainder.
func (m Money) Complement() Money {
	return Money{d: hundred.Sub(m.d)}
}

// Round rounds half away from zero to Scale digits.
func (m Money) Round() Money {
	return Money{d: m.d.Round(Scale)}
}

// ClampZero returns Zero when m is negative.
func (m Money) ClampZero() Money {
	if m.d.IsNegative() {
		return Zero
	}
	return m
}

func (m Money) Cmp(o Money) int          { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool       { return m.d.Equal(o.d) }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) LessThan(o Money) bool    { return m.d.LessThan(o.d) }
func (m Money) IsZero() bool             { return m.d.IsZero() }
func (m Money) IsNegative() bool         { return m.d.IsNegative() }
func (m Money) IsPositive() bool         { return m.d.IsPositive() }
func (m Money) Decimal() decimal.Decimal { return m.d }
func (m Money) Float64() float64         { f, _ := m.d.Float64(); return f }
func (m Money) StringFixed() string      { return m.d.StringFixed(Scale) }
func (m Money) String() string           { return m.d.String() }

// WithinTolerance reports whether |m − o| ≤ Tolerance.
func (m Money) WithinTolerance(o Money) bool {
	return m.d.Sub(o.d).Abs().LessThanOrEqual(Tolerance.d)
}

// Max returns the larger of the two amounts.
func Max(a, b Money) Money {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the smaller of the two amounts.
func Min(a, b Money) Money {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MarshalJSON encodes the amount as a fixed two-digit string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.d.StringFixed(Scale))
}

// UnmarshalJSON accepts both quoted strings and bare JSON numbers.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*m = Zero
		return nil
	}
	raw = strings.Trim(raw, `"`)
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Scan implements sql.Scanner for NUMERIC columns.
func (m *Money) Scan(value any) error {
	if value == nil {
		*m = Zero
		return nil
	}
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return fmt.Errorf("money: scan: %w", err)
	}
	m.d = d
	return nil
}

// Value implements driver.Valuer.
func (m Money) Value() (driver.Value, error) {
	return m.d.String(), nil
}
