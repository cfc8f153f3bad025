package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAcceptsCommaAndDot(t *testing.T) {
	a, err := Parse("1234,56")
	require.NoError(t, err)
	b, err := Parse(" 1234.56 ")
	require.NoError(t, err)
	require.True(t, a.Equal(b))

	_, err = Parse("12a")
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = Parse("")
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDecimalArithmeticHasNoFloatDrift(t *testing.T) {
	total := Zero
	for i := 0; i < 10; i++ {
		total = total.Add(MustParse("0.1"))
	}
	require.True(t, total.Equal(New(1)), "got %s", total)
}

func TestPercentAndComplement(t *testing.T) {
	rate := New(15)
	require.Equal(t, "850.00", New(1000).Percent(rate.Complement()).StringFixed())
	require.Equal(t, "150.00", New(1000).Percent(rate).StringFixed())
}

func TestDivByZero(t *testing.T) {
	_, ok := New(10).Div(Zero)
	require.False(t, ok)
	half, ok := New(500).Div(New(1000))
	require.True(t, ok)
	require.Equal(t, "0.50", half.StringFixed())
}

func TestClampAndTolerance(t *testing.T) {
	require.True(t, New(-100).ClampZero().IsZero())
	require.True(t, New(5).ClampZero().Equal(New(5)))

	require.True(t, MustParse("100.00").WithinTolerance(MustParse("100.01")))
	require.False(t, MustParse("100.00").WithinTolerance(MustParse("100.02")))
}

func TestJSONRoundsAtBoundary(t *testing.T) {
	raw, err := json.Marshal(struct {
		Amount Money `json:"amount"`
	}{Amount: MustParse("10.005")})
	require.NoError(t, err)
	require.JSONEq(t, `{"amount":"10.01"}`, string(raw))

	var in struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12.50","b":7.25}`), &in))
	require.Equal(t, "12.50", in.A.StringFixed())
	require.Equal(t, "7.25", in.B.StringFixed())
}

func TestScanValue(t *testing.T) {
	var m Money
	require.NoError(t, m.Scan("42.10"))
	require.Equal(t, "42.10", m.StringFixed())
	v, err := m.Value()
	require.NoError(t, err)
	require.Equal(t, "42.1", v)

	require.NoError(t, m.Scan(nil))
	require.True(t, m.IsZero())
}
