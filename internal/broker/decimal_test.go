package broker

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecimal_String(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"0", "0"},
		{"12.50", "12.5"},
		{"1e-3", "0.001"},
		{"-0.25", "-0.25"},
		{"65000.123456789", "65000.123456789"},
		{"3", "3"},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			d, err := ParseDecimal(c.in)
			require.NoError(t, err)
			require.Equal(t, c.want, d.String())
		})
	}
	third := Decimal{r: big.NewRat(1, 3)}
	require.Equal(t, "0.333333333333333333", third.String())
}

// Pattern: Error handling
func TestDecimal_RejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "1/3", "1.2.3"} {
		_, err := ParseDecimal(in)
		require.Error(t, err, in)
	}
	_, err := DecimalFrom(true)
	require.Error(t, err)
}

func TestDecimal_From(t *testing.T) {
	for _, v := range []any{"0.1", 0.1, json.Number("0.1")} {
		d, err := DecimalFrom(v)
		require.NoError(t, err)
		require.Equal(t, "0.1", d.String())
	}
	d, err := DecimalFrom(int32(7))
	require.NoError(t, err)
	require.Equal(t, "7", d.String())
}

func TestDecimal_IsMultipleOf(t *testing.T) {
	inc := MustDecimal("0.0001")
	require.True(t, MustDecimal("0.5").IsMultipleOf(inc))
	require.True(t, MustDecimal("1").IsMultipleOf(inc))
	require.False(t, MustDecimal("0.00015").IsMultipleOf(inc))
	require.True(t, MustDecimal("0.00015").IsMultipleOf(Decimal{}))
}

func TestDecimal_Arithmetic(t *testing.T) {
	a, b := MustDecimal("0.1"), MustDecimal("0.2")
	require.Equal(t, "0.3", a.Add(b).String())
	require.Equal(t, "-0.1", a.Sub(b).String())
	require.Equal(t, "0.02", a.Mul(b).String())
	require.Equal(t, -1, a.Cmp(b))
	require.Equal(t, 0, Decimal{}.Sign())
}

func TestDecimal_JSONAndSQL(t *testing.T) {
	var d Decimal
	require.NoError(t, json.Unmarshal([]byte(`"12.5"`), &d))
	require.Equal(t, "12.5", d.String())
	require.NoError(t, json.Unmarshal([]byte(`99.01`), &d))
	require.Equal(t, "99.01", d.String())

	out, err := json.Marshal(MustDecimal("1.50"))
	require.NoError(t, err)
	require.JSONEq(t, `"1.5"`, string(out))

	require.NoError(t, d.Scan([]byte("42.000")))
	require.Equal(t, "42", d.String())
	v, err := d.Value()
	require.NoError(t, err)
	require.Equal(t, "42", v)
}

func TestSlotOf(t *testing.T) {
	// The slot is the minute of the UTC day.
	require.Equal(t, 0, SlotOf(mustTime(t, "2026-03-01T00:00:30Z")))
	require.Equal(t, 61, SlotOf(mustTime(t, "2026-03-01T01:01:00Z")))
	require.Equal(t, 1439, SlotOf(mustTime(t, "2026-03-01T23:59:59Z")))
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}
