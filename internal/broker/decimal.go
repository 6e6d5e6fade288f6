package broker

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Decimal is an exact decimal number. The zero value is 0.
type Decimal struct {
	r *big.Rat
}

// ParseDecimal parses plain or exponent notation ("12.5", "1e-3"). Fractions
// such as "1/3" are rejected.
func ParseDecimal(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, "/") {
		return Decimal{}, fmt.Errorf("invalid decimal %q", s)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Decimal{}, fmt.Errorf("invalid decimal %q", s)
	}
	return Decimal{r: r}, nil
}

// MustDecimal is ParseDecimal for constants; it panics on bad input.
func MustDecimal(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

func DecimalFromInt(n int64) Decimal { return Decimal{r: new(big.Rat).SetInt64(n)} }

// DecimalFrom converts input values: strings, JSON numbers, integers and
// floats. Floats go through their shortest decimal form so 0.1 stays 0.1.
func DecimalFrom(v any) (Decimal, error) {
	switch x := v.(type) {
	case Decimal:
		return x, nil
	case *big.Rat:
		return Decimal{r: new(big.Rat).Set(x)}, nil
	case string:
		return ParseDecimal(x)
	case json.Number:
		return ParseDecimal(x.String())
	case int:
		return DecimalFromInt(int64(x)), nil
	case int32:
		return DecimalFromInt(int64(x)), nil
	case int64:
		return DecimalFromInt(x), nil
	case float64:
		return ParseDecimal(strconv.FormatFloat(x, 'f', -1, 64))
	case float32:
		return ParseDecimal(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	return Decimal{}, fmt.Errorf("cannot use %T as a decimal", v)
}

func (d Decimal) rat() *big.Rat {
	if d.r == nil {
		return new(big.Rat)
	}
	return d.r
}

func (d Decimal) Sign() int             { return d.rat().Sign() }
func (d Decimal) Cmp(o Decimal) int     { return d.rat().Cmp(o.rat()) }
func (d Decimal) Add(o Decimal) Decimal { return Decimal{r: new(big.Rat).Add(d.rat(), o.rat())} }
func (d Decimal) Sub(o Decimal) Decimal { return Decimal{r: new(big.Rat).Sub(d.rat(), o.rat())} }
func (d Decimal) Mul(o Decimal) Decimal { return Decimal{r: new(big.Rat).Mul(d.rat(), o.rat())} }
func (d Decimal) Neg() Decimal          { return Decimal{r: new(big.Rat).Neg(d.rat())} }

// IsMultipleOf reports whether d is an integral multiple of inc. A zero or
// negative increment accepts every value.
func (d Decimal) IsMultipleOf(inc Decimal) bool {
	if inc.Sign() <= 0 {
		return true
	}
	return new(big.Rat).Quo(d.rat(), inc.rat()).IsInt()
}

// String renders the shortest exact decimal form. Values without a finite
// decimal expansion are rounded to 18 fractional digits.
func (d Decimal) String() string {
	r := d.rat()
	if r.IsInt() {
		return r.Num().String()
	}
	prec, exact := fractionDigits(r.Denom())
	if !exact {
		s := r.FloatString(18)
		s = strings.TrimRight(s, "0")
		return strings.TrimSuffix(s, ".")
	}
	return r.FloatString(prec)
}

// fractionDigits returns how many fractional digits represent 1/denom exactly.
func fractionDigits(denom *big.Int) (int, bool) {
	n := new(big.Int).Set(denom)
	two, five := big.NewInt(2), big.NewInt(5)
	var twos, fives int
	zero := new(big.Int)
	mod := new(big.Int)
	for mod.Mod(n, two).Cmp(zero) == 0 {
		n.Quo(n, two)
		twos++
	}
	for mod.Mod(n, five).Cmp(zero) == 0 {
		n.Quo(n, five)
		fives++
	}
	return max(twos, fives), n.Cmp(big.NewInt(1)) == 0
}

func (d Decimal) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// UnmarshalJSON accepts a JSON string or number.
func (d *Decimal) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*d = Decimal{}
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	v, err := ParseDecimal(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Scan reads NUMERIC columns.
func (d *Decimal) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Decimal{}
		return nil
	case []byte:
		return d.scanString(string(v))
	case string:
		return d.scanString(v)
	}
	parsed, err := DecimalFrom(src)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d *Decimal) scanString(s string) error {
	v, err := ParseDecimal(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Decimal) Value() (driver.Value, error) { return d.String(), nil }
