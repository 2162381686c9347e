package codec

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Decimal is an exact fixed-point number: Unscaled / 10^Scale.
// The zero value is 0.
type Decimal struct {
	unscaled *big.Int
	scale    int
}

// ErrDecimalSyntax is wrapped by ParseDecimal failures.
var ErrDecimalSyntax = errors.New("invalid decimal syntax")

var bigTen = big.NewInt(10)

// NewDecimal returns unscaled / 10^scale. The big.Int is copied.
func NewDecimal(unscaled *big.Int, scale int) Decimal {
	if scale < 0 {
		panic("codec: negative decimal scale")
	}
	u := new(big.Int)
	if unscaled != nil {
		u.Set(unscaled)
	}
	return Decimal{unscaled: u, scale: scale}
}

// DecimalFromInt64 returns v / 10^scale.
func DecimalFromInt64(v int64, scale int) Decimal {
	return NewDecimal(big.NewInt(v), scale)
}

// ParseDecimal parses an optionally signed plain decimal such as "-1937",
// "+0.50" or "12.". The scale is the number of digits after the point.
func ParseDecimal(s string) (Decimal, error) {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return Decimal{}, fmt.Errorf("%w: empty", ErrDecimalSyntax)
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart, frac, _ := strings.Cut(s, ".")
	if intPart == "" && frac == "" {
		return Decimal{}, fmt.Errorf("%w: %q has no digits", ErrDecimalSyntax, raw)
	}
	digits := intPart + frac
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return Decimal{}, fmt.Errorf("%w: %q", ErrDecimalSyntax, raw)
		}
	}

	u, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Decimal{}, fmt.Errorf("%w: %q", ErrDecimalSyntax, raw)
	}
	if neg {
		u.Neg(u)
	}
	return Decimal{unscaled: u, scale: len(frac)}, nil
}

// MustDecimal is ParseDecimal for constants and tests.
func MustDecimal(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Decimal) int() *big.Int {
	if d.unscaled == nil {
		return new(big.Int)
	}
	return d.unscaled
}

// Unscaled returns a copy of the unscaled integer.
func (d Decimal) Unscaled() *big.Int {
	return new(big.Int).Set(d.int())
}

// Scale returns the number of fractional digits.
func (d Decimal) Scale() int { return d.scale }

// Sign returns -1, 0 or +1.
func (d Decimal) Sign() int { return d.int().Sign() }

// IsInteger reports whether the value has no fractional part.
func (d Decimal) IsInteger() bool {
	if d.scale == 0 {
		return true
	}
	_, ok := d.Rescale(0)
	return ok
}

// Rescale returns the same value with the given scale. ok is false when
// reducing the scale would drop non-zero digits.
func (d Decimal) Rescale(scale int) (Decimal, bool) {
	if scale < 0 {
		return Decimal{}, false
	}
	u := d.int()
	switch {
	case scale == d.scale:
		return NewDecimal(u, scale), true
	case scale > d.scale:
		m := new(big.Int).Exp(bigTen, big.NewInt(int64(scale-d.scale)), nil)
		return Decimal{unscaled: m.Mul(m, u), scale: scale}, true
	default:
		div := new(big.Int).Exp(bigTen, big.NewInt(int64(d.scale-scale)), nil)
		q, r := new(big.Int).QuoRem(u, div, new(big.Int))
		if r.Sign() != 0 {
			return Decimal{}, false
		}
		return Decimal{unscaled: q, scale: scale}, true
	}
}

// Cmp compares d and o numerically: -1, 0 or +1.
func (d Decimal) Cmp(o Decimal) int {
	scale := max(d.scale, o.scale)
	a, _ := d.Rescale(scale)
	b, _ := o.Rescale(scale)
	return a.int().Cmp(b.int())
}

// Equal reports numeric equality regardless of scale.
func (d Decimal) Equal(o Decimal) bool {
	return d.Cmp(o) == 0
}

// Int64 returns the integral value when d is an integer that fits.
func (d Decimal) Int64() (int64, bool) {
	i, ok := d.Rescale(0)
	if !ok || !i.int().IsInt64() {
		return 0, false
	}
	return i.int().Int64(), true
}

// String renders the value with exactly Scale fractional digits.
func (d Decimal) String() string {
	u := d.int()
	digits := new(big.Int).Abs(u).Text(10)
	if d.scale > 0 {
		if len(digits) <= d.scale {
			digits = strings.Repeat("0", d.scale-len(digits)+1) + digits
		}
		cut := len(digits) - d.scale
		digits = digits[:cut] + "." + digits[cut:]
	}
	if u.Sign() < 0 {
		return "-" + digits
	}
	return digits
}

// MarshalJSON encodes the decimal as a JSON string to keep every digit.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

// UnmarshalJSON accepts a JSON string or number.
func (d *Decimal) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
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

// AsDecimal converts the numeric runtime types the codec accepts: Decimal,
// *Decimal, *big.Int and every Go integer kind.
func AsDecimal(v any) (Decimal, bool) {
	switch x := v.(type) {
	case Decimal:
		return x, true
	case *Decimal:
		if x == nil {
			return Decimal{}, false
		}
		return *x, true
	case *big.Int:
		if x == nil {
			return Decimal{}, false
		}
		return NewDecimal(x, 0), true
	case int:
		return DecimalFromInt64(int64(x), 0), true
	case int8:
		return DecimalFromInt64(int64(x), 0), true
	case int16:
		return DecimalFromInt64(int64(x), 0), true
	case int32:
		return DecimalFromInt64(int64(x), 0), true
	case int64:
		return DecimalFromInt64(x, 0), true
	case uint:
		return NewDecimal(new(big.Int).SetUint64(uint64(x)), 0), true
	case uint8:
		return DecimalFromInt64(int64(x), 0), true
	case uint16:
		return DecimalFromInt64(int64(x), 0), true
	case uint32:
		return DecimalFromInt64(int64(x), 0), true
	case uint64:
		return NewDecimal(new(big.Int).SetUint64(x), 0), true
	default:
		return Decimal{}, false
	}
}
