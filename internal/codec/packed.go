package codec

import (
	"math/big"
	"strings"

	"github.com/JonMunkholm/copybook/internal/copybook"
)

// Packed decimal (COMP-3): one BCD digit per nibble, most significant first,
// with the sign in the low nibble of the last byte. An even digit count
// leaves a leading pad nibble that must be zero.

func (c *Codec) decodePacked(b []byte, l *copybook.Leaf) (any, error) {
	if len(b) == 0 {
		return nil, parseErr(l, b, "empty packed field")
	}

	digits := make([]byte, 0, 2*len(b)-1)
	for i, x := range b {
		hi, lo := x>>4, x&0x0F
		if hi > 9 {
			return nil, parseErr(l, b, "invalid digit nibble %X in byte %d", hi, i)
		}
		digits = append(digits, hi)
		if i == len(b)-1 {
			break
		}
		if lo > 9 {
			return nil, parseErr(l, b, "invalid digit nibble %X in byte %d", lo, i)
		}
		digits = append(digits, lo)
	}
	if l.Size%2 == 0 && digits[0] != 0 {
		return nil, parseErr(l, b, "pad nibble is %X, want 0", digits[0])
	}

	sign := b[len(b)-1] & 0x0F
	neg, ok := c.opts.Signs.negative(sign)
	if !ok {
		return nil, parseErr(l, b, "invalid sign nibble %X", sign)
	}
	if neg && !l.Signed {
		return nil, parseErr(l, b, "negative sign nibble %X in unsigned field", sign)
	}

	u := digitsToInt(digits)
	if neg {
		u.Neg(u)
	}
	return Decimal{unscaled: u, scale: l.Decimals}, nil
}

func (c *Codec) encodePacked(u *big.Int, l *copybook.Leaf) ([]byte, error) {
	mag, err := digitsFit(u, l, l.Size)
	if err != nil {
		return nil, err
	}

	size := copybook.ComputeByteSize(copybook.TypePacked, l.Size)
	nibbles := 2*size - 1
	mag = strings.Repeat("0", nibbles-len(mag)) + mag

	out := make([]byte, size)
	for i := 0; i < nibbles; i++ {
		d := mag[i] - '0'
		if i%2 == 0 {
			out[i/2] = d << 4
		} else {
			out[i/2] |= d
		}
	}

	sign := c.opts.Signs.Unsigned
	if l.Signed {
		sign = c.opts.Signs.Positive
		if u.Sign() < 0 {
			sign = c.opts.Signs.Negative
		}
	}
	out[size-1] |= sign
	return out, nil
}

// digitsToInt builds an integer from digit values 0-9, most significant
// first.
func digitsToInt(d []byte) *big.Int {
	if len(d) <= 18 {
		var v uint64
		for _, x := range d {
			v = v*10 + uint64(x)
		}
		return new(big.Int).SetUint64(v)
	}
	v := new(big.Int)
	for _, x := range d {
		v.Mul(v, bigTen).Add(v, big.NewInt(int64(x)))
	}
	return v
}
