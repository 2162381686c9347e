package codec

import (
	"fmt"
	"math/big"

	"github.com/JonMunkholm/copybook/internal/copybook"
)

// Binary integers (COMP) are big-endian, two's complement when signed.

func decodeBinary(b []byte, l *copybook.Leaf) Decimal {
	u := new(big.Int).SetBytes(b)
	if l.Signed && len(b) > 0 && b[0]&0x80 != 0 {
		u.Sub(u, new(big.Int).Lsh(big.NewInt(1), uint(8*len(b))))
	}
	return Decimal{unscaled: u, scale: l.Decimals}
}

func encodeBinary(u *big.Int, l *copybook.Leaf, size int) ([]byte, error) {
	if size <= 0 {
		return nil, &ValueOverflowError{Field: fieldName(l), Value: u.String(), Reason: "has no byte width"}
	}
	lo, hi := binaryRange(size, l.Signed)
	if u.Cmp(lo) < 0 || u.Cmp(hi) > 0 {
		return nil, &ValueOverflowError{
			Field:  fieldName(l),
			Value:  NewDecimal(u, l.Decimals).String(),
			Reason: fmt.Sprintf("is outside [%s, %s] for %d bytes", lo, hi, size),
		}
	}

	v := new(big.Int).Set(u)
	if v.Sign() < 0 {
		v.Add(v, new(big.Int).Lsh(big.NewInt(1), uint(8*size)))
	}
	return v.FillBytes(make([]byte, size)), nil
}

// binaryRange returns the unscaled bounds of a size-byte integer.
func binaryRange(size int, signed bool) (lo, hi *big.Int) {
	bits := uint(8 * size)
	one := big.NewInt(1)
	if !signed {
		hi = new(big.Int).Lsh(one, bits)
		return new(big.Int), hi.Sub(hi, one)
	}
	hi = new(big.Int).Lsh(one, bits-1)
	lo = new(big.Int).Neg(hi)
	return lo, hi.Sub(hi, one)
}
