package codec

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/JonMunkholm/copybook/internal/copybook"
)

// Zoned decimal (DISPLAY): one charset digit per byte. A signed field
// carries its sign as an overpunch on the last digit: {A-I for +0..+9 and
// }J-R for -0..-9. Leading spaces read as zeros.

const (
	zoneDigits   = "0123456789"
	zonePositive = "{ABCDEFGHI"
	zoneNegative = "}JKLMNOPQR"
)

type zoneEntry struct {
	digit byte
	sign  int8
	ok    bool
}

type zoneTable struct {
	digit [10]byte
	pos   [10]byte
	neg   [10]byte
	point byte
	space byte
	rev   [256]zoneEntry
}

func newZoneTable(cs *copybook.Charset) (zoneTable, error) {
	var zt zoneTable
	load := func(chars string, dst *[10]byte, sign int8) error {
		b, err := cs.Encode(chars)
		if err != nil || len(b) != len(chars) {
			return fmt.Errorf("codec: charset %s cannot encode zoned characters %q", cs.Name(), chars)
		}
		for i, x := range b {
			dst[i] = x
			zt.rev[x] = zoneEntry{digit: byte(i), sign: sign, ok: true}
		}
		return nil
	}
	if err := load(zoneDigits, &zt.digit, 0); err != nil {
		return zt, err
	}
	if err := load(zonePositive, &zt.pos, 1); err != nil {
		return zt, err
	}
	if err := load(zoneNegative, &zt.neg, -1); err != nil {
		return zt, err
	}

	p, err := cs.Encode(".")
	if err != nil || len(p) != 1 {
		return zt, fmt.Errorf("codec: charset %s has no single-byte decimal point", cs.Name())
	}
	zt.point = p[0]
	zt.space = cs.Space()
	return zt, nil
}

func (c *Codec) decodeZoned(b []byte, l *copybook.Leaf) (any, error) {
	n := len(b)
	pointAt := -1
	if !l.Implied && l.Decimals > 0 {
		pointAt = n - l.Decimals - 1
	}

	digits := make([]byte, 0, n)
	neg := false
	leading := true
	for i, x := range b {
		if i == pointAt {
			if x != c.zone.point {
				return nil, parseErr(l, b, "byte %02X at %d is not a decimal point", x, i)
			}
			continue
		}
		if leading && x == c.zone.space && i < n-1 {
			digits = append(digits, 0)
			continue
		}
		leading = false

		e := c.zone.rev[x]
		if !e.ok {
			return nil, parseErr(l, b, "invalid zoned byte %02X at %d", x, i)
		}
		if e.sign != 0 {
			if i != n-1 {
				return nil, parseErr(l, b, "sign overpunch at %d is not on the last digit", i)
			}
			if e.sign < 0 {
				if !l.Signed {
					return nil, parseErr(l, b, "negative overpunch in unsigned field")
				}
				neg = true
			}
		}
		digits = append(digits, e.digit)
	}

	u := digitsToInt(digits)
	if neg {
		u.Neg(u)
	}
	return Decimal{unscaled: u, scale: l.Decimals}, nil
}

func (c *Codec) encodeZoned(u *big.Int, l *copybook.Leaf) ([]byte, error) {
	width := l.Digits()
	mag, err := digitsFit(u, l, width)
	if err != nil {
		return nil, err
	}
	mag = strings.Repeat("0", width-len(mag)) + mag

	pointAt := -1
	if !l.Implied && l.Decimals > 0 {
		pointAt = width - l.Decimals
	}

	out := make([]byte, 0, l.Size)
	for i := 0; i < width; i++ {
		if i == pointAt {
			out = append(out, c.zone.point)
		}
		d := mag[i] - '0'
		switch {
		case i < width-1 || !l.Signed:
			out = append(out, c.zone.digit[d])
		case u.Sign() < 0:
			out = append(out, c.zone.neg[d])
		default:
			out = append(out, c.zone.pos[d])
		}
	}
	return out, nil
}
