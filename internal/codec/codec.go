// Package codec converts single leaf fields between their physical bytes and
// Go values.
//
// Decoded values are string (alpha), []byte (bytes) or Decimal (binary,
// packed, zoned). Fillers decode to nil and encode to their literal.
//
// Encode accepts the same types back, and for numeric leaves also any Go
// integer kind or *big.Int. Nothing is rounded: a value that would need
// rounding or truncation to fit a numeric leaf is a *ValueOverflowError.
package codec

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/JonMunkholm/copybook/internal/copybook"
)

// Codec encodes and decodes leaves for one charset and byte convention.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	cs   *copybook.Charset
	opts Options
	zone zoneTable
}

// New returns a Codec for the charset.
func New(cs *copybook.Charset, opts Options) (*Codec, error) {
	if cs == nil {
		return nil, fmt.Errorf("codec: nil charset")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	zt, err := newZoneTable(cs)
	if err != nil {
		return nil, err
	}
	return &Codec{cs: cs, opts: opts, zone: zt}, nil
}

// ForSchema returns a Codec for the schema's charset.
func ForSchema(s *copybook.Schema, opts Options) (*Codec, error) {
	return New(s.Charset, opts)
}

// Charset returns the charset used for character data.
func (c *Codec) Charset() *copybook.Charset { return c.cs }

// Options returns the byte conventions in effect.
func (c *Codec) Options() Options { return c.opts }

// Decode converts the leaf's bytes to a value. For fixed-size leaves b must
// be exactly the leaf's byte size; variable-size leaves take any length.
func (c *Codec) Decode(b []byte, l *copybook.Leaf) (any, error) {
	if size, ok := l.ByteSize(); ok && len(b) != size {
		return nil, parseErr(l, b, "got %d bytes, want %d", len(b), size)
	}

	switch l.Type {
	case copybook.TypeAlpha:
		return c.decodeAlpha(b, l)
	case copybook.TypeBytes:
		return bytes.Clone(b), nil
	case copybook.TypeBinary:
		return decodeBinary(b, l), nil
	case copybook.TypePacked:
		return c.decodePacked(b, l)
	case copybook.TypeZoned:
		return c.decodeZoned(b, l)
	case copybook.TypeFiller:
		return nil, nil
	default:
		return nil, &UnexpectedFieldTypeError{Kind: "type code", Value: l.Type.String()}
	}
}

// Encode converts v to the leaf's bytes.
//
// size is the number of bytes to produce. A negative size means the leaf's
// static byte size, or for variable-size leaves the value's natural length.
func (c *Codec) Encode(v any, l *copybook.Leaf, size int) ([]byte, error) {
	if size < 0 {
		if n, ok := l.ByteSize(); ok {
			size = n
		}
	}

	switch l.Type {
	case copybook.TypeAlpha:
		s, ok := v.(string)
		if !ok {
			return nil, &ValueTypeMismatchError{Field: fieldName(l), Want: "string", Value: v}
		}
		return c.encodeAlpha(s, l, size)
	case copybook.TypeBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, &ValueTypeMismatchError{Field: fieldName(l), Want: "[]byte", Value: v}
		}
		return c.encodeBytes(b, l, size)
	case copybook.TypeBinary:
		u, err := unscaled(v, l)
		if err != nil {
			return nil, err
		}
		return encodeBinary(u, l, size)
	case copybook.TypePacked:
		u, err := unscaled(v, l)
		if err != nil {
			return nil, err
		}
		return c.encodePacked(u, l)
	case copybook.TypeZoned:
		u, err := unscaled(v, l)
		if err != nil {
			return nil, err
		}
		return c.encodeZoned(u, l)
	case copybook.TypeFiller:
		return c.encodeFiller(l, size)
	default:
		return nil, &UnexpectedFieldTypeError{Kind: "type code", Value: l.Type.String()}
	}
}

// unscaled returns v as an integer at the leaf's scale.
func unscaled(v any, l *copybook.Leaf) (*big.Int, error) {
	d, ok := AsDecimal(v)
	if !ok {
		return nil, &ValueTypeMismatchError{Field: fieldName(l), Want: "decimal or integer", Value: v}
	}
	r, ok := d.Rescale(l.Decimals)
	if !ok {
		return nil, &ValueOverflowError{
			Field:  fieldName(l),
			Value:  d.String(),
			Reason: fmt.Sprintf("has more than %d fractional digits", l.Decimals),
		}
	}
	return r.int(), nil
}

// digitsFit checks the magnitude of u against a digit count and sign rules.
func digitsFit(u *big.Int, l *copybook.Leaf, digits int) (string, error) {
	if u.Sign() < 0 && !l.Signed {
		return "", &ValueOverflowError{
			Field:  fieldName(l),
			Value:  NewDecimal(u, l.Decimals).String(),
			Reason: "is negative for an unsigned field",
		}
	}
	mag := new(big.Int).Abs(u).Text(10)
	if len(mag) > digits {
		return "", &ValueOverflowError{
			Field:  fieldName(l),
			Value:  NewDecimal(u, l.Decimals).String(),
			Reason: fmt.Sprintf("needs %d digits, field holds %d", len(mag), digits),
		}
	}
	return mag, nil
}
