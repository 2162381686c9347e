package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// SignNibbles is the packed-decimal sign convention. Positive and Negative
// are written for signed leaves and Unsigned for unsigned ones.
//
// On decode the configured nibbles are always accepted, plus the standard
// alternates: A, C, E, F positive and B, D negative.
type SignNibbles struct {
	Positive byte
	Negative byte
	Unsigned byte
}

// DefaultSigns is the common IBM convention: C positive, D negative,
// F unsigned.
var DefaultSigns = SignNibbles{Positive: 0xC, Negative: 0xD, Unsigned: 0xF}

// Options tunes byte-level conventions that vary between producers.
type Options struct {
	Signs SignNibbles
	// PadByte fills bytes fields and fillers without a literal value.
	PadByte byte
}

// DefaultOptions returns the IBM sign convention with low-value padding.
func DefaultOptions() Options {
	return Options{Signs: DefaultSigns, PadByte: 0x00}
}

// Validate checks that every sign nibble is a valid non-digit nibble and
// that positive and negative differ.
func (o Options) Validate() error {
	for _, n := range []struct {
		name string
		v    byte
	}{
		{"positive", o.Signs.Positive},
		{"negative", o.Signs.Negative},
		{"unsigned", o.Signs.Unsigned},
	} {
		if n.v < 0xA || n.v > 0xF {
			return fmt.Errorf("codec: %s sign nibble %X must be in A-F", n.name, n.v)
		}
	}
	if o.Signs.Positive == o.Signs.Negative {
		return fmt.Errorf("codec: positive and negative sign nibbles are both %X", o.Signs.Positive)
	}
	if o.Signs.Unsigned == o.Signs.Negative {
		return fmt.Errorf("codec: unsigned and negative sign nibbles are both %X", o.Signs.Unsigned)
	}
	return nil
}

// negative reports the sign carried by a nibble; ok is false for digits.
func (s SignNibbles) negative(n byte) (neg, ok bool) {
	switch {
	case n == s.Negative:
		return true, true
	case n == s.Positive || n == s.Unsigned:
		return false, true
	case n == 0xB || n == 0xD:
		return true, true
	case n >= 0xA:
		return false, true
	default:
		return false, false
	}
}

// ParseNibble parses a single hex digit such as "C" or "0xD".
func ParseNibble(s string) (byte, error) {
	v, err := parseHex(s, 4)
	if err != nil {
		return 0, fmt.Errorf("sign nibble: %w", err)
	}
	return v, nil
}

// ParseByte parses a hex byte such as "40" or "0x00".
func ParseByte(s string) (byte, error) {
	v, err := parseHex(s, 8)
	if err != nil {
		return 0, fmt.Errorf("byte: %w", err)
	}
	return v, nil
}

func parseHex(s string, bits int) (byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, bits)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}
