package codec

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/JonMunkholm/copybook/internal/copybook"
)

func (c *Codec) decodeAlpha(b []byte, l *copybook.Leaf) (any, error) {
	s, err := c.cs.Decode(b)
	if err != nil {
		return nil, parseErr(l, b, "%v", err)
	}
	// A variable leaf's length is data; trimming would change it on re-encode.
	if !l.Preserve && !l.Variable() {
		s = strings.TrimRight(s, " ")
	}
	return s, nil
}

// encodeAlpha space-pads or right-truncates s to size bytes. A negative
// size returns the natural encoding.
func (c *Codec) encodeAlpha(s string, l *copybook.Leaf, size int) ([]byte, error) {
	b, err := c.cs.Encode(s)
	if err != nil {
		return nil, &ValueOverflowError{Field: fieldName(l), Value: s, Reason: "is not representable in " + c.cs.Name()}
	}
	if size < 0 {
		return b, nil
	}
	b = c.cs.Truncate(b, size)
	if pad := size - len(b); pad > 0 {
		b = append(b, bytes.Repeat([]byte{c.cs.Space()}, pad)...)
	}
	return b, nil
}

func (c *Codec) encodeBytes(b []byte, l *copybook.Leaf, size int) ([]byte, error) {
	if size < 0 {
		return bytes.Clone(b), nil
	}
	if len(b) > size {
		return nil, &ValueOverflowError{
			Field:  fieldName(l),
			Value:  fmt.Sprintf("of %d bytes", len(b)),
			Reason: fmt.Sprintf("is longer than %d bytes", size),
		}
	}
	out := make([]byte, size)
	n := copy(out, b)
	for i := n; i < size; i++ {
		out[i] = c.opts.PadByte
	}
	return out, nil
}

func (c *Codec) encodeFiller(l *copybook.Leaf, size int) ([]byte, error) {
	if size < 0 {
		size = 0
	}
	if l.Value != "" {
		return c.encodeAlpha(l.Value, l, size)
	}
	return bytes.Repeat([]byte{c.opts.PadByte}, size), nil
}
