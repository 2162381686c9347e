package record

import (
	"fmt"
	"strings"
)

// Framing selects how records are delimited in a stream.
type Framing int

const (
	// FramingFixed reads records back to back; each record's length is
	// implied by its shape.
	FramingFixed Framing = iota
	// FramingPrefixed precedes every record with a big-endian length header
	// (RDW style).
	FramingPrefixed
)

func (f Framing) String() string {
	switch f {
	case FramingFixed:
		return "fixed"
	case FramingPrefixed:
		return "prefixed"
	default:
		return fmt.Sprintf("Framing(%d)", int(f))
	}
}

// ParseFraming accepts "fixed" or "prefixed" (alias "rdw").
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "":
		return FramingFixed, nil
	case "prefixed", "rdw", "length-prefixed":
		return FramingPrefixed, nil
	default:
		return 0, fmt.Errorf("unknown framing %q (want fixed or prefixed)", s)
	}
}

// Header describes a length prefix.
type Header struct {
	Width int // bytes, 1-8
	// IncludesHeader is set when the stored length counts the header bytes.
	IncludesHeader bool
}

// DefaultHeader is a 4-byte length that counts the body only.
var DefaultHeader = Header{Width: 4}

func (h Header) validate() error {
	if h.Width < 1 || h.Width > 8 {
		return fmt.Errorf("record: header width %d outside 1-8", h.Width)
	}
	return nil
}

// bodyLength converts a raw header to the body length that follows it.
func (h Header) bodyLength(b []byte) (int, error) {
	var n uint64
	for _, x := range b {
		n = n<<8 | uint64(x)
	}
	if h.IncludesHeader {
		if n < uint64(h.Width) {
			return 0, fmt.Errorf("length %d is smaller than the %d byte header", n, h.Width)
		}
		n -= uint64(h.Width)
	}
	if n > uint64(maxBody) {
		return 0, fmt.Errorf("length %d exceeds %d", n, maxBody)
	}
	return int(n), nil
}

// put writes the header for a body of n bytes into dst[:Width].
func (h Header) put(dst []byte, n int) error {
	v := uint64(n)
	if h.IncludesHeader {
		v += uint64(h.Width)
	}
	if h.Width < 8 && v >= 1<<(8*uint(h.Width)) {
		return fmt.Errorf("record length %d does not fit a %d byte header", v, h.Width)
	}
	for i := h.Width - 1; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
	return nil
}

// maxBody caps a single record body read from a header.
const maxBody = 1 << 30

// frameChunk is the initial body buffer; larger bodies grow as they are read.
const frameChunk = 64 << 10
