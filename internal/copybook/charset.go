package copybook

// charset.go resolves the schema's character set name to an x/text encoding.
//
// Mainframe data is usually EBCDIC (IBM037, IBM1047, IBM1140), so the common
// code pages are looked up directly in charmap; anything else goes through
// the IANA registry.

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultCharset is used when a schema does not name one.
const DefaultCharset = "IBM037"

var knownCharsets = map[string]encoding.Encoding{
	"ibm037":       charmap.CodePage037,
	"cp037":        charmap.CodePage037,
	"ebcdic":       charmap.CodePage037,
	"ibm1047":      charmap.CodePage1047,
	"cp1047":       charmap.CodePage1047,
	"ibm1140":      charmap.CodePage1140,
	"cp1140":       charmap.CodePage1140,
	"iso-8859-1":   charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"ascii":        charmap.ISO8859_1,
	"us-ascii":     charmap.ISO8859_1,
	"windows-1252": charmap.Windows1252,
	"cp1252":       charmap.Windows1252,
	"utf-8":        unicode.UTF8,
	"utf8":         unicode.UTF8,
}

// Charset converts between Go strings and the bytes of one character set.
type Charset struct {
	name       string
	enc        encoding.Encoding
	singleByte bool
	space      byte
}

// LookupCharset resolves a charset name. Names are case-insensitive.
func LookupCharset(name string) (*Charset, error) {
	if name == "" {
		name = DefaultCharset
	}
	enc, ok := knownCharsets[strings.ToLower(name)]
	if !ok {
		var err error
		enc, err = ianaindex.IANA.Encoding(name)
		if err != nil {
			return nil, fmt.Errorf("unknown charset %q: %w", name, err)
		}
		if enc == nil {
			return nil, fmt.Errorf("unsupported charset %q", name)
		}
	}

	_, single := enc.(*charmap.Charmap)
	cs := &Charset{name: name, enc: enc, singleByte: single}

	sp, err := cs.Encode(" ")
	if err != nil || len(sp) != 1 {
		return nil, fmt.Errorf("charset %q has no single-byte space", name)
	}
	cs.space = sp[0]
	return cs, nil
}

// MustCharset is LookupCharset for package-level test fixtures.
func MustCharset(name string) *Charset {
	cs, err := LookupCharset(name)
	if err != nil {
		panic(err)
	}
	return cs
}

// Name returns the name the charset was looked up with.
func (c *Charset) Name() string { return c.name }

// Space returns the encoded space character used for padding.
func (c *Charset) Space() byte { return c.space }

// SingleByte reports whether every character is one byte wide.
func (c *Charset) SingleByte() bool { return c.singleByte }

// Encode converts s to bytes. Characters without a mapping are an error.
func (c *Charset) Encode(s string) ([]byte, error) {
	b, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode %q as %s: %w", s, c.name, err)
	}
	return b, nil
}

// Decode converts bytes to a string.
func (c *Charset) Decode(b []byte) (string, error) {
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode as %s: %w", c.name, err)
	}
	return string(out), nil
}

// Truncate shortens encoded text to at most n bytes without splitting a
// multi-byte character.
func (c *Charset) Truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	if c.singleByte {
		return b[:n]
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return b[:n]
}
