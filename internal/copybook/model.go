// Package copybook holds the in-memory model of a record layout description.
//
// A [Schema] is built once by [Load] or [Parse] and is immutable afterwards,
// so one instance can be shared by any number of readers and writers.
//
// # Layout
//
//	Schema
//	  └── Shape (one per record layout, tried in declaration order)
//	        └── Element
//	              ├── *Leaf  (a physical field: alpha, packed, binary, ...)
//	              └── *Group (ordered children, repeated Occurs times or
//	                          as many times as a previously decoded leaf says)
//
// Declaration order is significant everywhere: shapes are matched in order
// and elements are laid out in order.
package copybook

import (
	"regexp"
)

// TypeCode identifies the physical encoding of a leaf.
type TypeCode int

const (
	TypeAlpha  TypeCode = iota + 1 // character data in the schema charset
	TypeBytes                      // raw bytes, copied as-is
	TypeBinary                     // big-endian integer (COMP)
	TypePacked                     // packed decimal (COMP-3)
	TypeZoned                      // display digits with overpunched sign
	TypeFiller                     // literal bytes, skipped on decode
)

// String returns the canonical type code used in schema files.
func (t TypeCode) String() string {
	switch t {
	case TypeAlpha:
		return "alpha"
	case TypeBytes:
		return "bytes"
	case TypeBinary:
		return "binary"
	case TypePacked:
		return "packed"
	case TypeZoned:
		return "zoned"
	case TypeFiller:
		return "filler"
	default:
		return "unknown"
	}
}

// Numeric reports whether leaves of this type decode to decimals.
func (t TypeCode) Numeric() bool {
	return t == TypeBinary || t == TypePacked || t == TypeZoned
}

// VariableSize is the declared size of a leaf whose length is only known
// while a record is being read.
const VariableSize = -1

// Element is a node of a shape's layout tree: either a *Leaf or a *Group.
type Element interface {
	// ElementName returns the symbolic name, empty for anonymous fillers.
	ElementName() string
	// DependsOn returns the name of the earlier leaf whose decoded value
	// drives this element's repeat count or length, or "".
	DependsOn() string

	element()
}

// Leaf describes one physical field.
type Leaf struct {
	Name     string
	Type     TypeCode
	Size     int // digits for packed, bytes otherwise; VariableSize if unresolved
	Decimals int
	Signed   bool
	Implied  bool   // decimal point not physically stored
	Preserve bool   // keep trailing spaces when decoding fixed-size alpha fields
	Value    string // literal for fillers
	Ref      string // depends-on reference for variable-size leaves

	byteSize int
}

// NewLeaf returns a leaf with its byte size computed. Decimals, Signed and
// the other attributes do not affect the size and may be set afterwards.
func NewLeaf(name string, t TypeCode, size int) *Leaf {
	return &Leaf{
		Name:     name,
		Type:     t,
		Size:     size,
		Implied:  true,
		byteSize: ComputeByteSize(t, size),
	}
}

func (l *Leaf) ElementName() string { return l.Name }
func (l *Leaf) DependsOn() string   { return l.Ref }
func (*Leaf) element()              {}

// ByteSize returns the physical size of the leaf. ok is false for
// variable-size leaves, whose length must be resolved while reading.
func (l *Leaf) ByteSize() (size int, ok bool) {
	if l.byteSize < 0 {
		return 0, false
	}
	return l.byteSize, true
}

// Variable reports whether the leaf's length is resolved at decode time.
func (l *Leaf) Variable() bool {
	return l.Size == VariableSize
}

// Digits returns the number of decimal digits a numeric leaf can hold.
// Binary leaves report 0: their range is bounded by bytes, not digits.
func (l *Leaf) Digits() int {
	switch l.Type {
	case TypePacked:
		return l.Size
	case TypeZoned:
		if l.Decimals > 0 && !l.Implied {
			return l.Size - 1
		}
		return l.Size
	default:
		return 0
	}
}

// ComputeByteSize returns the physical size for a type code and declared
// size, or -1 for VariableSize.
//
// Packed decimal stores one digit per nibble plus a trailing sign nibble:
// ceil((digits+1)/2) bytes. Everything else is declared in bytes.
func ComputeByteSize(t TypeCode, size int) int {
	if size == VariableSize {
		return -1
	}
	if t == TypePacked {
		return (size + 2) / 2
	}
	return size
}

// Group is an ordered block of elements that may repeat.
type Group struct {
	Name     string
	Ref      string
	Occurs   int // fixed repeat count when Ref is empty
	Elements []Element
}

func (g *Group) ElementName() string { return g.Name }
func (g *Group) DependsOn() string   { return g.Ref }
func (*Group) element()              {}

// Shape is one record layout.
type Shape struct {
	Name          string
	Discriminator string
	Elements      []Element

	pattern   *regexp.Regexp
	size      int
	fixed     bool
	openEnded bool
}

// Matches reports whether the charset-decoded discriminator prefix matches
// the shape's pattern in full. Shapes without a pattern never match.
func (s *Shape) Matches(prefix string) bool {
	if s.pattern == nil {
		return false
	}
	return s.pattern.MatchString(prefix)
}

// FixedSize returns the record size when every element has a static size
// and no group depends on decoded data.
func (s *Shape) FixedSize() (int, bool) {
	return s.size, s.fixed
}

// OpenEnded reports whether the shape ends in a variable-size leaf without a
// length reference, which consumes the rest of a framed record body.
func (s *Shape) OpenEnded() bool {
	return s.openEnded
}

// Schema is a parsed copybook: record shapes plus the charset used for all
// character data and discriminator matching.
type Schema struct {
	Name        string
	CharsetName string
	Charset     *Charset

	// DiscriminatorOffset and DiscriminatorLength locate the record prefix
	// matched against shape discriminators. Only used with several shapes.
	DiscriminatorOffset int
	DiscriminatorLength int

	Shapes []*Shape
}

// Shape returns the shape with the given name.
func (s *Schema) Shape(name string) (*Shape, bool) {
	for _, sh := range s.Shapes {
		if sh.Name == name {
			return sh, true
		}
	}
	return nil, false
}

// Default returns the first declared shape.
func (s *Schema) Default() *Shape {
	if len(s.Shapes) == 0 {
		return nil
	}
	return s.Shapes[0]
}

// WithCharset returns a copy of the schema that reads and writes character
// data in cs. Shapes are shared with the receiver.
func (s *Schema) WithCharset(cs *Charset) *Schema {
	c := *s
	c.Charset = cs
	c.CharsetName = cs.Name()
	return &c
}

// MultiShape reports whether records must be discriminated.
func (s *Schema) MultiShape() bool {
	return len(s.Shapes) > 1
}

// OpenEnded reports whether any shape needs a framed body to be decoded.
func (s *Schema) OpenEnded() bool {
	for _, sh := range s.Shapes {
		if sh.openEnded {
			return true
		}
	}
	return false
}

// ValueElements returns the elements that produce a decoded value, which
// is every element except fillers.
func ValueElements(elems []Element) []Element {
	out := make([]Element, 0, len(elems))
	for _, el := range elems {
		if l, ok := el.(*Leaf); ok && l.Type == TypeFiller {
			continue
		}
		out = append(out, el)
	}
	return out
}
