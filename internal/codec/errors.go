package codec

import (
	"fmt"

	"github.com/JonMunkholm/copybook/internal/copybook"
)

// FieldParsingError reports bytes that are not a valid encoding for a leaf,
// such as a BCD digit nibble above 9 or an unknown sign nibble.
type FieldParsingError struct {
	Leaf   *copybook.Leaf
	Raw    []byte
	Reason string
}

func (e *FieldParsingError) Error() string {
	name := "<filler>"
	if e.Leaf != nil && e.Leaf.Name != "" {
		name = e.Leaf.Name
	}
	desc := ""
	if e.Leaf != nil {
		desc = " " + e.Leaf.Describe()
	}
	return fmt.Sprintf("parse field %s%s: %s (raw % X)", name, desc, e.Reason, e.Raw)
}

// ValueTypeMismatchError reports an encode-time value whose Go type cannot
// be written to the field.
type ValueTypeMismatchError struct {
	Field string
	Want  string
	Value any
}

func (e *ValueTypeMismatchError) Error() string {
	return fmt.Sprintf("field %s: want %s, got %T", e.Field, e.Want, e.Value)
}

// ValueOverflowError reports a value of the right type that does not fit
// the field without losing information.
type ValueOverflowError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValueOverflowError) Error() string {
	return fmt.Sprintf("field %s: value %s %s", e.Field, e.Value, e.Reason)
}

// UnexpectedFieldTypeError reports a type code or record discriminator that
// cannot be resolved against the schema.
type UnexpectedFieldTypeError struct {
	Kind  string // "type code", "record discriminator", "record shape"
	Value string
}

func (e *UnexpectedFieldTypeError) Error() string {
	return fmt.Sprintf("unexpected %s %q", e.Kind, e.Value)
}

func parseErr(l *copybook.Leaf, raw []byte, format string, args ...any) *FieldParsingError {
	return &FieldParsingError{
		Leaf:   l,
		Raw:    append([]byte(nil), raw...),
		Reason: fmt.Sprintf(format, args...),
	}
}

func fieldName(l *copybook.Leaf) string {
	if l.Name == "" {
		return "<filler>"
	}
	return l.Name
}
