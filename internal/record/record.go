// Package record reads and writes streams of copybook records.
//
// A Reader frames each record, resolves its shape and walks the layout,
// decoding every leaf through the codec. A Writer performs the inverse walk.
// Both work on Record values whose Values mirror the shape's elements.
package record

import (
	"github.com/JonMunkholm/copybook/internal/copybook"
)

// Values holds decoded values in element order, fillers omitted.
// A leaf contributes a string, []byte or codec.Decimal; a group contributes
// []Values with one entry per repetition.
type Values []any

// Record is one decoded record.
type Record struct {
	Shape *copybook.Shape
	// ShapeName selects the shape for writing when Shape is nil.
	ShapeName string
	// Number is the 1-based position in the stream.
	Number int
	Values Values
	// Raw is the record body as read, without any length header.
	Raw []byte
}

// Name returns the shape name.
func (r *Record) Name() string {
	if r.Shape != nil {
		return r.Shape.Name
	}
	return r.ShapeName
}

// Get returns the value of the top-level element called name.
func (r *Record) Get(name string) (any, bool) {
	if r.Shape == nil {
		return nil, false
	}
	return Lookup(r.Shape.Elements, r.Values, name)
}

// Lookup finds name among elems and returns the matching entry of vals.
func Lookup(elems []copybook.Element, vals Values, name string) (any, bool) {
	for i, el := range copybook.ValueElements(elems) {
		if el.ElementName() == name && i < len(vals) {
			return vals[i], true
		}
	}
	return nil, false
}

// Field pairs a value element with its value.
type Field struct {
	Element copybook.Element
	Value   any
}

// Fields zips elems with vals. It returns ErrValueCount if the lengths
// differ.
func Fields(elems []copybook.Element, vals Values) ([]Field, error) {
	ve := copybook.ValueElements(elems)
	if len(ve) != len(vals) {
		return nil, ErrValueCount
	}
	out := make([]Field, len(ve))
	for i, el := range ve {
		out[i] = Field{Element: el, Value: vals[i]}
	}
	return out, nil
}
