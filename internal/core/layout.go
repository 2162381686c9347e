package core

import (
	"strconv"

	"github.com/JonMunkholm/copybook/internal/copybook"
)

// FieldLayout describes where an element sits in a record. Offsets are
// relative to the start of the record, or of one repetition for fields
// inside a group, and are nil once an earlier element has a size only known
// while reading.
type FieldLayout struct {
	Name      string        `json:"name,omitempty"`
	Type      string        `json:"type"`
	Describe  string        `json:"describe"`
	Offset    *int          `json:"offset,omitempty"`
	ByteSize  *int          `json:"byte_size,omitempty"`
	Occurs    int           `json:"occurs,omitempty"`
	DependsOn string        `json:"depends_on,omitempty"`
	Fields    []FieldLayout `json:"fields,omitempty"`
}

// ShapeLayout is the layout of one record shape.
type ShapeLayout struct {
	Name          string        `json:"name"`
	Discriminator string        `json:"discriminator,omitempty"`
	Size          int           `json:"size,omitempty"`
	Fixed         bool          `json:"fixed"`
	OpenEnded     bool          `json:"open_ended"`
	Fields        []FieldLayout `json:"fields"`
}

// Layout returns the layout of every shape of s.
func Layout(s *copybook.Schema) []ShapeLayout {
	out := make([]ShapeLayout, len(s.Shapes))
	for i, sh := range s.Shapes {
		size, fixed := sh.FixedSize()
		fields, _, _ := layoutElements(sh.Elements)
		out[i] = ShapeLayout{
			Name:          sh.Name,
			Discriminator: sh.Discriminator,
			Fixed:         fixed,
			OpenEnded:     sh.OpenEnded(),
			Fields:        fields,
		}
		if fixed {
			out[i].Size = size
		}
	}
	return out
}

// layoutElements lays out elems from offset zero and returns the total size
// when it is static.
func layoutElements(elems []copybook.Element) ([]FieldLayout, int, bool) {
	out := make([]FieldLayout, 0, len(elems))
	pos, static := 0, true

	for _, el := range elems {
		var (
			fl   FieldLayout
			size int
			ok   bool
		)
		switch e := el.(type) {
		case *copybook.Leaf:
			fl = FieldLayout{Name: e.Name, Type: e.Type.String(), Describe: e.Describe(), DependsOn: e.Ref}
			size, ok = e.ByteSize()
		case *copybook.Group:
			children, item, itemOK := layoutElements(e.Elements)
			fl = FieldLayout{Name: e.Name, Type: "group", Occurs: e.Occurs, DependsOn: e.Ref, Fields: children}
			if e.Ref == "" {
				fl.Describe = "group occurs " + strconv.Itoa(e.Occurs)
			} else {
				fl.Describe = "group depending on " + e.Ref
			}
			size, ok = item*e.Occurs, itemOK && e.Ref == ""
		}

		if static {
			off := pos
			fl.Offset = &off
		}
		if ok {
			sz := size
			fl.ByteSize = &sz
			pos += size
		} else {
			static = false
		}
		out = append(out, fl)
	}
	return out, pos, static
}
