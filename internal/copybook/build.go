package copybook

import (
	"fmt"
	"regexp"
	"strings"
)

// scope tracks leaf names visible to depends-on references: earlier
// siblings and earlier elements of every enclosing level.
type scope struct {
	parent *scope
	leaves map[string]*Leaf
}

func (s *scope) lookup(name string) (*Leaf, bool) {
	for ; s != nil; s = s.parent {
		if l, ok := s.leaves[name]; ok {
			return l, true
		}
	}
	return nil, false
}

func build(doc *schemaDoc) (*Schema, error) {
	cs, err := LookupCharset(doc.Charset)
	if err != nil {
		return nil, &SchemaError{Path: "charset", Msg: "unusable charset", Err: err}
	}

	s := &Schema{
		Name:        doc.Name,
		CharsetName: cs.Name(),
		Charset:     cs,
	}
	if doc.Discriminator != nil {
		if doc.Discriminator.Offset < 0 || doc.Discriminator.Length < 0 {
			return nil, schemaErrorf("discriminator", "offset and length must be non-negative")
		}
		s.DiscriminatorOffset = doc.Discriminator.Offset
		s.DiscriminatorLength = doc.Discriminator.Length
	}

	if len(doc.Records) == 0 {
		return nil, schemaErrorf("records", "at least one record shape is required")
	}
	multi := len(doc.Records) > 1
	if multi && s.DiscriminatorLength == 0 {
		return nil, schemaErrorf("discriminator", "length is required when more than one record shape is declared")
	}

	seen := make(map[string]bool, len(doc.Records))
	for i := range doc.Records {
		rd := &doc.Records[i]
		path := fmt.Sprintf("records[%d]", i)

		if rd.Name != "" {
			if seen[rd.Name] {
				return nil, schemaErrorf(path, "duplicate record name %q", rd.Name)
			}
			seen[rd.Name] = true
		}
		sh, err := buildShape(rd, path, multi)
		if err != nil {
			return nil, err
		}
		s.Shapes = append(s.Shapes, sh)
	}
	return s, nil
}

func buildShape(rd *recordDoc, path string, multi bool) (*Shape, error) {
	sh := &Shape{Name: rd.Name, Discriminator: rd.Discriminator}

	if rd.Discriminator != "" {
		re, err := regexp.Compile("^(?:" + rd.Discriminator + ")$")
		if err != nil {
			return nil, &SchemaError{Path: path + ".discriminator", Msg: "invalid pattern", Err: err}
		}
		sh.pattern = re
	} else if multi {
		return nil, schemaErrorf(path, "discriminator is required when more than one record shape is declared")
	}

	if len(rd.Fields) == 0 {
		return nil, schemaErrorf(path+".fields", "record has no fields")
	}

	elems, err := buildElements(rd.Fields, path, &scope{leaves: map[string]*Leaf{}})
	if err != nil {
		return nil, err
	}
	sh.Elements = elems

	for i, el := range elems {
		if l, ok := el.(*Leaf); ok && l.Variable() && l.Ref == "" && i != len(elems)-1 {
			return nil, schemaErrorf(fmt.Sprintf("%s.fields[%d]", path, i),
				"variable-size field %q without dependsOn must be the last field of the record", l.Name)
		}
	}

	sh.size, sh.fixed = staticSize(elems)
	if n := len(elems); n > 0 {
		if l, ok := elems[n-1].(*Leaf); ok && l.Variable() && l.Ref == "" {
			sh.openEnded = true
		}
	}
	return sh, nil
}

func buildElements(docs []fieldDoc, path string, sc *scope) ([]Element, error) {
	elems := make([]Element, 0, len(docs))
	names := make(map[string]bool, len(docs))
	for i := range docs {
		fd := &docs[i]
		fpath := fmt.Sprintf("%s.fields[%d]", path, i)
		if fd.Name != "" {
			fpath += " (" + fd.Name + ")"
			if t, _ := ParseTypeCode(fd.Type); t != TypeFiller {
				if names[fd.Name] {
					return nil, schemaErrorf(fpath, "duplicate field name %q", fd.Name)
				}
				names[fd.Name] = true
			}
		}

		if len(fd.Fields) > 0 {
			g, err := buildGroup(fd, fpath, sc)
			if err != nil {
				return nil, err
			}
			elems = append(elems, g)
			continue
		}

		l, err := buildLeaf(fd, fpath, sc)
		if err != nil {
			return nil, err
		}
		if l.Name != "" {
			sc.leaves[l.Name] = l
		}
		elems = append(elems, l)
	}
	return elems, nil
}

func buildGroup(fd *fieldDoc, path string, sc *scope) (*Group, error) {
	if fd.Name == "" {
		return nil, schemaErrorf(path, "group requires a name")
	}
	if fd.Type != "" {
		return nil, schemaErrorf(path, "group %q cannot declare a type", fd.Name)
	}
	if fd.Occurs < 0 {
		return nil, schemaErrorf(path, "occurs must be non-negative")
	}
	if fd.DependsOn != "" && fd.Occurs != 0 {
		return nil, schemaErrorf(path, "occurs and dependsOn are mutually exclusive")
	}

	g := &Group{Name: fd.Name, Ref: fd.DependsOn, Occurs: fd.Occurs}
	if g.Ref == "" && g.Occurs == 0 {
		g.Occurs = 1
	}
	if g.Ref != "" {
		if err := checkCountRef(g.Ref, path, sc); err != nil {
			return nil, err
		}
	}

	children, err := buildElements(fd.Fields, path, &scope{parent: sc, leaves: map[string]*Leaf{}})
	if err != nil {
		return nil, err
	}
	for _, el := range children {
		if l, ok := el.(*Leaf); ok && l.Variable() && l.Ref == "" {
			return nil, schemaErrorf(path, "variable-size field %q inside a group needs dependsOn", l.Name)
		}
	}
	g.Elements = children
	return g, nil
}

func buildLeaf(fd *fieldDoc, path string, sc *scope) (*Leaf, error) {
	if fd.Type == "" {
		return nil, schemaErrorf(path, "type is required")
	}
	t, ok := ParseTypeCode(fd.Type)
	if !ok {
		return nil, schemaErrorf(path, "unknown type %q", fd.Type)
	}
	if fd.Name == "" && t != TypeFiller {
		return nil, schemaErrorf(path, "name is required for %s fields", t)
	}
	if !fd.Size.set {
		return nil, schemaErrorf(path, "size is required")
	}
	if fd.Occurs != 0 {
		return nil, schemaErrorf(path, "occurs is only valid on groups")
	}

	l := &Leaf{
		Name:     fd.Name,
		Type:     t,
		Size:     fd.Size.n,
		Decimals: fd.Decimals,
		Signed:   fd.Signed,
		Implied:  true,
		Preserve: fd.Preserve,
		Value:    fd.Value,
		Ref:      fd.DependsOn,
	}
	if fd.Implied != nil {
		l.Implied = *fd.Implied
	}

	if l.Variable() {
		if t != TypeAlpha && t != TypeBytes {
			return nil, schemaErrorf(path, "only alpha and bytes fields may have a variable size")
		}
		if l.Ref != "" {
			if err := checkCountRef(l.Ref, path, sc); err != nil {
				return nil, err
			}
		}
	} else {
		if l.Size <= 0 {
			return nil, schemaErrorf(path, "size must be positive, got %d", l.Size)
		}
		if l.Ref != "" {
			return nil, schemaErrorf(path, "dependsOn on a leaf requires size: variable")
		}
	}

	if l.Decimals < 0 {
		return nil, schemaErrorf(path, "decimals must be non-negative")
	}
	if l.Decimals > 0 && !t.Numeric() {
		return nil, schemaErrorf(path, "decimals are only valid on numeric fields")
	}
	if !l.Implied && t != TypeZoned {
		return nil, schemaErrorf(path, "an explicit decimal point is only stored by zoned fields")
	}
	if d := l.Digits(); (t == TypePacked || t == TypeZoned) && l.Decimals > d {
		return nil, schemaErrorf(path, "decimals %d exceed digits %d", l.Decimals, d)
	}
	if t == TypeZoned && l.Digits() < 1 {
		return nil, schemaErrorf(path, "zoned field needs at least one digit")
	}
	if t == TypeBinary && l.Size > 16 {
		return nil, schemaErrorf(path, "binary fields are limited to 16 bytes, got %d", l.Size)
	}
	if fd.Value != "" && t != TypeFiller {
		return nil, schemaErrorf(path, "value is only valid on filler fields")
	}

	l.byteSize = ComputeByteSize(t, l.Size)
	return l, nil
}

// checkCountRef verifies a depends-on reference names an earlier integer leaf.
func checkCountRef(ref, path string, sc *scope) error {
	target, ok := sc.lookup(ref)
	if !ok {
		return schemaErrorf(path, "dependsOn %q does not name an earlier field", ref)
	}
	if !target.Type.Numeric() || target.Decimals != 0 {
		return schemaErrorf(path, "dependsOn %q must reference an integer field, got %s with %d decimals",
			ref, target.Type, target.Decimals)
	}
	return nil
}

// staticSize sums element sizes; ok is false as soon as a size depends on
// decoded data.
func staticSize(elems []Element) (int, bool) {
	total := 0
	for _, el := range elems {
		switch e := el.(type) {
		case *Leaf:
			n, ok := e.ByteSize()
			if !ok {
				return 0, false
			}
			total += n
		case *Group:
			if e.Ref != "" {
				return 0, false
			}
			n, ok := staticSize(e.Elements)
			if !ok {
				return 0, false
			}
			total += n * e.Occurs
		}
	}
	return total, true
}

// Describe renders a one-line summary of a leaf, e.g. "packed(11,2) signed".
func (l *Leaf) Describe() string {
	var b strings.Builder
	b.WriteString(l.Type.String())
	switch {
	case l.Variable():
		b.WriteString("(variable")
		if l.Ref != "" {
			b.WriteString(" by " + l.Ref)
		}
		b.WriteString(")")
	case l.Decimals > 0:
		fmt.Fprintf(&b, "(%d,%d)", l.Size, l.Decimals)
	default:
		fmt.Fprintf(&b, "(%d)", l.Size)
	}
	if l.Signed {
		b.WriteString(" signed")
	}
	if l.Type == TypeZoned && !l.Implied {
		b.WriteString(" point")
	}
	return b.String()
}
