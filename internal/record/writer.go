package record

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/JonMunkholm/copybook/internal/codec"
	"github.com/JonMunkholm/copybook/internal/copybook"
)

// Writer encodes records to a stream. It never flushes or closes the
// underlying writer. It is not safe for concurrent use.
//
// Unless WithTrustedCounts is given, count and length fields referenced by
// depends-on elements are rewritten to match the repetitions and bytes
// actually written, so a caller can append to a group without touching its
// count.
type Writer struct {
	w        io.Writer
	schema   *copybook.Schema
	codec    *codec.Codec
	resolver *Resolver
	opts     options

	buf bytes.Buffer
	n   int
}

// NewWriter returns a Writer for the schema.
func NewWriter(w io.Writer, s *copybook.Schema, opts ...Option) (*Writer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.framing == FramingPrefixed {
		if err := o.header.validate(); err != nil {
			return nil, err
		}
	} else if s.OpenEnded() {
		return nil, ErrNeedsFraming
	}

	c, err := codec.ForSchema(s, o.codec)
	if err != nil {
		return nil, err
	}
	res := o.resolver
	if res == nil {
		res = NewResolver(s, 0)
	}
	return &Writer{w: w, schema: s, codec: c, resolver: res, opts: o}, nil
}

// Count returns the number of records written.
func (w *Writer) Count() int { return w.n }

// Write encodes rec and writes it, with its length header when framing is
// prefixed, in a single call to the underlying writer.
func (w *Writer) Write(rec *Record) error {
	b, err := w.Encode(rec)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return fmt.Errorf("write record %d: %w", w.n+1, err)
	}
	w.n++
	return nil
}

// Encode returns the framed bytes for rec without writing them. The slice
// is only valid until the next call.
func (w *Writer) Encode(rec *Record) ([]byte, error) {
	num := w.n + 1
	shape, err := w.shape(rec)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", num, err)
	}

	w.buf.Reset()
	hw := 0
	if w.opts.framing == FramingPrefixed {
		hw = w.opts.header.Width
		w.buf.Write(make([]byte, hw))
	}

	e := &encoder{codec: w.codec, buf: &w.buf, trust: w.opts.trustCounts}
	if err := e.walk(shape.Elements, rec.Values, nil); err != nil {
		return nil, fmt.Errorf("record %d (%s): %w", num, shapeLabel(shape), err)
	}

	out := w.buf.Bytes()
	if hw > 0 {
		if err := w.opts.header.put(out[:hw], len(out)-hw); err != nil {
			return nil, fmt.Errorf("record %d: %w", num, err)
		}
	}
	return out, nil
}

func (w *Writer) shape(rec *Record) (*copybook.Shape, error) {
	if rec.Shape != nil {
		return rec.Shape, nil
	}
	if rec.ShapeName != "" {
		if sh, ok := w.resolver.ResolveByID(rec.ShapeName); ok {
			return sh, nil
		}
		return nil, &codec.UnexpectedFieldTypeError{Kind: "record shape", Value: rec.ShapeName}
	}
	if w.resolver.HasMultipleShapes() {
		return nil, &codec.UnexpectedFieldTypeError{Kind: "record shape", Value: ""}
	}
	return w.resolver.Default(), nil
}

// slot remembers where a numeric leaf was written so a later depends-on
// element can check or patch it.
type slot struct {
	leaf   *copybook.Leaf
	value  any
	offset int
	// owner is the first element that synced this slot, and count what it
	// set.
	owner string
	count int
}

type wscope struct {
	parent *wscope
	slots  map[string]*slot
}

func (s *wscope) lookup(name string) (*slot, bool) {
	for ; s != nil; s = s.parent {
		if sl, ok := s.slots[name]; ok {
			return sl, true
		}
	}
	return nil, false
}

type encoder struct {
	codec *codec.Codec
	buf   *bytes.Buffer
	trust bool
	path  []string
}

func (e *encoder) walk(elems []copybook.Element, vals Values, parent *wscope) error {
	fields, err := Fields(elems, vals)
	if err != nil {
		return e.wrap("", fmt.Errorf("%w: got %d values, want %d", err, len(vals), len(copybook.ValueElements(elems))))
	}
	sc := &wscope{parent: parent, slots: make(map[string]*slot)}
	counted := dependsOnRefs(elems)

	fi := 0
	for _, el := range elems {
		if l, ok := el.(*copybook.Leaf); ok && l.Type == copybook.TypeFiller {
			b, err := e.codec.Encode(nil, l, -1)
			if err != nil {
				return e.wrap("", err)
			}
			e.buf.Write(b)
			continue
		}
		v := fields[fi].Value
		fi++

		switch x := el.(type) {
		case *copybook.Leaf:
			if v == nil && counted[x.Name] && !e.trust {
				v = 0
			}
			if err := e.leaf(x, v, sc); err != nil {
				return err
			}
		case *copybook.Group:
			if err := e.group(x, v, sc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *encoder) leaf(l *copybook.Leaf, v any, sc *wscope) error {
	offset := e.buf.Len()
	b, err := e.codec.Encode(v, l, -1)
	if err != nil {
		return e.wrap(l.Name, err)
	}
	if l.Ref != "" {
		if err := e.sync(l.Name, l.Ref, len(b), sc); err != nil {
			return e.wrap(l.Name, err)
		}
	}
	e.buf.Write(b)
	if l.Name != "" && l.Type.Numeric() {
		sc.slots[l.Name] = &slot{leaf: l, value: v, offset: offset}
	}
	return nil
}

func (e *encoder) group(g *copybook.Group, v any, sc *wscope) error {
	reps, ok := v.([]Values)
	if !ok {
		return e.wrap(g.Name, &codec.ValueTypeMismatchError{Field: g.Name, Want: "[]record.Values", Value: v})
	}
	if g.Ref != "" {
		if err := e.sync(g.Name, g.Ref, len(reps), sc); err != nil {
			return e.wrap(g.Name, err)
		}
	} else if len(reps) != g.Occurs {
		return e.wrap(g.Name, &DependencyError{
			Element: g.Name,
			Ref:     "occurs",
			Value:   len(reps),
			Msg:     fmt.Sprintf("group occurs %d times", g.Occurs),
		})
	}

	for i, rep := range reps {
		e.path = append(e.path, g.Name+"["+strconv.Itoa(i)+"]")
		err := e.walk(g.Elements, rep, sc)
		e.path = e.path[:len(e.path)-1]
		if err != nil {
			return err
		}
	}
	return nil
}

// sync makes the count leaf named ref agree with n. In trusted mode it only
// checks; otherwise it re-encodes the leaf in place.
func (e *encoder) sync(elem, ref string, n int, sc *wscope) error {
	sl, ok := sc.lookup(ref)
	if !ok {
		return &DependencyError{Element: elem, Ref: ref, Msg: "referenced field was not written before this element"}
	}

	if e.trust {
		d, ok := codec.AsDecimal(sl.value)
		if !ok {
			return &DependencyError{Element: elem, Ref: ref, Value: sl.value, Msg: "referenced value is not numeric"}
		}
		if got, ok := d.Int64(); !ok || got != int64(n) {
			return &DependencyError{Element: elem, Ref: ref, Value: sl.value, Msg: fmt.Sprintf("actual count is %d", n)}
		}
		return nil
	}

	if sl.owner != "" {
		if sl.count != n {
			return &DependencyError{
				Element: elem,
				Ref:     ref,
				Value:   n,
				Msg:     fmt.Sprintf("conflicts with %s, which needs %d", sl.owner, sl.count),
			}
		}
		return nil
	}

	b, err := e.codec.Encode(n, sl.leaf, -1)
	if err != nil {
		return &DependencyError{Element: elem, Ref: ref, Value: n, Msg: err.Error()}
	}
	copy(e.buf.Bytes()[sl.offset:], b)
	sl.owner, sl.count = elem, n
	return nil
}

func (e *encoder) wrap(name string, err error) error {
	parts := append([]string(nil), e.path...)
	if name != "" {
		parts = append(parts, name)
	}
	if len(parts) == 0 {
		return err
	}
	return fmt.Errorf("%s: %w", strings.Join(parts, "."), err)
}

// dependsOnRefs collects the names referenced by elems and their
// descendants. A nil value for one of these leaves is written as a
// placeholder and patched once the count is known.
func dependsOnRefs(elems []copybook.Element) map[string]bool {
	refs := make(map[string]bool)
	var visit func([]copybook.Element)
	visit = func(els []copybook.Element) {
		for _, el := range els {
			if r := el.DependsOn(); r != "" {
				refs[r] = true
			}
			if g, ok := el.(*copybook.Group); ok {
				visit(g.Elements)
			}
		}
	}
	visit(elems)
	return refs
}
