package record

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/JonMunkholm/copybook/internal/codec"
	"github.com/JonMunkholm/copybook/internal/copybook"
)

// Reader decodes records from a stream. It is not safe for concurrent use.
type Reader struct {
	br       *bufio.Reader
	schema   *copybook.Schema
	codec    *codec.Codec
	resolver *Resolver
	opts     options

	hdr       []byte
	n         int
	bytes     int64
	err       error
	resumable bool
}

// NewReader returns a Reader for the schema.
func NewReader(r io.Reader, s *copybook.Schema, opts ...Option) (*Reader, error) {
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

	return &Reader{
		br:       bufio.NewReader(r),
		schema:   s,
		codec:    c,
		resolver: res,
		opts:     o,
		hdr:      make([]byte, o.header.Width),
	}, nil
}

// Resolver returns the shape resolver in use.
func (r *Reader) Resolver() *Resolver { return r.resolver }

// Count returns the number of records consumed, including framed records
// that failed to decode.
func (r *Reader) Count() int { return r.n }

// BytesRead returns the number of stream bytes consumed by complete records.
func (r *Reader) BytesRead() int64 { return r.bytes }

// Next decodes the next record. It returns io.EOF when the stream ends
// cleanly between records. Errors are sticky, except that with prefixed
// framing a body which fails to decode has already been consumed whole;
// Resumable reports that case, and the following Next continues with the
// next record.
func (r *Reader) Next() (*Record, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.resumable = false
	rec, err := r.next()
	if err != nil {
		if !r.resumable {
			r.err = err
		}
		return nil, err
	}
	return rec, nil
}

// Resumable reports whether the last error left the stream positioned at
// the start of the next record.
func (r *Reader) Resumable() bool { return r.resumable }

func (r *Reader) next() (*Record, error) {
	if _, err := r.br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record %d: %w", r.n+1, err)
	}
	num := r.n + 1

	var (
		src   source
		shape *copybook.Shape
		err   error
	)
	if r.opts.framing == FramingPrefixed {
		body, err := r.readFrame(num)
		if err != nil {
			return nil, err
		}
		// The frame is consumed; whatever fails from here on skips it.
		r.n = num
		r.bytes += int64(len(r.hdr) + len(body))
		r.resumable = true
		if shape, err = r.resolve(body, num); err != nil {
			return nil, err
		}
		src = &bodySource{body: body, record: num}
	} else {
		if shape, err = r.peekShape(num); err != nil {
			return nil, err
		}
		src = &streamSource{br: r.br, record: num}
	}

	d := &decoder{codec: r.codec, src: src, maxOccurs: r.opts.maxOccurs}
	vals, err := d.walk(shape.Elements, nil)
	if err != nil {
		return nil, fmt.Errorf("record %d (%s): %w", num, shapeLabel(shape), err)
	}

	raw := src.consumed()
	if bs, ok := src.(*bodySource); ok {
		if bs.pos < len(bs.body) && !r.opts.allowTrailing {
			return nil, &RecordLengthError{
				Record:   num,
				Length:   len(bs.body),
				Consumed: bs.pos,
				Msg:      "trailing bytes after last field",
			}
		}
		raw = bs.body
	} else {
		r.n = num
		r.bytes += int64(len(raw))
	}
	return &Record{Shape: shape, Number: num, Values: vals, Raw: raw}, nil
}

func (r *Reader) readFrame(num int) ([]byte, error) {
	if n, err := io.ReadFull(r.br, r.hdr); err != nil {
		return nil, frameErr(err, num, "header", len(r.hdr), n)
	}
	size, err := r.opts.header.bodyLength(r.hdr)
	if err != nil {
		return nil, &RecordLengthError{Record: num, Msg: err.Error()}
	}
	// The header is untrusted, so the buffer grows with the bytes that arrive.
	body := bytes.NewBuffer(make([]byte, 0, min(size, frameChunk)))
	if n, err := io.CopyN(body, r.br, int64(size)); err != nil {
		return nil, frameErr(err, num, "body", size, int(n))
	}
	return body.Bytes(), nil
}

func frameErr(err error, num int, stage string, want, got int) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &EndOfFileError{Record: num, Stage: stage, Want: want, Got: got}
	}
	return fmt.Errorf("read record %d %s: %w", num, stage, err)
}

// resolve picks the shape of a framed body.
func (r *Reader) resolve(body []byte, num int) (*copybook.Shape, error) {
	if !r.resolver.HasMultipleShapes() {
		return r.resolver.Default(), nil
	}
	prefix, ok := r.resolver.Prefix(body)
	if !ok {
		return nil, &RecordLengthError{
			Record: num,
			Length: len(body),
			Msg:    "body shorter than the discriminator",
		}
	}
	return r.match(prefix)
}

// peekShape resolves the next unframed record without consuming it.
func (r *Reader) peekShape(num int) (*copybook.Shape, error) {
	if !r.resolver.HasMultipleShapes() {
		return r.resolver.Default(), nil
	}
	end := r.schema.DiscriminatorOffset + r.schema.DiscriminatorLength
	buf, err := r.br.Peek(end)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &EndOfFileError{Record: num, Stage: "discriminator", Want: end, Got: len(buf)}
		}
		return nil, fmt.Errorf("read record %d: %w", num, err)
	}
	return r.match(buf[r.schema.DiscriminatorOffset:end])
}

func (r *Reader) match(prefix []byte) (*copybook.Shape, error) {
	if sh, ok := r.resolver.ResolveByDiscriminator(prefix); ok {
		return sh, nil
	}
	text, _ := r.schema.Charset.Decode(prefix)
	return nil, &codec.UnexpectedFieldTypeError{Kind: "record discriminator", Value: text}
}

func shapeLabel(s *copybook.Shape) string {
	if s.Name == "" {
		return "unnamed shape"
	}
	return s.Name
}

// source hands out a record's bytes in order.
type source interface {
	// read returns exactly n bytes.
	read(n int, stage string) ([]byte, error)
	// rest returns every remaining byte of a framed body.
	rest() ([]byte, error)
	consumed() []byte
}

type bodySource struct {
	body   []byte
	pos    int
	record int
}

func (s *bodySource) read(n int, _ string) ([]byte, error) {
	if s.pos+n > len(s.body) {
		return nil, &RecordLengthError{
			Record:   s.record,
			Length:   len(s.body),
			Consumed: s.pos + n,
			Msg:      "body shorter than layout",
		}
	}
	b := s.body[s.pos : s.pos+n]
	s.pos += n
	return b, nil
}

func (s *bodySource) rest() ([]byte, error) {
	b := s.body[s.pos:]
	s.pos = len(s.body)
	return b, nil
}

func (s *bodySource) consumed() []byte { return s.body[:s.pos] }

type streamSource struct {
	br     *bufio.Reader
	raw    []byte
	record int
}

func (s *streamSource) read(n int, stage string) ([]byte, error) {
	start := len(s.raw)
	s.raw = append(s.raw, make([]byte, n)...)
	got, err := io.ReadFull(s.br, s.raw[start:])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &EndOfFileError{Record: s.record, Stage: stage, Want: n, Got: got}
		}
		return nil, err
	}
	return s.raw[start:], nil
}

func (s *streamSource) rest() ([]byte, error) {
	return nil, ErrNeedsFraming
}

func (s *streamSource) consumed() []byte { return s.raw }

// scope maps names of leaves decoded at one nesting level to their values;
// lookups fall back to enclosing levels.
type scope struct {
	parent *scope
	vals   map[string]any
}

func (s *scope) lookup(name string) (any, bool) {
	for ; s != nil; s = s.parent {
		if v, ok := s.vals[name]; ok {
			return v, true
		}
	}
	return nil, false
}

type decoder struct {
	codec     *codec.Codec
	src       source
	maxOccurs int
	path      []string
}

func (d *decoder) walk(elems []copybook.Element, parent *scope) (Values, error) {
	sc := &scope{parent: parent, vals: make(map[string]any)}
	out := make(Values, 0, len(elems))

	for _, el := range elems {
		switch e := el.(type) {
		case *copybook.Leaf:
			v, err := d.leaf(e, sc)
			if err != nil {
				return nil, err
			}
			if e.Type == copybook.TypeFiller {
				continue
			}
			if e.Name != "" {
				sc.vals[e.Name] = v
			}
			out = append(out, v)

		case *copybook.Group:
			reps, err := d.group(e, sc)
			if err != nil {
				return nil, err
			}
			out = append(out, reps)
		}
	}
	return out, nil
}

func (d *decoder) leaf(l *copybook.Leaf, sc *scope) (any, error) {
	var (
		b   []byte
		err error
	)
	size, ok := l.ByteSize()
	switch {
	case ok:
		b, err = d.src.read(size, "field")
	case l.Ref != "":
		if size, err = d.count(l.Name, l.Ref, sc); err == nil {
			b, err = d.src.read(size, "field")
		}
	default:
		b, err = d.src.rest()
	}
	if err != nil {
		return nil, d.wrap(l.Name, err)
	}

	v, err := d.codec.Decode(b, l)
	if err != nil {
		return nil, d.wrap(l.Name, err)
	}
	return v, nil
}

func (d *decoder) group(g *copybook.Group, sc *scope) ([]Values, error) {
	n := g.Occurs
	if g.Ref != "" {
		var err error
		if n, err = d.count(g.Name, g.Ref, sc); err != nil {
			return nil, d.wrap(g.Name, err)
		}
	}

	reps := make([]Values, 0, n)
	for i := 0; i < n; i++ {
		d.path = append(d.path, g.Name+"["+strconv.Itoa(i)+"]")
		v, err := d.walk(g.Elements, sc)
		d.path = d.path[:len(d.path)-1]
		if err != nil {
			return nil, err
		}
		reps = append(reps, v)
	}
	return reps, nil
}

// count reads a previously decoded integer as a repeat count or length.
func (d *decoder) count(elem, ref string, sc *scope) (int, error) {
	v, ok := sc.lookup(ref)
	if !ok {
		return 0, &DependencyError{Element: elem, Ref: ref, Msg: "referenced field has not been decoded"}
	}
	dec, ok := v.(codec.Decimal)
	if !ok {
		return 0, &DependencyError{Element: elem, Ref: ref, Value: v, Msg: "referenced field is not numeric"}
	}
	n, ok := dec.Int64()
	if !ok || n < 0 {
		return 0, &DependencyError{Element: elem, Ref: ref, Value: dec, Msg: "count must be a non-negative integer"}
	}
	if d.maxOccurs > 0 && n > int64(d.maxOccurs) {
		return 0, &DependencyError{Element: elem, Ref: ref, Value: dec, Msg: fmt.Sprintf("count exceeds limit %d", d.maxOccurs)}
	}
	return int(n), nil
}

func (d *decoder) wrap(name string, err error) error {
	if name == "" {
		name = "<filler>"
	}
	path := append(append([]string(nil), d.path...), name)
	return fmt.Errorf("%s: %w", strings.Join(path, "."), err)
}
