package core

// json.go maps records to and from JSON objects:
//
//	{"shape":"order","number":1,"fields":{"ID":"A001","N":"2","ITEMS":[{"SKU":"abc","QTY":"5"},...]}}
//
// Fields appear in layout order. Decimals are strings so no digit is lost,
// bytes fields are lowercase hex, and groups are arrays of objects.

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"

	"github.com/JonMunkholm/copybook/internal/codec"
	"github.com/JonMunkholm/copybook/internal/copybook"
	"github.com/JonMunkholm/copybook/internal/record"
)

// ErrInvalidRecordJSON marks JSON that does not describe a record of the
// schema.
var ErrInvalidRecordJSON = errors.New("invalid record JSON")

type jsonRecord struct {
	Shape  string          `json:"shape"`
	Number int             `json:"number,omitempty"`
	Fields json.RawMessage `json:"fields"`
}

// RecordToJSON renders rec as a single-line JSON object.
func RecordToJSON(rec *record.Record) ([]byte, error) {
	if rec.Shape == nil {
		return nil, fmt.Errorf("%w: record %d has no shape", ErrInvalidRecordJSON, rec.Number)
	}
	fields, err := appendFields(nil, rec.Shape.Elements, rec.Values)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", rec.Number, err)
	}
	return json.Marshal(jsonRecord{Shape: rec.Shape.Name, Number: rec.Number, Fields: fields})
}

func appendFields(buf []byte, elems []copybook.Element, vals record.Values) ([]byte, error) {
	fields, err := record.Fields(elems, vals)
	if err != nil {
		return nil, err
	}

	buf = append(buf, '{')
	for i, f := range fields {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(f.Element.ElementName())
		if err != nil {
			return nil, err
		}
		buf = append(append(buf, key...), ':')

		switch el := f.Element.(type) {
		case *copybook.Group:
			if buf, err = appendGroup(buf, el, f.Value); err != nil {
				return nil, err
			}
		case *copybook.Leaf:
			v, err := leafJSON(el, f.Value)
			if err != nil {
				return nil, err
			}
			buf = append(buf, v...)
		}
	}
	return append(buf, '}'), nil
}

// appendGroup renders a group's repetitions as a JSON array.
func appendGroup(buf []byte, g *copybook.Group, v any) ([]byte, error) {
	reps, ok := v.([]record.Values)
	if !ok {
		return nil, &codec.ValueTypeMismatchError{Field: g.Name, Want: "[]record.Values", Value: v}
	}
	buf = append(buf, '[')
	for j, rep := range reps {
		if j > 0 {
			buf = append(buf, ',')
		}
		var err error
		if buf, err = appendFields(buf, g.Elements, rep); err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", g.Name, j, err)
		}
	}
	return append(buf, ']'), nil
}

func leafJSON(l *copybook.Leaf, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return []byte("null"), nil
	case []byte:
		return json.Marshal(hex.EncodeToString(x))
	case string:
		return json.Marshal(x)
	}
	if d, ok := codec.AsDecimal(v); ok {
		return d.MarshalJSON()
	}
	return nil, &codec.ValueTypeMismatchError{Field: l.Name, Want: "string, []byte or decimal", Value: v}
}

// RecordFromJSON parses one JSON object into a record ready for a
// record.Writer. The shape is taken from "shape", matched by name or
// discriminator literal; it may be omitted when the schema has one shape.
//
// Missing alpha fields encode as spaces and missing groups as zero
// repetitions. Missing numeric fields are left nil, which the writer fills
// in for count fields and rejects otherwise.
func RecordFromJSON(res *record.Resolver, data []byte) (*record.Record, error) {
	var doc struct {
		Shape  string                     `json:"shape"`
		Number int                        `json:"number"`
		Fields map[string]json.RawMessage `json:"fields"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecordJSON, err)
	}

	var shape *copybook.Shape
	switch {
	case doc.Shape != "":
		sh, ok := res.ResolveByID(doc.Shape)
		if !ok {
			return nil, &codec.UnexpectedFieldTypeError{Kind: "record shape", Value: doc.Shape}
		}
		shape = sh
	case res.HasMultipleShapes():
		return nil, fmt.Errorf("%w: \"shape\" is required when the schema has several shapes", ErrInvalidRecordJSON)
	default:
		shape = res.Default()
	}

	vals, err := valuesFromJSON(shape.Elements, doc.Fields)
	if err != nil {
		return nil, err
	}
	return &record.Record{Shape: shape, Number: doc.Number, Values: vals}, nil
}

func valuesFromJSON(elems []copybook.Element, fields map[string]json.RawMessage) (record.Values, error) {
	ve := copybook.ValueElements(elems)
	known := make(map[string]bool, len(ve))
	vals := make(record.Values, 0, len(ve))

	for _, el := range ve {
		name := el.ElementName()
		known[name] = true
		raw, present := fields[name]
		if present && string(raw) == "null" {
			present = false
		}

		switch e := el.(type) {
		case *copybook.Group:
			if !present {
				vals = append(vals, []record.Values{})
				continue
			}
			var items []map[string]json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRecordJSON, name, err)
			}
			reps := make([]record.Values, len(items))
			for i, item := range items {
				v, err := valuesFromJSON(e.Elements, item)
				if err != nil {
					return nil, fmt.Errorf("%s[%d]: %w", name, i, err)
				}
				reps[i] = v
			}
			vals = append(vals, reps)

		case *copybook.Leaf:
			v, err := leafFromJSON(e, raw, present)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRecordJSON, name, err)
			}
			vals = append(vals, v)
		}
	}

	for name := range fields {
		if !known[name] {
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidRecordJSON, name)
		}
	}
	return vals, nil
}

func leafFromJSON(l *copybook.Leaf, raw json.RawMessage, present bool) (any, error) {
	switch l.Type {
	case copybook.TypeAlpha:
		if !present {
			return "", nil
		}
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case copybook.TypeBytes:
		if !present {
			return []byte{}, nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return hex.DecodeString(s)
	default:
		if !present {
			return nil, nil
		}
		var d codec.Decimal
		if err := d.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		return d, nil
	}
}

// ReadJSONLines decodes a stream of JSON records, calling fn for each.
// Objects may be separated by any whitespace.
// Errors from r itself are returned wrapped, not as invalid JSON.
func ReadJSONLines(r io.Reader, res *record.Resolver, fn func(*record.Record) error) error {
	src := &readErrReader{r: r}
	dec := json.NewDecoder(src)
	for n := 1; ; n++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if src.err != nil {
				return fmt.Errorf("read json object %d: %w", n, src.err)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: object %d: %v", ErrInvalidRecordJSON, n, err)
		}
		rec, err := RecordFromJSON(res, raw)
		if err != nil {
			return fmt.Errorf("object %d: %w", n, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// readErrReader remembers the first read error other than io.EOF.
type readErrReader struct {
	r   io.Reader
	err error
}

func (e *readErrReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && err != io.EOF && e.err == nil {
		e.err = err
	}
	return n, err
}
