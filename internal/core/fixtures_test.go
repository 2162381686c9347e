package core

import (
	"bytes"
	"testing"

	"github.com/JonMunkholm/copybook/internal/codec"
	"github.com/JonMunkholm/copybook/internal/copybook"
	"github.com/JonMunkholm/copybook/internal/record"
)

const widgetSchema = `
name: widgets
charset: ISO-8859-1
records:
  - name: widget
    fields:
      - {name: ID, type: alpha, size: 4}
      - {name: QTY, type: packed, size: 3}
      - {name: TAG, type: bytes, size: 2}
`

const ordersSchema = `
name: orders
charset: ISO-8859-1
discriminator: {offset: 0, length: 1}
records:
  - name: header
    discriminator: "H"
    fields:
      - {name: TYPE, type: alpha, size: 1}
      - {name: BATCH, type: alpha, size: 3}
  - name: line
    discriminator: "L"
    fields:
      - {name: TYPE, type: alpha, size: 1}
      - {name: N, type: binary, size: 1}
      - name: ITEMS
        dependsOn: N
        fields:
          - {name: SKU, type: alpha, size: 2}
          - {name: PRICE, type: packed, size: 5, decimals: 2, signed: true}
`

// widgetFrameSize is a 4-byte length header plus a widget body.
const widgetFrameSize = 4 + 4 + 2 + 2

func dec(s string) codec.Decimal { return codec.MustDecimal(s) }

// registerFixture clears the registry and registers yaml under its name.
func registerFixture(t testing.TB, yaml string) *SchemaEntry {
	t.Helper()
	Clear()
	t.Cleanup(Clear)

	s := copybook.MustParse(yaml)
	Register(s)
	e, ok := Get(s.Name)
	if !ok {
		t.Fatalf("schema %q not registered", s.Name)
	}
	return e
}

func widget(id string, qty int64) *record.Record {
	return &record.Record{Values: record.Values{id, codec.DecimalFromInt64(qty, 0), []byte{0xAB, 0xCD}}}
}

// encodeWidgets writes widgets with 4-byte length prefixes.
func encodeWidgets(t testing.TB, e *SchemaEntry, recs ...*record.Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := record.NewWriter(&buf, e.Schema, record.WithPrefixedFraming(4, false))
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	for _, rec := range recs {
		rec.Shape = e.Schema.Default()
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	return buf.Bytes()
}

func prefixedConfig() ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.Framing = record.FramingPrefixed
	cfg.Header = record.DefaultHeader
	return cfg
}
