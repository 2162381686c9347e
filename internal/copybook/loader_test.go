package copybook

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
charset: IBM037
discriminator: {offset: 0, length: 2}
records:
  - name: header
    discriminator: "HD"
    fields:
      - {name: REC-TYPE, type: alpha, size: 2}
      - {name: COUNT, type: binary, size: 2}
      - name: ITEMS
        dependsOn: COUNT
        fields:
          - {name: SKU, type: alpha, size: 8}
          - {name: PRICE, type: comp-3, size: 7, decimals: 2, signed: true}
      - {type: filler, size: 3, value: "   "}
  - name: detail
    discriminator: "D[0-9]"
    fields:
      - {name: REC-TYPE, type: X, size: 2}
      - name: PAIRS
        occurs: 2
        fields:
          - {name: A, type: zoned, size: 3}
          - {name: B, type: packed, size: 4}
      - {name: NOTE, type: alpha, size: "*"}
`

func TestParse_YAML(t *testing.T) {
	s, err := Parse([]byte(sampleYAML), FormatYAML)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(s.Shapes) != 2 {
		t.Fatalf("len(Shapes) = %d, want 2", len(s.Shapes))
	}
	if s.DiscriminatorLength != 2 {
		t.Errorf("DiscriminatorLength = %d, want 2", s.DiscriminatorLength)
	}
	if !s.MultiShape() {
		t.Error("MultiShape = false, want true")
	}

	hd := s.Shapes[0]
	if hd.Name != "header" {
		t.Errorf("Shapes[0].Name = %q, want header", hd.Name)
	}
	if !hd.Matches("HD") || hd.Matches("HDX") || hd.Matches("xHD") {
		t.Error("header discriminator should match HD exactly")
	}
	if _, fixed := hd.FixedSize(); fixed {
		t.Error("header shape has a depends-on group and cannot be fixed size")
	}

	items, ok := hd.Elements[2].(*Group)
	if !ok {
		t.Fatalf("Elements[2] = %T, want *Group", hd.Elements[2])
	}
	if items.Ref != "COUNT" {
		t.Errorf("ITEMS.Ref = %q, want COUNT", items.Ref)
	}
	price := items.Elements[1].(*Leaf)
	if price.Type != TypePacked || price.Decimals != 2 || !price.Signed {
		t.Errorf("PRICE = %+v", price)
	}
	if n, _ := price.ByteSize(); n != 4 {
		t.Errorf("PRICE byte size = %d, want 4", n)
	}
	if got := len(ValueElements(hd.Elements)); got != 3 {
		t.Errorf("value elements = %d, want 3 (filler skipped)", got)
	}

	dt := s.Shapes[1]
	if !dt.OpenEnded() {
		t.Error("detail shape ends in a variable field and should be open-ended")
	}
	if !s.OpenEnded() {
		t.Error("schema OpenEnded = false, want true")
	}
	pairs := dt.Elements[1].(*Group)
	if pairs.Occurs != 2 {
		t.Errorf("PAIRS.Occurs = %d, want 2", pairs.Occurs)
	}
}

func TestParse_FixedSize(t *testing.T) {
	s := MustParse(`
records:
  - fields:
      - {name: A, type: alpha, size: 12}
      - {name: B, type: packed, size: 11, signed: true}
      - {name: C, type: binary, size: 4}
      - name: G
        occurs: 3
        fields:
          - {name: D, type: zoned, size: 2}
`)
	size, fixed := s.Default().FixedSize()
	if !fixed || size != 12+6+4+3*2 {
		t.Errorf("FixedSize = %d, %v, want 28, true", size, fixed)
	}
	if s.CharsetName != DefaultCharset {
		t.Errorf("CharsetName = %q, want %q", s.CharsetName, DefaultCharset)
	}
	if s.MultiShape() {
		t.Error("MultiShape = true, want false")
	}
}

func TestParse_JSON(t *testing.T) {
	src := `{
  "charset": "ISO-8859-1",
  "records": [{
    "name": "r",
    "fields": [
      {"name": "LEN", "type": "binary", "size": 2},
      {"name": "TXT", "type": "alpha", "size": "variable", "dependsOn": "LEN"},
      {"name": "AMT", "type": "zoned", "size": 6, "decimals": 2, "implied": false, "signed": true}
    ]
  }]
}`
	s, err := Parse([]byte(src), FormatJSON)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	txt := s.Default().Elements[1].(*Leaf)
	if !txt.Variable() || txt.Ref != "LEN" {
		t.Errorf("TXT = %+v, want variable depending on LEN", txt)
	}
	amt := s.Default().Elements[2].(*Leaf)
	if amt.Implied {
		t.Error("AMT.Implied = true, want false")
	}
	if amt.Digits() != 5 {
		t.Errorf("AMT.Digits = %d, want 5", amt.Digits())
	}
	if s.Default().OpenEnded() {
		t.Error("a variable field with dependsOn is not open-ended")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{"empty", ``, "empty description"},
		{"no records", `charset: IBM037`, "at least one record"},
		{"unknown key", "records:\n  - fields: [{name: A, type: alpha, size: 1, colour: red}]", "malformed YAML"},
		{"unknown type", "records:\n  - fields: [{name: A, type: float, size: 4}]", `unknown type "float"`},
		{"missing size", "records:\n  - fields: [{name: A, type: alpha}]", "size is required"},
		{"zero size", "records:\n  - fields: [{name: A, type: alpha, size: 0}]", "size must be positive"},
		{"bad size", "records:\n  - fields: [{name: A, type: alpha, size: lots}]", "malformed YAML"},
		{"missing name", "records:\n  - fields: [{type: alpha, size: 1}]", "name is required"},
		{"decimals exceed digits", "records:\n  - fields: [{name: A, type: packed, size: 3, decimals: 4}]", "exceed digits"},
		{"decimals on alpha", "records:\n  - fields: [{name: A, type: alpha, size: 3, decimals: 1}]", "only valid on numeric"},
		{"variable packed", "records:\n  - fields: [{name: A, type: packed, size: variable}]", "only alpha and bytes"},
		{"unknown charset", "charset: NOPE-42\nrecords:\n  - fields: [{name: A, type: alpha, size: 1}]", "unusable charset"},
		{
			"multi without discriminator length",
			"records:\n  - {name: a, discriminator: A, fields: [{name: A, type: alpha, size: 1}]}\n  - {name: b, discriminator: B, fields: [{name: A, type: alpha, size: 1}]}",
			"length is required",
		},
		{
			"multi shape without pattern",
			"discriminator: {length: 1}\nrecords:\n  - {name: a, discriminator: A, fields: [{name: A, type: alpha, size: 1}]}\n  - {name: b, fields: [{name: A, type: alpha, size: 1}]}",
			"discriminator is required",
		},
		{
			"duplicate shape",
			"discriminator: {length: 1}\nrecords:\n  - {name: a, discriminator: A, fields: [{name: A, type: alpha, size: 1}]}\n  - {name: a, discriminator: B, fields: [{name: A, type: alpha, size: 1}]}",
			"duplicate record name",
		},
		{"bad pattern", "records:\n  - {discriminator: '(', fields: [{name: A, type: alpha, size: 1}]}", "invalid pattern"},
		{
			"dependsOn later field",
			"records:\n  - fields:\n      - {name: G, dependsOn: N, fields: [{name: A, type: alpha, size: 1}]}\n      - {name: N, type: binary, size: 1}",
			"does not name an earlier field",
		},
		{
			"dependsOn alpha",
			"records:\n  - fields:\n      - {name: N, type: alpha, size: 1}\n      - {name: G, dependsOn: N, fields: [{name: A, type: alpha, size: 1}]}",
			"must reference an integer",
		},
		{
			"dependsOn inside sibling group",
			"records:\n  - fields:\n      - {name: G1, fields: [{name: N, type: binary, size: 1}]}\n      - {name: G2, dependsOn: N, fields: [{name: A, type: alpha, size: 1}]}",
			"does not name an earlier field",
		},
		{
			"open-ended not last",
			"records:\n  - fields:\n      - {name: A, type: alpha, size: variable}\n      - {name: B, type: alpha, size: 1}",
			"must be the last field",
		},
		{
			"occurs and dependsOn",
			"records:\n  - fields:\n      - {name: N, type: binary, size: 1}\n      - {name: G, dependsOn: N, occurs: 2, fields: [{name: A, type: alpha, size: 1}]}",
			"mutually exclusive",
		},
		{
			"duplicate field",
			"records:\n  - fields:\n      - {name: A, type: alpha, size: 1}\n      - {name: A, type: binary, size: 2}",
			`duplicate field name "A"`,
		},
		{
			"group named like a field",
			"records:\n  - fields:\n      - {name: A, type: alpha, size: 1}\n      - {name: A, occurs: 2, fields: [{name: B, type: alpha, size: 1}]}",
			`duplicate field name "A"`,
		},
		{"explicit point on packed", "records:\n  - fields: [{name: A, type: packed, size: 3, decimals: 1, implied: false}]", "explicit decimal point"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), FormatYAML)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("error = %T %v, want *SchemaError", err, err)
			}
			if !errors.Is(err, ErrInvalidSchema) {
				t.Error("error does not match ErrInvalidSchema")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestParse_DependsOnAncestor(t *testing.T) {
	s := MustParse(`
records:
  - fields:
      - {name: N, type: binary, size: 1}
      - {name: M, type: binary, size: 1}
      - name: OUTER
        dependsOn: N
        fields:
          - name: INNER
            dependsOn: M
            fields: [{name: A, type: alpha, size: 1}]
`)
	outer := s.Default().Elements[2].(*Group)
	inner := outer.Elements[0].(*Group)
	if inner.DependsOn() != "M" {
		t.Errorf("INNER.DependsOn = %q, want M", inner.DependsOn())
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.yml")
	if err := os.WriteFile(path, []byte("records:\n  - fields: [{name: A, type: alpha, size: 1}]\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if s.Name != "orders" {
		t.Errorf("Name = %q, want orders", s.Name)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFormatForPath(t *testing.T) {
	tests := map[string]Format{
		"a.json":   FormatJSON,
		"a.JSON":   FormatJSON,
		"a.yaml":   FormatYAML,
		"a.yml":    FormatYAML,
		"noext":    FormatYAML,
		"dir/x.cb": FormatYAML,
	}
	for path, want := range tests {
		if got := FormatForPath(path); got != want {
			t.Errorf("FormatForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestCharset(t *testing.T) {
	cs := MustCharset("ibm037")
	if cs.Space() != 0x40 {
		t.Errorf("IBM037 space = %02X, want 40", cs.Space())
	}
	if !cs.SingleByte() {
		t.Error("IBM037 should be single-byte")
	}
	b, err := cs.Encode("A1")
	if err != nil || len(b) != 2 || b[0] != 0xC1 || b[1] != 0xF1 {
		t.Errorf("Encode(A1) = % X, %v, want C1 F1", b, err)
	}
	s, _ := cs.Decode([]byte{0xC8, 0x89})
	if s != "Hi" {
		t.Errorf("Decode = %q, want Hi", s)
	}

	u := MustCharset("UTF-8")
	if u.SingleByte() {
		t.Error("UTF-8 should not be single-byte")
	}
	if got := u.Truncate([]byte("aé"), 2); string(got) != "a" {
		t.Errorf("Truncate = %q, want a", got)
	}

	if _, err := LookupCharset("windows-1250"); err != nil {
		t.Errorf("IANA fallback failed: %v", err)
	}
}

func TestLeafDescribe(t *testing.T) {
	tests := []struct {
		leaf *Leaf
		want string
	}{
		{&Leaf{Type: TypePacked, Size: 11, Decimals: 2, Signed: true}, "packed(11,2) signed"},
		{&Leaf{Type: TypeAlpha, Size: VariableSize, Ref: "LEN"}, "alpha(variable by LEN)"},
		{&Leaf{Type: TypeZoned, Size: 6, Decimals: 2}, "zoned(6,2) point"},
		{&Leaf{Type: TypeBinary, Size: 4, Implied: true}, "binary(4)"},
	}
	for _, tt := range tests {
		if got := tt.leaf.Describe(); got != tt.want {
			t.Errorf("Describe() = %q, want %q", got, tt.want)
		}
	}
}

func TestSchema_WithCharset(t *testing.T) {
	s := MustParse(`
charset: ISO-8859-1
records:
  - fields:
      - {name: A, type: alpha, size: 2}
`)
	c := s.WithCharset(MustCharset("IBM1047"))

	if c.CharsetName != "IBM1047" || c.Charset.Space() != 0x40 {
		t.Errorf("copy charset = %s (space %#x), want IBM1047 (0x40)", c.CharsetName, c.Charset.Space())
	}
	if s.CharsetName != "ISO-8859-1" || s.Charset.Space() != 0x20 {
		t.Errorf("original charset changed to %s", s.CharsetName)
	}
	if c.Default() != s.Default() {
		t.Error("shapes should be shared with the original")
	}
}

func TestParse_NamesPerLevel(t *testing.T) {
	s, err := Parse([]byte(`
charset: ISO-8859-1
records:
  - fields:
      - {name: ID, type: alpha, size: 2}
      - {name: PAD, type: filler, size: 1}
      - name: ITEM
        occurs: 2
        fields:
          - {name: ID, type: alpha, size: 1}
      - {name: PAD, type: filler, size: 1}
`), FormatYAML)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got, ok := s.Shapes[0].FixedSize(); !ok || got != 6 {
		t.Errorf("FixedSize = %d, %v, want 6, true", got, ok)
	}
}
