package copybook

// loader.go parses a schema description into a Schema.
//
// The description is YAML or JSON with the same structure:
//
//	charset: IBM037
//	discriminator: {offset: 0, length: 2}
//	records:
//	  - name: header
//	    discriminator: "HD"
//	    fields:
//	      - {name: REC-TYPE, type: alpha, size: 2}
//	      - {name: COUNT, type: binary, size: 2}
//	      - name: ITEMS
//	        dependsOn: COUNT
//	        fields:
//	          - {name: PRICE, type: packed, size: 7, decimals: 2, signed: true}
//
// A mapping with "fields" is a group, anything else is a leaf.

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Format selects the syntax of a schema description.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatForPath picks a Format from a file extension. Unknown extensions
// are treated as YAML, which is a superset of JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

type schemaDoc struct {
	Name          string      `yaml:"name" json:"name"`
	Charset       string      `yaml:"charset" json:"charset"`
	Discriminator *prefixDoc  `yaml:"discriminator" json:"discriminator"`
	Records       []recordDoc `yaml:"records" json:"records"`
}

type prefixDoc struct {
	Offset int `yaml:"offset" json:"offset"`
	Length int `yaml:"length" json:"length"`
}

type recordDoc struct {
	Name          string     `yaml:"name" json:"name"`
	Discriminator string     `yaml:"discriminator" json:"discriminator"`
	Fields        []fieldDoc `yaml:"fields" json:"fields"`
}

type fieldDoc struct {
	Name      string     `yaml:"name" json:"name"`
	Type      string     `yaml:"type" json:"type"`
	Size      sizeDoc    `yaml:"size" json:"size"`
	Decimals  int        `yaml:"decimals" json:"decimals"`
	Signed    bool       `yaml:"signed" json:"signed"`
	Implied   *bool      `yaml:"implied" json:"implied"`
	Preserve  bool       `yaml:"preserve" json:"preserve"`
	Value     string     `yaml:"value" json:"value"`
	DependsOn string     `yaml:"dependsOn" json:"dependsOn"`
	Occurs    int        `yaml:"occurs" json:"occurs"`
	Fields    []fieldDoc `yaml:"fields" json:"fields"`
}

// sizeDoc accepts an integer or the variable-size sentinel.
type sizeDoc struct {
	n   int
	set bool
}

func (s *sizeDoc) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "variable", "*":
		s.n, s.set = VariableSize, true
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("size must be an integer or \"variable\", got %q", raw)
	}
	s.n, s.set = n, true
	return nil
}

func (s *sizeDoc) UnmarshalYAML(node *yaml.Node) error {
	return s.parse(node.Value)
}

func (s *sizeDoc) UnmarshalJSON(b []byte) error {
	raw := string(b)
	if unq, err := strconv.Unquote(raw); err == nil {
		raw = unq
	}
	return s.parse(raw)
}

var typeCodes = map[string]TypeCode{
	"alpha":   TypeAlpha,
	"x":       TypeAlpha,
	"char":    TypeAlpha,
	"bytes":   TypeBytes,
	"raw":     TypeBytes,
	"binary":  TypeBinary,
	"comp":    TypeBinary,
	"comp-4":  TypeBinary,
	"comp-5":  TypeBinary,
	"packed":  TypePacked,
	"comp-3":  TypePacked,
	"zoned":   TypeZoned,
	"9":       TypeZoned,
	"display": TypeZoned,
	"filler":  TypeFiller,
}

// ParseTypeCode resolves a type code or one of its aliases.
func ParseTypeCode(s string) (TypeCode, bool) {
	t, ok := typeCodes[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

// LoadFile reads and parses the schema at path. The format follows the
// file extension.
func LoadFile(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema: %w", err)
	}
	defer f.Close()

	s, err := Load(f, FormatForPath(path))
	if err != nil {
		return nil, err
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// Load reads a schema description from r.
func Load(r io.Reader, format Format) (*Schema, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(data, format)
}

// Parse decodes a schema description and validates it.
// All structural problems are reported as *SchemaError.
func Parse(data []byte, format Format) (*Schema, error) {
	var doc schemaDoc
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, &SchemaError{Msg: "malformed JSON", Err: err}
		}
	case FormatYAML, "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, schemaErrorf("", "empty description")
			}
			return nil, &SchemaError{Msg: "malformed YAML", Err: err}
		}
	default:
		return nil, schemaErrorf("", "unsupported format %q", format)
	}
	return build(&doc)
}

// MustParse is Parse for fixtures; it panics on error.
func MustParse(data string) *Schema {
	s, err := Parse([]byte(data), FormatYAML)
	if err != nil {
		panic(err)
	}
	return s
}
