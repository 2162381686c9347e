package core

import (
	"testing"

	"github.com/JonMunkholm/copybook/internal/copybook"
)

func TestLayout_Offsets(t *testing.T) {
	s := copybook.MustParse(`
records:
  - name: fixed
    fields:
      - {name: A, type: alpha, size: 3}
      - name: G
        occurs: 2
        fields:
          - {name: B, type: packed, size: 5, signed: true}
          - {type: filler, size: 1}
      - {name: C, type: binary, size: 2}
`)
	shapes := Layout(s)
	if len(shapes) != 1 {
		t.Fatalf("got %d shapes, want 1", len(shapes))
	}
	sh := shapes[0]
	if !sh.Fixed || sh.Size != 3+2*(3+1)+2 {
		t.Errorf("Fixed, Size = %v, %d, want true, 13", sh.Fixed, sh.Size)
	}

	g := sh.Fields[1]
	if *g.Offset != 3 || *g.ByteSize != 8 || g.Occurs != 2 {
		t.Errorf("G = offset %d size %d occurs %d, want 3, 8, 2", *g.Offset, *g.ByteSize, g.Occurs)
	}
	if b := g.Fields[0]; *b.Offset != 0 || *b.ByteSize != 3 || b.Describe != "packed(5) signed" {
		t.Errorf("B = %+v", b)
	}
	if c := sh.Fields[2]; *c.Offset != 11 {
		t.Errorf("C offset = %d, want 11", *c.Offset)
	}
}

func TestLayout_DependsOn(t *testing.T) {
	s := copybook.MustParse(ordersSchema)
	line := Layout(s)[1]

	if line.Fixed {
		t.Error("line shape with a depends-on group reported fixed")
	}
	items := line.Fields[2]
	if items.Offset == nil || *items.Offset != 2 {
		t.Errorf("ITEMS offset = %v, want 2", items.Offset)
	}
	if items.ByteSize != nil {
		t.Errorf("ITEMS byte size = %d, want unknown", *items.ByteSize)
	}
	if items.DependsOn != "N" {
		t.Errorf("ITEMS.DependsOn = %q, want N", items.DependsOn)
	}
}
