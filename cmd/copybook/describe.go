package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/scott-cotton/cli"

	"github.com/JonMunkholm/copybook/internal/core"
)

func describe(cfg *DescribeConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Describe.Parse(cc, args)
	if err != nil {
		return err
	}
	st := cfg.styles(cc.Out)

	switch len(args) {
	case 0:
		if _, err := core.LoadDir(cfg.app.Codec.SchemaDir, core.LoadOptionsFrom(cfg.app)); err != nil {
			return err
		}
		return listSchemas(cc.Out, st, core.All())
	case 1:
		e, err := cfg.schema(args[0])
		if err != nil {
			return err
		}
		return describeSchema(cc.Out, st, e)
	default:
		return fmt.Errorf("%w: describe takes at most one schema, got %v", cli.ErrUsage, args)
	}
}

func listSchemas(w io.Writer, st styles, entries []*core.SchemaEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No schemas found")
		return err
	}
	for _, e := range entries {
		shapes := make([]string, len(e.Schema.Shapes))
		for i, sh := range e.Schema.Shapes {
			shapes[i] = sh.Name
		}
		_, err := fmt.Fprintf(w, "%s  %s  %s\n",
			st.name("%-20s", e.Name), st.dim("%-12s", e.Schema.CharsetName), strings.Join(shapes, ", "))
		if err != nil {
			return err
		}
	}
	return nil
}

func describeSchema(w io.Writer, st styles, e *core.SchemaEntry) error {
	s := e.Schema
	fmt.Fprintf(w, "%s  charset %s", st.name("%s", s.Name), s.CharsetName)
	if s.MultiShape() {
		fmt.Fprintf(w, "  discriminator offset %d length %d", s.DiscriminatorOffset, s.DiscriminatorLength)
	}
	fmt.Fprintln(w)

	for _, sh := range core.Layout(s) {
		fmt.Fprintln(w)
		header := "shape " + sh.Name
		if sh.Discriminator != "" {
			header += " /" + sh.Discriminator + "/"
		}
		switch {
		case sh.Fixed:
			header += ", " + strconv.Itoa(sh.Size) + " bytes"
		case sh.OpenEnded:
			header += ", variable size, needs prefixed framing"
		default:
			header += ", variable size"
		}
		fmt.Fprintln(w, st.head("%s", header))
		fmt.Fprintln(w, st.dim("%6s %6s  %-24s %s", "OFFSET", "SIZE", "FIELD", "TYPE"))
		writeFields(w, st, sh.Fields, 0)
	}
	return nil
}

func writeFields(w io.Writer, st styles, fields []core.FieldLayout, depth int) {
	for _, f := range fields {
		name := strings.Repeat("  ", depth) + f.Name
		if f.Name == "" {
			name = strings.Repeat("  ", depth) + "(filler)"
		}
		fmt.Fprintf(w, "%s %s  %s %s\n",
			st.num("%6s", optInt(f.Offset)), st.num("%6s", optInt(f.ByteSize)),
			st.name("%-24s", name), f.Describe)
		if len(f.Fields) > 0 {
			writeFields(w, st, f.Fields, depth+1)
		}
	}
}

func optInt(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p)
}
