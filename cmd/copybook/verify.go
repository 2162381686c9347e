package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/scott-cotton/cli"
	diffpatch "github.com/sergi/go-diff/diffmatchpatch"

	"github.com/JonMunkholm/copybook/internal/core"
	"github.com/JonMunkholm/copybook/internal/record"
)

func verify(cfg *VerifyConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Verify.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: verify requires a schema", cli.ErrUsage)
	}
	e, err := cfg.schema(args[0])
	if err != nil {
		return err
	}

	st := cfg.styles(cc.Out)
	var total verifyResult
	err = eachInput(cc.In, args[1:], func(name string, r io.Reader, _ int64) error {
		limit := 0
		if cfg.Max > 0 {
			limit = cfg.Max - total.Mismatched
		}
		res, err := verifyStream(cfg.svc, e, r, cc.Out, st, limit)
		total.add(res)
		return err
	})
	if err != nil && !errors.Is(err, errMaxMismatches) {
		return err
	}

	fmt.Fprintf(cc.Out, "%d records checked, %s, %d unreadable\n",
		total.Checked, total.summary(st), total.Unreadable)
	if total.Mismatched > 0 || total.Unreadable > 0 {
		return cli.ExitCodeErr(1)
	}
	return nil
}

type verifyResult struct {
	Checked    int
	Mismatched int
	Unreadable int
}

func (v *verifyResult) add(o verifyResult) {
	v.Checked += o.Checked
	v.Mismatched += o.Mismatched
	v.Unreadable += o.Unreadable
}

func (v verifyResult) summary(st styles) string {
	if v.Mismatched == 0 {
		return st.good("all round trip")
	}
	return st.bad("%d differ", v.Mismatched)
}

// errMaxMismatches stops a verify run once enough differences are shown.
var errMaxMismatches = errors.New("too many mismatches")

// verifyStream decodes every record of r and encodes it again, writing a
// hex diff for each record whose bytes change. It stops after limit
// mismatches when limit is positive.
func verifyStream(sc core.ServiceConfig, e *core.SchemaEntry, r io.Reader, out io.Writer, st styles, limit int) (verifyResult, error) {
	var res verifyResult

	rd, err := record.NewReader(r, e.Schema, sc.RecordOptions(e)...)
	if err != nil {
		return res, err
	}
	wr, err := record.NewWriter(io.Discard, e.Schema, sc.RecordOptions(e)...)
	if err != nil {
		return res, err
	}
	// Raw holds the body without its length header.
	hw := 0
	if sc.Framing == record.FramingPrefixed {
		hw = sc.Header.Width
	}

	for {
		rec, err := rd.Next()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			if !rd.Resumable() {
				return res, err
			}
			res.Unreadable++
			fmt.Fprintf(out, "%s %s\n", st.bad("record %d unreadable:", rd.Count()), core.MapError(err).Message)
			continue
		}
		res.Checked++

		got, err := wr.Encode(rec)
		if err == nil {
			got = got[hw:]
		}
		if err != nil {
			res.Mismatched++
			fmt.Fprintf(out, "%s %v\n", st.bad("record %d (%s) does not encode:", rec.Number, rec.Name()), err)
		} else if !bytes.Equal(got, rec.Raw) {
			res.Mismatched++
			fmt.Fprintf(out, "%s first difference at byte %d\n",
				st.bad("record %d (%s) differs:", rec.Number, rec.Name()), firstDiff(rec.Raw, got))
			io.WriteString(out, hexDiff(rec.Raw, got, st))
		}
		if limit > 0 && res.Mismatched >= limit {
			return res, fmt.Errorf("%w: stopped after %d", errMaxMismatches, res.Mismatched)
		}
	}
}

func firstDiff(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// hexDiff renders a line diff of the hex dumps of want and got.
func hexDiff(want, got []byte, st styles) string {
	dmp := diffpatch.New()
	a, b, lines := dmp.DiffLinesToChars(hex.Dump(want), hex.Dump(got))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			line = strings.TrimSuffix(line, "\n")
			switch d.Type {
			case diffpatch.DiffDelete:
				sb.WriteString(st.bad("- %s", line))
			case diffpatch.DiffInsert:
				sb.WriteString(st.good("+ %s", line))
			default:
				sb.WriteString(st.dim("  %s", line))
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
