package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/scott-cotton/cli"

	"github.com/JonMunkholm/copybook/internal/core"
)

func decode(cfg *DecodeConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Decode.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: decode requires a schema", cli.ErrUsage)
	}
	policy, err := parsePolicy(cfg.Policy)
	if err != nil {
		return err
	}
	e, err := cfg.schema(args[0])
	if err != nil {
		return err
	}

	svc := core.NewService(cfg.svc)
	st := cfg.styles(os.Stderr)
	return eachInput(cc.In, args[1:], func(name string, r io.Reader, size int64) error {
		res, err := decodeInput(cfg.context(), svc, e.Name, name, r, size, policy, cc.Out)
		reportFailures(os.Stderr, st, name, res)
		return err
	})
}

// decodeInput writes the records of one input as JSON lines.
func decodeInput(ctx context.Context, svc *core.Service, schema, source string, r io.Reader, size int64, policy core.FailurePolicy, out io.Writer) (*core.JobResult, error) {
	return svc.RunJob(ctx, core.JobRequest{
		Schema: schema,
		Source: source,
		Input:  r,
		Size:   size,
		Sink:   core.NewJSONLinesSink(out),
		Policy: policy,
	})
}

// parsePolicy validates a -policy flag. Empty keeps the configured default.
func parsePolicy(s string) (core.FailurePolicy, error) {
	if s == "" {
		return "", nil
	}
	p, err := core.ParseFailurePolicy(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	return p, nil
}

// reportFailures lists the records a skip policy passed over.
func reportFailures(w io.Writer, st styles, source string, res *core.JobResult) {
	if res == nil || res.Failed == 0 {
		return
	}
	fmt.Fprintf(w, "%s: %s\n", source, st.bad("%d records skipped", res.Failed))
	for _, f := range res.FailedRecords {
		fmt.Fprintf(w, "  record %s %s %s\n", st.num("%d", f.Number), st.dim("[%s]", f.Code), f.Reason)
	}
	if hidden := res.Failed - len(res.FailedRecords); hidden > 0 {
		fmt.Fprintf(w, "  ... and %d more\n", hidden)
	}
}
