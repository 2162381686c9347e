package main

import (
	"fmt"
	"io"
	"os"

	"github.com/scott-cotton/cli"

	"github.com/JonMunkholm/copybook/internal/core"
)

func load(cfg *LoadConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Load.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: load requires a schema", cli.ErrUsage)
	}
	policy, err := parsePolicy(cfg.Policy)
	if err != nil {
		return err
	}
	if !cfg.app.Database.Enabled() {
		return core.ErrNoDatabase
	}
	e, err := cfg.schema(args[0])
	if err != nil {
		return err
	}

	table, batch := cfg.app.Database.Table, cfg.app.Jobs.BatchSize
	if cfg.Table != "" {
		table = cfg.Table
	}
	if cfg.Batch > 0 {
		batch = cfg.Batch
	}

	ctx := cfg.context()
	app := *cfg.app
	app.Database.Table = table
	pool, err := core.OpenPool(ctx, &app)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := core.NewService(cfg.svc)
	st := cfg.styles(cc.Out)
	return eachInput(cc.In, args[1:], func(name string, r io.Reader, size int64) error {
		res, err := svc.RunJob(ctx, core.JobRequest{
			Schema: e.Name,
			Source: name,
			Input:  r,
			Size:   size,
			Sink:   core.NewPostgresSink(pool, table, batch),
			Policy: policy,
		})
		reportFailures(os.Stderr, cfg.styles(os.Stderr), name, res)
		if err != nil {
			return err
		}
		fmt.Fprintf(cc.Out, "%s: loaded %s records into %s (job %s)\n",
			name, st.num("%d", res.Records), table, st.name("%s", res.JobID))
		return nil
	})
}
