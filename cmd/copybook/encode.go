package main

import (
	"fmt"
	"io"

	"github.com/scott-cotton/cli"

	"github.com/JonMunkholm/copybook/internal/core"
	"github.com/JonMunkholm/copybook/internal/logging"
	"github.com/JonMunkholm/copybook/internal/record"
)

func encode(cfg *EncodeConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Encode.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: encode requires a schema", cli.ErrUsage)
	}
	e, err := cfg.schema(args[0])
	if err != nil {
		return err
	}

	w, err := record.NewWriter(cc.Out, e.Schema, cfg.svc.RecordOptions(e)...)
	if err != nil {
		return err
	}
	err = eachInput(cc.In, args[1:], func(name string, r io.Reader, _ int64) error {
		return core.ReadJSONLines(r, e.Resolver, w.Write)
	})
	logging.WithFields(cfg.context(), "schema", e.Name).Debug("encode finished", "records", w.Count())
	return err
}
