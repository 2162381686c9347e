package main

import (
	"context"

	"github.com/scott-cotton/cli"
)

func MainCommand(ctx context.Context) *cli.Command {
	cfg := &MainConfig{ctx: ctx}
	sOpts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	opts := append(sOpts, &cli.Opt{
		Name:        "o",
		Description: "output file (default stdout)",
		Type:        cli.NamedFuncOpt(cfg.outOpt, "(filepath)"),
	})

	return cli.NewCommandAt(&cfg.Main, "copybook").
		WithSynopsis("copybook [opts] command [opts]").
		WithDescription("copybook decodes and encodes fixed-layout binary records described by a schema.").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return copybookMain(cfg, cc, args)
		}).
		WithSubs(
			DescribeCommand(cfg),
			DecodeCommand(cfg),
			EncodeCommand(cfg),
			VerifyCommand(cfg),
			LoadCommand(cfg))
}

func DescribeCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &DescribeConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Describe, "describe").
		WithAliases("desc", "ls").
		WithSynopsis("describe [schema]").
		WithDescription("list schemas, or show the field layout of one").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return describe(cfg, cc, args)
		})
}

func DecodeCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &DecodeConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Decode, "decode").
		WithAliases("d", "dec").
		WithSynopsis("decode [-policy skip] <schema> [files]").
		WithDescription("decode binary records to JSON lines").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return decode(cfg, cc, args)
		})
}

func EncodeCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &EncodeConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Encode, "encode").
		WithAliases("e", "enc").
		WithSynopsis("encode <schema> [files]").
		WithDescription("encode JSON records to binary").
		WithRun(func(cc *cli.Context, args []string) error {
			return encode(cfg, cc, args)
		})
}

func VerifyCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &VerifyConfig{MainConfig: mainCfg, Max: 10}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Verify, "verify").
		WithAliases("v").
		WithSynopsis("verify [-max n] <schema> [files]").
		WithDescription("decode and re-encode every record, reporting records that do not round trip").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return verify(cfg, cc, args)
		})
}

func LoadCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &LoadConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Load, "load").
		WithAliases("l").
		WithSynopsis("load [-policy skip] [-table name] <schema> [files]").
		WithDescription("decode records into the Postgres records table").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return load(cfg, cc, args)
		})
}
