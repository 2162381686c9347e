package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/scott-cotton/cli"

	"github.com/JonMunkholm/copybook/internal/config"
	"github.com/JonMunkholm/copybook/internal/core"
	"github.com/JonMunkholm/copybook/internal/logging"
)

type MainConfig struct {
	Dir       string `cli:"name=d aliases=dir desc='schema directory (default $COPYBOOK_SCHEMA_DIR)'"`
	Framing   string `cli:"name=framing desc='record framing: fixed or prefixed'"`
	Header    int    `cli:"name=header desc='length prefix width in bytes'"`
	Inclusive bool   `cli:"name=inclusive desc='length prefix counts its own bytes'"`
	Charset   string `cli:"name=charset desc='override the charset of every schema'"`
	Color     bool   `cli:"name=color desc='color output even when not a terminal'"`
	Verbose   bool   `cli:"name=v desc='log at debug level'"`

	Out      string
	CloseOut func() error

	Main *cli.Command

	ctx context.Context
	app *config.Config
	svc core.ServiceConfig
}

type DescribeConfig struct {
	*MainConfig

	Describe *cli.Command
}

type DecodeConfig struct {
	*MainConfig
	Policy string `cli:"name=policy desc='abort or skip records that fail to decode'"`

	Decode *cli.Command
}

type EncodeConfig struct {
	*MainConfig

	Encode *cli.Command
}

type VerifyConfig struct {
	*MainConfig
	Max int `cli:"name=max desc='stop after this many mismatched records'"`

	Verify *cli.Command
}

type LoadConfig struct {
	*MainConfig
	Policy string `cli:"name=policy desc='abort or skip records that fail to decode'"`
	Table  string `cli:"name=table desc='target table (default $DB_TABLE)'"`
	Batch  int    `cli:"name=batch desc='rows per COPY (default $JOB_BATCH_SIZE)'"`

	Load *cli.Command
}

func copybookMain(cfg *MainConfig, cc *cli.Context, args []string) error {
	defer func() {
		if cfg.CloseOut != nil {
			cfg.CloseOut()
		}
	}()
	args, err := cfg.Main.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return cli.ErrNoCommandProvided
	}
	if err := cfg.setup(); err != nil {
		return err
	}
	sub := cfg.Main.FindSub(cc, args[0])
	if sub == nil {
		return fmt.Errorf("%w: %q not found", cli.ErrNoSuchCommand, args[0])
	}
	err = sub.Run(cc, args[1:])
	if errors.Is(err, cli.ErrUsage) {
		sub.Usage(cc, err)
		os.Exit(sub.Exit(cc, err))
	}
	if core.IsUserFacing(err) {
		fmt.Fprintln(os.Stderr, core.FormatUserError(err))
	}
	return err
}

// setup loads the environment configuration and applies the command line
// overrides. Logs go to stderr so stdout carries only records.
func (cfg *MainConfig) setup() error {
	app, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Dir != "" {
		app.Codec.SchemaDir = cfg.Dir
	}
	if cfg.Framing != "" {
		app.Codec.Framing = cfg.Framing
	}
	if cfg.Header != 0 {
		app.Codec.HeaderWidth = cfg.Header
	}
	if cfg.Inclusive {
		app.Codec.HeaderInclusive = true
	}
	if cfg.Charset != "" {
		app.Codec.Charset = cfg.Charset
	}
	if err := app.Validate(); err != nil {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}

	level := app.Logging.Level
	if cfg.Verbose {
		level = "debug"
	}
	logging.SetupWriter(os.Stderr, level, app.Logging.Format)

	sc, err := core.ServiceConfigFrom(app)
	if err != nil {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	cfg.app, cfg.svc = app, sc
	return nil
}

func (cfg *MainConfig) outOpt(cc *cli.Context, a string) (any, error) {
	cfg.Out = a
	if a == "-" {
		return nil, nil
	}
	f, err := os.OpenFile(cfg.Out, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	cc.Out = f
	cfg.CloseOut = f.Close
	return nil, nil
}

func (cfg *MainConfig) context() context.Context {
	if cfg.ctx == nil {
		return context.Background()
	}
	return cfg.ctx
}

// schema registers and returns the schema named by arg: a schema file when
// arg is a path, otherwise a schema of the configured directory.
func (cfg *MainConfig) schema(arg string) (*core.SchemaEntry, error) {
	opts := core.LoadOptionsFrom(cfg.app)
	if fi, err := os.Stat(arg); err == nil && !fi.IsDir() {
		return core.LoadFile(arg, opts)
	}
	if _, err := core.LoadDir(cfg.app.Codec.SchemaDir, opts); err != nil {
		return nil, err
	}
	return core.Lookup(arg)
}

// eachInput calls fn for every named file, or once for in when there are
// none. "-" also names in.
func eachInput(in io.Reader, files []string, fn func(name string, r io.Reader, size int64) error) error {
	if len(files) == 0 {
		return fn("-", in, 0)
	}
	for _, file := range files {
		if file == "-" {
			if err := fn(file, in, 0); err != nil {
				return err
			}
			continue
		}
		if err := eachFile(file, fn); err != nil {
			return err
		}
	}
	return nil
}

func eachFile(file string, fn func(name string, r io.Reader, size int64) error) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", file, err)
	}
	defer f.Close()

	var size int64
	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}
	if err := fn(file, f, size); err != nil {
		return fmt.Errorf("error processing %s: %w", file, err)
	}
	return nil
}

// styles formats terminal output. Every function is plain Sprintf unless
// color is on.
type styles struct {
	head, name, num, dim, bad, good func(string, ...any) string
}

func (cfg *MainConfig) styles(w io.Writer) styles {
	on := cfg.Color
	if f, ok := w.(*os.File); ok && !on {
		on = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	if !on {
		return styles{fmt.Sprintf, fmt.Sprintf, fmt.Sprintf, fmt.Sprintf, fmt.Sprintf, fmt.Sprintf}
	}
	mk := func(c *color.Color) func(string, ...any) string {
		c.EnableColor()
		return c.SprintfFunc()
	}
	return styles{
		head: mk(color.New(color.Bold, color.Underline)),
		name: mk(color.New(color.FgCyan)),
		num:  mk(color.RGB(128, 216, 236)),
		dim:  mk(color.New(color.FgHiBlack)),
		bad:  mk(color.New(color.FgRed)),
		good: mk(color.New(color.FgGreen)),
	}
}
