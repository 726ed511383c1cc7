// Package main is the ship-detector command.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/menta2k/ship-detector/internal/config"
	"github.com/menta2k/ship-detector/internal/logging"
	"github.com/menta2k/ship-detector/pkg/pipeline"
)

// Set via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const (
	flagConfig   = "config"
	flagInput    = "input"
	flagOut      = "out"
	flagWork     = "work"
	flagProvider = "provider"
	flagBackend  = "backend"
	flagWorkers  = "workers"
	flagLogLevel = "log-level"
	flagLogJSON  = "log-json"
	flagChips    = "chips"
	flagPath     = "path"
	flagForce    = "force"
)

func main() {
	app := &cli.App{
		Name:    "ship-detector",
		Usage:   "find ships in sea images from edge maps",
		Version: Version,
		Commands: []*cli.Command{
			{
				Name:      "detect",
				Usage:     "run edge detection and region extraction over images",
				UsageText: "ship-detector detect --input IMG [--input DIR|URL ...] [options]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagConfig, Aliases: []string{"c"}, Usage: "JSON5 config file (default: built-in settings)"},
					&cli.StringSliceFlag{Name: flagInput, Aliases: []string{"i"}, Usage: "image file, directory or http(s) URL", Required: true},
					&cli.StringFlag{Name: flagOut, Aliases: []string{"o"}, Usage: "output directory"},
					&cli.StringFlag{Name: flagWork, Usage: "work directory for staged frames and edge maps"},
					&cli.StringFlag{Name: flagProvider, Usage: "edge provider: rcf, http or sobel"},
					&cli.StringFlag{Name: flagBackend, Usage: "detection backend: native or opencv"},
					&cli.IntFlag{Name: flagWorkers, Usage: "frames processed concurrently"},
					&cli.BoolFlag{Name: flagChips, Usage: "save a crop of every detected ship"},
					&cli.StringFlag{Name: flagLogLevel, Usage: "debug, info, warn or error"},
					&cli.BoolFlag{Name: flagLogJSON, Usage: "log as JSON"},
				},
				Action: detectAction,
			},
			{
				Name:  "config",
				Usage: "manage configuration files",
				Subcommands: []*cli.Command{
					{
						Name:  "init",
						Usage: "write the default configuration",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: flagPath, Value: config.GetConfigPath(), Usage: "destination file"},
							&cli.BoolFlag{Name: flagForce, Usage: "overwrite an existing file"},
						},
						Action: configInitAction,
					},
					{
						Name:  "validate",
						Usage: "load and validate a configuration file",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: flagConfig, Aliases: []string{"c"}, Required: true},
						},
						Action: configValidateAction,
					},
				},
			},
			{
				Name:   "version",
				Usage:  "print build information",
				Action: versionAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads --config when given and applies flag overrides
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	if c.IsSet(flagOut) {
		cfg.General.OutputDir = c.String(flagOut)
	}
	if c.IsSet(flagWork) {
		cfg.General.WorkDir = c.String(flagWork)
	}
	if c.IsSet(flagProvider) {
		cfg.Edge.Provider = c.String(flagProvider)
	}
	if c.IsSet(flagBackend) {
		cfg.Pipeline.Backend = c.String(flagBackend)
	}
	if c.IsSet(flagWorkers) {
		cfg.Pipeline.Workers = c.Int(flagWorkers)
	}
	if c.IsSet(flagChips) {
		cfg.Output.SaveChips = c.Bool(flagChips)
	}
	if c.IsSet(flagLogLevel) {
		cfg.General.LogLevel = c.String(flagLogLevel)
	}
	if c.IsSet(flagLogJSON) {
		cfg.General.LogJSON = c.Bool(flagLogJSON)
	}
	return cfg, cfg.Validate()
}

func detectAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := logging.New("ship-detector", cfg.General.LogLevel, cfg.General.LogJSON)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	p, err := pipeline.New(cfg, nil, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := p.Run(ctx, c.StringSlice(flagInput)...)
	if err != nil {
		logger.Debugf("%+v", err)
		return err
	}

	for _, name := range report.Names() {
		res := report.Frames[name]
		fmt.Fprintf(c.App.Writer, "%s: %d ships -> %s\n", name, len(res.Boxes), res.Viewer)
		for i, box := range res.Boxes {
			fmt.Fprintf(c.App.Writer, "  #%d %s\n", i, box)
		}
	}
	fmt.Fprintf(c.App.Writer, "run %s: %d frames, %d ships in %s\n", report.RunID, len(report.Frames), report.TotalBoxes(), report.Elapsed)
	return nil
}

func configInitAction(c *cli.Context) error {
	path := c.String(flagPath)
	if _, err := os.Stat(path); err == nil && !c.Bool(flagForce) {
		return errors.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Default().SaveToFile(path); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote default configuration to %s\n", path)
	return nil
}

func configValidateAction(c *cli.Context) error {
	cfg, err := config.LoadFromFile(c.String(flagConfig))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s is valid (provider %s, backend %s)\n", c.String(flagConfig), cfg.Edge.Provider, cfg.Pipeline.Backend)
	return nil
}

func versionAction(c *cli.Context) error {
	fmt.Fprintf(c.App.Writer, "ship-detector %s\n", Version)
	fmt.Fprintf(c.App.Writer, "  Build time: %s\n", BuildTime)
	fmt.Fprintf(c.App.Writer, "  Git commit: %s\n", GitCommit)
	return nil
}
