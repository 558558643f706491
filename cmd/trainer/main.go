package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"credchain-risk/internal/config"
	"credchain-risk/pkg/logger"
)

var (
	name    = "credchain-trainer"
	version = "v0.0.1-default"
	commit  = ""
)

var (
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Prints verbose logs (optional, default: false)",
	}

	typeFlag = &cli.StringFlag{
		Name:     "type",
		Usage:    "Model type (credit, fraud)",
		Required: true,
	}

	samplesFlag = &cli.StringFlag{
		Name:    "samples",
		Usage:   "Path to the SQLite sample store",
		Value:   "samples.db",
		Sources: cli.EnvVars("SAMPLE_STORE_PATH"),
	}
)

func main() {
	cmd := &cli.Command{
		Name:    name,
		Version: fmt.Sprintf("%s - (commit: %s)", version, commit),
		Usage:   "Builds datasets, trains and evaluates risk models",
		Flags: []cli.Flag{
			debugFlag,
			samplesFlag,
		},
		Commands: []*cli.Command{
			buildDatasetCmd,
			trainCmd,
			evaluateCmd,
			runsCmd,
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the shared configuration and a CLI logger.
func setup(cmd *cli.Command) (*config.Config, *zap.Logger, error) {
	env := "production"
	if cmd.Bool(debugFlag.Name) {
		env = "development"
	}
	log := logger.ForEnvironment(name, env)

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, log, nil
}
