package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/Hexidecibel/companion/internal/commands"
	"github.com/Hexidecibel/companion/internal/core/config"
	"github.com/Hexidecibel/companion/pkg/iojson"
	"github.com/Hexidecibel/companion/pkg/logutils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	// When installed via `go install module@version`, init() populates
	// these from runtime/debug.BuildInfo instead.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	v, c, d := version, commit, date

	// When installed via `go install module@version`, ldflags aren't set
	// so version remains "dev". Fall back to runtime/debug.BuildInfo which
	// Go populates automatically with the module version and VCS metadata.
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}

	short := c
	if len(c) > 7 {
		short = c[:7]
	}

	return fmt.Sprintf("%s (%s) %s", v, short, d)
}

func main() {
	ctx := context.Background()

	var logCloser func()

	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "companion",
		Usage:     "Supervise AI coding-assistant sessions running in tmux",
		UsageText: "companion [global options] command [command options]",
		Description: `Companion watches the assistant CLI's session logs for tmux sessions
that opted in via 'companion tag', reconstructs each conversation, and
streams typed events (approvals, errors, completions, compactions) for
downstream tooling.

Run 'companion watch' to start streaming. Run 'companion sessions' to
see what is currently tagged.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("COMPANION_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (defaults to stderr)",
				Sources:     cli.EnvVars("COMPANION_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("COMPANION_CONFIG"),
				Value:       config.DefaultPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "log-root",
				Usage:       "root of the assistant CLI's log store (overrides config)",
				Sources:     cli.EnvVars("COMPANION_LOG_ROOT"),
				Destination: &flags.LogRoot,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, closer, err := logutils.New(flags.LogLevel, flags.LogFile)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger
			logCloser = closer

			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			if flags.LogRoot != "" {
				cfg.LogRoot = flags.LogRoot
			}
			if err := cfg.Validate(); err != nil {
				return ctx, fmt.Errorf("validate config: %w", err)
			}
			flags.Config = cfg

			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if logCloser != nil {
				logCloser()
			}
			return nil
		},
	}

	watchCmd := commands.NewWatchCmd(flags)

	app = watchCmd.Register(app)
	app = commands.NewSessionsCmd(flags).Register(app)
	app = commands.NewTagCmd(flags).Register(app)
	app = commands.NewDecodeCmd(flags).Register(app)

	// Watching is the default action when no subcommand is provided.
	app.Action = func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() > 0 {
			return fmt.Errorf("unknown command %q. Run 'companion --help' for usage", c.Args().First())
		}
		return watchCmd.Run(ctx, c)
	}

	exitCode := 0
	if runErr := app.Run(ctx, os.Args); runErr != nil {
		// Stdout stays machine-readable for stream consumers; errors go to
		// stderr as a structured object.
		_ = iojson.WriteError(runErr.Error(), nil)
		exitCode = 1
	}

	os.Exit(exitCode)
}
