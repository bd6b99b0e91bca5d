package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/Hexidecibel/companion/internal/core/tmux"
	"github.com/Hexidecibel/companion/internal/watcher"
	"github.com/Hexidecibel/companion/pkg/executil"
)

type TagCmd struct {
	flags *Flags
}

// NewTagCmd creates a new tag command
func NewTagCmd(flags *Flags) *TagCmd {
	return &TagCmd{flags: flags}
}

// Register adds the tag command to the application
func (cmd *TagCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "tag",
		Usage:     "Opt a tmux session in to tracking",
		UsageText: "companion tag <session>",
		Description: `Writes the opt-in marker into the tmux session's environment so the
watcher starts tracking logs for the session's working directory.`,
		Action: cmd.run,
	})
	return app
}

func (cmd *TagCmd) run(ctx context.Context, c *cli.Command) error {
	session := c.Args().First()
	if session == "" {
		return fmt.Errorf("usage: companion tag <session>")
	}

	cfg := cmd.flags.Config
	client := tmux.New(&executil.RealExecutor{}, cfg.TmuxPath)
	resolver := watcher.NewResolver(client, cfg.SessionTag)

	if err := resolver.Tag(ctx, session); err != nil {
		return fmt.Errorf("tag session: %w", err)
	}
	fmt.Fprintf(c.Root().Writer, "tagged %s\n", session)
	return nil
}
