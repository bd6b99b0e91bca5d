package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/urfave/cli/v3"

	"github.com/Hexidecibel/companion/internal/core/convo"
	"github.com/Hexidecibel/companion/internal/core/tmux"
	"github.com/Hexidecibel/companion/internal/watcher"
	"github.com/Hexidecibel/companion/pkg/executil"
	"github.com/Hexidecibel/companion/pkg/iojson"
)

type SessionsCmd struct {
	flags *Flags

	// flags
	jsonOutput bool
}

// NewSessionsCmd creates a new sessions command
func NewSessionsCmd(flags *Flags) *SessionsCmd {
	return &SessionsCmd{flags: flags}
}

// Register adds the sessions command to the application
func (cmd *SessionsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "sessions",
		Usage:     "List tagged tmux sessions and their log state",
		UsageText: "companion sessions [--json]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON lines",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})
	return app
}

// sessionRow is the JSON output format for companion sessions --json.
type sessionRow struct {
	Name         string    `json:"name"`
	ProjectPath  string    `json:"project_path"`
	Log          string    `json:"log,omitempty"`
	LastActivity time.Time `json:"last_activity,omitempty"`
	Activity     string    `json:"activity,omitempty"`
}

func (cmd *SessionsCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config

	client := tmux.New(&executil.RealExecutor{}, cfg.TmuxPath)
	resolver := watcher.NewResolver(client, cfg.SessionTag)
	if err := resolver.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh identities: %w", err)
	}

	parser := convo.NewParser(cfg.Tools)
	rows := make([]sessionRow, 0)
	for _, identity := range resolver.Identities() {
		row := sessionRow{Name: identity}
		if path, ok := resolver.PathForIdentity(identity); ok {
			row.ProjectPath = path
		}
		if dir, ok := resolver.DirForIdentity(identity); ok {
			if log, mod, ok := newestLog(filepath.Join(cfg.LogRoot, "projects", dir)); ok {
				row.Log = log
				row.LastActivity = mod
				row.Activity = parser.LatestActivity(log)
			}
		}
		rows = append(rows, row)
	}

	out := c.Root().Writer

	if cmd.jsonOutput {
		for _, row := range rows {
			if err := iojson.WriteLine(out, row); err != nil {
				return fmt.Errorf("encode session: %w", err)
			}
		}
		return nil
	}

	if len(rows) == 0 {
		fmt.Fprintf(os.Stderr, "No tagged sessions found\n")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tPROJECT\tACTIVITY\tLAST")
	for _, row := range rows {
		last := ""
		if !row.LastActivity.IsZero() {
			last = row.LastActivity.Format(time.DateTime)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", row.Name, row.ProjectPath, row.Activity, last)
	}
	return w.Flush()
}

// newestLog finds the most recently modified session log in a project dir.
func newestLog(dir string) (string, time.Time, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", time.Time{}, false
	}

	best := ""
	var bestMod time.Time
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".jsonl" {
			continue
		}
		if matched, _ := doublestar.Match("agent-*.jsonl", de.Name()); matched {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = filepath.Join(dir, de.Name())
			bestMod = info.ModTime()
		}
	}
	return best, bestMod, best != ""
}
