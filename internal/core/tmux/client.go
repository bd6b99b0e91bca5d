// Package tmux provides the terminal-multiplexer queries the watcher needs:
// session enumeration, the opt-in environment tag, and working directories.
package tmux

import (
	"context"
	"fmt"
	"strings"

	"github.com/Hexidecibel/companion/pkg/executil"
	"github.com/rs/zerolog/log"
)

// Client queries and tags tmux sessions.
type Client struct {
	exec executil.Executor
	bin  string
}

// New creates a Client with the given executor. bin is the tmux binary
// path; empty means "tmux" from PATH.
func New(exec executil.Executor, bin string) *Client {
	if bin == "" {
		bin = "tmux"
	}
	return &Client{exec: exec, bin: bin}
}

// ListSessions returns the names of all tmux sessions.
// A missing tmux server is not an error; it returns no sessions.
func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	out, err := c.exec.Run(ctx, c.bin, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if strings.Contains(string(out), "no server running") {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %w", err)
	}

	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// SessionEnv reads a session-scoped environment variable. It returns the
// value and whether the variable is set; an unset variable is not an error.
func (c *Client) SessionEnv(ctx context.Context, session, name string) (string, bool, error) {
	out, err := c.exec.Run(ctx, c.bin, "show-environment", "-t", session, name)
	if err != nil {
		// tmux exits non-zero for unknown variables.
		if strings.Contains(string(out), "unknown variable") {
			return "", false, nil
		}
		return "", false, fmt.Errorf("tmux show-environment %q: %w", session, err)
	}

	line := strings.TrimSpace(string(out))
	if strings.HasPrefix(line, "-") {
		// "-NAME" means explicitly unset for this session.
		return "", false, nil
	}
	if value, found := strings.CutPrefix(line, name+"="); found {
		return value, true, nil
	}
	return "", false, nil
}

// SetSessionEnv writes a session-scoped environment variable.
func (c *Client) SetSessionEnv(ctx context.Context, session, name, value string) error {
	log.Debug().Str("session", session).Str("name", name).Msg("executing tmux set-environment")
	if _, err := c.exec.Run(ctx, c.bin, "set-environment", "-t", session, name, value); err != nil {
		return fmt.Errorf("tmux set-environment %q: %w", session, err)
	}
	return nil
}

// SessionPath returns the active pane's current working directory for a session.
func (c *Client) SessionPath(ctx context.Context, session string) (string, error) {
	out, err := c.exec.Run(ctx, c.bin, "display-message", "-p", "-t", session, "#{pane_current_path}")
	if err != nil {
		return "", fmt.Errorf("tmux display-message %q: %w", session, err)
	}
	return strings.TrimSpace(string(out)), nil
}
