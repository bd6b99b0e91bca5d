package executil

import (
	"context"
	"strings"
	"sync"
)

// RecordedCommand captures a command that was executed.
type RecordedCommand struct {
	Cmd  string
	Args []string
}

// RecordingExecutor captures commands for testing.
// Configure Outputs and Errors maps to control return values. Keys are
// matched against "cmd arg0 arg1 ..." by prefix before falling back to the
// bare command name, so tests can vary behavior per subcommand.
type RecordingExecutor struct {
	mu       sync.Mutex
	Commands []RecordedCommand

	// Outputs maps command names or command-line prefixes to their output.
	Outputs map[string][]byte

	// Errors maps command names or command-line prefixes to their error.
	Errors map[string]error
}

// Run records the command and returns configured output/error.
func (e *RecordingExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Commands = append(e.Commands, RecordedCommand{
		Cmd:  cmd,
		Args: args,
	})

	full := strings.TrimSpace(cmd + " " + strings.Join(args, " "))

	// Longest matching key wins so "tmux show-environment" beats "tmux".
	var out []byte
	best := -1
	for key, v := range e.Outputs {
		if (key == cmd || strings.HasPrefix(full, key)) && len(key) > best {
			out = v
			best = len(key)
		}
	}

	var err error
	best = -1
	for key, v := range e.Errors {
		if (key == cmd || strings.HasPrefix(full, key)) && len(key) > best {
			err = v
			best = len(key)
		}
	}

	return out, err
}

// Reset clears recorded commands.
func (e *RecordingExecutor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Commands = nil
}
