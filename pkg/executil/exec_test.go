package executil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealExecutor_Run(t *testing.T) {
	ctx := context.Background()
	exec := &RealExecutor{}

	t.Run("returns combined output", func(t *testing.T) {
		out, err := exec.Run(ctx, "echo", "hello")
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(out))
	})

	t.Run("failure names the command", func(t *testing.T) {
		_, err := exec.Run(ctx, "/nonexistent-cmd-12345")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "/nonexistent-cmd-12345")
	})
}

func TestRecordingExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("records commands", func(t *testing.T) {
		rec := &RecordingExecutor{}
		_, _ = rec.Run(ctx, "tmux", "list-sessions")

		require.Len(t, rec.Commands, 1)
		assert.Equal(t, "tmux", rec.Commands[0].Cmd)
		assert.Equal(t, []string{"list-sessions"}, rec.Commands[0].Args)

		rec.Reset()
		assert.Empty(t, rec.Commands)
	})

	t.Run("longest prefix wins over bare command name", func(t *testing.T) {
		rec := &RecordingExecutor{
			Outputs: map[string][]byte{
				"tmux":                  []byte("generic"),
				"tmux show-environment": []byte("specific"),
			},
		}

		out, err := rec.Run(ctx, "tmux", "show-environment", "-t", "work")
		require.NoError(t, err)
		assert.Equal(t, "specific", string(out))

		out, err = rec.Run(ctx, "tmux", "kill-server")
		require.NoError(t, err)
		assert.Equal(t, "generic", string(out))
	})

	t.Run("configured error returned with output", func(t *testing.T) {
		boom := errors.New("no server running")
		rec := &RecordingExecutor{
			Errors: map[string]error{"tmux list-sessions": boom},
		}

		_, err := rec.Run(ctx, "tmux", "list-sessions")
		require.ErrorIs(t, err, boom)
	})
}
