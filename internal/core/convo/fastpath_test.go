package convo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLatestActivity(t *testing.T) {
	p := newTestParser()

	t.Run("missing file is quiet", func(t *testing.T) {
		assert.Empty(t, p.LatestActivity(filepath.Join(t.TempDir(), "nope.jsonl")))
	})

	t.Run("user turn at the tail", func(t *testing.T) {
		path := writeLog(t, logOf(userText(t, "u1", "do the thing")))
		assert.Equal(t, "Processing request", p.LatestActivity(path))
	})

	t.Run("running tool at the tail", func(t *testing.T) {
		path := writeLog(t, logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", toolUse("t1", "Grep", j{"pattern": "TODO"})),
			toolResultLine(t, "u2", "t1", "3 matches", false),
			assistantBlocks(t, "a2", toolUse("t2", "Read", j{"file_path": "/srv/app/main.go"})),
		))
		assert.Equal(t, "Reading file: main.go", p.LatestActivity(path))
	})

	t.Run("pending approval at the tail", func(t *testing.T) {
		path := writeLog(t, logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", toolUse("t1", "Bash", j{"command": "git push"})),
		))
		assert.Equal(t, "Run `git push`?", p.LatestActivity(path))
	})

	t.Run("completed tool reported without approval prompt", func(t *testing.T) {
		path := writeLog(t, logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", toolUse("t1", "Bash", j{"command": "git push"})),
			toolResultLine(t, "u2", "t1", "pushed", false),
			assistantBlocks(t, "a2", toolUse("t2", "Bash", j{"command": "git status"})),
			toolResultLine(t, "u3", "t2", "clean", false),
		))
		assert.Equal(t, "Running command: git status", p.LatestActivity(path))
	})

	t.Run("assistant text without tools is idle", func(t *testing.T) {
		path := writeLog(t, logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", textBlock("All done.")),
		))
		assert.Empty(t, p.LatestActivity(path))
	})

	t.Run("only the tail window is read", func(t *testing.T) {
		// Pad far past the window so the early user turn falls outside it.
		padding := strings.Repeat(jline(t, j{"type": "user", "isMeta": true,
			"message": j{"role": "user", "content": strings.Repeat("x", 1024)}})+"\n", 80)

		data := logOf(userText(t, "u1", "early request")) // outside the window
		data = append(data, []byte(padding)...)
		data = append(data, []byte(assistantBlocks(t, "a1", toolUse("t1", "Read", j{"file_path": "/tmp/late.txt"}))+"\n")...)

		path := writeLog(t, data)
		assert.Equal(t, "Reading file: late.txt", p.LatestActivity(path))
	})

	t.Run("empty file", func(t *testing.T) {
		path := writeLog(t, nil)
		assert.Empty(t, p.LatestActivity(path))
	})
}
