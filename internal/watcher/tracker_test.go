package watcher

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hexidecibel/companion/internal/core/config"
	"github.com/Hexidecibel/companion/internal/core/convo"
)

type fakeResolver struct {
	dirs  map[string]string // identity -> encoded dir
	paths map[string]string // identity -> raw working dir
}

func (f *fakeResolver) IdentityForDir(dir string) (string, bool) {
	for identity, d := range f.dirs {
		if d == dir {
			return identity, true
		}
	}
	return "", false
}

func (f *fakeResolver) DirForIdentity(identity string) (string, bool) {
	dir, ok := f.dirs[identity]
	return dir, ok
}

func (f *fakeResolver) PathForIdentity(identity string) (string, bool) {
	path, ok := f.paths[identity]
	return path, ok
}

func jsonLine(t *testing.T, v map[string]any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func userLine(t *testing.T, uuid, text string) string {
	return jsonLine(t, map[string]any{
		"type": "user", "uuid": uuid, "timestamp": "2024-05-01T10:00:00Z",
		"message": map[string]any{"role": "user", "content": text},
	})
}

func assistantToolLine(t *testing.T, uuid, toolID, tool string, input map[string]any) string {
	return jsonLine(t, map[string]any{
		"type": "assistant", "uuid": uuid, "timestamp": "2024-05-01T10:00:05Z",
		"message": map[string]any{"role": "assistant", "content": []map[string]any{
			{"type": "tool_use", "id": toolID, "name": tool, "input": input},
		}},
	})
}

func assistantTextLine(t *testing.T, uuid, text string) string {
	return jsonLine(t, map[string]any{
		"type": "assistant", "uuid": uuid, "timestamp": "2024-05-01T10:00:05Z",
		"message": map[string]any{"role": "assistant", "content": []map[string]any{
			{"type": "text", "text": text},
		}},
	})
}

func resultLine(t *testing.T, uuid, toolID, content string, isError bool) string {
	return jsonLine(t, map[string]any{
		"type": "user", "uuid": uuid, "timestamp": "2024-05-01T10:00:10Z",
		"message": map[string]any{"role": "user", "content": []map[string]any{
			{"type": "tool_result", "tool_use_id": toolID, "content": content, "is_error": isError},
		}},
	})
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(strings.Join(lines, "\n") + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

// testTracker builds a tracker over a temp log store with one tagged
// identity ("work") owning encoded dir "-home-dev-app".
func testTracker(t *testing.T) (*Tracker, *fakeResolver, string) {
	t.Helper()
	resolver := &fakeResolver{
		dirs:  map[string]string{"work": "-home-dev-app"},
		paths: map[string]string{"work": "/home/dev/app"},
	}
	parser := convo.NewParser(config.DefaultToolVocabulary())
	tracker := NewTracker(parser, resolver, 3)

	dir := filepath.Join(t.TempDir(), "projects", "-home-dev-app")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return tracker, resolver, dir
}

func TestTracker_Process(t *testing.T) {
	t.Run("first observation of a pending approval", func(t *testing.T) {
		tracker, _, dir := testTracker(t)
		log := filepath.Join(dir, "abc.jsonl")
		writeLines(t, log,
			userLine(t, "u1", "deploy it"),
			assistantToolLine(t, "a1", "t1", "Bash", map[string]any{"command": "make deploy"}),
		)

		change, err := tracker.Process(log)
		require.NoError(t, err)

		assert.True(t, change.New)
		assert.Equal(t, 2, change.MessageDelta)
		assert.True(t, change.PendingChanged)
		assert.Equal(t, []string{"Bash"}, change.PendingTools)
		assert.True(t, change.WaitingChanged)
		assert.True(t, change.Entry.Waiting)
		assert.Equal(t, "/home/dev/app", change.Entry.ProjectPath)
		assert.Equal(t, "-home-dev-app", change.Entry.EncodedDir)
	})

	t.Run("unchanged re-poll raises no flags", func(t *testing.T) {
		tracker, _, dir := testTracker(t)
		log := filepath.Join(dir, "abc.jsonl")
		writeLines(t, log,
			userLine(t, "u1", "deploy it"),
			assistantToolLine(t, "a1", "t1", "Bash", map[string]any{"command": "make deploy"}),
		)

		_, err := tracker.Process(log)
		require.NoError(t, err)
		change, err := tracker.Process(log)
		require.NoError(t, err)

		assert.False(t, change.New)
		assert.Zero(t, change.MessageDelta)
		assert.False(t, change.PendingChanged)
		assert.False(t, change.WaitingChanged)
		assert.False(t, change.ErrorIncreased)
		assert.False(t, change.RunningEnded)
		assert.Empty(t, change.Compactions)
	})

	t.Run("error result raises error flag once", func(t *testing.T) {
		tracker, _, dir := testTracker(t)
		log := filepath.Join(dir, "abc.jsonl")
		writeLines(t, log,
			userLine(t, "u1", "build it"),
			assistantToolLine(t, "a1", "t1", "Bash", map[string]any{"command": "make"}),
		)
		_, err := tracker.Process(log)
		require.NoError(t, err)

		appendLines(t, log, resultLine(t, "u2", "t1", "make: *** [all] Error 2", true))
		change, err := tracker.Process(log)
		require.NoError(t, err)
		assert.True(t, change.ErrorIncreased)
		assert.Equal(t, "make: *** [all] Error 2", change.ErrorPreview)
		assert.True(t, change.PendingChanged, "pending fingerprint emptied")
		assert.Empty(t, change.PendingTools)

		change, err = tracker.Process(log)
		require.NoError(t, err)
		assert.False(t, change.ErrorIncreased)
	})

	t.Run("running to not-running raises completion", func(t *testing.T) {
		tracker, _, dir := testTracker(t)
		log := filepath.Join(dir, "abc.jsonl")
		writeLines(t, log, userLine(t, "u1", "summarize the repo"))

		change, err := tracker.Process(log)
		require.NoError(t, err)
		assert.True(t, change.Entry.Running)

		appendLines(t, log, assistantTextLine(t, "a1", "It is a Go service. Anything else?"))
		change, err = tracker.Process(log)
		require.NoError(t, err)
		assert.True(t, change.RunningEnded)
		assert.True(t, change.Entry.Waiting)
	})

	t.Run("compaction scan is incremental", func(t *testing.T) {
		tracker, _, dir := testTracker(t)
		log := filepath.Join(dir, "abc.jsonl")
		writeLines(t, log, userLine(t, "u1", "go"))

		_, err := tracker.Process(log)
		require.NoError(t, err)

		appendLines(t, log, jsonLine(t, map[string]any{
			"type": "system", "subtype": "compact_boundary",
			"timestamp": "2024-05-01T12:00:00Z",
			"content":   "Summary of prior work.",
		}))
		change, err := tracker.Process(log)
		require.NoError(t, err)
		require.Len(t, change.Compactions, 1)
		assert.Equal(t, "Summary of prior work.", change.Compactions[0].Summary)

		change, err = tracker.Process(log)
		require.NoError(t, err)
		assert.Empty(t, change.Compactions)
	})

	t.Run("missing file is an error, not a panic", func(t *testing.T) {
		tracker, _, dir := testTracker(t)
		_, err := tracker.Process(filepath.Join(dir, "gone.jsonl"))
		require.Error(t, err)
	})
}

func TestTracker_ByIdentity(t *testing.T) {
	tracker, _, dir := testTracker(t)

	older := filepath.Join(dir, "older.jsonl")
	newer := filepath.Join(dir, "newer.jsonl")
	writeLines(t, older, userLine(t, "u1", "old session"))
	writeLines(t, newer, userLine(t, "u1", "new session"))

	now := time.Now()
	require.NoError(t, os.Chtimes(older, now.Add(-time.Hour), now.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(newer, now, now))

	_, err := tracker.Process(older)
	require.NoError(t, err)
	_, err = tracker.Process(newer)
	require.NoError(t, err)

	t.Run("most recently modified log wins", func(t *testing.T) {
		entry, ok := tracker.ByIdentity("work")
		require.True(t, ok)
		assert.Equal(t, newer, entry.Path)
	})

	t.Run("unknown identity", func(t *testing.T) {
		_, ok := tracker.ByIdentity("nope")
		assert.False(t, ok)
	})

	t.Run("status snapshot", func(t *testing.T) {
		status, ok := tracker.StatusFor("work")
		require.True(t, ok)
		assert.False(t, status.Waiting)
		assert.Equal(t, "Processing request", status.Activity)
	})

	t.Run("summaries list the identity", func(t *testing.T) {
		summaries := tracker.Summaries()
		require.Len(t, summaries, 1)
		assert.Equal(t, "work", summaries[0].Name)
		assert.Equal(t, "/home/dev/app", summaries[0].ProjectPath)
		assert.Equal(t, 1, summaries[0].MessageCount)
	})

	t.Run("revalidation picks up a grown file", func(t *testing.T) {
		msgs, ok := tracker.MessagesFor("work", false)
		require.True(t, ok)
		require.Len(t, msgs, 1)

		appendLines(t, newer, assistantTextLine(t, "a1", "On it."))
		future := time.Now().Add(time.Second)
		require.NoError(t, os.Chtimes(newer, future, future))

		msgs, ok = tracker.MessagesFor("work", true)
		require.True(t, ok)
		assert.Len(t, msgs, 2)
	})
}

func TestTracker_RevalidateKeepsDeltas(t *testing.T) {
	// A revalidating query racing in between a file write and the watch
	// loop's debounced pass must not consume the deltas the loop still
	// needs to diff, or the pending-approval event would never fire.
	tracker, _, dir := testTracker(t)
	log := filepath.Join(dir, "abc.jsonl")
	writeLines(t, log, userLine(t, "u1", "deploy it"))

	_, err := tracker.Process(log)
	require.NoError(t, err)

	appendLines(t, log, assistantToolLine(t, "a1", "t1", "Bash", map[string]any{"command": "make deploy"}))
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(log, future, future))

	msgs, ok := tracker.MessagesFor("work", true)
	require.True(t, ok)
	assert.Len(t, msgs, 2, "revalidation returns the fresh reconstruction")

	entry, ok := tracker.ByPath(log)
	require.True(t, ok)
	assert.Equal(t, 1, entry.MessageCount, "cached entry untouched by the query")
	assert.Empty(t, entry.PendingFingerprint)

	change, err := tracker.Process(log)
	require.NoError(t, err)
	assert.Equal(t, 1, change.MessageDelta)
	assert.True(t, change.PendingChanged)
	assert.Equal(t, []string{"Bash"}, change.PendingTools)
	assert.True(t, change.WaitingChanged)
}

func TestTracker_Prune(t *testing.T) {
	tracker, resolver, dir := testTracker(t)
	log := filepath.Join(dir, "abc.jsonl")
	writeLines(t, log, userLine(t, "u1", "go"))

	_, err := tracker.Process(log)
	require.NoError(t, err)
	tracker.SetActiveIdentity("work")

	// Identity untagged between refreshes.
	delete(resolver.dirs, "work")
	tracker.Prune()

	assert.False(t, tracker.Has(log))
	assert.Empty(t, tracker.ActiveIdentity())
}

func TestTracker_HistoryChain(t *testing.T) {
	tracker, _, dir := testTracker(t)

	now := time.Now()
	mk := func(name string, age time.Duration) string {
		path := filepath.Join(dir, name)
		writeLines(t, path, userLine(t, "u1", "hi"))
		mod := now.Add(-age)
		require.NoError(t, os.Chtimes(path, mod, mod))
		return path
	}

	first := mk("first.jsonl", 3*time.Hour)
	second := mk("second.jsonl", 2*time.Hour)
	tracked := mk("tracked.jsonl", time.Hour)
	mk("agent-sub.jsonl", 90*time.Minute) // sub-agent logs are never sessions
	mk("later.jsonl", -time.Hour)         // newer than the tracked file's creation

	_, err := tracker.Process(tracked)
	require.NoError(t, err)

	// "later" is the most recent log in the dir, but it was never processed;
	// the chain anchors on the tracked entry.
	chain := tracker.HistoryChain("work")
	assert.Equal(t, []string{first, second, tracked}, chain)
}
