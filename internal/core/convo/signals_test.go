package convo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectWaiting(t *testing.T) {
	p := newTestParser()

	t.Run("false when last message is from the user", func(t *testing.T) {
		msgs := p.Parse(logOf(
			assistantBlocks(t, "a1", textBlock("Done. Let me know if you need more.")),
			userText(t, "u1", "keep going"),
		), 0)
		assert.False(t, p.DetectWaiting(msgs))
	})

	t.Run("true for assistant text ending in question mark", func(t *testing.T) {
		msgs := p.Parse(logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", textBlock("Should I also update the docs?")),
		), 0)
		assert.True(t, p.DetectWaiting(msgs))
	})

	t.Run("true for question phrases", func(t *testing.T) {
		for _, text := range []string{
			"Let me know how to proceed.",
			"Would you like me to continue with option B.",
			"Please confirm before I push.",
		} {
			msgs := p.Parse(logOf(userText(t, "u1", "go"), assistantBlocks(t, "a1", textBlock(text))), 0)
			assert.True(t, p.DetectWaiting(msgs), text)
		}
	})

	t.Run("true when pending tool requires approval", func(t *testing.T) {
		msgs := p.Parse(logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", toolUse("t1", "Bash", j{"command": "make install"})),
		), 0)
		assert.True(t, p.DetectWaiting(msgs))
	})

	t.Run("false while a non-approval tool is still pending", func(t *testing.T) {
		msgs := p.Parse(logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", textBlock("Reading."), toolUse("t1", "Read", j{"file_path": "/tmp/x"})),
		), 0)
		assert.False(t, p.DetectWaiting(msgs))
	})

	t.Run("true when all tools finished and text present", func(t *testing.T) {
		msgs := p.Parse(logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", textBlock("All set."), toolUse("t1", "Read", j{"file_path": "/tmp/x"})),
			toolResultLine(t, "u2", "t1", "data", false),
		), 0)
		assert.True(t, p.DetectWaiting(msgs))
	})

	t.Run("false for a textless turn even with every tool finished", func(t *testing.T) {
		msgs := p.Parse(logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", toolUse("t1", "Read", j{"file_path": "/tmp/x"})),
			toolResultLine(t, "u2", "t1", "data", false),
		), 0)
		assert.False(t, p.DetectWaiting(msgs))
	})

	t.Run("empty log", func(t *testing.T) {
		assert.False(t, p.DetectWaiting(nil))
	})
}

func TestCurrentActivity(t *testing.T) {
	p := newTestParser()

	t.Run("user turn means processing", func(t *testing.T) {
		msgs := p.Parse(logOf(userText(t, "u1", "do the thing")), 0)
		assert.Equal(t, "Processing request", p.CurrentActivity(msgs))
	})

	t.Run("running tool described with detail", func(t *testing.T) {
		msgs := p.Parse(logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", toolUse("t1", "Read", j{"file_path": "/srv/app/main.go"})),
		), 0)
		assert.Equal(t, "Reading file: main.go", p.CurrentActivity(msgs))
	})

	t.Run("pending approval uses approval phrasing", func(t *testing.T) {
		msgs := p.Parse(logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", toolUse("t1", "Bash", j{"command": "npm publish"})),
		), 0)
		assert.Equal(t, "Run `npm publish`?", p.CurrentActivity(msgs))
	})

	t.Run("assistant text without tools reports nothing", func(t *testing.T) {
		msgs := p.Parse(logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", textBlock("Anything else?")),
		), 0)
		assert.Empty(t, p.CurrentActivity(msgs))
	})

	t.Run("unknown tool falls back to tool name", func(t *testing.T) {
		msgs := p.Parse(logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", toolUse("t1", "Frobnicate", nil)),
			toolResultLine(t, "u2", "t1", "ok", false),
		), 0)
		assert.Equal(t, "Using Frobnicate", p.CurrentActivity(msgs))
	})
}

func TestHighlights(t *testing.T) {
	p := newTestParser()

	t.Run("contentless messages dropped", func(t *testing.T) {
		msgs := []Message{
			{Role: RoleAssistant},
			{Role: RoleUser, Text: "hi"},
		}
		hl := p.Highlights(msgs)
		require.Len(t, hl, 1)
		assert.Equal(t, "hi", hl[0].Text)
	})

	t.Run("question kept only on last message once answered elsewhere", func(t *testing.T) {
		msgs := p.Parse(logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", toolUse("t1", "Bash", j{"command": "make"})),
			toolResultLine(t, "u2", "t1", "built", false),
			assistantBlocks(t, "a2", textBlock("Build finished. Want a release too?")),
		), 0)

		hl := p.Highlights(msgs)
		require.Len(t, hl, 3)
		assert.Nil(t, hl[1].Question)
	})

	t.Run("superseded pending approval redisplays as running", func(t *testing.T) {
		msgs := p.Parse(logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", toolUse("t1", "Bash", j{"command": "make"})),
			userText(t, "u2", "yes do it"),
		), 0)

		hl := p.Highlights(msgs)
		require.Len(t, hl, 3)
		approval := hl[1]
		assert.Nil(t, approval.Question)
		require.Len(t, approval.ToolCalls, 1)
		assert.Equal(t, StatusRunning, approval.ToolCalls[0].Status)
	})

	t.Run("pending approval with no user turn after keeps its question", func(t *testing.T) {
		msgs := p.Parse(logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", toolUse("t1", "Bash", j{"command": "make"})),
			assistantBlocks(t, "a2", textBlock("Waiting on the build approval.")),
		), 0)

		hl := p.Highlights(msgs)
		require.Len(t, hl, 3)
		require.NotNil(t, hl[1].Question)
		assert.Equal(t, StatusPending, hl[1].ToolCalls[0].Status)
	})

	t.Run("question on final message always visible", func(t *testing.T) {
		msgs := p.Parse(logOf(
			userText(t, "u1", "go"),
			assistantBlocks(t, "a1", toolUse("t1", "Bash", j{"command": "make"})),
		), 0)

		hl := p.Highlights(msgs)
		require.NotNil(t, hl[len(hl)-1].Question)
	})
}
