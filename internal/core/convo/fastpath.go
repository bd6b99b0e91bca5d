package convo

import (
	"bytes"
	"io"
	"os"
)

// tailWindow is how much of the end of a log the fast path reads. Large
// enough to cover recent turns, small enough to poll many sessions per tick.
const tailWindow = 64 * 1024

// LatestActivity returns a best-effort current-activity summary by reading
// only the tail of the file, for high-frequency polling where a full
// reconstruction would be too slow.
//
// Accuracy degrades gracefully: when the relevant tool result lies outside
// the tail window the answer falls back to "" rather than guessing.
func (p *Parser) LatestActivity(path string) string {
	data, err := readTail(path, tailWindow)
	if err != nil || len(data) == 0 {
		return ""
	}

	lines := splitLines(data)

	// Completed-tool ids visible within the window only.
	completed := make(map[string]bool)
	for _, line := range lines {
		rec, ok := parseLine(line)
		if !ok {
			continue
		}
		for _, block := range decodeBlocks(rec.Message.Content) {
			if block.Kind == blockToolResult && block.ToolResult.ToolUseID != "" {
				completed[block.ToolResult.ToolUseID] = true
			}
		}
	}

	for i := len(lines) - 1; i >= 0; i-- {
		rec, ok := parseLine(lines[i])
		if !ok {
			continue
		}
		role := recordRole(rec)
		if role == "" || rec.IsSidechain || rec.IsMeta {
			continue
		}
		if role == RoleUser {
			if hasConversationContent(rec) {
				return "Processing request"
			}
			continue
		}

		var last *toolUseBlock
		for _, block := range decodeBlocks(rec.Message.Content) {
			if block.Kind == blockToolUse {
				tu := block.ToolUse
				last = &tu
			}
		}
		if last == nil {
			return ""
		}

		tc := ToolCall{ID: last.ID, Name: last.Name, Input: last.Input, Status: StatusPending}
		if completed[last.ID] {
			tc.Status = StatusCompleted
		}
		if tc.Status == StatusPending && p.vocab.RequiresApproval(tc.Name) {
			return approvalPrompt(tc)
		}
		return p.describeTool(tc)
	}

	return ""
}

// hasConversationContent reports whether a user record carries actual text
// rather than only tool-result plumbing.
func hasConversationContent(rec rawRecord) bool {
	for _, block := range decodeBlocks(rec.Message.Content) {
		if (block.Kind == blockText || block.Kind == blockThinking) && block.Text != "" {
			return true
		}
	}
	return false
}

// readTail reads at most max bytes from the end of the file, aligned to
// the first complete line when truncated.
func readTail(path string, max int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	offset := int64(0)
	if info.Size() > max {
		offset = info.Size() - max
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	if offset > 0 {
		// Drop the leading partial line.
		if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
			data = data[idx+1:]
		} else {
			data = nil
		}
	}
	return data, nil
}
