package convo

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxPreviewLen caps command and prompt previews in derived strings.
const maxPreviewLen = 120

// questionPhrases are the closed set of lexical cues that mark assistant
// text as a question for the human. Vocabulary drift is expected; see the
// tool vocabulary table in config.
var questionPhrases = []string{
	"would you like",
	"let me know",
	"please confirm",
}

// DetectWaiting reports whether the conversation is waiting for human
// input: the newest message is from the assistant and either blocks on a
// question/approval, reads as a question, or has finished all its tools.
func (p *Parser) DetectWaiting(messages []Message) bool {
	if len(messages) == 0 {
		return false
	}
	last := messages[len(messages)-1]
	if last.Role != RoleAssistant {
		return false
	}

	if last.WaitingForChoice {
		return true
	}
	for _, tc := range last.ToolCalls {
		if tc.Status == StatusPending && p.vocab.RequiresApproval(tc.Name) {
			return true
		}
	}

	// A textless message gives the human nothing to respond to, even when
	// every tool has finished. The assistant is between turns, not waiting.
	if last.Text == "" {
		return false
	}
	if isQuestionText(last.Text) {
		return true
	}
	return !last.HasPendingTool()
}

func isQuestionText(text string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, phrase := range questionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// CurrentActivity returns a human-readable description of what the session
// is doing right now, or "" when idle. Waiting has its own indicator and is
// deliberately not reported here.
func (p *Parser) CurrentActivity(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	last := messages[len(messages)-1]
	if last.Role == RoleUser {
		return "Processing request"
	}
	if len(last.ToolCalls) == 0 {
		return ""
	}

	tc := last.ToolCalls[len(last.ToolCalls)-1]
	if tc.Status == StatusPending && p.vocab.RequiresApproval(tc.Name) {
		return approvalPrompt(tc)
	}
	return p.describeTool(tc)
}

// describeTool renders "verb: detail" for a tool call, with a truncated
// command or file name appended when the input carries one.
func (p *Parser) describeTool(tc ToolCall) string {
	verb := p.vocab.Verb(tc.Name)
	if verb == "" {
		verb = "Using " + tc.Name
	}

	detail := ""
	if cmd := stringField(tc.Input, "command"); cmd != "" {
		detail = truncate(cmd, maxPreviewLen)
	} else if path := toolTargetPath(tc.Input); path != "" {
		detail = filepath.Base(path)
	} else if desc := stringField(tc.Input, "description"); desc != "" {
		detail = truncate(desc, maxPreviewLen)
	}

	if detail == "" {
		return verb
	}
	return verb + ": " + detail
}

// approvalPrompt phrases the synthesized yes/no question for a pending
// approval-required tool. The phrasing keys off the input document rather
// than the tool name so a renamed producer tool still previews sensibly.
func approvalPrompt(tc ToolCall) string {
	if cmd := stringField(tc.Input, "command"); cmd != "" {
		return fmt.Sprintf("Run `%s`?", truncate(cmd, maxPreviewLen))
	}
	if path := toolTargetPath(tc.Input); path != "" {
		return fmt.Sprintf("Allow changes to %s?", path)
	}
	if desc := stringField(tc.Input, "description"); desc != "" {
		return fmt.Sprintf("Start sub-task: %s?", truncate(desc, maxPreviewLen))
	}
	return fmt.Sprintf("Allow %s?", tc.Name)
}

func toolTargetPath(input map[string]any) string {
	if path := stringField(input, "file_path"); path != "" {
		return path
	}
	return stringField(input, "notebook_path")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// Highlights selects the messages worth rendering and enforces question
// visibility: a Question is shown only on the final message, or on an
// earlier message whose approval-required tool is still pending with no
// user turn after it. Pending approval tools that were superseded by a
// later user turn are redisplayed as running so the view never suggests an
// approval that has already been given.
func (p *Parser) Highlights(messages []Message) []Message {
	lastUserIdx := -1
	for i, m := range messages {
		if m.Role == RoleUser {
			lastUserIdx = i
		}
	}

	var out []Message
	for i, m := range messages {
		if m.Text == "" && len(m.ToolCalls) == 0 {
			continue
		}

		isLast := i == len(messages)-1
		userAfter := lastUserIdx > i

		if !isLast && m.Question != nil {
			keep := !userAfter && m.HasPendingTool()
			if !keep {
				m.Question = nil
				m.WaitingForChoice = false
			}
		}

		if userAfter && m.HasPendingTool() {
			calls := make([]ToolCall, len(m.ToolCalls))
			copy(calls, m.ToolCalls)
			for j := range calls {
				if calls[j].Status == StatusPending {
					calls[j].Status = StatusRunning
				}
			}
			m.ToolCalls = calls
		}

		out = append(out, m)
	}
	return out
}
