package convo

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hexidecibel/companion/internal/core/config"
	"github.com/Hexidecibel/companion/internal/core/logging"
)

// Parser reconstructs conversations from raw log bytes. It owns the
// rate-limited warning cache for malformed or unrecognized producer output.
type Parser struct {
	vocab config.ToolVocabulary
	warn  *logging.Limiter
	log   zerolog.Logger
}

// NewParser creates a Parser for the given tool vocabulary.
func NewParser(vocab config.ToolVocabulary) *Parser {
	return &Parser{
		vocab: vocab,
		warn:  logging.NewLimiter(logging.DefaultWarnInterval),
		log:   logging.Component("convo"),
	}
}

// Vocabulary returns the tool vocabulary the parser was built with.
func (p *Parser) Vocabulary() config.ToolVocabulary {
	return p.vocab
}

// toolResult is the pass-1 view of one tool's later result record.
type toolResult struct {
	Text    string
	IsError bool
	At      time.Time
}

// Parse reconstructs the conversation from the full current log content,
// most-recent last, truncated to at most limit messages (oldest dropped
// first). limit <= 0 means unlimited.
//
// Reconstruction is deterministic: the same bytes always yield the same
// message list.
func (p *Parser) Parse(data []byte, limit int) []Message {
	lines := splitLines(data)

	// Pass 1: tool lifecycle tables keyed by invocation id. Status depends
	// on whether a result appears anywhere later in the file, so this must
	// precede message construction.
	started := make(map[string]time.Time)
	results := make(map[string]toolResult)

	for _, line := range lines {
		rec, ok := parseLine(line)
		if !ok {
			continue
		}
		ts := rec.when()
		for _, block := range decodeBlocks(rec.Message.Content) {
			switch block.Kind {
			case blockToolUse:
				if block.ToolUse.ID != "" {
					started[block.ToolUse.ID] = ts
				}
			case blockToolResult:
				if block.ToolResult.ToolUseID != "" {
					results[block.ToolResult.ToolUseID] = toolResult{
						Text:    block.ToolResult.Content,
						IsError: block.ToolResult.IsError,
						At:      ts,
					}
				}
			}
		}
	}

	// Pass 2: newest to oldest, stopping at twice the limit. The overshoot
	// is an optimization bound only; the tail truncation below is exact.
	bound := 0
	if limit > 0 {
		bound = 2 * limit
	}

	var reversed []Message
	for i := len(lines) - 1; i >= 0; i-- {
		rec, ok := parseLine(lines[i])
		if !ok {
			continue
		}
		msg, ok := p.buildMessage(rec, started, results)
		if !ok {
			continue
		}
		reversed = append(reversed, msg)
		if bound > 0 && len(reversed) >= bound {
			break
		}
	}

	messages := make([]Message, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		messages = append(messages, reversed[i])
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages
}

func splitLines(data []byte) [][]byte {
	return bytes.Split(data, []byte("\n"))
}

// parseLine decodes one log line. Unparseable lines are expected (trailing
// partial writes from the racing producer) and reported as not-a-record.
func parseLine(line []byte) (rawRecord, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return rawRecord{}, false
	}
	var rec rawRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return rawRecord{}, false
	}
	return rec, true
}

// buildMessage constructs one ConversationMessage from a user/assistant
// record. Records of other types, sidechain (sub-agent) records, and meta
// records produce no message.
func (p *Parser) buildMessage(rec rawRecord, started map[string]time.Time, results map[string]toolResult) (Message, bool) {
	role := recordRole(rec)
	if role == "" {
		if rec.Type != "" && rec.Type != "summary" && rec.Type != "system" {
			p.warnOnce("entry:"+rec.Type, func(e *zerolog.Event) {
				e.Str("type", rec.Type).Msg("unrecognized log entry type")
			})
		}
		return Message{}, false
	}
	if rec.IsSidechain || rec.IsMeta {
		return Message{}, false
	}

	msg := Message{
		ID:        rec.UUID,
		Role:      role,
		Timestamp: rec.when(),
	}

	var texts []string
	var thinking []string

	for _, block := range decodeBlocks(rec.Message.Content) {
		switch block.Kind {
		case blockText:
			if block.Text != "" {
				texts = append(texts, block.Text)
			}
		case blockThinking:
			if block.Text != "" {
				thinking = append(thinking, block.Text)
			}
		case blockToolUse:
			msg.ToolCalls = append(msg.ToolCalls, p.resolveTool(block.ToolUse, rec, started, results))
		case blockToolResult:
			// Result payloads ride on user-type records; they are consumed
			// in pass 1 and are not conversation content.
		case blockUnknown:
			p.warnOnce(rec.UUID+":"+block.RawType, func(e *zerolog.Event) {
				e.Str("block_type", block.RawType).Str("uuid", rec.UUID).Msg("unrecognized content block type")
			})
		}
	}

	msg.Text = joinParagraphs(texts)
	if msg.Text == "" {
		msg.Text = joinParagraphs(thinking)
	}

	// A user record carrying only tool results is plumbing, not a turn.
	if role == RoleUser && msg.Text == "" && len(msg.ToolCalls) == 0 {
		return Message{}, false
	}

	if role == RoleAssistant {
		p.attachQuestion(&msg)
	}

	return msg, true
}

func recordRole(rec rawRecord) Role {
	switch rec.Type {
	case "user":
		return RoleUser
	case "assistant":
		return RoleAssistant
	}
	switch rec.Message.Role {
	case "user":
		return RoleUser
	case "assistant":
		return RoleAssistant
	}
	return ""
}

// resolveTool derives a ToolCall's lifecycle from the pass-1 tables.
func (p *Parser) resolveTool(tu toolUseBlock, rec rawRecord, started map[string]time.Time, results map[string]toolResult) ToolCall {
	tc := ToolCall{
		ID:     tu.ID,
		Name:   tu.Name,
		Input:  tu.Input,
		Status: StatusPending,
	}

	if ts, ok := started[tu.ID]; ok {
		tc.StartedAt = ts
	} else {
		tc.StartedAt = rec.when()
	}

	if res, ok := results[tu.ID]; ok && tu.ID != "" {
		tc.Status = StatusCompleted
		if res.IsError {
			tc.Status = StatusError
		}
		tc.Output = res.Text
		tc.CompletedAt = res.At
	}

	if tu.Name != p.vocab.QuestionTool && p.vocab.Verb(tu.Name) == "" {
		p.warnOnce("tool:"+tu.Name, func(e *zerolog.Event) {
			e.Str("tool", tu.Name).Msg("unknown tool name")
		})
	}

	return tc
}

// attachQuestion extracts or synthesizes the message's interactive question.
// The dedicated question tool wins over approval synthesis.
func (p *Parser) attachQuestion(msg *Message) {
	for i := len(msg.ToolCalls) - 1; i >= 0; i-- {
		tc := msg.ToolCalls[i]
		if tc.Name != p.vocab.QuestionTool {
			continue
		}

		q := questionFromInput(tc.Input)
		if tc.Status == StatusPending {
			if q.Prompt != "" {
				msg.Text = q.Prompt
			}
			msg.Question = &q
			msg.WaitingForChoice = true
			msg.MultiSelect = q.MultiSelect
		} else if q.Prompt != "" {
			// Already answered: show what was asked, never re-prompt.
			msg.Text = q.Prompt
		}
		return
	}

	for i := len(msg.ToolCalls) - 1; i >= 0; i-- {
		tc := msg.ToolCalls[i]
		if tc.Status == StatusPending && p.vocab.RequiresApproval(tc.Name) {
			msg.Question = &Question{
				Prompt: approvalPrompt(tc),
				Header: "Approval required",
				Options: []QuestionOption{
					{Label: "Yes", Description: "Approve and continue"},
					{Label: "No", Description: "Tell the assistant what to do differently"},
				},
			}
			msg.WaitingForChoice = true
			return
		}
	}
}

// questionFromInput decodes the question tool's structured input, which
// wraps one or more questions in a "questions" array.
func questionFromInput(input map[string]any) Question {
	var q Question

	questions, _ := input["questions"].([]any)
	if len(questions) > 0 {
		first, _ := questions[0].(map[string]any)
		q.Prompt = stringField(first, "question")
		q.Header = stringField(first, "header")
		q.MultiSelect, _ = first["multiSelect"].(bool)
		options, _ := first["options"].([]any)
		for _, raw := range options {
			opt, _ := raw.(map[string]any)
			if opt == nil {
				continue
			}
			q.Options = append(q.Options, QuestionOption{
				Label:       stringField(opt, "label"),
				Description: stringField(opt, "description"),
			})
		}
		return q
	}

	// Older producers put the prompt at the top level.
	q.Prompt = stringField(input, "question")
	if q.Prompt == "" {
		q.Prompt = stringField(input, "prompt")
	}
	return q
}

func (p *Parser) warnOnce(key string, emit func(*zerolog.Event)) {
	if p.warn.Allow(key) {
		emit(p.log.Warn())
	}
}

func joinParagraphs(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	joined := parts[0]
	for _, part := range parts[1:] {
		joined += "\n\n" + part
	}
	return joined
}
