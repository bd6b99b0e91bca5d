// Package convo reconstructs typed conversation state from the assistant
// CLI's append-only JSONL session logs. The log is written by an external,
// possibly-racing process: every per-line failure is recovered locally and
// reconstruction is safe to run against a file that is still growing.
package convo

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

// Roles for conversation messages.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolStatus is the derived lifecycle state of a tool invocation.
type ToolStatus string

// Tool lifecycle states. A tool call is pending until a matching result
// record with the same id appears later in the log.
const (
	StatusPending   ToolStatus = "pending"
	StatusRunning   ToolStatus = "running"
	StatusCompleted ToolStatus = "completed"
	StatusError     ToolStatus = "error"
)

// ToolCall is one invocation issued by the assistant.
type ToolCall struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Input       map[string]any `json:"input,omitempty"`
	Output      string         `json:"output,omitempty"`
	Status      ToolStatus     `json:"status"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	CompletedAt time.Time      `json:"completed_at,omitzero"`
}

// QuestionOption is one selectable answer for a Question.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Question is an interactive decision point surfaced to the human, either
// extracted from the dedicated question tool or synthesized for a pending
// approval-required tool.
type Question struct {
	Prompt      string           `json:"prompt"`
	Header      string           `json:"header,omitempty"`
	Options     []QuestionOption `json:"options,omitempty"`
	MultiSelect bool             `json:"multi_select,omitempty"`
}

// Message is one logical conversation turn. Messages are immutable once
// produced and are superseded wholesale on the next reconstruction pass.
type Message struct {
	ID               string     `json:"id"`
	Role             Role       `json:"role"`
	Text             string     `json:"text,omitempty"`
	Timestamp        time.Time  `json:"timestamp,omitzero"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	Question         *Question  `json:"question,omitempty"`
	WaitingForChoice bool       `json:"waiting_for_choice,omitempty"`
	MultiSelect      bool       `json:"multi_select,omitempty"`
}

// HasPendingTool reports whether any tool call is still pending.
func (m Message) HasPendingTool() bool {
	for _, tc := range m.ToolCalls {
		if tc.Status == StatusPending {
			return true
		}
	}
	return false
}

// rawRecord is the wire shape of one log line. Fields the reconstructor
// does not consume are omitted; unknown fields are ignored by design.
type rawRecord struct {
	Type             string          `json:"type"`
	Subtype          string          `json:"subtype"`
	UUID             string          `json:"uuid"`
	ParentUUID       *string         `json:"parentUuid"`
	IsSidechain      bool            `json:"isSidechain"`
	IsMeta           bool            `json:"isMeta"`
	IsCompactSummary bool            `json:"isCompactSummary"`
	Timestamp        string          `json:"timestamp"`
	Summary          string          `json:"summary"`
	Content          json.RawMessage `json:"content"`
	Message          rawMessage      `json:"message"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// when parses a record timestamp leniently; the zero time means unknown.
func (r rawRecord) when() time.Time {
	if r.Timestamp == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, r.Timestamp); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
		return ts
	}
	return time.Time{}
}

// blockKind closes the set of content block shapes the producer emits.
type blockKind int

const (
	blockText blockKind = iota
	blockThinking
	blockToolUse
	blockToolResult
	blockUnknown
)

// contentBlock is the decoded tagged union of one content block.
type contentBlock struct {
	Kind       blockKind
	Text       string
	ToolUse    toolUseBlock
	ToolResult toolResultBlock
	RawType    string
}

type toolUseBlock struct {
	ID    string
	Name  string
	Input map[string]any
}

type toolResultBlock struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// rawBlock is the superset wire shape used to classify one block.
type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// decodeBlocks decodes a message content document. String content yields a
// single text block used verbatim. Array content yields one tagged block per
// element; elements that fail to decode are dropped.
func decodeBlocks(raw json.RawMessage) []contentBlock {
	if len(raw) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return nil
		}
		return []contentBlock{{Kind: blockText, Text: asString}}
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil
	}

	blocks := make([]contentBlock, 0, len(elements))
	for _, element := range elements {
		var rb rawBlock
		if err := json.Unmarshal(element, &rb); err != nil {
			continue
		}

		switch rb.Type {
		case "text":
			blocks = append(blocks, contentBlock{Kind: blockText, Text: rb.Text})
		case "thinking":
			blocks = append(blocks, contentBlock{Kind: blockThinking, Text: rb.Thinking})
		case "tool_use":
			blocks = append(blocks, contentBlock{Kind: blockToolUse, ToolUse: toolUseBlock{
				ID:    rb.ID,
				Name:  rb.Name,
				Input: rb.Input,
			}})
		case "tool_result":
			blocks = append(blocks, contentBlock{Kind: blockToolResult, ToolResult: toolResultBlock{
				ToolUseID: rb.ToolUseID,
				Content:   flattenResultContent(rb.Content),
				IsError:   rb.IsError,
			}})
		default:
			blocks = append(blocks, contentBlock{Kind: blockUnknown, RawType: rb.Type})
		}
	}
	return blocks
}

// flattenResultContent extracts the text of a tool result, which the
// producer writes either as a plain string or as an array of text blocks.
func flattenResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var parts []rawBlock
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}

	var texts []string
	for _, part := range parts {
		if part.Type == "text" && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// stringField reads a string-valued key from a tool input document,
// accepting absent keys and non-string values as empty.
func stringField(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	if s, ok := input[key].(string); ok {
		return s
	}
	return ""
}
