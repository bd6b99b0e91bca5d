package convo

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// Task tool vocabulary. Creation results reveal the assigned id via the
// createdIDPattern; the creation call itself never carries one.
const (
	taskCreateTool = "TaskCreate"
	taskUpdateTool = "TaskUpdate"
)

// Task statuses written by the producer. "deleted" is an update command,
// not a stored state: it removes the item entirely.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	taskDeleted    = "deleted"
)

var createdIDPattern = regexp.MustCompile(`(?i)created with ID:\s*(\d+)`)

// TaskItem is one unit of work tracked through the task tool vocabulary.
type TaskItem struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	ActiveForm  string    `json:"active_form,omitempty"`
	Owner       string    `json:"owner,omitempty"`
	BlockedBy   []string  `json:"blocked_by,omitempty"`
	Blocks      []string  `json:"blocks,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// ExtractTasks scans the log for task create/update tool calls and returns
// the resolved task table sorted by numeric id ascending.
//
// Ids are assigned asynchronously: a created task stays provisional, keyed
// by its invocation id, until a matching result record reveals the numeric
// id. Updates referencing an id that never resolved are no-ops.
func (p *Parser) ExtractTasks(data []byte) []TaskItem {
	provisional := make(map[string]TaskItem) // invocation id -> draft
	tasks := make(map[string]TaskItem)       // resolved id -> task

	forEachLine(data, func(rec rawRecord) {
		ts := rec.when()
		for _, block := range decodeBlocks(rec.Message.Content) {
			switch block.Kind {
			case blockToolUse:
				switch block.ToolUse.Name {
				case taskCreateTool:
					provisional[block.ToolUse.ID] = draftTask(block.ToolUse.Input, ts)
				case taskUpdateTool:
					applyTaskUpdate(tasks, block.ToolUse.Input, ts)
				}
			case blockToolResult:
				draft, ok := provisional[block.ToolResult.ToolUseID]
				if !ok {
					continue
				}
				match := createdIDPattern.FindStringSubmatch(block.ToolResult.Content)
				if match == nil {
					continue
				}
				delete(provisional, block.ToolResult.ToolUseID)
				draft.ID = match[1]
				tasks[draft.ID] = draft
			}
		}
	})

	out := make([]TaskItem, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task)
	}
	sortTasksByID(out)
	return out
}

func draftTask(input map[string]any, ts time.Time) TaskItem {
	return TaskItem{
		Subject:     stringField(input, "subject"),
		Description: stringField(input, "description"),
		Status:      TaskPending,
		ActiveForm:  stringField(input, "activeForm"),
		Owner:       stringField(input, "owner"),
		BlockedBy:   stringSlice(input["blockedBy"]),
		Blocks:      stringSlice(input["blocks"]),
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
}

func applyTaskUpdate(tasks map[string]TaskItem, input map[string]any, ts time.Time) {
	id := idString(input["taskId"])
	task, ok := tasks[id]
	if !ok {
		return
	}

	status := stringField(input, "status")
	if status == taskDeleted {
		delete(tasks, id)
		return
	}
	if status != "" {
		task.Status = status
	}

	if subject := stringField(input, "subject"); subject != "" {
		task.Subject = subject
	}
	if description := stringField(input, "description"); description != "" {
		task.Description = description
	}
	if owner := stringField(input, "owner"); owner != "" {
		task.Owner = owner
	}

	activeForm := stringField(input, "activeForm")
	switch {
	case activeForm != "":
		task.ActiveForm = activeForm
	case status == TaskCompleted:
		// Completion retires the in-progress label unless the same update
		// replaced it.
		task.ActiveForm = ""
	}

	task.BlockedBy = append(task.BlockedBy, stringSlice(input["addBlockedBy"])...)
	task.Blocks = append(task.Blocks, stringSlice(input["addBlocks"])...)
	task.UpdatedAt = ts

	tasks[id] = task
}

// forEachLine runs fn over every parseable record in file order.
func forEachLine(data []byte, fn func(rawRecord)) {
	for _, line := range splitLines(data) {
		if rec, ok := parseLine(line); ok {
			fn(rec)
		}
	}
}

// idString normalizes a task id that the producer writes either as a JSON
// string or as a number.
func idString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatInt(int64(value), 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(value)
	}
}

func stringSlice(v any) []string {
	items, _ := v.([]any)
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sortTasksByID(tasks []TaskItem) {
	numeric := func(id string) int {
		n, err := strconv.Atoi(id)
		if err != nil {
			return int(^uint(0) >> 1)
		}
		return n
	}
	sort.Slice(tasks, func(i, j int) bool {
		return numeric(tasks[i].ID) < numeric(tasks[j].ID)
	})
}
