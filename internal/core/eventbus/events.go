// Package eventbus provides a typed publish/subscribe event bus for
// cross-component communication within companion.
//
// Delivery is synchronous and in subscriber registration order, with no
// retry: Publish returns only after every subscriber has run. Subscribers
// receive payloads as immutable snapshots and must not mutate them.
package eventbus

import (
	"time"

	"github.com/Hexidecibel/companion/internal/core/convo"
)

// Event names. Keep list sorted A-Z.
const (
	EventCompaction           Event = "conversation.compacted"
	EventConversationUpdate   Event = "conversation.updated"
	EventErrorDetected        Event = "error.detected"
	EventOtherSessionActivity Event = "session.background-activity"
	EventPendingApproval      Event = "approval.pending"
	EventSessionCompleted     Event = "session.completed"
	EventStatusChange         Event = "status.changed"
	EventWatcherError         Event = "watcher.error"
)

// ConversationUpdatePayload is emitted when a session's reconstructed
// conversation changes.
type ConversationUpdatePayload struct {
	SessionID  string          `json:"session_id"`
	Path       string          `json:"path"`
	Messages   []convo.Message `json:"messages"`
	Highlights []convo.Message `json:"highlights,omitempty"`
}

// StatusChangePayload is emitted when the active session's waiting flag or
// current activity changes.
type StatusChangePayload struct {
	SessionID   string `json:"session_id"`
	Waiting     bool   `json:"waiting"`
	Activity    string `json:"activity,omitempty"`
	LastMessage string `json:"last_message,omitempty"`
}

// PendingApprovalPayload is emitted when a session newly blocks on one or
// more approval-required tool calls.
type PendingApprovalPayload struct {
	SessionID   string   `json:"session_id"`
	ProjectPath string   `json:"project_path"`
	Tools       []string `json:"tools"`
}

// ErrorDetectedPayload is emitted when a session's newest turn surfaces a
// tool error that was not present before.
type ErrorDetectedPayload struct {
	SessionID   string `json:"session_id"`
	ProjectPath string `json:"project_path"`
	DisplayName string `json:"display_name"`
	Preview     string `json:"preview,omitempty"`
}

// SessionCompletedPayload is emitted when a session's last running tool
// finishes and the assistant goes idle.
type SessionCompletedPayload struct {
	SessionID   string `json:"session_id"`
	ProjectPath string `json:"project_path"`
	DisplayName string `json:"display_name"`
	Preview     string `json:"preview,omitempty"`
}

// CompactionPayload is emitted when a compaction checkpoint is detected in
// a session's log.
type CompactionPayload struct {
	SessionID   string    `json:"session_id"`
	DisplayName string    `json:"display_name"`
	ProjectPath string    `json:"project_path"`
	Summary     string    `json:"summary,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
}

// OtherSessionActivityPayload is emitted for activity in a tracked session
// other than the active one.
type OtherSessionActivityPayload struct {
	SessionID   string `json:"session_id"`
	ProjectPath string `json:"project_path"`
	DisplayName string `json:"display_name"`
	Waiting     bool   `json:"waiting"`
	LastMessage string `json:"last_message,omitempty"`
	NewMessages int    `json:"new_messages"`
}

// WatcherErrorPayload is emitted when the filesystem watch subsystem fails
// irrecoverably. No session tracking can proceed past this point; the host
// decides whether to restart or exit.
type WatcherErrorPayload struct {
	Err error
}
