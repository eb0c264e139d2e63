// Package hookproto defines the typed JSON schemas for each of the
// eight lifecycle hook kinds spec.md §4.3 accepts; the session
// registration and respond DTOs live in pkg/api. Grounded on the teacher's
// dto-per-endpoint idiom (one small struct per wire shape, validated
// with gin's binding tags).
package hookproto

// Kind enumerates the eight hook kinds the receiver accepts.
type Kind string

const (
	KindSessionStart      Kind = "session_start"
	KindUserPromptSubmit  Kind = "user_prompt_submit"
	KindPreToolUse        Kind = "pre_tool_use"
	KindPostToolUse       Kind = "post_tool_use"
	KindNotification      Kind = "notification"
	KindPermissionRequest Kind = "permission_request"
	KindStop              Kind = "stop"
	KindSessionEnd        Kind = "session_end"
)

// ValidKinds lists every accepted hook path segment, used to register
// routes and to validate Kind values parsed from elsewhere.
var ValidKinds = []Kind{
	KindSessionStart, KindUserPromptSubmit, KindPreToolUse, KindPostToolUse,
	KindNotification, KindPermissionRequest, KindStop, KindSessionEnd,
}

// Base carries the fields common to every hook kind.
type Base struct {
	SessionID         string `json:"session_id" binding:"required"`
	WorkingDir        string `json:"working_dir"`
	EventID           string `json:"event_id"`
	PaneHandle        string `json:"pane_handle"`
	TmuxSession       string `json:"tmux_session"`
	TmuxPaneID        string `json:"tmux_pane_id"`
	PersonaSlug       string `json:"persona_slug"`
	PreviousSessionID string `json:"previous_session_id"`
}

// SessionStart is the session_start hook payload.
type SessionStart struct {
	Base
}

// UserPromptSubmit is the user_prompt_submit hook payload.
type UserPromptSubmit struct {
	Base
	PromptText string `json:"prompt_text" binding:"required"`
}

// PreToolUse is the pre_tool_use hook payload.
type PreToolUse struct {
	Base
	ToolName string `json:"tool_name"`
}

// PostToolUse is the post_tool_use hook payload. TranscriptText, when
// present, carries intermediate agent text observed between tool calls.
type PostToolUse struct {
	Base
	ToolName       string `json:"tool_name"`
	TranscriptText string `json:"transcript_text"`
}

// Notification is the notification hook payload.
type Notification struct {
	Base
	Message string `json:"message"`
}

// PermissionRequest is the permission_request hook payload.
type PermissionRequest struct {
	Base
	ToolName string `json:"tool_name"`
}

// Stop is the stop hook payload.
type Stop struct {
	Base
	AgentText      string `json:"agent_text"`
	TranscriptPath string `json:"transcript_path"`
}

// SessionEnd is the session_end hook payload.
type SessionEnd struct {
	Base
}
