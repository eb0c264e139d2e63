// Package model defines headspace's entity set: Project, Session, Task,
// Turn, Event, and their supporting enums.
package model

import "time"

// TaskState is the canonical lifecycle state of a Task.
type TaskState string

const (
	TaskIdle           TaskState = "IDLE"
	TaskCommanded      TaskState = "COMMANDED"
	TaskProcessing     TaskState = "PROCESSING"
	TaskAwaitingInput  TaskState = "AWAITING_INPUT"
	TaskComplete       TaskState = "COMPLETE"
)

// TurnActor identifies who produced a Turn.
type TurnActor string

const (
	ActorUser  TurnActor = "user"
	ActorAgent TurnActor = "agent"
)

// TurnIntent classifies the content of a Turn once the State Machine's
// intent detector has inspected it.
type TurnIntent string

const (
	IntentCommand    TurnIntent = "COMMAND"
	IntentAnswer     TurnIntent = "ANSWER"
	IntentQuestion   TurnIntent = "QUESTION"
	IntentProgress   TurnIntent = "PROGRESS"
	IntentCompletion TurnIntent = "COMPLETION"
	IntentEndOfTask  TurnIntent = "END_OF_TASK"
)

// TimestampSource records which arrival path produced a Turn's canonical
// timestamp: the hook path is lower latency and wins ties against the
// transcript reconciliation path.
type TimestampSource string

const (
	TimestampSourceHook       TimestampSource = "hook"
	TimestampSourceTranscript TimestampSource = "jsonl"
)

// EventType enumerates the kinds of entries appended to the Event log.
type EventType string

const (
	EventHookAccepted     EventType = "hook_accepted"
	EventHookRejected     EventType = "hook_rejected"
	EventStateTransition  EventType = "state_transition"
	EventTurnAppended     EventType = "turn_appended"
	EventSessionResolved  EventType = "session_resolved"
	EventAvailability     EventType = "availability_changed"
	EventSessionInactive  EventType = "session_inactive"
)

// Project is a registered coding project root directory.
type Project struct {
	ID        string    `db:"id" json:"id"`
	Path      string    `db:"path" json:"path"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Session is one long-lived agent session on one project.
type Session struct {
	ID                string     `db:"id" json:"id"`
	ProjectID         string     `db:"project_id" json:"project_id"`
	ExternalID        string     `db:"external_id" json:"external_id"`
	PaneHandle        string     `db:"pane_handle" json:"pane_handle,omitempty"`
	TmuxName          string     `db:"tmux_name" json:"tmux_name,omitempty"`
	PredecessorID     string     `db:"predecessor_id" json:"predecessor_id,omitempty"`
	LastSeenAt        time.Time  `db:"last_seen_at" json:"last_seen_at"`
	TranscriptPath    string     `db:"transcript_path" json:"transcript_path,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	ClosedAt          *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

// Task is one unit of agent work within a Session, exactly one of which may
// be open (state != COMPLETE) per session at a time.
type Task struct {
	ID                 string     `db:"id" json:"id"`
	SessionID          string     `db:"session_id" json:"session_id"`
	State              TaskState  `db:"state" json:"state"`
	Instruction        string     `db:"instruction" json:"instruction,omitempty"`
	CompletionSummary  string     `db:"completion_summary" json:"completion_summary,omitempty"`
	OpenedAt           time.Time  `db:"opened_at" json:"opened_at"`
	ClosedAt           *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

// Turn is one user or agent message within a Task.
type Turn struct {
	ID               string          `db:"id" json:"id"`
	TaskID           string          `db:"task_id" json:"task_id"`
	Actor            TurnActor       `db:"actor" json:"actor"`
	Intent           TurnIntent      `db:"intent" json:"intent"`
	Content          string          `db:"content" json:"content"`
	ContentHash      string          `db:"content_hash" json:"content_hash"`
	TimestampSource  TimestampSource `db:"timestamp_source" json:"timestamp_source"`
	OccurredAt       time.Time       `db:"occurred_at" json:"occurred_at"`
}

// Event is an immutable, append-only log entry recording every accepted
// hook and every state transition headspace ever produced.
type Event struct {
	ID        string    `db:"id" json:"id"`
	ProjectID string    `db:"project_id" json:"project_id"`
	SessionID string    `db:"session_id" json:"session_id,omitempty"`
	TaskID    string    `db:"task_id" json:"task_id,omitempty"`
	Type      EventType `db:"type" json:"type"`
	HookKind  string    `db:"hook_kind" json:"hook_kind,omitempty"`
	Payload   string    `db:"payload" json:"payload,omitempty"` // raw JSON
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
