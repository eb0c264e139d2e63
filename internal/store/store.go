// Package store defines the Persistence Store contract: a transactional
// unit-of-work over Projects, Sessions, Tasks, Turns, and the Event log.
// Concrete backends live in store/sqlite (default) and store/postgres.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/samotage/claude-headspace-sub014/internal/store/model"
)

// ErrConflict wraps a unique-constraint violation — a duplicate hook
// delivery, a second open Task on a Session, or a duplicate Turn content
// hash within a Task.
var ErrConflict = errors.New("store: conflict")

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrUnregisteredProject indicates Session resolution reached strategy 6
// and found no Project for the working directory.
var ErrUnregisteredProject = errors.New("store: unregistered project")

// Store is the read-mostly entry point every component is handed at wiring
// time. Writers go through WithTx so every mutation is atomic with the
// Event log entry it produces.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error

	GetProject(ctx context.Context, id string) (*model.Project, error)
	GetProjectByPath(ctx context.Context, path string) (*model.Project, error)
	ListProjects(ctx context.Context) ([]*model.Project, error)

	GetSession(ctx context.Context, id string) (*model.Session, error)
	GetSessionByExternalID(ctx context.Context, externalID string) (*model.Session, error)
	ListActiveSessionsByProject(ctx context.Context, projectID string) ([]*model.Session, error)
	ListSessionsByPanePrefix(ctx context.Context, paneHandle string, sinceSeconds int) ([]*model.Session, error)

	GetOpenTask(ctx context.Context, sessionID string) (*model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasksBySession(ctx context.Context, sessionID string) ([]*model.Task, error)

	ListTurnsByTask(ctx context.Context, taskID string) ([]*model.Turn, error)

	ListEventsByProject(ctx context.Context, projectID string, limit int) ([]*model.Event, error)
	ListEventsByType(ctx context.Context, eventType model.EventType, limit int) ([]*model.Event, error)

	Ping(ctx context.Context) error
	Close() error
}

// Tx carries every write operation. All writes within one Tx commit or
// roll back together — the mechanism invariants (1), (3), (5), (6) of the
// data model rely on.
type Tx interface {
	CreateProject(ctx context.Context, p *model.Project) error

	CreateSession(ctx context.Context, s *model.Session) error
	UpsertSessionSighting(ctx context.Context, sessionID string, paneHandle, tmuxName string, seenAt time.Time) error
	TouchSession(ctx context.Context, sessionID string) error
	CloseSession(ctx context.Context, sessionID string) error
	SetSessionTranscriptPath(ctx context.Context, sessionID, path string) error

	OpenTask(ctx context.Context, t *model.Task) error
	UpdateTaskState(ctx context.Context, taskID string, state model.TaskState) error
	SetTaskInstruction(ctx context.Context, taskID, instruction string) error
	SetTaskCompletionSummary(ctx context.Context, taskID, summary string) error
	CloseTask(ctx context.Context, taskID string) error

	AppendTurn(ctx context.Context, t *model.Turn) error
	UpdateTurnTimestamp(ctx context.Context, turnID string, source model.TimestampSource, occurredAt time.Time) error

	AppendEvent(ctx context.Context, e *model.Event) error

	// RecordHookReceipt inserts the idempotency ledger row for a hook
	// delivery. Returns ErrConflict when (sessionID, hookKind, dedupeKey)
	// was already recorded — the caller should treat the hook as already
	// applied rather than surfacing an error to the agent.
	RecordHookReceipt(ctx context.Context, sessionID, hookKind, dedupeKey string) error
}
