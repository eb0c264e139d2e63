package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/internal/store/model"
)

func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := s.db.GetContext(ctx, &p, `SELECT * FROM projects WHERE id = ?`, id)
	return wrapRow(&p, err)
}

func (s *Store) GetProjectByPath(ctx context.Context, path string) (*model.Project, error) {
	var p model.Project
	err := s.db.GetContext(ctx, &p, `SELECT * FROM projects WHERE path = ?`, path)
	return wrapRow(&p, err)
}

func (s *Store) ListProjects(ctx context.Context) ([]*model.Project, error) {
	var ps []*model.Project
	err := s.db.SelectContext(ctx, &ps, `SELECT * FROM projects ORDER BY created_at`)
	return ps, err
}

func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	err := s.db.GetContext(ctx, &sess, `SELECT * FROM sessions WHERE id = ?`, id)
	return wrapRow(&sess, err)
}

func (s *Store) GetSessionByExternalID(ctx context.Context, externalID string) (*model.Session, error) {
	var sess model.Session
	err := s.db.GetContext(ctx, &sess, `SELECT * FROM sessions WHERE external_id = ?`, externalID)
	return wrapRow(&sess, err)
}

func (s *Store) ListActiveSessionsByProject(ctx context.Context, projectID string) ([]*model.Session, error) {
	var sessions []*model.Session
	err := s.db.SelectContext(ctx, &sessions,
		`SELECT * FROM sessions WHERE project_id = ? AND closed_at IS NULL ORDER BY last_seen_at DESC`, projectID)
	return sessions, err
}

func (s *Store) ListSessionsByPanePrefix(ctx context.Context, paneHandle string, sinceSeconds int) ([]*model.Session, error) {
	var sessions []*model.Session
	err := s.db.SelectContext(ctx, &sessions,
		`SELECT * FROM sessions WHERE pane_handle = ? AND closed_at IS NULL
		 AND last_seen_at >= datetime('now', printf('-%d seconds', ?))
		 ORDER BY last_seen_at DESC`, paneHandle, sinceSeconds)
	return sessions, err
}

func (s *Store) GetOpenTask(ctx context.Context, sessionID string) (*model.Task, error) {
	var t model.Task
	err := s.db.GetContext(ctx, &t,
		`SELECT * FROM tasks WHERE session_id = ? AND state != 'COMPLETE' ORDER BY opened_at DESC LIMIT 1`, sessionID)
	return wrapRow(&t, err)
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var t model.Task
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tasks WHERE id = ?`, id)
	return wrapRow(&t, err)
}

func (s *Store) ListTasksBySession(ctx context.Context, sessionID string) ([]*model.Task, error) {
	var tasks []*model.Task
	err := s.db.SelectContext(ctx, &tasks, `SELECT * FROM tasks WHERE session_id = ? ORDER BY opened_at`, sessionID)
	return tasks, err
}

func (s *Store) ListTurnsByTask(ctx context.Context, taskID string) ([]*model.Turn, error) {
	var turns []*model.Turn
	err := s.db.SelectContext(ctx, &turns, `SELECT * FROM turns WHERE task_id = ? ORDER BY occurred_at`, taskID)
	return turns, err
}

// eventColumns coalesces the nullable audit-trail columns (project_id may
// be NULL for a hook_rejected Event with no resolvable Project, or after a
// Project deletion nulls the foreign key) so they still scan into model.Event's
// plain string fields.
const eventColumns = `id, COALESCE(project_id, '') AS project_id, COALESCE(session_id, '') AS session_id,
	COALESCE(task_id, '') AS task_id, type, COALESCE(hook_kind, '') AS hook_kind,
	COALESCE(payload, '') AS payload, created_at`

func (s *Store) ListEventsByProject(ctx context.Context, projectID string, limit int) ([]*model.Event, error) {
	var evs []*model.Event
	err := s.db.SelectContext(ctx, &evs,
		`SELECT `+eventColumns+` FROM events WHERE project_id = ? ORDER BY created_at DESC LIMIT ?`, projectID, limit)
	return evs, err
}

func (s *Store) ListEventsByType(ctx context.Context, eventType model.EventType, limit int) ([]*model.Event, error) {
	var evs []*model.Event
	err := s.db.SelectContext(ctx, &evs,
		`SELECT `+eventColumns+` FROM events WHERE type = ? ORDER BY created_at DESC LIMIT ?`, eventType, limit)
	return evs, err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func wrapRow[T any](v *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query: %w", err)
	}
	return v, nil
}
