package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/internal/store/model"
)

func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, path, name, created_at FROM projects WHERE id = $1`, id)
	var p model.Project
	err := row.Scan(&p.ID, &p.Path, &p.Name, &p.CreatedAt)
	return wrapRow(&p, err)
}

func (s *Store) GetProjectByPath(ctx context.Context, path string) (*model.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, path, name, created_at FROM projects WHERE path = $1`, path)
	var p model.Project
	err := row.Scan(&p.ID, &p.Path, &p.Name, &p.CreatedAt)
	return wrapRow(&p, err)
}

func (s *Store) ListProjects(ctx context.Context) ([]*model.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, path, name, created_at FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Path, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.pool.QueryRow(ctx, sessionSelect+` WHERE id = $1`, id)
	return scanSession(row)
}

func (s *Store) GetSessionByExternalID(ctx context.Context, externalID string) (*model.Session, error) {
	row := s.pool.QueryRow(ctx, sessionSelect+` WHERE external_id = $1`, externalID)
	return scanSession(row)
}

func (s *Store) ListActiveSessionsByProject(ctx context.Context, projectID string) ([]*model.Session, error) {
	rows, err := s.pool.Query(ctx, sessionSelect+` WHERE project_id = $1 AND closed_at IS NULL ORDER BY last_seen_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) ListSessionsByPanePrefix(ctx context.Context, paneHandle string, sinceSeconds int) ([]*model.Session, error) {
	rows, err := s.pool.Query(ctx,
		sessionSelect+` WHERE pane_handle = $1 AND closed_at IS NULL AND last_seen_at >= now() - ($2 || ' seconds')::interval
		 ORDER BY last_seen_at DESC`, paneHandle, sinceSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

const sessionSelect = `SELECT id, project_id, external_id, COALESCE(pane_handle,''), COALESCE(tmux_name,''),
	COALESCE(predecessor_id,''), last_seen_at, COALESCE(transcript_path,''), created_at, closed_at FROM sessions`

func scanSession(row pgx.Row) (*model.Session, error) {
	var sess model.Session
	err := row.Scan(&sess.ID, &sess.ProjectID, &sess.ExternalID, &sess.PaneHandle, &sess.TmuxName,
		&sess.PredecessorID, &sess.LastSeenAt, &sess.TranscriptPath, &sess.CreatedAt, &sess.ClosedAt)
	return wrapRow(&sess, err)
}

func scanSessions(rows pgx.Rows) ([]*model.Session, error) {
	var out []*model.Session
	for rows.Next() {
		var sess model.Session
		if err := rows.Scan(&sess.ID, &sess.ProjectID, &sess.ExternalID, &sess.PaneHandle, &sess.TmuxName,
			&sess.PredecessorID, &sess.LastSeenAt, &sess.TranscriptPath, &sess.CreatedAt, &sess.ClosedAt); err != nil {
			return nil, err
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

const taskSelect = `SELECT id, session_id, state, COALESCE(instruction,''), COALESCE(completion_summary,''), opened_at, closed_at FROM tasks`

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	err := row.Scan(&t.ID, &t.SessionID, &t.State, &t.Instruction, &t.CompletionSummary, &t.OpenedAt, &t.ClosedAt)
	return wrapRow(&t, err)
}

func (s *Store) GetOpenTask(ctx context.Context, sessionID string) (*model.Task, error) {
	row := s.pool.QueryRow(ctx, taskSelect+` WHERE session_id = $1 AND state != 'COMPLETE' ORDER BY opened_at DESC LIMIT 1`, sessionID)
	return scanTask(row)
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.pool.QueryRow(ctx, taskSelect+` WHERE id = $1`, id)
	return scanTask(row)
}

func (s *Store) ListTasksBySession(ctx context.Context, sessionID string) ([]*model.Task, error) {
	rows, err := s.pool.Query(ctx, taskSelect+` WHERE session_id = $1 ORDER BY opened_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Task
	for rows.Next() {
		var t model.Task
		if err := rows.Scan(&t.ID, &t.SessionID, &t.State, &t.Instruction, &t.CompletionSummary, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) ListTurnsByTask(ctx context.Context, taskID string) ([]*model.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, actor, intent, content, content_hash, timestamp_source, occurred_at
		 FROM turns WHERE task_id = $1 ORDER BY occurred_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Turn
	for rows.Next() {
		var t model.Turn
		if err := rows.Scan(&t.ID, &t.TaskID, &t.Actor, &t.Intent, &t.Content, &t.ContentHash, &t.TimestampSource, &t.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) ListEventsByProject(ctx context.Context, projectID string, limit int) ([]*model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(project_id,''), COALESCE(session_id,''), COALESCE(task_id,''), type, COALESCE(hook_kind,''), COALESCE(payload,''), created_at
		 FROM events WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ListEventsByType(ctx context.Context, eventType model.EventType, limit int) ([]*model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(project_id,''), COALESCE(session_id,''), COALESCE(task_id,''), type, COALESCE(hook_kind,''), COALESCE(payload,''), created_at
		 FROM events WHERE type = $1 ORDER BY created_at DESC LIMIT $2`, eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]*model.Event, error) {
	var out []*model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.SessionID, &e.TaskID, &e.Type, &e.HookKind, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func wrapRow[T any](v *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query: %w", err)
	}
	return v, nil
}
