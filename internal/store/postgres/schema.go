package postgres

import "context"

func (s *Store) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id         TEXT PRIMARY KEY,
			path       TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id              TEXT PRIMARY KEY,
			project_id      TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			external_id     TEXT NOT NULL UNIQUE,
			pane_handle     TEXT,
			tmux_name       TEXT,
			predecessor_id  TEXT REFERENCES sessions(id) ON DELETE SET NULL,
			transcript_path TEXT,
			last_seen_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			closed_at       TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id                 TEXT PRIMARY KEY,
			session_id         TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			state              TEXT NOT NULL,
			instruction        TEXT,
			completion_summary TEXT,
			opened_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			closed_at          TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_one_open ON tasks(session_id) WHERE state != 'COMPLETE'`,
		`CREATE TABLE IF NOT EXISTS turns (
			id               TEXT PRIMARY KEY,
			task_id          TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			actor            TEXT NOT NULL,
			intent           TEXT NOT NULL,
			content          TEXT NOT NULL,
			content_hash     TEXT NOT NULL,
			timestamp_source TEXT NOT NULL,
			occurred_at      TIMESTAMPTZ NOT NULL,
			UNIQUE(task_id, content_hash)
		)`,
		// project_id is nullable so a hook_rejected Event for an
		// unregistered project (no Project row to reference) can still be
		// written, and so a Project deletion nulls the foreign key instead
		// of cascading the delete into the audit trail (invariant 4).
		`CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY,
			project_id TEXT REFERENCES projects(id) ON DELETE SET NULL,
			session_id TEXT,
			task_id    TEXT,
			type       TEXT NOT NULL,
			hook_kind  TEXT,
			payload    TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_project ON events(project_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, created_at)`,
		`CREATE TABLE IF NOT EXISTS hook_receipts (
			session_id  TEXT NOT NULL,
			hook_kind   TEXT NOT NULL,
			dedupe_key  TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, hook_kind, dedupe_key)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
