// Package sqlite provides the default embedded Persistence Store backend,
// built on jmoiron/sqlx and mattn/go-sqlite3.
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/samotage/claude-headspace-sub014/internal/sqliteutil"
)

// Store provides SQLite-backed persistence for headspace's entity set.
type Store struct {
	db     *sqlx.DB
	ownsDB bool
}

// Open creates (or attaches to) the sqlite database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return newStore(db, true)
}

// NewWithDB wraps an already-open *sqlx.DB (shared ownership — the caller
// is responsible for closing it).
func NewWithDB(db *sqlx.DB) (*Store, error) {
	return newStore(db, false)
}

func newStore(db *sqlx.DB, ownsDB bool) (*Store, error) {
	s := &Store{db: db, ownsDB: ownsDB}
	if err := s.initSchema(); err != nil {
		if ownsDB {
			_ = db.Close()
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection if this Store owns it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying *sql.DB for diagnostics.
func (s *Store) DB() *sql.DB { return s.db.DB }

// initSchema creates tables idempotently and applies additive migrations.
// Mirrors the teacher's initCoreSchema -> runMigrations -> index ordering.
func (s *Store) initSchema() error {
	if err := s.initCoreSchema(); err != nil {
		return err
	}
	if err := s.runMigrations(); err != nil {
		return err
	}
	return s.ensureIndexes()
}

func (s *Store) initCoreSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id         TEXT PRIMARY KEY,
			path       TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id              TEXT PRIMARY KEY,
			project_id      TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			external_id     TEXT NOT NULL UNIQUE,
			pane_handle     TEXT,
			tmux_name       TEXT,
			predecessor_id  TEXT REFERENCES sessions(id) ON DELETE SET NULL,
			transcript_path TEXT,
			last_seen_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			closed_at       TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id                   TEXT PRIMARY KEY,
			session_id           TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			state                TEXT NOT NULL,
			instruction          TEXT,
			completion_summary   TEXT,
			opened_at            TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			closed_at            TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id               TEXT PRIMARY KEY,
			task_id          TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			actor            TEXT NOT NULL,
			intent           TEXT NOT NULL,
			content          TEXT NOT NULL,
			content_hash     TEXT NOT NULL,
			timestamp_source TEXT NOT NULL,
			occurred_at      TIMESTAMP NOT NULL,
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
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		// idempotency ledger: one row per accepted hook delivery, guarding
		// invariant (5) — a duplicate delivery hits this unique index.
		`CREATE TABLE IF NOT EXISTS hook_receipts (
			session_id    TEXT NOT NULL,
			hook_kind     TEXT NOT NULL,
			dedupe_key    TEXT NOT NULL,
			received_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (session_id, hook_kind, dedupe_key)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema init: %w (stmt: %s)", err, stmt)
		}
	}
	return nil
}

// runMigrations applies additive ALTER TABLEs. sqlite has no IF NOT
// EXISTS for ADD COLUMN, so each one is guarded by a PRAGMA
// table_info lookup (sqliteutil.EnsureColumn) instead of swallowing
// the duplicate-column error blind.
func (s *Store) runMigrations() error {
	migrations := []struct{ table, column, definition string }{
		{"sessions", "tmux_name", "TEXT"},
	}
	for _, m := range migrations {
		if err := sqliteutil.EnsureColumn(s.db.DB, m.table, m.column, m.definition); err != nil {
			return fmt.Errorf("migrate %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

func (s *Store) ensureIndexes() error {
	statements := []string{
		// invariant (1): at most one open task per session.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_one_open ON tasks(session_id) WHERE state != 'COMPLETE'`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_project ON events(project_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_task ON turns(task_id, occurred_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("index init: %w (stmt: %s)", err, stmt)
		}
	}
	return nil
}
