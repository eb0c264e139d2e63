package sqlite

import (
	"context"
	"time"

	"github.com/samotage/claude-headspace-sub014/internal/store/model"
)

func (h *txHandle) CreateProject(ctx context.Context, p *model.Project) error {
	_, err := h.tx.ExecContext(ctx,
		`INSERT INTO projects (id, path, name, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Path, p.Name, p.CreatedAt)
	return err
}

func (h *txHandle) CreateSession(ctx context.Context, s *model.Session) error {
	_, err := h.tx.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, external_id, pane_handle, tmux_name, predecessor_id, transcript_path, last_seen_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ProjectID, s.ExternalID, nullIfEmpty(s.PaneHandle), nullIfEmpty(s.TmuxName),
		nullIfEmpty(s.PredecessorID), nullIfEmpty(s.TranscriptPath), s.LastSeenAt, s.CreatedAt)
	return err
}

func (h *txHandle) UpsertSessionSighting(ctx context.Context, sessionID string, paneHandle, tmuxName string, seenAt time.Time) error {
	_, err := h.tx.ExecContext(ctx,
		`UPDATE sessions SET pane_handle = COALESCE(NULLIF(?, ''), pane_handle),
		 tmux_name = COALESCE(NULLIF(?, ''), tmux_name), last_seen_at = ? WHERE id = ?`,
		paneHandle, tmuxName, seenAt, sessionID)
	return err
}

func (h *txHandle) TouchSession(ctx context.Context, sessionID string) error {
	_, err := h.tx.ExecContext(ctx, `UPDATE sessions SET last_seen_at = ? WHERE id = ?`, time.Now().UTC(), sessionID)
	return err
}

func (h *txHandle) CloseSession(ctx context.Context, sessionID string) error {
	_, err := h.tx.ExecContext(ctx, `UPDATE sessions SET closed_at = ? WHERE id = ?`, time.Now().UTC(), sessionID)
	return err
}

func (h *txHandle) SetSessionTranscriptPath(ctx context.Context, sessionID, path string) error {
	_, err := h.tx.ExecContext(ctx, `UPDATE sessions SET transcript_path = ? WHERE id = ?`, path, sessionID)
	return err
}

func (h *txHandle) OpenTask(ctx context.Context, t *model.Task) error {
	_, err := h.tx.ExecContext(ctx,
		`INSERT INTO tasks (id, session_id, state, instruction, opened_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.State, t.Instruction, t.OpenedAt)
	return err
}

func (h *txHandle) UpdateTaskState(ctx context.Context, taskID string, state model.TaskState) error {
	_, err := h.tx.ExecContext(ctx, `UPDATE tasks SET state = ? WHERE id = ?`, state, taskID)
	return err
}

func (h *txHandle) SetTaskInstruction(ctx context.Context, taskID, instruction string) error {
	_, err := h.tx.ExecContext(ctx, `UPDATE tasks SET instruction = ? WHERE id = ?`, instruction, taskID)
	return err
}

func (h *txHandle) SetTaskCompletionSummary(ctx context.Context, taskID, summary string) error {
	_, err := h.tx.ExecContext(ctx, `UPDATE tasks SET completion_summary = ? WHERE id = ?`, summary, taskID)
	return err
}

func (h *txHandle) CloseTask(ctx context.Context, taskID string) error {
	_, err := h.tx.ExecContext(ctx,
		`UPDATE tasks SET state = 'COMPLETE', closed_at = ? WHERE id = ?`, time.Now().UTC(), taskID)
	return err
}

func (h *txHandle) AppendTurn(ctx context.Context, t *model.Turn) error {
	_, err := h.tx.ExecContext(ctx,
		`INSERT INTO turns (id, task_id, actor, intent, content, content_hash, timestamp_source, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TaskID, t.Actor, t.Intent, t.Content, t.ContentHash, t.TimestampSource, t.OccurredAt)
	return err
}

func (h *txHandle) UpdateTurnTimestamp(ctx context.Context, turnID string, source model.TimestampSource, occurredAt time.Time) error {
	_, err := h.tx.ExecContext(ctx,
		`UPDATE turns SET timestamp_source = ?, occurred_at = ? WHERE id = ?`, source, occurredAt, turnID)
	return err
}

func (h *txHandle) AppendEvent(ctx context.Context, e *model.Event) error {
	_, err := h.tx.ExecContext(ctx,
		`INSERT INTO events (id, project_id, session_id, task_id, type, hook_kind, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullIfEmpty(e.ProjectID), nullIfEmpty(e.SessionID), nullIfEmpty(e.TaskID), e.Type,
		nullIfEmpty(e.HookKind), nullIfEmpty(e.Payload), e.CreatedAt)
	return err
}

func (h *txHandle) RecordHookReceipt(ctx context.Context, sessionID, hookKind, dedupeKey string) error {
	_, err := h.tx.ExecContext(ctx,
		`INSERT INTO hook_receipts (session_id, hook_kind, dedupe_key) VALUES (?, ?, ?)`,
		sessionID, hookKind, dedupeKey)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
