package postgres

import (
	"context"
	"time"

	"github.com/samotage/claude-headspace-sub014/internal/store/model"
)

func (h *txHandle) CreateProject(ctx context.Context, p *model.Project) error {
	_, err := h.tx.Exec(ctx, `INSERT INTO projects (id, path, name, created_at) VALUES ($1,$2,$3,$4)`,
		p.ID, p.Path, p.Name, p.CreatedAt)
	return err
}

func (h *txHandle) CreateSession(ctx context.Context, s *model.Session) error {
	_, err := h.tx.Exec(ctx,
		`INSERT INTO sessions (id, project_id, external_id, pane_handle, tmux_name, predecessor_id, transcript_path, last_seen_at, created_at)
		 VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),NULLIF($7,''),$8,$9)`,
		s.ID, s.ProjectID, s.ExternalID, s.PaneHandle, s.TmuxName, s.PredecessorID, s.TranscriptPath, s.LastSeenAt, s.CreatedAt)
	return err
}

func (h *txHandle) UpsertSessionSighting(ctx context.Context, sessionID string, paneHandle, tmuxName string, seenAt time.Time) error {
	_, err := h.tx.Exec(ctx,
		`UPDATE sessions SET pane_handle = COALESCE(NULLIF($1,''), pane_handle),
		 tmux_name = COALESCE(NULLIF($2,''), tmux_name), last_seen_at = $3 WHERE id = $4`,
		paneHandle, tmuxName, seenAt, sessionID)
	return err
}

func (h *txHandle) TouchSession(ctx context.Context, sessionID string) error {
	_, err := h.tx.Exec(ctx, `UPDATE sessions SET last_seen_at = $1 WHERE id = $2`, time.Now().UTC(), sessionID)
	return err
}

func (h *txHandle) CloseSession(ctx context.Context, sessionID string) error {
	_, err := h.tx.Exec(ctx, `UPDATE sessions SET closed_at = $1 WHERE id = $2`, time.Now().UTC(), sessionID)
	return err
}

func (h *txHandle) SetSessionTranscriptPath(ctx context.Context, sessionID, path string) error {
	_, err := h.tx.Exec(ctx, `UPDATE sessions SET transcript_path = $1 WHERE id = $2`, path, sessionID)
	return err
}

func (h *txHandle) OpenTask(ctx context.Context, t *model.Task) error {
	_, err := h.tx.Exec(ctx, `INSERT INTO tasks (id, session_id, state, instruction, opened_at) VALUES ($1,$2,$3,$4,$5)`,
		t.ID, t.SessionID, t.State, t.Instruction, t.OpenedAt)
	return err
}

func (h *txHandle) UpdateTaskState(ctx context.Context, taskID string, state model.TaskState) error {
	_, err := h.tx.Exec(ctx, `UPDATE tasks SET state = $1 WHERE id = $2`, state, taskID)
	return err
}

func (h *txHandle) SetTaskInstruction(ctx context.Context, taskID, instruction string) error {
	_, err := h.tx.Exec(ctx, `UPDATE tasks SET instruction = $1 WHERE id = $2`, instruction, taskID)
	return err
}

func (h *txHandle) SetTaskCompletionSummary(ctx context.Context, taskID, summary string) error {
	_, err := h.tx.Exec(ctx, `UPDATE tasks SET completion_summary = $1 WHERE id = $2`, summary, taskID)
	return err
}

func (h *txHandle) CloseTask(ctx context.Context, taskID string) error {
	_, err := h.tx.Exec(ctx, `UPDATE tasks SET state = 'COMPLETE', closed_at = $1 WHERE id = $2`, time.Now().UTC(), taskID)
	return err
}

func (h *txHandle) AppendTurn(ctx context.Context, t *model.Turn) error {
	_, err := h.tx.Exec(ctx,
		`INSERT INTO turns (id, task_id, actor, intent, content, content_hash, timestamp_source, occurred_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.TaskID, t.Actor, t.Intent, t.Content, t.ContentHash, t.TimestampSource, t.OccurredAt)
	return err
}

func (h *txHandle) UpdateTurnTimestamp(ctx context.Context, turnID string, source model.TimestampSource, occurredAt time.Time) error {
	_, err := h.tx.Exec(ctx,
		`UPDATE turns SET timestamp_source = $1, occurred_at = $2 WHERE id = $3`, source, occurredAt, turnID)
	return err
}

func (h *txHandle) AppendEvent(ctx context.Context, e *model.Event) error {
	_, err := h.tx.Exec(ctx,
		`INSERT INTO events (id, project_id, session_id, task_id, type, hook_kind, payload, created_at)
		 VALUES ($1,NULLIF($2,''),NULLIF($3,''),NULLIF($4,''),$5,NULLIF($6,''),NULLIF($7,''),$8)`,
		e.ID, e.ProjectID, e.SessionID, e.TaskID, e.Type, e.HookKind, e.Payload, e.CreatedAt)
	return err
}

func (h *txHandle) RecordHookReceipt(ctx context.Context, sessionID, hookKind, dedupeKey string) error {
	_, err := h.tx.Exec(ctx,
		`INSERT INTO hook_receipts (session_id, hook_kind, dedupe_key) VALUES ($1,$2,$3)`,
		sessionID, hookKind, dedupeKey)
	return err
}
