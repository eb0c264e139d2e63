// Package statemachine is the sole writer of Task and Turn rows
// (spec.md §4.5). It interprets events from the Hook Receiver and the
// Transcript Watcher, serializes every operation for a given Session
// through a single-goroutine queue (spec.md §5: "writes to one Session
// are totally ordered"), and writes each accepted transition's Task
// update and state_transition Event in one Store transaction
// (invariant 3).
package statemachine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samotage/claude-headspace-sub014/internal/appctx"
	"github.com/samotage/claude-headspace-sub014/internal/contenthash"
	"github.com/samotage/claude-headspace-sub014/internal/events"
	"github.com/samotage/claude-headspace-sub014/internal/events/bus"
	"github.com/samotage/claude-headspace-sub014/internal/infer"
	"github.com/samotage/claude-headspace-sub014/internal/logging"
	"github.com/samotage/claude-headspace-sub014/internal/statemachine/intent"
	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/internal/store/model"
)

// Outcome describes the effect an Apply* call had, so callers (Hook
// Receiver, Bridge) can decide what to broadcast and how to respond.
type Outcome struct {
	TaskID  string
	From    model.TaskState
	To      model.TaskState
	Changed bool
	Dropped bool
	TurnID  string
}

// Machine is the concrete State Machine. One Machine instance is shared
// across every Session; per-Session ordering comes from the internal
// queue map, not from separate Machine instances.
type Machine struct {
	st         store.Store
	bus        bus.EventBus
	log        *logging.Logger
	classifier *intent.Classifier
	inferer    infer.Client
	stopCh     chan struct{}

	mu     sync.Mutex
	queues map[string]*sessionQueue
}

// sessionQueue is a single-goroutine consumer draining a buffered
// channel of jobs — the same single-writer shape the teacher uses for
// Hub.broadcast, repurposed here as a per-session total order instead
// of a fan-out channel.
type sessionQueue struct {
	jobs chan func()
}

func newSessionQueue() *sessionQueue {
	q := &sessionQueue{jobs: make(chan func(), 64)}
	go func() {
		for job := range q.jobs {
			job()
		}
	}()
	return q
}

func (q *sessionQueue) close() { close(q.jobs) }

// New builds a Machine. inferer may be infer.NewUnavailable() when no
// inference aggregator is configured — derived fields are then simply
// never populated, never blocking the transition itself.
func New(st store.Store, eb bus.EventBus, log *logging.Logger, classifier *intent.Classifier, inferer infer.Client) *Machine {
	return &Machine{
		st:         st,
		bus:        eb,
		log:        log,
		classifier: classifier,
		inferer:    inferer,
		stopCh:     make(chan struct{}),
		queues:     make(map[string]*sessionQueue),
	}
}

// Close signals every in-flight detached inference goroutine
// (deriveInstruction/deriveCompletionSummary) to abandon its write
// instead of leaking past process shutdown.
func (m *Machine) Close() {
	close(m.stopCh)
}

func (m *Machine) queueFor(sessionID string) *sessionQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[sessionID]
	if !ok {
		q = newSessionQueue()
		m.queues[sessionID] = q
	}
	return q
}

// Evict tears down a Session's queue once it has ended — called by the
// Hook Receiver on session_end so ended sessions don't leak goroutines.
func (m *Machine) Evict(sessionID string) {
	m.mu.Lock()
	q, ok := m.queues[sessionID]
	if ok {
		delete(m.queues, sessionID)
	}
	m.mu.Unlock()
	if ok {
		q.close()
	}
}

// run submits fn to the Session's serialized queue and blocks for its
// result (or ctx cancellation). Every Apply* method below is a run()
// call, so concurrent hook/transcript arrivals for one Session can
// never race each other.
func (m *Machine) run(ctx context.Context, sessionID string, fn func(context.Context) (*Outcome, error)) (*Outcome, error) {
	q := m.queueFor(sessionID)
	type result struct {
		out *Outcome
		err error
	}
	resCh := make(chan result, 1)
	q.jobs <- func() {
		out, err := fn(ctx)
		resCh <- result{out, err}
	}
	select {
	case r := <-resCh:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Machine) currentTask(ctx context.Context, sessionID string) (*model.Task, model.TaskState, error) {
	task, err := m.st.GetOpenTask(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, model.TaskIdle, nil
		}
		return nil, "", fmt.Errorf("statemachine: load open task: %w", err)
	}
	return task, task.State, nil
}

func (m *Machine) reject(sessionID string, trigger, fromState string) (*Outcome, error) {
	m.log.Warn("statemachine: rejected transition",
		zap.String("session_id", sessionID), zap.String("trigger", trigger), zap.String("from", fromState))
	return &Outcome{Dropped: true}, nil
}

// recordTransition appends the Task state update and its state_transition
// Event inside tx — the single point every Apply* path routes through to
// guarantee invariant 3.
func recordTransition(ctx context.Context, tx store.Tx, projectID, sessionID, taskID string, from, to model.TaskState, trigger string) error {
	if from == to {
		return nil
	}
	if err := tx.UpdateTaskState(ctx, taskID, to); err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]string{
		"from": string(from), "to": string(to), "trigger": trigger,
	})
	return tx.AppendEvent(ctx, &model.Event{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		SessionID: sessionID,
		TaskID:    taskID,
		Type:      model.EventStateTransition,
		Payload:   string(payload),
		CreatedAt: time.Now().UTC(),
	})
}

func (m *Machine) projectID(ctx context.Context, sessionID string) (string, error) {
	sess, err := m.st.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return sess.ProjectID, nil
}

// publish always stamps session_id and project_id onto data so the
// Event Broadcaster can filter on them without re-deriving them from
// task_id on every frame.
func (m *Machine) publish(subject string, kind string, sessionID, projectID string, data map[string]any) {
	if m.bus == nil {
		return
	}
	if data == nil {
		data = make(map[string]any, 2)
	}
	data["session_id"] = sessionID
	data["project_id"] = projectID
	if err := m.bus.Publish(context.Background(), subject, bus.NewEvent(kind, "statemachine", data)); err != nil {
		m.log.Warn("statemachine: publish failed", zap.Error(err), zap.String("subject", subject))
	}
}

// ApplyUserTurn handles every USER-originated turn: user_prompt_submit
// hook text, a Transcript Watcher reconciled user line, or the Terminal
// Input Bridge's verified send-text. Disambiguates COMMAND vs ANSWER
// purely from the Task's current state (spec.md §4.5).
func (m *Machine) ApplyUserTurn(ctx context.Context, sessionID, text string, ts time.Time, source model.TimestampSource) (*Outcome, error) {
	return m.run(ctx, sessionID, func(ctx context.Context) (*Outcome, error) {
		task, state, err := m.currentTask(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		projID, err := m.projectID(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("statemachine: resolve project: %w", err)
		}

		switch state {
		case model.TaskIdle, model.TaskComplete:
			return m.openTaskAndAdvance(ctx, projID, sessionID, text, ts, source)
		case model.TaskCommanded:
			if err := m.st.WithTx(ctx, func(tx store.Tx) error {
				return recordTransition(ctx, tx, projID, sessionID, task.ID, model.TaskCommanded, model.TaskProcessing, "user_cmd")
			}); err != nil {
				return nil, err
			}
			m.publish(events.BuildTaskSubject(task.ID), events.TaskStateChanged, sessionID, projID, map[string]any{"task_id": task.ID, "to": model.TaskProcessing})
			return &Outcome{TaskID: task.ID, From: model.TaskCommanded, To: model.TaskProcessing, Changed: true}, nil
		case model.TaskProcessing:
			if err := m.st.WithTx(ctx, func(tx store.Tx) error {
				return recordTransition(ctx, tx, projID, sessionID, task.ID, model.TaskProcessing, model.TaskComplete, "user_cmd")
			}); err != nil {
				return nil, err
			}
			if err := m.st.WithTx(ctx, func(tx store.Tx) error { return tx.CloseTask(ctx, task.ID) }); err != nil {
				return nil, err
			}
			return m.openTaskAndAdvance(ctx, projID, sessionID, text, ts, source)
		case model.TaskAwaitingInput:
			turnID := uuid.NewString()
			if err := m.st.WithTx(ctx, func(tx store.Tx) error {
				if err := tx.AppendTurn(ctx, &model.Turn{
					ID: turnID, TaskID: task.ID, Actor: model.ActorUser, Intent: model.IntentAnswer,
					Content: text, ContentHash: contenthash.Sum(model.ActorUser, text),
					TimestampSource: source, OccurredAt: ts,
				}); err != nil {
					return err
				}
				return recordTransition(ctx, tx, projID, sessionID, task.ID, model.TaskAwaitingInput, model.TaskProcessing, "user_cmd")
			}); err != nil {
				return nil, err
			}
			m.publish(events.BuildTaskSubject(task.ID), events.TurnAppended, sessionID, projID, map[string]any{"task_id": task.ID, "turn_id": turnID})
			m.publish(events.BuildTaskSubject(task.ID), events.TaskStateChanged, sessionID, projID, map[string]any{"task_id": task.ID, "to": model.TaskProcessing})
			return &Outcome{TaskID: task.ID, From: model.TaskAwaitingInput, To: model.TaskProcessing, Changed: true, TurnID: turnID}, nil
		}
		return m.reject(sessionID, "user_cmd", string(state))
	})
}

func (m *Machine) openTaskAndAdvance(ctx context.Context, projID, sessionID, text string, ts time.Time, source model.TimestampSource) (*Outcome, error) {
	taskID := uuid.NewString()
	turnID := uuid.NewString()
	if err := m.st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.OpenTask(ctx, &model.Task{ID: taskID, SessionID: sessionID, State: model.TaskCommanded, OpenedAt: ts}); err != nil {
			return err
		}
		if err := tx.AppendTurn(ctx, &model.Turn{
			ID: turnID, TaskID: taskID, Actor: model.ActorUser, Intent: model.IntentCommand,
			Content: text, ContentHash: contenthash.Sum(model.ActorUser, text),
			TimestampSource: source, OccurredAt: ts,
		}); err != nil {
			return err
		}
		if err := recordTransition(ctx, tx, projID, sessionID, taskID, model.TaskIdle, model.TaskCommanded, "user_cmd"); err != nil {
			return err
		}
		return recordTransition(ctx, tx, projID, sessionID, taskID, model.TaskCommanded, model.TaskProcessing, "user_cmd")
	}); err != nil {
		return nil, err
	}
	m.publish(events.BuildTaskSubject(taskID), events.TaskOpened, sessionID, projID, map[string]any{"task_id": taskID})
	m.publish(events.BuildTaskSubject(taskID), events.TaskStateChanged, sessionID, projID, map[string]any{"task_id": taskID, "to": model.TaskProcessing})
	m.deriveInstruction(taskID, text)
	return &Outcome{TaskID: taskID, From: model.TaskIdle, To: model.TaskProcessing, Changed: true, TurnID: turnID}, nil
}

// ApplyAgentText handles agent-originated text that needs intent
// classification: post_tool_use intermediate text and Transcript Watcher
// reconciled agent lines. stop and notification/permission hooks use
// their own Apply* methods below since their effect is not purely a
// function of classified intent.
func (m *Machine) ApplyAgentText(ctx context.Context, sessionID, text string, ts time.Time, source model.TimestampSource) (*Outcome, error) {
	return m.run(ctx, sessionID, func(ctx context.Context) (*Outcome, error) {
		task, state, err := m.currentTask(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return m.reject(sessionID, "agent_text", string(state))
		}
		projID, err := m.projectID(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		classified := m.classifier.ClassifyAgent(text)
		switch classified {
		case model.IntentQuestion:
			return m.applyAgentQuestion(ctx, projID, sessionID, task, state, text, ts, source)
		case model.IntentCompletion:
			return m.applyAgentCompletion(ctx, projID, sessionID, task, state, text, ts, source)
		default:
			return m.applyAgentProgress(ctx, projID, sessionID, task, state, text, ts, source)
		}
	})
}

func (m *Machine) applyAgentQuestion(ctx context.Context, projID, sessionID string, task *model.Task, state model.TaskState, text string, ts time.Time, source model.TimestampSource) (*Outcome, error) {
	if state != model.TaskCommanded && state != model.TaskProcessing {
		return m.reject(sessionID, "agent_question", string(state))
	}
	turnID := uuid.NewString()
	if err := m.st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.AppendTurn(ctx, &model.Turn{
			ID: turnID, TaskID: task.ID, Actor: model.ActorAgent, Intent: model.IntentQuestion,
			Content: text, ContentHash: contenthash.Sum(model.ActorAgent, text),
			TimestampSource: source, OccurredAt: ts,
		}); err != nil {
			return err
		}
		return recordTransition(ctx, tx, projID, sessionID, task.ID, state, model.TaskAwaitingInput, "agent_question")
	}); err != nil {
		return nil, err
	}
	m.publish(events.BuildTaskSubject(task.ID), events.TurnAppended, sessionID, projID, map[string]any{"task_id": task.ID, "turn_id": turnID})
	m.publish(events.BuildTaskSubject(task.ID), events.TaskStateChanged, sessionID, projID, map[string]any{"task_id": task.ID, "to": model.TaskAwaitingInput})
	return &Outcome{TaskID: task.ID, From: state, To: model.TaskAwaitingInput, Changed: true, TurnID: turnID}, nil
}

func (m *Machine) applyAgentCompletion(ctx context.Context, projID, sessionID string, task *model.Task, state model.TaskState, text string, ts time.Time, source model.TimestampSource) (*Outcome, error) {
	if state != model.TaskCommanded && state != model.TaskProcessing && state != model.TaskAwaitingInput {
		return m.reject(sessionID, "agent_completion", string(state))
	}
	turnID := uuid.NewString()
	if err := m.st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.AppendTurn(ctx, &model.Turn{
			ID: turnID, TaskID: task.ID, Actor: model.ActorAgent, Intent: model.IntentCompletion,
			Content: text, ContentHash: contenthash.Sum(model.ActorAgent, text),
			TimestampSource: source, OccurredAt: ts,
		}); err != nil {
			return err
		}
		if err := recordTransition(ctx, tx, projID, sessionID, task.ID, state, model.TaskComplete, "agent_completion"); err != nil {
			return err
		}
		return tx.CloseTask(ctx, task.ID)
	}); err != nil {
		return nil, err
	}
	m.publish(events.BuildTaskSubject(task.ID), events.TaskClosed, sessionID, projID, map[string]any{"task_id": task.ID})
	m.deriveCompletionSummary(task.ID, text)
	return &Outcome{TaskID: task.ID, From: state, To: model.TaskComplete, Changed: true, TurnID: turnID}, nil
}

func (m *Machine) applyAgentProgress(ctx context.Context, projID, sessionID string, task *model.Task, state model.TaskState, text string, ts time.Time, source model.TimestampSource) (*Outcome, error) {
	if state != model.TaskCommanded && state != model.TaskProcessing {
		return m.reject(sessionID, "agent_progress", string(state))
	}
	turnID := uuid.NewString()
	to := state
	if state == model.TaskCommanded {
		to = model.TaskProcessing
	}
	if err := m.st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.AppendTurn(ctx, &model.Turn{
			ID: turnID, TaskID: task.ID, Actor: model.ActorAgent, Intent: model.IntentProgress,
			Content: text, ContentHash: contenthash.Sum(model.ActorAgent, text),
			TimestampSource: source, OccurredAt: ts,
		}); err != nil {
			return err
		}
		return recordTransition(ctx, tx, projID, sessionID, task.ID, state, to, "agent_progress")
	}); err != nil {
		// A duplicate content hash within the task is the Transcript
		// Watcher racing the hook path for the same message — not an
		// error, just a dedup skip (spec.md §4.4).
		if errors.Is(err, store.ErrConflict) {
			return &Outcome{TaskID: task.ID, Dropped: true}, nil
		}
		return nil, err
	}
	m.publish(events.BuildTaskSubject(task.ID), events.TurnAppended, sessionID, projID, map[string]any{"task_id": task.ID, "turn_id": turnID})
	return &Outcome{TaskID: task.ID, From: state, To: to, Changed: state != to, TurnID: turnID}, nil
}

// ApplyPermissionOrNotify handles the notification and permission_request
// hook kinds, both of which move an in-flight Task to AWAITING_INPUT.
func (m *Machine) ApplyPermissionOrNotify(ctx context.Context, sessionID string) (*Outcome, error) {
	return m.run(ctx, sessionID, func(ctx context.Context) (*Outcome, error) {
		task, state, err := m.currentTask(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if task == nil || (state != model.TaskCommanded && state != model.TaskProcessing) {
			return &Outcome{Dropped: true}, nil
		}
		projID, err := m.projectID(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if err := m.st.WithTx(ctx, func(tx store.Tx) error {
			return recordTransition(ctx, tx, projID, sessionID, task.ID, state, model.TaskAwaitingInput, "permission_or_notify")
		}); err != nil {
			return nil, err
		}
		m.publish(events.BuildTaskSubject(task.ID), events.TaskStateChanged, sessionID, projID, map[string]any{"task_id": task.ID, "to": model.TaskAwaitingInput})
		return &Outcome{TaskID: task.ID, From: state, To: model.TaskAwaitingInput, Changed: true}, nil
	})
}

// ApplyStop handles the stop hook: closes the active Task, unless the
// agent's final text matches a question pattern, in which case the Task
// moves to AWAITING_INPUT instead (spec.md §4.5 footnote).
func (m *Machine) ApplyStop(ctx context.Context, sessionID, agentText string, ts time.Time) (*Outcome, error) {
	return m.run(ctx, sessionID, func(ctx context.Context) (*Outcome, error) {
		task, state, err := m.currentTask(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return &Outcome{Dropped: true}, nil
		}
		if state != model.TaskCommanded && state != model.TaskProcessing && state != model.TaskAwaitingInput {
			return &Outcome{Dropped: true}, nil
		}
		projID, err := m.projectID(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		toQuestion := agentText != "" && m.classifier.IsQuestion(agentText)
		to := model.TaskComplete
		if toQuestion {
			to = model.TaskAwaitingInput
		}

		var turnID string
		if err := m.st.WithTx(ctx, func(tx store.Tx) error {
			if agentText != "" {
				turnID = uuid.NewString()
				intentVal := model.IntentCompletion
				if toQuestion {
					intentVal = model.IntentQuestion
				}
				if err := tx.AppendTurn(ctx, &model.Turn{
					ID: turnID, TaskID: task.ID, Actor: model.ActorAgent, Intent: intentVal,
					Content: agentText, ContentHash: contenthash.Sum(model.ActorAgent, agentText),
					TimestampSource: model.TimestampSourceHook, OccurredAt: ts,
				}); err != nil {
					return err
				}
			} else {
				// stop fired with no trailing agent text: mark the implicit
				// close so the Task still has a terminal Turn to point to.
				turnID = uuid.NewString()
				if err := tx.AppendTurn(ctx, &model.Turn{
					ID: turnID, TaskID: task.ID, Actor: model.ActorAgent, Intent: model.IntentEndOfTask,
					ContentHash: contenthash.Sum(model.ActorAgent, "stop:"+task.ID),
					TimestampSource: model.TimestampSourceHook, OccurredAt: ts,
				}); err != nil {
					return err
				}
			}
			if err := recordTransition(ctx, tx, projID, sessionID, task.ID, state, to, "stop"); err != nil {
				return err
			}
			if !toQuestion {
				return tx.CloseTask(ctx, task.ID)
			}
			return nil
		}); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return &Outcome{TaskID: task.ID, Dropped: true}, nil
			}
			return nil, err
		}

		if !toQuestion {
			m.publish(events.BuildTaskSubject(task.ID), events.TaskClosed, sessionID, projID, map[string]any{"task_id": task.ID})
			if agentText != "" {
				m.deriveCompletionSummary(task.ID, agentText)
			}
		} else {
			m.publish(events.BuildTaskSubject(task.ID), events.TaskStateChanged, sessionID, projID, map[string]any{"task_id": task.ID, "to": model.TaskAwaitingInput})
		}
		return &Outcome{TaskID: task.ID, From: state, To: to, Changed: true, TurnID: turnID}, nil
	})
}

// ApplySessionEnd closes any open Task as COMPLETE and marks the
// Session ended. Applies regardless of current state (table's "end"
// column has no reject cell).
func (m *Machine) ApplySessionEnd(ctx context.Context, sessionID string) (*Outcome, error) {
	return m.run(ctx, sessionID, func(ctx context.Context) (*Outcome, error) {
		task, state, err := m.currentTask(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		projID, err := m.projectID(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if err := m.st.WithTx(ctx, func(tx store.Tx) error {
			if task != nil && state != model.TaskComplete {
				if err := tx.AppendTurn(ctx, &model.Turn{
					ID: uuid.NewString(), TaskID: task.ID, Actor: model.ActorAgent, Intent: model.IntentEndOfTask,
					ContentHash: contenthash.Sum(model.ActorAgent, "session_end:"+task.ID),
					TimestampSource: model.TimestampSourceHook, OccurredAt: time.Now().UTC(),
				}); err != nil {
					return err
				}
				if err := recordTransition(ctx, tx, projID, sessionID, task.ID, state, model.TaskComplete, "session_end"); err != nil {
					return err
				}
				if err := tx.CloseTask(ctx, task.ID); err != nil {
					return err
				}
			}
			return tx.CloseSession(ctx, sessionID)
		}); err != nil {
			return nil, err
		}
		m.publish(events.BuildSessionWildcardSubject(sessionID), events.SessionUnregistered, sessionID, projID, map[string]any{"session_id": sessionID})
		out := &Outcome{Changed: task != nil && state != model.TaskComplete, From: state, To: model.TaskComplete}
		if task != nil {
			out.TaskID = task.ID
		}
		return out, nil
	})
}

// deriveInstruction fires the Inference collaborator in a detached
// goroutine after the opening transaction has committed — never
// blocking the transition itself (spec.md §4.5).
func (m *Machine) deriveInstruction(taskID, userText string) {
	go func() {
		ctx, cancel := appctx.Detached(context.Background(), m.stopCh, 15*time.Second)
		defer cancel()
		summary, err := m.inferer.Infer(ctx, userText, infer.PurposeInstruction)
		if err != nil {
			m.log.Warn("statemachine: instruction inference unavailable", zap.Error(err), zap.String("task_id", taskID))
			return
		}
		if err := m.st.WithTx(ctx, func(tx store.Tx) error {
			return tx.SetTaskInstruction(ctx, taskID, summary)
		}); err != nil {
			m.log.Warn("statemachine: write instruction failed", zap.Error(err), zap.String("task_id", taskID))
		}
	}()
}

func (m *Machine) deriveCompletionSummary(taskID, agentText string) {
	go func() {
		ctx, cancel := appctx.Detached(context.Background(), m.stopCh, 15*time.Second)
		defer cancel()
		summary, err := m.inferer.Infer(ctx, agentText, infer.PurposeCompletionSummary)
		if err != nil {
			m.log.Warn("statemachine: completion inference unavailable", zap.Error(err), zap.String("task_id", taskID))
			return
		}
		if err := m.st.WithTx(ctx, func(tx store.Tx) error {
			return tx.SetTaskCompletionSummary(ctx, taskID, summary)
		}); err != nil {
			m.log.Warn("statemachine: write completion summary failed", zap.Error(err), zap.String("task_id", taskID))
		}
	}()
}
