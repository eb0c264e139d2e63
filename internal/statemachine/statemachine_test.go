package statemachine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/samotage/claude-headspace-sub014/internal/events/bus"
	"github.com/samotage/claude-headspace-sub014/internal/infer"
	"github.com/samotage/claude-headspace-sub014/internal/logging"
	"github.com/samotage/claude-headspace-sub014/internal/statemachine/intent"
	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/internal/store/model"
	"github.com/samotage/claude-headspace-sub014/internal/store/sqlite"
)

func newTestMachine(t *testing.T) (*Machine, store.Store, *model.Session) {
	t.Helper()
	st, err := sqlite.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	proj := &model.Project{ID: uuid.NewString(), Path: "/home/dev/p", Name: "p", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error { return tx.CreateProject(ctx, proj) }))
	sess := &model.Session{ID: uuid.NewString(), ProjectID: proj.ID, ExternalID: "ext-" + uuid.NewString(), LastSeenAt: time.Now().UTC(), CreatedAt: time.Now().UTC()}
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error { return tx.CreateSession(ctx, sess) }))

	classifier := intent.New(nil, nil)
	m := New(st, bus.NewMemoryEventBus(logging.Default()), logging.Default(), classifier, infer.NewUnavailable())
	return m, st, sess
}

// Scenario 1 (spec.md §8): idle -> command -> complete.
func TestIdleCommandComplete(t *testing.T) {
	m, st, sess := newTestMachine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	out, err := m.ApplyUserTurn(ctx, sess.ID, "hello", now, model.TimestampSourceHook)
	require.NoError(t, err)
	require.True(t, out.Changed)
	require.Equal(t, model.TaskProcessing, out.To)

	task, err := st.GetTask(ctx, out.TaskID)
	require.NoError(t, err)
	require.Equal(t, model.TaskProcessing, task.State)

	out2, err := m.ApplyStop(ctx, sess.ID, "done", now.Add(time.Second))
	require.NoError(t, err)
	require.True(t, out2.Changed)
	require.Equal(t, model.TaskComplete, out2.To)

	task, err = st.GetTask(ctx, out.TaskID)
	require.NoError(t, err)
	require.Equal(t, model.TaskComplete, task.State)

	turns, err := st.ListTurnsByTask(ctx, out.TaskID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, model.ActorUser, turns[0].Actor)
	require.Equal(t, model.IntentCommand, turns[0].Intent)
	require.Equal(t, model.ActorAgent, turns[1].Actor)
	require.Equal(t, model.IntentCompletion, turns[1].Intent)

	_, err = st.GetOpenTask(ctx, sess.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

// Scenario 2 (spec.md §8): a trailing question on stop routes to
// AWAITING_INPUT, and an answer turn drives the Task back to PROCESSING.
func TestQuestionAnswerCycle(t *testing.T) {
	m, st, sess := newTestMachine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	out, err := m.ApplyUserTurn(ctx, sess.ID, "what colour?", now, model.TimestampSourceHook)
	require.NoError(t, err)
	taskID := out.TaskID

	out2, err := m.ApplyStop(ctx, sess.ID, "Red, green, or blue?", now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, model.TaskAwaitingInput, out2.To)

	task, err := st.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, model.TaskAwaitingInput, task.State)

	out3, err := m.ApplyUserTurn(ctx, sess.ID, "green", now.Add(2*time.Second), model.TimestampSourceHook)
	require.NoError(t, err)
	require.Equal(t, model.TaskProcessing, out3.To)

	turns, err := st.ListTurnsByTask(ctx, taskID)
	require.NoError(t, err)
	last := turns[len(turns)-1]
	require.Equal(t, model.ActorUser, last.Actor)
	require.Equal(t, model.IntentAnswer, last.Intent)
}

// Invariant: a duplicate agent_progress delivery (same content, same
// task) is deduplicated rather than producing a second Turn or a second
// state_transition Event.
func TestDuplicateAgentTextIsDeduped(t *testing.T) {
	m, st, sess := newTestMachine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	out, err := m.ApplyUserTurn(ctx, sess.ID, "hello", now, model.TimestampSourceHook)
	require.NoError(t, err)

	out2, err := m.ApplyAgentText(ctx, sess.ID, "working on it", now.Add(time.Second), model.TimestampSourceHook)
	require.NoError(t, err)
	require.False(t, out2.Dropped)

	out3, err := m.ApplyAgentText(ctx, sess.ID, "working on it", now.Add(2*time.Second), model.TimestampSourceHook)
	require.NoError(t, err)
	require.True(t, out3.Dropped)

	turns, err := st.ListTurnsByTask(ctx, out.TaskID)
	require.NoError(t, err)
	require.Len(t, turns, 2) // the user command + exactly one progress turn
}

// A user command arriving while IDLE/COMPLETE opens a new Task; a command
// arriving mid-PROCESSING closes the current Task and opens a new one.
func TestUserCommandWhileProcessingClosesAndReopens(t *testing.T) {
	m, st, sess := newTestMachine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := m.ApplyUserTurn(ctx, sess.ID, "first", now, model.TimestampSourceHook)
	require.NoError(t, err)

	second, err := m.ApplyUserTurn(ctx, sess.ID, "second", now.Add(time.Second), model.TimestampSourceHook)
	require.NoError(t, err)
	require.NotEqual(t, first.TaskID, second.TaskID)

	closedTask, err := st.GetTask(ctx, first.TaskID)
	require.NoError(t, err)
	require.Equal(t, model.TaskComplete, closedTask.State)

	openTask, err := st.GetOpenTask(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, second.TaskID, openTask.ID)
}

// agent_question/agent_completion/agent_progress arriving on an IDLE or
// COMPLETE session (no open Task) are rejected, not crashed on.
func TestAgentTextRejectedWithoutOpenTask(t *testing.T) {
	m, _, sess := newTestMachine(t)
	ctx := context.Background()

	out, err := m.ApplyAgentText(ctx, sess.ID, "done", time.Now().UTC(), model.TimestampSourceHook)
	require.NoError(t, err)
	require.True(t, out.Dropped)
}

// session_end closes an in-flight Task as COMPLETE and never panics when
// there is no open Task to close.
func TestSessionEndClosesOpenTask(t *testing.T) {
	m, st, sess := newTestMachine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	out, err := m.ApplyUserTurn(ctx, sess.ID, "hello", now, model.TimestampSourceHook)
	require.NoError(t, err)

	endOut, err := m.ApplySessionEnd(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, endOut.Changed)

	task, err := st.GetTask(ctx, out.TaskID)
	require.NoError(t, err)
	require.Equal(t, model.TaskComplete, task.State)

	// Calling it again on an already-ended Session must not error.
	_, err = m.ApplySessionEnd(ctx, sess.ID)
	require.NoError(t, err)
}
