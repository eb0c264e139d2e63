package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/internal/store/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedProject(t *testing.T, s *Store) *model.Project {
	t.Helper()
	p := &model.Project{ID: uuid.NewString(), Path: "/home/dev/proj", Name: "proj", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateProject(context.Background(), p)
	}))
	return p
}

func TestOnlyOneOpenTaskPerSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	proj := seedProject(t, s)

	sess := &model.Session{ID: uuid.NewString(), ProjectID: proj.ID, ExternalID: "ext-1", LastSeenAt: time.Now().UTC(), CreatedAt: time.Now().UTC()}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.CreateSession(ctx, sess) }))

	task1 := &model.Task{ID: uuid.NewString(), SessionID: sess.ID, State: model.TaskCommanded, OpenedAt: time.Now().UTC()}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.OpenTask(ctx, task1) }))

	task2 := &model.Task{ID: uuid.NewString(), SessionID: sess.ID, State: model.TaskCommanded, OpenedAt: time.Now().UTC()}
	err := s.WithTx(ctx, func(tx store.Tx) error { return tx.OpenTask(ctx, task2) })
	require.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.CloseTask(ctx, task1.ID) }))
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.OpenTask(ctx, task2) }))
}

func TestDuplicateHookReceiptIsConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	proj := seedProject(t, s)
	sess := &model.Session{ID: uuid.NewString(), ProjectID: proj.ID, ExternalID: "ext-2", LastSeenAt: time.Now().UTC(), CreatedAt: time.Now().UTC()}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.CreateSession(ctx, sess) }))

	record := func() error {
		return s.WithTx(ctx, func(tx store.Tx) error {
			return tx.RecordHookReceipt(ctx, sess.ID, "pre_tool_use", "evt-123")
		})
	}
	require.NoError(t, record())
	require.ErrorIs(t, record(), store.ErrConflict)
}

func TestDuplicateTurnContentHashWithinTaskIsConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	proj := seedProject(t, s)
	sess := &model.Session{ID: uuid.NewString(), ProjectID: proj.ID, ExternalID: "ext-3", LastSeenAt: time.Now().UTC(), CreatedAt: time.Now().UTC()}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.CreateSession(ctx, sess) }))
	task := &model.Task{ID: uuid.NewString(), SessionID: sess.ID, State: model.TaskCommanded, OpenedAt: time.Now().UTC()}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.OpenTask(ctx, task) }))

	turn := func() error {
		return s.WithTx(ctx, func(tx store.Tx) error {
			return tx.AppendTurn(ctx, &model.Turn{
				ID: uuid.NewString(), TaskID: task.ID, Actor: model.ActorUser, Intent: model.IntentCommand,
				Content: "do the thing", ContentHash: "hash-1", TimestampSource: model.TimestampSourceHook,
				OccurredAt: time.Now().UTC(),
			})
		})
	}
	require.NoError(t, turn())
	require.ErrorIs(t, turn(), store.ErrConflict)
}

func TestGetOpenTaskReturnsNotFoundWhenNoneOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	proj := seedProject(t, s)
	sess := &model.Session{ID: uuid.NewString(), ProjectID: proj.ID, ExternalID: "ext-4", LastSeenAt: time.Now().UTC(), CreatedAt: time.Now().UTC()}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.CreateSession(ctx, sess) }))

	_, err := s.GetOpenTask(ctx, sess.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}
