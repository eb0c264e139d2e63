package transcript

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/samotage/claude-headspace-sub014/internal/correlator"
	"github.com/samotage/claude-headspace-sub014/internal/infer"
	"github.com/samotage/claude-headspace-sub014/internal/logging"
	"github.com/samotage/claude-headspace-sub014/internal/statemachine"
	"github.com/samotage/claude-headspace-sub014/internal/statemachine/intent"
	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/internal/store/model"
	"github.com/samotage/claude-headspace-sub014/internal/store/sqlite"
)

func newTestWatcher(t *testing.T) (*Watcher, store.Store, *model.Session) {
	t.Helper()
	st, err := sqlite.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	proj := &model.Project{ID: uuid.NewString(), Path: "/home/dev/p", Name: "p", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error { return tx.CreateProject(ctx, proj) }))
	sess := &model.Session{ID: uuid.NewString(), ProjectID: proj.ID, ExternalID: "ext-" + uuid.NewString(), LastSeenAt: time.Now().UTC(), CreatedAt: time.Now().UTC()}
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error { return tx.CreateSession(ctx, sess) }))

	corr := correlator.New(st, logging.Default(), 30*time.Second)
	classifier := intent.New(nil, nil)
	sm := statemachine.New(st, nil, logging.Default(), classifier, infer.NewUnavailable())

	w := New(st, corr, sm, nil, logging.Default())
	return w, st, sess
}

func TestReconcileLineCreatesTurnWhenNoneExists(t *testing.T) {
	w, st, sess := newTestWatcher(t)
	ctx := context.Background()
	now := time.Now().UTC()

	w.reconcileLine(ctx, sess, line{Role: "user", Text: "hello", Timestamp: now})

	task, err := st.GetOpenTask(ctx, sess.ID)
	require.NoError(t, err)
	turns, err := st.ListTurnsByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, model.ActorUser, turns[0].Actor)
	require.Equal(t, model.TimestampSourceTranscript, turns[0].TimestampSource)
}

func TestReconcileLineSkipsEmptyText(t *testing.T) {
	w, st, sess := newTestWatcher(t)
	ctx := context.Background()

	w.reconcileLine(ctx, sess, line{Role: "user", Text: "", Timestamp: time.Now()})

	_, err := st.GetOpenTask(ctx, sess.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

// A transcript line that duplicates a Turn the hook path already recorded
// must not create a second Turn — only its timestamp provenance upgrades.
func TestReconcileLineUpgradesTimestampOnHookDuplicate(t *testing.T) {
	w, st, sess := newTestWatcher(t)
	ctx := context.Background()
	now := time.Now().UTC()

	out, err := w.sm.ApplyUserTurn(ctx, sess.ID, "build the thing", now, model.TimestampSourceHook)
	require.NoError(t, err)

	w.reconcileLine(ctx, sess, line{Role: "user", Text: "build the thing", Timestamp: now.Add(time.Second)})

	turns, err := st.ListTurnsByTask(ctx, out.TaskID)
	require.NoError(t, err)
	require.Len(t, turns, 1, "duplicate content must not create a second Turn")
	require.Equal(t, model.TimestampSourceTranscript, turns[0].TimestampSource)
}

func TestScanSessionParsesJSONLAndAdvancesCursor(t *testing.T) {
	w, st, sess := newTestWatcher(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.jsonl")
	content := `{"role":"user","text":"hello","timestamp":"2024-01-01T00:00:00Z"}` + "\n" +
		`{"role":"assistant","text":"working on it","timestamp":"2024-01-01T00:00:01Z"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	sess.TranscriptPath = path

	w.scanSession(ctx, sess)

	task, err := st.GetOpenTask(ctx, sess.ID)
	require.NoError(t, err)
	turns, err := st.ListTurnsByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	w.mu.Lock()
	offset := w.cursors[sess.ID]
	w.mu.Unlock()
	require.EqualValues(t, len(content), offset)

	// A second scan with no new bytes must not reprocess the same lines.
	w.scanSession(ctx, sess)
	turns, err = st.ListTurnsByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
}

func TestScanSessionSkipsMalformedLines(t *testing.T) {
	w, st, sess := newTestWatcher(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.jsonl")
	content := `not json` + "\n" + `{"role":"user","text":"hello","timestamp":"2024-01-01T00:00:00Z"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	sess.TranscriptPath = path

	w.scanSession(ctx, sess)

	task, err := st.GetOpenTask(ctx, sess.ID)
	require.NoError(t, err)
	turns, err := st.ListTurnsByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
}

func TestScanSessionRestartsFromTopOnTruncation(t *testing.T) {
	w, st, sess := newTestWatcher(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.jsonl")
	first := `{"role":"user","text":"first message here","timestamp":"2024-01-01T00:00:00Z"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(first), 0o644))
	sess.TranscriptPath = path
	w.scanSession(ctx, sess)

	// Simulate rotation: a shorter file appears at the same path.
	second := `{"role":"user","text":"after rotation"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(second), 0o644))
	w.scanSession(ctx, sess)

	task, err := st.GetOpenTask(ctx, sess.ID)
	require.NoError(t, err)
	turns, err := st.ListTurnsByTask(ctx, task.ID)
	require.NoError(t, err)
	// The re-read user line arrives while the first Task is PROCESSING, so
	// it closes that Task and opens a new one holding just this Turn.
	require.Len(t, turns, 1)
	require.Equal(t, "after rotation", turns[0].Content)
}

func TestNextIntervalTracksRecentHookActivity(t *testing.T) {
	w, _, sess := newTestWatcher(t)

	require.Equal(t, fastPollInterval, w.nextInterval(), "no sessions observed yet -> fast poll")

	w.NoteHookAccepted(sess.ID)
	require.Equal(t, slowPollInterval, w.nextInterval())

	w.mu.Lock()
	w.lastHookSeen[sess.ID] = time.Now().Add(-2 * hookSilenceWindow)
	w.mu.Unlock()
	require.Equal(t, fastPollInterval, w.nextInterval())
}

func TestCheckIdlePublishesSessionInactiveOnce(t *testing.T) {
	w, st, sess := newTestWatcher(t)
	ctx := context.Background()
	sess.LastSeenAt = time.Now().Add(-2 * inactiveThreshold)

	w.checkIdle(ctx, sess)
	w.checkIdle(ctx, sess)

	events, err := st.ListEventsByType(ctx, model.EventSessionInactive, 10)
	require.NoError(t, err)
	require.Len(t, events, 1, "a quiet session should only be flagged once per quiet period")
}

func TestCheckIdleSkipsRecentlySeenSessions(t *testing.T) {
	w, st, sess := newTestWatcher(t)
	ctx := context.Background()
	sess.LastSeenAt = time.Now()

	w.checkIdle(ctx, sess)

	events, err := st.ListEventsByType(ctx, model.EventSessionInactive, 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestStartStopIsRunning(t *testing.T) {
	w, _, _ := newTestWatcher(t)
	require.False(t, w.IsRunning())

	require.NoError(t, w.Start(context.Background()))
	require.True(t, w.IsRunning())

	// A second Start is a no-op rather than an error or a second goroutine.
	require.NoError(t, w.Start(context.Background()))
	require.True(t, w.IsRunning())

	require.NoError(t, w.Stop())
	require.False(t, w.IsRunning())
}
