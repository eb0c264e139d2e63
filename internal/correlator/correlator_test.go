package correlator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/samotage/claude-headspace-sub014/internal/logging"
	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/internal/store/model"
	"github.com/samotage/claude-headspace-sub014/internal/store/sqlite"
)

func newTestCorrelator(t *testing.T) (*Correlator, *sqlite.Store) {
	t.Helper()
	s, err := sqlite.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, logging.Default(), 30*time.Second), s
}

func seedProject(t *testing.T, s *sqlite.Store, path string) *model.Project {
	t.Helper()
	p := &model.Project{ID: uuid.NewString(), Path: path, Name: path, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateProject(context.Background(), p)
	}))
	return p
}

func TestResolveStrategy1_ExactExternalID(t *testing.T) {
	c, s := newTestCorrelator(t)
	ctx := context.Background()
	proj := seedProject(t, s, "/home/dev/a")
	require.NoError(t, c.Warm(ctx))

	created, err := c.Resolve(ctx, Resolution{ExternalID: "ext-1", WorkingDir: proj.Path})
	require.NoError(t, err)
	require.NotNil(t, created)

	again, err := c.Resolve(ctx, Resolution{ExternalID: created.ExternalID})
	require.NoError(t, err)
	require.Equal(t, created.ID, again.ID)
}

func TestResolveStrategy2_ExactProjectPath(t *testing.T) {
	c, s := newTestCorrelator(t)
	ctx := context.Background()
	proj := seedProject(t, s, "/home/dev/b")
	require.NoError(t, c.Warm(ctx))

	first, err := c.Resolve(ctx, Resolution{ExternalID: "ext-b1", WorkingDir: proj.Path})
	require.NoError(t, err)

	second, err := c.Resolve(ctx, Resolution{WorkingDir: proj.Path})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestResolveStrategy3_ProjectPrefix(t *testing.T) {
	c, s := newTestCorrelator(t)
	ctx := context.Background()
	proj := seedProject(t, s, "/home/dev/c")
	require.NoError(t, c.Warm(ctx))

	first, err := c.Resolve(ctx, Resolution{ExternalID: "ext-c1", WorkingDir: proj.Path})
	require.NoError(t, err)

	nested, err := c.Resolve(ctx, Resolution{WorkingDir: proj.Path + "/subdir/nested"})
	require.NoError(t, err)
	require.Equal(t, first.ID, nested.ID)
}

func TestResolveStrategy6_UnregisteredProjectFails(t *testing.T) {
	c, _ := newTestCorrelator(t)
	ctx := context.Background()
	require.NoError(t, c.Warm(ctx))

	_, err := c.Resolve(ctx, Resolution{WorkingDir: "/nowhere/registered"})
	require.ErrorIs(t, err, store.ErrUnregisteredProject)
}

func TestResolveStrategy6_CreatesSessionForMatchingProject(t *testing.T) {
	c, s := newTestCorrelator(t)
	ctx := context.Background()
	proj := seedProject(t, s, "/home/dev/d")
	require.NoError(t, c.Warm(ctx))

	sess, err := c.Resolve(ctx, Resolution{ExternalID: "ext-d1", WorkingDir: proj.Path})
	require.NoError(t, err)
	require.Equal(t, proj.ID, sess.ProjectID)

	stored, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "ext-d1", stored.ExternalID)
}

func TestResolveStrategy5_PredecessorContinuity(t *testing.T) {
	c, s := newTestCorrelator(t)
	ctx := context.Background()
	proj := seedProject(t, s, "/home/dev/e")
	require.NoError(t, c.Warm(ctx))

	predecessor, err := c.Resolve(ctx, Resolution{ExternalID: "ext-e1", WorkingDir: proj.Path})
	require.NoError(t, err)

	resumed, err := c.Resolve(ctx, Resolution{ExternalID: "ext-e2", PreviousSessionID: predecessor.ID})
	require.NoError(t, err)
	require.Equal(t, predecessor.ProjectID, resumed.ProjectID)
}

func TestResolveSideEffectsUpdatePaneAndTmuxOnNonStrategy1Match(t *testing.T) {
	c, s := newTestCorrelator(t)
	ctx := context.Background()
	proj := seedProject(t, s, "/home/dev/f")
	require.NoError(t, c.Warm(ctx))

	first, err := c.Resolve(ctx, Resolution{ExternalID: "ext-f1", WorkingDir: proj.Path})
	require.NoError(t, err)

	updated, err := c.Resolve(ctx, Resolution{WorkingDir: proj.Path, PaneHandle: "%3", TmuxName: "work:1"})
	require.NoError(t, err)
	require.Equal(t, first.ID, updated.ID)

	stored, err := s.GetSession(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, "%3", stored.PaneHandle)
	require.Equal(t, "work:1", stored.TmuxName)
}
