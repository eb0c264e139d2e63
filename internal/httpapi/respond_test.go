package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/samotage/claude-headspace-sub014/internal/bridge"
	"github.com/samotage/claude-headspace-sub014/internal/config"
	"github.com/samotage/claude-headspace-sub014/internal/events/bus"
	"github.com/samotage/claude-headspace-sub014/internal/httpmw"
	"github.com/samotage/claude-headspace-sub014/internal/infer"
	"github.com/samotage/claude-headspace-sub014/internal/logging"
	"github.com/samotage/claude-headspace-sub014/internal/statemachine"
	"github.com/samotage/claude-headspace-sub014/internal/statemachine/intent"
	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/internal/store/model"
	"github.com/samotage/claude-headspace-sub014/internal/store/sqlite"
)

func newRespondTestServer(t *testing.T) (*gin.Engine, store.Store, *model.Session) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := sqlite.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	proj := &model.Project{ID: uuid.NewString(), Path: "/home/dev/r", Name: "r", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error { return tx.CreateProject(ctx, proj) }))
	sess := &model.Session{
		ID: uuid.NewString(), ProjectID: proj.ID, ExternalID: "ext-" + uuid.NewString(),
		PaneHandle: "%1", LastSeenAt: time.Now().UTC(), CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error { return tx.CreateSession(ctx, sess) }))

	log := logging.Default()
	classifier := intent.New(nil, nil)
	sm := statemachine.New(st, bus.NewMemoryEventBus(log), log, classifier, infer.NewUnavailable())
	br := bridge.New(st, sm, config.BridgeConfig{BaseTypeDelayMS: 1, SubmitRetries: 1}, log)

	h := NewRespondHandler(st, br, log)
	r := gin.New()
	r.Use(httpmw.ErrorMapper())
	h.RegisterRoutes(r.Group("/api"))
	return r, st, sess
}

func postRespond(t *testing.T, r *gin.Engine, sessionID string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/respond/"+sessionID, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// spec.md §7: wrong_state (409) when responding to a session with no
// open Task at all (IDLE).
func TestRespondWrongStateWhenNoOpenTask(t *testing.T) {
	r, _, sess := newRespondTestServer(t)

	w := postRespond(t, r, sess.ID, map[string]any{"text": "hello"})
	require.Equal(t, 409, w.Code)
}

// spec.md §7: wrong_state (409) when the open Task is PROCESSING rather
// than AWAITING_INPUT.
func TestRespondWrongStateWhenProcessing(t *testing.T) {
	r, st, sess := newRespondTestServer(t)
	ctx := context.Background()
	task := &model.Task{ID: uuid.NewString(), SessionID: sess.ID, State: model.TaskProcessing, OpenedAt: time.Now().UTC()}
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error { return tx.OpenTask(ctx, task) }))

	w := postRespond(t, r, sess.ID, map[string]any{"text": "hello"})
	require.Equal(t, 409, w.Code)

	tasks, err := st.ListTasksBySession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1, "a rejected respond must not open a new Task")
}
