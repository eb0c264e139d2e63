package hooks

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

	"github.com/samotage/claude-headspace-sub014/internal/correlator"
	"github.com/samotage/claude-headspace-sub014/internal/events/bus"
	"github.com/samotage/claude-headspace-sub014/internal/httpmw"
	"github.com/samotage/claude-headspace-sub014/internal/infer"
	"github.com/samotage/claude-headspace-sub014/internal/logging"
	"github.com/samotage/claude-headspace-sub014/internal/statemachine"
	"github.com/samotage/claude-headspace-sub014/internal/statemachine/intent"
	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/internal/store/model"
	"github.com/samotage/claude-headspace-sub014/internal/store/sqlite"
	"github.com/samotage/claude-headspace-sub014/pkg/hookproto"
)

func newTestServer(t *testing.T) (*gin.Engine, store.Store, *model.Project) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := sqlite.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	proj := &model.Project{ID: uuid.NewString(), Path: "/home/dev/proj", Name: "proj", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error { return tx.CreateProject(ctx, proj) }))

	log := logging.Default()
	corr := correlator.New(st, log, time.Minute)
	classifier := intent.New(nil, nil)
	sm := statemachine.New(st, bus.NewMemoryEventBus(log), log, classifier, infer.NewUnavailable())
	recv := New(st, corr, sm, nil, log, nil)

	r := gin.New()
	r.Use(httpmw.ErrorMapper())
	recv.RegisterRoutes(r.Group("/api"))
	return r, st, proj
}

func postJSON(t *testing.T, r *gin.Engine, path string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// Scenario 1 + 3 (spec.md §8): idle -> command -> complete via the HTTP
// hook surface, then a verbatim replay of user_prompt_submit produces no
// new Task or Turn.
func TestHookLifecycleAndReplaySafety(t *testing.T) {
	r, st, proj := newTestServer(t)
	sessionID := "ext-" + uuid.NewString()

	w := postJSON(t, r, "/api/hook/session_start", map[string]any{
		"session_id": sessionID, "working_dir": proj.Path,
	})
	require.Equal(t, 200, w.Code)

	promptBody := map[string]any{
		"session_id": sessionID, "working_dir": proj.Path, "prompt_text": "hello",
	}
	w = postJSON(t, r, "/api/hook/user_prompt_submit", promptBody)
	require.Equal(t, 200, w.Code)

	w = postJSON(t, r, "/api/hook/stop", map[string]any{
		"session_id": sessionID, "working_dir": proj.Path, "agent_text": "done",
	})
	require.Equal(t, 200, w.Code)

	sess, err := st.GetSessionByExternalID(context.Background(), sessionID)
	require.NoError(t, err)
	tasks, err := st.ListTasksBySession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, model.TaskComplete, tasks[0].State)

	turnsBefore, err := st.ListTurnsByTask(context.Background(), tasks[0].ID)
	require.NoError(t, err)
	require.Len(t, turnsBefore, 2)

	// Replay the exact same user_prompt_submit payload.
	w = postJSON(t, r, "/api/hook/user_prompt_submit", promptBody)
	require.Equal(t, 200, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, false, resp["applied"])

	tasksAfter, err := st.ListTasksBySession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, tasksAfter, 1, "replay must not open a second Task")

	turnsAfter, err := st.ListTurnsByTask(context.Background(), tasks[0].ID)
	require.NoError(t, err)
	require.Len(t, turnsAfter, 2, "replay must not append a new Turn")
}

// Scenario 5 (spec.md §8): an unregistered project is rejected without
// creating a Session row, but leaves a rejected_hook Event behind.
func TestUnregisteredProjectRejected(t *testing.T) {
	r, st, _ := newTestServer(t)

	w := postJSON(t, r, "/api/hook/session_start", map[string]any{
		"session_id": "ext-unknown", "working_dir": "/no/such/project",
	})
	require.Equal(t, 404, w.Code)

	_, err := st.GetSessionByExternalID(context.Background(), "ext-unknown")
	require.ErrorIs(t, err, store.ErrNotFound)

	evs, err := st.ListEventsByType(context.Background(), model.EventHookRejected, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "", evs[0].ProjectID)
	require.Equal(t, string(hookproto.KindSessionStart), evs[0].HookKind)
	require.Contains(t, evs[0].Payload, "ext-unknown")
}

// Malformed payloads are rejected with a validation error before any
// state-machine work happens.
func TestMissingPromptTextIsValidationError(t *testing.T) {
	r, _, proj := newTestServer(t)
	w := postJSON(t, r, "/api/hook/user_prompt_submit", map[string]any{
		"session_id": "ext-x", "working_dir": proj.Path,
	})
	require.Equal(t, 400, w.Code)
}
