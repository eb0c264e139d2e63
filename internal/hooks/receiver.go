// Package hooks is the Hook Receiver: one gin handler per lifecycle hook
// kind (spec.md §4.3), responsible for resolving the Session via the
// Correlator, recording an idempotent hook_accepted Event, and routing
// the payload into the State Machine. Slow state-machine work is handed
// to a worker.Pool so the handler's own response time stays bounded.
package hooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samotage/claude-headspace-sub014/internal/apperr"
	"github.com/samotage/claude-headspace-sub014/internal/correlator"
	"github.com/samotage/claude-headspace-sub014/internal/httpmw"
	"github.com/samotage/claude-headspace-sub014/internal/logging"
	"github.com/samotage/claude-headspace-sub014/internal/statemachine"
	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/internal/store/model"
	"github.com/samotage/claude-headspace-sub014/internal/worker"
	"github.com/samotage/claude-headspace-sub014/pkg/hookproto"
)

// Receiver wires the hook HTTP surface to the Correlator and the State
// Machine. Pool may be nil, in which case every hook is processed inline
// on the request goroutine.
type Receiver struct {
	st      store.Store
	corr    *correlator.Correlator
	sm      *statemachine.Machine
	pool    *worker.Pool
	log     *logging.Logger
	onHook  func(sessionID string)
}

// New builds a Receiver. onHookAccepted, if non-nil, is called after
// every successfully accepted (non-replayed) hook — the Transcript
// Watcher uses it to reset its poll cadence (spec.md §4.4).
func New(st store.Store, corr *correlator.Correlator, sm *statemachine.Machine, pool *worker.Pool, log *logging.Logger, onHookAccepted func(sessionID string)) *Receiver {
	return &Receiver{st: st, corr: corr, sm: sm, pool: pool, log: log, onHook: onHookAccepted}
}

// RegisterRoutes mounts one route per entry in hookproto.ValidKinds under rg.
func (h *Receiver) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/hook/session_start", h.handleSessionStart)
	rg.POST("/hook/user_prompt_submit", h.handleUserPromptSubmit)
	rg.POST("/hook/pre_tool_use", h.handlePreToolUse)
	rg.POST("/hook/post_tool_use", h.handlePostToolUse)
	rg.POST("/hook/notification", h.handleNotification)
	rg.POST("/hook/permission_request", h.handlePermissionRequest)
	rg.POST("/hook/stop", h.handleStop)
	rg.POST("/hook/session_end", h.handleSessionEnd)
}

func (h *Receiver) handleSessionStart(c *gin.Context) {
	raw, req, ok := decode[hookproto.SessionStart](c)
	if !ok {
		return
	}
	sess, ok := h.resolveSession(c, hookproto.KindSessionStart, req.Base)
	if !ok {
		return
	}
	proceed, ok := h.accept(c, sess, hookproto.KindSessionStart, req.Base, raw)
	if !ok {
		return
	}
	if proceed {
		h.dispatch(sess.ID, func(ctx context.Context) {
			if err := h.st.WithTx(ctx, func(tx store.Tx) error { return tx.TouchSession(ctx, sess.ID) }); err != nil {
				h.log.Warn("hooks: touch session failed", zap.Error(err), zap.String("session_id", sess.ID))
			}
		})
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID, "applied": proceed})
}

func (h *Receiver) handleUserPromptSubmit(c *gin.Context) {
	raw, req, ok := decode[hookproto.UserPromptSubmit](c)
	if !ok {
		return
	}
	if req.PromptText == "" {
		httpmw.AbortWithAppErr(c, apperr.Validation("user_prompt_submit: prompt_text is required"))
		return
	}
	sess, ok := h.resolveSession(c, hookproto.KindUserPromptSubmit, req.Base)
	if !ok {
		return
	}
	proceed, ok := h.accept(c, sess, hookproto.KindUserPromptSubmit, req.Base, raw)
	if !ok {
		return
	}
	if proceed {
		now := time.Now().UTC()
		h.dispatch(sess.ID, func(ctx context.Context) {
			if _, err := h.sm.ApplyUserTurn(ctx, sess.ID, req.PromptText, now, model.TimestampSourceHook); err != nil {
				h.log.Warn("hooks: apply user turn failed", zap.Error(err), zap.String("session_id", sess.ID))
			}
		})
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID, "applied": proceed})
}

func (h *Receiver) handlePreToolUse(c *gin.Context) {
	raw, req, ok := decode[hookproto.PreToolUse](c)
	if !ok {
		return
	}
	sess, ok := h.resolveSession(c, hookproto.KindPreToolUse, req.Base)
	if !ok {
		return
	}
	_, ok = h.accept(c, sess, hookproto.KindPreToolUse, req.Base, raw)
	if !ok {
		return
	}
	// pre_tool_use is observational only — no state transition.
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID})
}

func (h *Receiver) handlePostToolUse(c *gin.Context) {
	raw, req, ok := decode[hookproto.PostToolUse](c)
	if !ok {
		return
	}
	sess, ok := h.resolveSession(c, hookproto.KindPostToolUse, req.Base)
	if !ok {
		return
	}
	proceed, ok := h.accept(c, sess, hookproto.KindPostToolUse, req.Base, raw)
	if !ok {
		return
	}
	if proceed && req.TranscriptText != "" {
		now := time.Now().UTC()
		h.dispatch(sess.ID, func(ctx context.Context) {
			if _, err := h.sm.ApplyAgentText(ctx, sess.ID, req.TranscriptText, now, model.TimestampSourceHook); err != nil {
				h.log.Warn("hooks: apply agent text failed", zap.Error(err), zap.String("session_id", sess.ID))
			}
		})
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID, "applied": proceed})
}

func (h *Receiver) handleNotification(c *gin.Context) {
	raw, req, ok := decode[hookproto.Notification](c)
	if !ok {
		return
	}
	h.handlePermissionOrNotify(c, req.Base, hookproto.KindNotification, raw)
}

func (h *Receiver) handlePermissionRequest(c *gin.Context) {
	raw, req, ok := decode[hookproto.PermissionRequest](c)
	if !ok {
		return
	}
	h.handlePermissionOrNotify(c, req.Base, hookproto.KindPermissionRequest, raw)
}

func (h *Receiver) handlePermissionOrNotify(c *gin.Context, base hookproto.Base, kind hookproto.Kind, raw []byte) {
	sess, ok := h.resolveSession(c, kind, base)
	if !ok {
		return
	}
	proceed, ok := h.accept(c, sess, kind, base, raw)
	if !ok {
		return
	}
	if proceed {
		h.dispatch(sess.ID, func(ctx context.Context) {
			if _, err := h.sm.ApplyPermissionOrNotify(ctx, sess.ID); err != nil {
				h.log.Warn("hooks: apply permission/notify failed", zap.Error(err), zap.String("session_id", sess.ID))
			}
		})
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID, "applied": proceed})
}

func (h *Receiver) handleStop(c *gin.Context) {
	raw, req, ok := decode[hookproto.Stop](c)
	if !ok {
		return
	}
	sess, ok := h.resolveSession(c, hookproto.KindStop, req.Base)
	if !ok {
		return
	}
	proceed, ok := h.accept(c, sess, hookproto.KindStop, req.Base, raw)
	if !ok {
		return
	}
	if proceed {
		if req.TranscriptPath != "" {
			if err := h.st.WithTx(c.Request.Context(), func(tx store.Tx) error {
				return tx.SetSessionTranscriptPath(c.Request.Context(), sess.ID, req.TranscriptPath)
			}); err != nil {
				h.log.Warn("hooks: set transcript path failed", zap.Error(err), zap.String("session_id", sess.ID))
			}
		}
		now := time.Now().UTC()
		h.dispatch(sess.ID, func(ctx context.Context) {
			if _, err := h.sm.ApplyStop(ctx, sess.ID, req.AgentText, now); err != nil {
				h.log.Warn("hooks: apply stop failed", zap.Error(err), zap.String("session_id", sess.ID))
			}
		})
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID, "applied": proceed})
}

func (h *Receiver) handleSessionEnd(c *gin.Context) {
	raw, req, ok := decode[hookproto.SessionEnd](c)
	if !ok {
		return
	}
	sess, ok := h.resolveSession(c, hookproto.KindSessionEnd, req.Base)
	if !ok {
		return
	}
	proceed, ok := h.accept(c, sess, hookproto.KindSessionEnd, req.Base, raw)
	if !ok {
		return
	}
	if proceed {
		// session_end closes synchronously: callers (the agent process
		// exiting) don't get a second chance to learn it failed.
		if _, err := h.sm.ApplySessionEnd(c.Request.Context(), sess.ID); err != nil {
			h.log.Warn("hooks: apply session end failed", zap.Error(err), zap.String("session_id", sess.ID))
			httpmw.AbortWithAppErr(c, apperr.ServerError(err))
			return
		}
		h.sm.Evict(sess.ID)
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID, "applied": proceed})
}

// decode reads the request body once, unmarshals it into T, and checks
// the common Base.SessionID requirement. Returns the raw bytes alongside
// the decoded struct so callers can both hash and dispatch it.
func decode[T any](c *gin.Context) ([]byte, T, bool) {
	var zero T
	raw, err := c.GetRawData()
	if err != nil {
		httpmw.AbortWithAppErr(c, apperr.Validation("read request body: %v", err))
		return nil, zero, false
	}
	var req T
	if err := json.Unmarshal(raw, &req); err != nil {
		httpmw.AbortWithAppErr(c, apperr.Validation("malformed hook payload: %v", err))
		return nil, zero, false
	}
	return raw, req, true
}

func (h *Receiver) resolveSession(c *gin.Context, kind hookproto.Kind, b hookproto.Base) (*model.Session, bool) {
	if b.SessionID == "" {
		httpmw.AbortWithAppErr(c, apperr.Validation("session_id is required"))
		return nil, false
	}
	sess, err := h.corr.Resolve(c.Request.Context(), correlator.Resolution{
		ExternalID:        b.SessionID,
		WorkingDir:        b.WorkingDir,
		PaneHandle:        b.PaneHandle,
		TmuxName:          b.TmuxSession,
		PersonaSlug:       b.PersonaSlug,
		PreviousSessionID: b.PreviousSessionID,
	})
	if err != nil {
		if errors.Is(err, store.ErrUnregisteredProject) {
			h.recordRejectedHook(c.Request.Context(), kind, b)
			httpmw.AbortWithAppErr(c, apperr.UnregisteredProject("no project registered for working directory %q", b.WorkingDir))
		} else {
			httpmw.AbortWithAppErr(c, apperr.ServerError(err))
		}
		return nil, false
	}
	return sess, true
}

// recordRejectedHook persists the "except a rejected_hook record" half of
// spec.md §8 scenario 5: an UNREGISTERED_PROJECT rejection still leaves an
// audit trail, even though no Project or Session row exists to hang it off.
func (h *Receiver) recordRejectedHook(ctx context.Context, kind hookproto.Kind, b hookproto.Base) {
	payload, _ := json.Marshal(map[string]string{
		"external_session_id": b.SessionID,
		"working_dir":         b.WorkingDir,
		"reason":              "unregistered_project",
	})
	err := h.st.WithTx(ctx, func(tx store.Tx) error {
		return tx.AppendEvent(ctx, &model.Event{
			ID:        uuid.NewString(),
			Type:      model.EventHookRejected,
			HookKind:  string(kind),
			Payload:   string(payload),
			CreatedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		h.log.Warn("hooks: record rejected hook failed", zap.Error(err), zap.String("external_session_id", b.SessionID))
	}
}

// accept writes the idempotency ledger row and the hook_accepted Event
// in one transaction. ok is false only on an unexpected store error; a
// replayed delivery instead reports proceed=false, ok=true so the
// caller answers 200 without reprocessing.
func (h *Receiver) accept(c *gin.Context, sess *model.Session, kind hookproto.Kind, base hookproto.Base, raw []byte) (proceed, ok bool) {
	key := base.EventID
	if key == "" {
		sum := sha256.Sum256(raw)
		key = hex.EncodeToString(sum[:])
	}
	err := h.st.WithTx(c.Request.Context(), func(tx store.Tx) error {
		if err := tx.RecordHookReceipt(c.Request.Context(), sess.ID, string(kind), key); err != nil {
			return err
		}
		return tx.AppendEvent(c.Request.Context(), &model.Event{
			ID:        uuid.NewString(),
			ProjectID: sess.ProjectID,
			SessionID: sess.ID,
			Type:      model.EventHookAccepted,
			HookKind:  string(kind),
			Payload:   string(raw),
			CreatedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return false, true
		}
		httpmw.AbortWithAppErr(c, apperr.ServerError(err))
		return false, false
	}
	if h.onHook != nil {
		h.onHook(sess.ID)
	}
	return true, true
}

// dispatch hands fn to the worker pool when one is configured and has
// room; otherwise it runs fn inline with its own bounded timeout so a
// saturated queue never silently drops the hook's effect.
func (h *Receiver) dispatch(sessionID string, fn func(ctx context.Context)) {
	if h.pool != nil && h.pool.Submit(fn) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fn(ctx)
}
