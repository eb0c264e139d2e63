// Package httpapi mounts the small REST surface SPEC_FULL.md §6 lists
// outside the Hook Receiver and the Broadcaster: session registration,
// respond (Terminal Input Bridge), and health. Grounded on the teacher's
// thin-handler style in cmd/kandev/main.go, where a gin handler decodes
// a DTO, calls exactly one collaborator, and maps its error through the
// shared apperr taxonomy.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/samotage/claude-headspace-sub014/internal/apperr"
	"github.com/samotage/claude-headspace-sub014/internal/correlator"
	"github.com/samotage/claude-headspace-sub014/internal/events"
	"github.com/samotage/claude-headspace-sub014/internal/events/bus"
	"github.com/samotage/claude-headspace-sub014/internal/httpmw"
	"github.com/samotage/claude-headspace-sub014/internal/logging"
	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/pkg/api"
)

// SessionHandler implements POST /api/sessions and DELETE
// /api/sessions/:external_session_id.
type SessionHandler struct {
	st   store.Store
	corr *correlator.Correlator
	eb   bus.EventBus
	log  *logging.Logger
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(st store.Store, corr *correlator.Correlator, eb bus.EventBus, log *logging.Logger) *SessionHandler {
	return &SessionHandler{st: st, corr: corr, eb: eb, log: log}
}

// RegisterRoutes mounts the session registration endpoints.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sessions", h.register)
	rg.DELETE("/sessions/:external_session_id", h.unregister)
}

func (h *SessionHandler) register(c *gin.Context) {
	var req api.RegisterSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.AbortWithAppErr(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	proj, err := h.st.GetProjectByPath(c.Request.Context(), req.ProjectPath)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpmw.AbortWithAppErr(c, apperr.UnregisteredProject("no project registered at %s", req.ProjectPath))
			return
		}
		httpmw.AbortWithAppErr(c, apperr.ServerError(err))
		return
	}

	sess, err := h.corr.Resolve(c.Request.Context(), correlator.Resolution{
		ExternalID:        req.ExternalSessionID,
		WorkingDir:        req.ProjectPath,
		PaneHandle:        req.PaneHandle,
		TmuxName:          req.TmuxSession,
		PersonaSlug:       req.PersonaSlug,
		PreviousSessionID: req.PreviousSessionID,
	})
	if err != nil {
		if errors.Is(err, store.ErrUnregisteredProject) {
			httpmw.AbortWithAppErr(c, apperr.UnregisteredProject("no project registered at %s", req.ProjectPath))
			return
		}
		httpmw.AbortWithAppErr(c, apperr.ServerError(err))
		return
	}

	if h.eb != nil {
		_ = h.eb.Publish(c.Request.Context(), events.BuildSessionWildcardSubject(sess.ID),
			bus.NewEvent(events.SessionRegistered, "httpapi", map[string]any{
				"session_id": sess.ID, "project_id": sess.ProjectID,
			}))
	}

	c.JSON(http.StatusCreated, api.RegisterSessionResponse{
		ID:          sess.ID,
		ProjectID:   sess.ProjectID,
		ProjectName: proj.Name,
	})
}

func (h *SessionHandler) unregister(c *gin.Context) {
	externalID := c.Param("external_session_id")
	sess, err := h.st.GetSessionByExternalID(c.Request.Context(), externalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpmw.AbortWithAppErr(c, apperr.NotFound("no session with external id %s", externalID))
			return
		}
		httpmw.AbortWithAppErr(c, apperr.ServerError(err))
		return
	}

	if err := h.st.WithTx(c.Request.Context(), func(tx store.Tx) error {
		return tx.CloseSession(c.Request.Context(), sess.ID)
	}); err != nil {
		httpmw.AbortWithAppErr(c, apperr.ServerError(err))
		return
	}

	if h.eb != nil {
		_ = h.eb.Publish(c.Request.Context(), events.BuildSessionWildcardSubject(sess.ID),
			bus.NewEvent(events.SessionUnregistered, "httpapi", map[string]any{"session_id": sess.ID}))
	}

	h.log.Info("httpapi: session ended", zap.String("session_id", sess.ID), zap.Time("ended_at", time.Now().UTC()))
	c.Status(http.StatusNoContent)
}
