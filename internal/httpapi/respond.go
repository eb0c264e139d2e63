package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/samotage/claude-headspace-sub014/internal/apperr"
	"github.com/samotage/claude-headspace-sub014/internal/bridge"
	"github.com/samotage/claude-headspace-sub014/internal/httpmw"
	"github.com/samotage/claude-headspace-sub014/internal/logging"
	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/internal/store/model"
	"github.com/samotage/claude-headspace-sub014/pkg/api"
)

// RespondHandler implements POST /api/respond/:session_id, the HTTP face
// of the Terminal Input Bridge's send-text contract (spec.md §4.7).
type RespondHandler struct {
	st  store.Store
	br  *bridge.Bridge
	log *logging.Logger
}

// NewRespondHandler builds a RespondHandler.
func NewRespondHandler(st store.Store, br *bridge.Bridge, log *logging.Logger) *RespondHandler {
	return &RespondHandler{st: st, br: br, log: log}
}

// RegisterRoutes mounts POST /api/respond/:session_id.
func (h *RespondHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/respond/:session_id", h.respond)
}

func (h *RespondHandler) respond(c *gin.Context) {
	sessionID := c.Param("session_id")
	var req api.RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.AbortWithAppErr(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	// spec.md §7: wrong_state (409) is "respond when not AWAITING_INPUT".
	// mode=force bypasses the precondition for an operator-driven inject;
	// any other mode (including the default, empty one) enforces it.
	if req.Mode != api.RespondModeForce {
		state := model.TaskIdle
		task, err := h.st.GetOpenTask(c.Request.Context(), sessionID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				httpmw.AbortWithAppErr(c, apperr.ServerError(err))
				return
			}
		} else {
			state = task.State
		}
		if state != model.TaskAwaitingInput {
			httpmw.AbortWithAppErr(c, apperr.WrongState("session %s is not awaiting input (state=%s)", sessionID, state))
			return
		}
	}

	result, err := h.br.SendText(c.Request.Context(), sessionID, req.Text)
	if err != nil {
		httpmw.AbortWithAppErr(c, err)
		return
	}

	resp := api.RespondResponse{SessionID: sessionID}
	if result != nil {
		resp.TaskID = result.TaskID
		resp.TurnID = result.TurnID
		resp.State = string(result.State)
	}
	c.JSON(http.StatusOK, resp)
}
