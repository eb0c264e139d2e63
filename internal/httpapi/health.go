package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/samotage/claude-headspace-sub014/internal/broadcast"
	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/internal/worker"
	"github.com/samotage/claude-headspace-sub014/pkg/api"
)

// HealthHandler implements GET /health, aggregating the Store, the
// Broadcaster's subscriber count, and every background worker's last
// tick status.
type HealthHandler struct {
	st      store.Store
	hub     *broadcast.Hub
	workers map[string]*worker.Named
}

// NewHealthHandler builds a HealthHandler.
func NewHealthHandler(st store.Store, hub *broadcast.Hub, workers map[string]*worker.Named) *HealthHandler {
	return &HealthHandler{st: st, hub: hub, workers: workers}
}

// RegisterRoutes mounts GET /health.
func (h *HealthHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.health)
}

func (h *HealthHandler) health(c *gin.Context) {
	dbStatus := "ok"
	status := http.StatusOK
	if err := h.st.Ping(c.Request.Context()); err != nil {
		dbStatus = "unavailable"
		status = http.StatusServiceUnavailable
	}

	workers := make(map[string]bool, len(h.workers))
	for name, w := range h.workers {
		workers[name] = w.Healthy()
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}

	c.JSON(status, api.HealthResponse{
		Status:   overall,
		Database: dbStatus,
		Broadcaster: api.BroadcasterHealth{
			Subscribers: h.hub.SubscriberCount(),
		},
		Workers: workers,
	})
}
