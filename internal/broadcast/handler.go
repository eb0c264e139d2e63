package broadcast

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samotage/claude-headspace-sub014/internal/logging"
)

// Server exposes the Hub over GET /api/events.
type Server struct {
	hub               *Hub
	log               *logging.Logger
	heartbeatInterval time.Duration
}

// NewServer wires hub to the HTTP surface.
func NewServer(hub *Hub, heartbeatIntervalSec int, log *logging.Logger) *Server {
	if heartbeatIntervalSec <= 0 {
		heartbeatIntervalSec = 30
	}
	return &Server{hub: hub, log: log, heartbeatInterval: time.Duration(heartbeatIntervalSec) * time.Second}
}

// RegisterRoutes mounts GET /api/events.
func (s *Server) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/events", s.handleEvents)
}

func parseTypes(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			out[t] = true
		}
	}
	return out
}

func parseLastEventID(c *gin.Context) int64 {
	raw := c.GetHeader("Last-Event-ID")
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// handleEvents streams chunked SSE frames until the client disconnects
// or the server shuts down (spec.md §6).
func (s *Server) handleEvents(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}

	filter := Filter{
		ProjectID: c.Query("project_id"),
		SessionID: c.Query("session_id"),
		Types:     parseTypes(c.Query("types")),
	}

	sub, err := s.hub.Subscribe(uuid.NewString(), filter, parseLastEventID(c))
	if err != nil {
		if _, full := err.(ErrFull); full {
			c.Header("Retry-After", "5")
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusInternalServerError)
		return
	}
	defer s.hub.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case fr, ok := <-sub.send:
			if !ok {
				s.writeClosing(c, flusher)
				return
			}
			if !s.write(c, flusher, sub, fr) {
				return
			}
		case <-ticker.C:
			if _, err := c.Writer.Write(heartbeatFrame); err != nil {
				s.log.Warn("broadcast: heartbeat write failed", zap.String("subscriber_id", sub.ID), zap.Error(err))
				return
			}
			flusher.Flush()
			sub.noteWriteOK()
		}
	}
}

func (s *Server) write(c *gin.Context, flusher http.Flusher, sub *Subscriber, fr Frame) bool {
	enc, err := fr.encode()
	if err != nil {
		return true
	}
	if _, err := c.Writer.Write(enc); err != nil {
		s.log.Warn("broadcast: frame write failed", zap.String("subscriber_id", sub.ID), zap.Error(err))
		return false
	}
	flusher.Flush()
	sub.noteWriteOK()
	return true
}

// writeClosing sends spec.md §6's graceful-shutdown terminal frame.
func (s *Server) writeClosing(c *gin.Context, flusher http.Flusher) {
	_, _ = c.Writer.Write([]byte("event: closing\ndata: {}\n\n"))
	flusher.Flush()
}
