package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yungbote/lessonstream/internal/http/response"
	"github.com/yungbote/lessonstream/internal/lesson/push"
	"github.com/yungbote/lessonstream/internal/lesson/runs"
	"github.com/yungbote/lessonstream/internal/platform/dbctx"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

// RealtimeHandler attaches clients to the push hub of a run.
type RealtimeHandler struct {
	log      *logger.Logger
	hub      *push.Hub
	runs     runs.Repo
	upgrader websocket.Upgrader
}

func NewRealtimeHandler(log *logger.Logger, hub *push.Hub, repo runs.Repo, upgrader websocket.Upgrader) *RealtimeHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &RealtimeHandler{log: log.With("handler", "RealtimeHandler"), hub: hub, runs: repo, upgrader: upgrader}
}

// known is true for runs in the hub or the ledger. Runs started on another
// node appear in the hub only once their first message is forwarded.
func (h *RealtimeHandler) known(c *gin.Context, runID string) bool {
	if h.hub.Has(runID) {
		return true
	}
	if h.runs == nil {
		return false
	}
	rec, err := h.runs.Get(dbctx.New(c.Request.Context()), runID)
	return err == nil && rec != nil
}

// GET /api/lessons/runs/:id/events
func (h *RealtimeHandler) Events(c *gin.Context) {
	runID := c.Param("id")
	if !h.known(c, runID) {
		response.NotFound(c, "run not found")
		return
	}
	h.log.Debug("SSE stream open", "run_id", runID, "last_event_id", push.LastEventID(c.Request))
	h.hub.ServeSSE(c.Writer, c.Request, runID)
}

// GET /api/lessons/runs/:id/ws
func (h *RealtimeHandler) WebSocket(c *gin.Context) {
	runID := c.Param("id")
	if !h.known(c, runID) {
		response.NotFound(c, "run not found")
		return
	}
	h.hub.ServeWS(h.upgrader, c.Writer, c.Request, runID)
}
