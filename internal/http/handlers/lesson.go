package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/lessonstream/internal/http/response"
	"github.com/yungbote/lessonstream/internal/lesson/emitter"
	"github.com/yungbote/lessonstream/internal/lesson/pipeline"
	"github.com/yungbote/lessonstream/internal/lesson/push"
	"github.com/yungbote/lessonstream/internal/lesson/runs"
	"github.com/yungbote/lessonstream/internal/lesson/trace"
	"github.com/yungbote/lessonstream/internal/observability"
	"github.com/yungbote/lessonstream/internal/platform/dbctx"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

type LessonHandler struct {
	log     *logger.Logger
	svc     *pipeline.Service
	runs    runs.Repo
	traces  trace.Store
	metrics *observability.Metrics
	buffer  int
}

func NewLessonHandler(log *logger.Logger, svc *pipeline.Service, repo runs.Repo, traces trace.Store, metrics *observability.Metrics, sinkBuffer int) *LessonHandler {
	if log == nil {
		log = logger.Nop()
	}
	if sinkBuffer <= 0 {
		sinkBuffer = 256
	}
	return &LessonHandler{
		log:     log.With("handler", "LessonHandler"),
		svc:     svc,
		runs:    repo,
		traces:  traces,
		metrics: metrics,
		buffer:  sinkBuffer,
	}
}

type createLessonRequest struct {
	Prompt   string               `json:"prompt"`
	Domain   string               `json:"domain"`
	AgeGroup string               `json:"ageGroup"`
	Media    *pipeline.MediaPatch `json:"media"`
}

func bindLesson(c *gin.Context) (pipeline.Request, bool) {
	var body createLessonRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.InvalidRequest(c, errors.New("invalid json body"))
		return pipeline.Request{}, false
	}
	req := pipeline.Request{
		Prompt:   body.Prompt,
		Domain:   body.Domain,
		AgeGroup: body.AgeGroup,
		Media:    body.Media.Apply(pipeline.DefaultMedia()),
	}
	if err := req.Validate(); err != nil {
		response.InvalidRequest(c, err)
		return pipeline.Request{}, false
	}
	return req, true
}

// POST /api/lessons/stream
//
// Runs the pipeline inside the request and streams its messages as SSE.
func (h *LessonHandler) Stream(c *gin.Context) {
	req, ok := bindLesson(c)
	if !ok {
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Internal(c, "streaming unsupported")
		return
	}

	runID := pipeline.NewRunID()
	sink := emitter.NewChannelSink(h.buffer)
	ctx := c.Request.Context()
	go func() {
		defer sink.Close()
		_, _ = h.svc.Stream(ctx, runID, req, sink)
	}()

	push.SetSSEHeaders(c.Writer)
	c.Writer.Header().Set("X-Run-Id", runID)
	c.Status(http.StatusOK)
	flusher.Flush()

	broken := false
	for m := range sink.C() {
		if broken {
			continue
		}
		if err := push.WriteSSE(c.Writer, m); err != nil {
			h.log.Debug("stream client gone", "run_id", runID, "error", err)
			broken = true
			continue
		}
		flusher.Flush()
	}
	h.metrics.AddPushDropped(sink.Dropped())
}

// POST /api/lessons/runs
func (h *LessonHandler) StartRun(c *gin.Context) {
	req, ok := bindLesson(c)
	if !ok {
		return
	}
	runID, err := h.svc.Start(req)
	if err != nil {
		if errors.Is(err, pipeline.ErrShuttingDown) {
			response.Unavailable(c, err)
			return
		}
		response.InvalidRequest(c, err)
		return
	}
	base := "/api/lessons/runs/" + runID
	c.JSON(http.StatusAccepted, gin.H{
		"runId":     runID,
		"eventsUrl": base + "/events",
		"wsUrl":     base + "/ws",
	})
}

// GET /api/lessons/runs/:id
func (h *LessonHandler) GetRun(c *gin.Context) {
	rec, err := h.runs.Get(dbctx.New(c.Request.Context()), c.Param("id"))
	if err != nil {
		h.log.Warn("load run failed", "error", err)
		response.Internal(c, "could not load run")
		return
	}
	if rec == nil {
		response.NotFound(c, "run not found")
		return
	}
	response.OK(c, gin.H{"run": rec})
}

// DELETE /api/lessons/runs/:id
func (h *LessonHandler) CancelRun(c *gin.Context) {
	if !h.svc.Cancel(c.Param("id")) {
		response.NotFound(c, "run is not active on this node")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runId": c.Param("id"), "status": "cancelling"})
}

// GET /api/lessons/runs/:id/thinking
func (h *LessonHandler) Thinking(c *gin.Context) {
	if h.traces == nil {
		response.NotFound(c, trace.ErrNotFound.Error())
		return
	}
	text, err := h.traces.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, trace.ErrNotFound) {
		response.NotFound(c, err.Error())
		return
	}
	if err != nil {
		h.log.Warn("load reasoning trace failed", "error", err)
		response.Internal(c, "could not load reasoning")
		return
	}
	response.OK(c, gin.H{"runId": c.Param("id"), "thinking": text})
}
