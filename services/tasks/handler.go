package tasks

import (
	"context"
	"errors"
	"net/http"

	"task-execution-service/pkg/errutil"
	"task-execution-service/pkg/httpapi"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/", httpapi.Welcome)

	api := r.Group("/api")
	api.POST("/tasks", h.CreateTask)
	api.GET("/tasks/:task_id", h.StreamTaskStatus)
	api.GET("/tasks/:task_id/state", h.GetTaskStatus)
}

func (h *Handler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid request body", err, errutil.WithDetails(errutil.Detail{
			Field:   "body",
			Message: err.Error(),
		})))
		return
	}

	taskID, err := h.manager.Create(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, CreateTaskResponse{TaskID: taskID})
}

func (h *Handler) GetTaskStatus(c *gin.Context) {
	status, err := h.manager.GetStatus(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// StreamTaskStatus writes one SSE data frame per status snapshot. Errors found
// before the first frame go through the error middleware as a normal response;
// later ones are sent as an "error" event before the stream closes.
func (h *Handler) StreamTaskStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	started := false

	c.Header("X-Accel-Buffering", "no")

	err := h.manager.StreamStatus(c.Request.Context(), taskID, func(s StatusResponse) error {
		started = true
		c.Render(-1, sse.Event{Data: s})
		c.Writer.Flush()
		return nil
	})
	switch {
	case err == nil:
		return
	case errors.Is(err, context.Canceled):
		zap.L().Debug("status stream closed by client", zap.String("task_id", taskID))
		return
	case !started:
		_ = c.Error(err)
		return
	}

	zap.L().Warn("status stream aborted", zap.String("task_id", taskID), zap.Error(err))

	var be errutil.BaseError
	if !errors.As(err, &be) {
		be = errutil.Internal("status stream failed", err).(errutil.BaseError)
	}
	c.Render(-1, sse.Event{Event: "error", Data: be.JSON()})
	c.Writer.Flush()
}
