package schedule

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/common/logger"
)

// Handlers exposes the schedule CRUD API on the control plane.
type Handlers struct {
	service *Service
	logger  *logger.Logger
}

// NewHandlers creates the schedule handlers.
func NewHandlers(service *Service, log *logger.Logger) *Handlers {
	return &Handlers{
		service: service,
		logger:  log.WithFields(zap.String("component", "schedule-handlers")),
	}
}

// RegisterRoutes attaches the schedule endpoints to the router.
func RegisterRoutes(router *gin.Engine, service *Service, log *logger.Logger) {
	h := NewHandlers(service, log)
	api := router.Group("/api/v1")
	api.POST("/schedules", h.create)
	api.GET("/schedules", h.list)
	api.GET("/schedules/:id", h.get)
	api.PATCH("/schedules/:id", h.update)
	api.DELETE("/schedules/:id", h.delete)
	api.GET("/schedules/:id/executions", h.executions)
	api.GET("/agents/:name/schedules", h.listForAgent)
}

func (h *Handlers) create(c *gin.Context) {
	var in CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	sched, err := h.service.Create(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err, "failed to create schedule")
		return
	}
	c.JSON(http.StatusCreated, sched)
}

func (h *Handlers) list(c *gin.Context) {
	schedules, err := h.service.List(c.Request.Context(), c.Query("agent"))
	if err != nil {
		h.respondError(c, err, "failed to list schedules")
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": schedules})
}

func (h *Handlers) get(c *gin.Context) {
	sched, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "failed to get schedule")
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h *Handlers) update(c *gin.Context) {
	var in UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	sched, err := h.service.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.respondError(c, err, "failed to update schedule")
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h *Handlers) delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err, "failed to delete schedule")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) executions(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	executions, err := h.service.Executions(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.respondError(c, err, "failed to list executions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": executions})
}

func (h *Handlers) listForAgent(c *gin.Context) {
	schedules, err := h.service.List(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err, "failed to list schedules")
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": schedules})
}

func (h *Handlers) respondError(c *gin.Context, err error, msg string) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
