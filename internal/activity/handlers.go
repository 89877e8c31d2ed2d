package activity

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/common/logger"
)

// Handlers exposes the internal activity API consumed by the scheduler
// service and other backends. Not part of the public surface.
type Handlers struct {
	service *Service
	logger  *logger.Logger
}

// NewHandlers creates the activity handlers.
func NewHandlers(service *Service, log *logger.Logger) *Handlers {
	return &Handlers{
		service: service,
		logger:  log.WithFields(zap.String("component", "activity-handlers")),
	}
}

// RegisterRoutes attaches the internal activity endpoints.
func RegisterRoutes(router *gin.Engine, service *Service, log *logger.Logger) {
	h := NewHandlers(service, log)
	internal := router.Group("/internal")
	internal.POST("/activities/track", h.track)
	internal.POST("/activities/:id/complete", h.complete)
	internal.GET("/activities/:id", h.get)
}

func (h *Handlers) track(c *gin.Context) {
	var in TrackInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	a, err := h.service.Track(c.Request.Context(), in)
	if err != nil {
		h.logger.Error("failed to track activity", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to track activity"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"activity_id": a.ID})
}

func (h *Handlers) complete(c *gin.Context) {
	var in CompleteInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	a, err := h.service.Complete(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "activity not found"})
		case errors.Is(err, ErrTerminal):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.Error("failed to complete activity", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to complete activity"})
		}
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handlers) get(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "activity not found"})
			return
		}
		h.logger.Error("failed to get activity", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get activity"})
		return
	}
	c.JSON(http.StatusOK, a)
}
