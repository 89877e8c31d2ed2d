package scheduler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/common/logger"
	"github.com/agentplane/agentplane/internal/schedule"
)

// Handlers is the scheduler service's small HTTP surface: manual
// triggers and liveness.
type Handlers struct {
	repo     schedule.Repository
	executor *Executor
	logger   *logger.Logger
}

// NewHandlers creates the scheduler handlers.
func NewHandlers(repo schedule.Repository, executor *Executor, log *logger.Logger) *Handlers {
	return &Handlers{
		repo:     repo,
		executor: executor,
		logger:   log.WithFields(zap.String("component", "scheduler-handlers")),
	}
}

// RegisterRoutes attaches the scheduler endpoints.
func RegisterRoutes(router *gin.Engine, repo schedule.Repository, executor *Executor, log *logger.Logger) {
	h := NewHandlers(repo, executor, log)
	router.POST("/api/schedules/:id/trigger", h.trigger)
	router.GET("/api/health", h.health)
}

// trigger fires a schedule out of band. The fire runs in the background
// and still takes the per-agent lock, so manual triggers cannot collide
// with cron firings; the endpoint replies immediately.
func (h *Handlers) trigger(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.repo.GetSchedule(c.Request.Context(), id); err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		h.logger.WithSchedule(id).WithError(err).Error("Failed to load schedule for trigger")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load schedule"})
		return
	}

	go h.executor.Fire(context.Background(), id, schedule.TriggeredByManual)

	c.JSON(http.StatusOK, gin.H{"status": "triggered"})
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
