package agent

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/agent/runtime"
	"github.com/agentplane/agentplane/internal/common/logger"
	"github.com/agentplane/agentplane/internal/queue"
)

// Starter is the lifecycle surface the handlers drive; satisfied by
// lifecycle.Controller.
type Starter interface {
	Start(ctx context.Context, agentName string) error
	Stop(ctx context.Context, agentName string) error
}

// Handlers exposes the agent registry, lifecycle, chat, and queue
// administration endpoints.
type Handlers struct {
	repo       Repository
	lifecycle  Starter
	queue      *queue.ExecutionQueue
	dispatcher *queue.Dispatcher
	runtimes   RuntimeFactory
	logger     *logger.Logger
}

// NewHandlers creates the agent HTTP handlers.
func NewHandlers(repo Repository, lc Starter, q *queue.ExecutionQueue, d *queue.Dispatcher, runtimes RuntimeFactory, log *logger.Logger) *Handlers {
	return &Handlers{
		repo:       repo,
		lifecycle:  lc,
		queue:      q,
		dispatcher: d,
		runtimes:   runtimes,
		logger:     log,
	}
}

// RegisterRoutes attaches agent routes to the router.
func RegisterRoutes(router *gin.Engine, repo Repository, lc Starter, q *queue.ExecutionQueue, d *queue.Dispatcher, runtimes RuntimeFactory, log *logger.Logger) {
	h := NewHandlers(repo, lc, q, d, runtimes, log)

	v1 := router.Group("/api/v1")
	agents := v1.Group("/agents")
	agents.POST("", h.create)
	agents.GET("", h.list)
	agents.GET("/:name", h.get)
	agents.PATCH("/:name", h.update)
	agents.DELETE("/:name", h.delete)

	agents.POST("/:name/start", h.start)
	agents.POST("/:name/stop", h.stop)

	agents.GET("/:name/shared-folders", h.getSharedFolders)
	agents.PUT("/:name/shared-folders", h.putSharedFolders)
	agents.GET("/:name/permissions", h.listPermissions)
	agents.POST("/:name/permissions", h.grantPermission)
	agents.DELETE("/:name/permissions/:peer", h.revokePermission)

	agents.POST("/:name/chat", h.chat)
	agents.GET("/:name/queue", h.queueStatus)
	agents.POST("/:name/queue/clear", h.queueClear)
	agents.POST("/:name/queue/release", h.queueRelease)
}

type createAgentRequest struct {
	Name            string `json:"name" binding:"required"`
	OwnerID         string `json:"owner_id"`
	ContainerID     string `json:"container_id"`
	RuntimeURL      string `json:"runtime_url"`
	AutonomyEnabled bool   `json:"autonomy_enabled"`
}

func (h *Handlers) create(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a := &Agent{
		Name:            req.Name,
		OwnerID:         req.OwnerID,
		ContainerID:     req.ContainerID,
		RuntimeURL:      req.RuntimeURL,
		AutonomyEnabled: req.AutonomyEnabled,
	}
	if err := h.repo.CreateAgent(c.Request.Context(), a); err != nil {
		h.logger.WithError(err).Error("Failed to create agent")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *Handlers) list(c *gin.Context) {
	agents, err := h.repo.ListAgents(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list agents")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list agents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

func (h *Handlers) get(c *gin.Context) {
	a, err := h.repo.GetAgent(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err, "failed to get agent")
		return
	}
	c.JSON(http.StatusOK, a)
}

type updateAgentRequest struct {
	ContainerID     *string `json:"container_id"`
	RuntimeURL      *string `json:"runtime_url"`
	AutonomyEnabled *bool   `json:"autonomy_enabled"`
}

func (h *Handlers) update(c *gin.Context) {
	var req updateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	a, err := h.repo.GetAgent(ctx, c.Param("name"))
	if err != nil {
		h.respondError(c, err, "failed to get agent")
		return
	}
	if req.ContainerID != nil {
		a.ContainerID = *req.ContainerID
	}
	if req.RuntimeURL != nil {
		a.RuntimeURL = *req.RuntimeURL
	}
	if req.AutonomyEnabled != nil {
		a.AutonomyEnabled = *req.AutonomyEnabled
	}
	if err := h.repo.UpdateAgent(ctx, a); err != nil {
		h.respondError(c, err, "failed to update agent")
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handlers) delete(c *gin.Context) {
	if err := h.repo.DeleteAgent(c.Request.Context(), c.Param("name")); err != nil {
		h.respondError(c, err, "failed to delete agent")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) start(c *gin.Context) {
	name := c.Param("name")
	if err := h.lifecycle.Start(c.Request.Context(), name); err != nil {
		h.logger.WithAgent(name).WithError(err).Error("Failed to start agent")
		h.respondError(c, err, "failed to start agent")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (h *Handlers) stop(c *gin.Context) {
	name := c.Param("name")
	if err := h.lifecycle.Stop(c.Request.Context(), name); err != nil {
		h.respondError(c, err, "failed to stop agent")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *Handlers) getSharedFolders(c *gin.Context) {
	cfg, err := h.repo.GetSharedFolderConfig(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err, "failed to get shared folder config")
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type sharedFoldersRequest struct {
	ExposeEnabled  bool `json:"expose_enabled"`
	ConsumeEnabled bool `json:"consume_enabled"`
}

func (h *Handlers) putSharedFolders(c *gin.Context) {
	var req sharedFoldersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	name := c.Param("name")
	if _, err := h.repo.GetAgent(ctx, name); err != nil {
		h.respondError(c, err, "failed to get agent")
		return
	}
	cfg := &SharedFolderConfig{
		AgentName:      name,
		ExposeEnabled:  req.ExposeEnabled,
		ConsumeEnabled: req.ConsumeEnabled,
	}
	if err := h.repo.UpsertSharedFolderConfig(ctx, cfg); err != nil {
		h.respondError(c, err, "failed to save shared folder config")
		return
	}
	// Mounts converge on the next start; a running container keeps its
	// current set until then.
	c.JSON(http.StatusOK, cfg)
}

func (h *Handlers) listPermissions(c *gin.Context) {
	peers, err := h.repo.ListPermittedPeers(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err, "failed to list permissions")
		return
	}
	if peers == nil {
		peers = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"peers": peers})
}

type permissionRequest struct {
	ToAgent string `json:"to_agent" binding:"required"`
}

func (h *Handlers) grantPermission(c *gin.Context) {
	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	name := c.Param("name")
	if _, err := h.repo.GetAgent(ctx, req.ToAgent); err != nil {
		h.respondError(c, err, "failed to get peer agent")
		return
	}
	if err := h.repo.GrantPermission(ctx, name, req.ToAgent); err != nil {
		h.respondError(c, err, "failed to grant permission")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"from_agent": name, "to_agent": req.ToAgent})
}

func (h *Handlers) revokePermission(c *gin.Context) {
	err := h.repo.RevokePermission(c.Request.Context(), c.Param("name"), c.Param("peer"))
	if err != nil {
		h.respondError(c, err, "failed to revoke permission")
		return
	}
	c.Status(http.StatusNoContent)
}

type chatRequest struct {
	Message   string `json:"message" binding:"required"`
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
}

// chat submits a user message through the execution queue. When the
// agent is idle the message runs synchronously and the reply is
// returned; when busy the entry waits its turn and the dispatcher
// delivers it after promotion.
func (h *Handlers) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	name := c.Param("name")
	a, err := h.repo.GetAgent(ctx, name)
	if err != nil {
		h.respondError(c, err, "failed to get agent")
		return
	}

	entry := h.queue.Create(queue.CreateParams{
		AgentName:       name,
		Message:         req.Message,
		Source:          queue.SourceUser,
		SourceUserID:    req.UserID,
		SourceUserEmail: req.UserEmail,
	})
	result, err := h.queue.Submit(ctx, entry, true)
	if err != nil {
		var full *queue.QueueFullError
		if errors.As(err, &full) {
			c.Header("Retry-After", strconv.Itoa(full.RetryAfterSeconds))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":        "queue full",
				"queue_length": full.QueueLength,
				"retry_after":  full.RetryAfterSeconds,
			})
			return
		}
		h.logger.WithAgent(name).WithError(err).Error("Failed to submit chat message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit message"})
		return
	}

	if result.State == queue.SubmitStateQueued {
		c.JSON(http.StatusAccepted, gin.H{
			"status":   "queued",
			"position": result.Position,
			"entry_id": entry.ID,
		})
		return
	}

	resp, chatErr := h.runtimes(a).Chat(ctx, &runtime.ChatRequest{
		Message:   req.Message,
		UserID:    req.UserID,
		UserEmail: req.UserEmail,
	})
	entry.Status = queue.StatusCompleted
	if chatErr != nil {
		entry.Status = queue.StatusFailed
	}

	// Release the slot and hand any promoted successor to the dispatcher.
	next, err := h.queue.Complete(context.WithoutCancel(ctx), name)
	if err != nil {
		h.logger.WithAgent(name).WithError(err).Error("Failed to complete chat entry")
	} else if next != nil {
		go h.dispatcher.Dispatch(context.Background(), next)
	}

	if chatErr != nil {
		h.logger.WithAgent(name).WithError(chatErr).Error("Chat dispatch failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "agent not reachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"response_text": resp.ResponseText,
		"metrics":       resp.Metrics,
		"entry_id":      entry.ID,
	})
}

func (h *Handlers) queueStatus(c *gin.Context) {
	status, err := h.queue.Status(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err, "failed to get queue status")
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handlers) queueClear(c *gin.Context) {
	n, err := h.queue.ClearQueue(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err, "failed to clear queue")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

func (h *Handlers) queueRelease(c *gin.Context) {
	released, err := h.queue.ForceRelease(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err, "failed to release slot")
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": released})
}

func (h *Handlers) respondError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNoContainer):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.WithError(err).Error(msg, zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
