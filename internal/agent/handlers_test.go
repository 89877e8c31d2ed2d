package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplane/agentplane/internal/agent/runtime"
	"github.com/agentplane/agentplane/internal/common/logger"
	"github.com/agentplane/agentplane/internal/queue"
)

type fakeLifecycle struct {
	started []string
	stopped []string
	err     error
}

func (f *fakeLifecycle) Start(ctx context.Context, name string) error {
	if f.err != nil {
		return f.err
	}
	f.started = append(f.started, name)
	return nil
}

func (f *fakeLifecycle) Stop(ctx context.Context, name string) error {
	f.stopped = append(f.stopped, name)
	return nil
}

type fakeChatRuntime struct {
	mu       sync.Mutex
	chats    []*runtime.ChatRequest
	tasks    []*runtime.TaskRequest
	response string
	err      error
}

func (f *fakeChatRuntime) Chat(ctx context.Context, req *runtime.ChatRequest) (*runtime.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, req)
	if f.err != nil {
		return nil, f.err
	}
	return &runtime.ChatResponse{ResponseText: f.response}, nil
}

func (f *fakeChatRuntime) Task(ctx context.Context, req *runtime.TaskRequest) (*runtime.TaskResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, req)
	if f.err != nil {
		return nil, f.err
	}
	return &runtime.TaskResponse{ResponseText: f.response}, nil
}

type handlersFixture struct {
	repo      *MemoryRepository
	lifecycle *fakeLifecycle
	queue     *queue.ExecutionQueue
	rt        *fakeChatRuntime
	router    *gin.Engine
}

func newHandlersFixture(t *testing.T) *handlersFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Default()

	f := &handlersFixture{
		repo:      NewMemoryRepository(),
		lifecycle: &fakeLifecycle{},
		rt:        &fakeChatRuntime{response: "hello"},
	}
	f.queue = queue.NewExecutionQueue(queue.NewMemoryStore(), queue.Options{MaxSize: 2}, log)
	runtimes := func(a *Agent) RuntimeCaller { return f.rt }
	dispatcher := queue.NewDispatcher(f.queue, NewQueueRunner(f.repo, runtimes, 900, log), log)

	f.router = gin.New()
	RegisterRoutes(f.router, f.repo, f.lifecycle, f.queue, dispatcher, runtimes, log)
	return f
}

func (f *handlersFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *handlersFixture) addAgent(t *testing.T, name string) *Agent {
	t.Helper()
	a := &Agent{Name: name, RuntimeURL: "http://" + name + ":8100", ContainerID: "ctr-" + name}
	require.NoError(t, f.repo.CreateAgent(context.Background(), a))
	return a
}

func TestCreateAndGetAgent(t *testing.T) {
	f := newHandlersFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/agents", gin.H{
		"name":             "alpha",
		"runtime_url":      "http://alpha:8100",
		"autonomy_enabled": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/agents/alpha", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var a Agent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Equal(t, "alpha", a.Name)
	assert.True(t, a.AutonomyEnabled)
}

func TestGetUnknownAgentIs404(t *testing.T) {
	f := newHandlersFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/agents/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateAgentAutonomy(t *testing.T) {
	f := newHandlersFixture(t)
	f.addAgent(t, "alpha")

	w := f.do(t, http.MethodPatch, "/api/v1/agents/alpha", gin.H{"autonomy_enabled": true})
	require.Equal(t, http.StatusOK, w.Code)

	a, err := f.repo.GetAgent(context.Background(), "alpha")
	require.NoError(t, err)
	assert.True(t, a.AutonomyEnabled)
	assert.Equal(t, "ctr-alpha", a.ContainerID)
}

func TestStartAgent(t *testing.T) {
	f := newHandlersFixture(t)
	f.addAgent(t, "alpha")

	w := f.do(t, http.MethodPost, "/api/v1/agents/alpha/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"alpha"}, f.lifecycle.started)
}

func TestStartWithoutContainerIs409(t *testing.T) {
	f := newHandlersFixture(t)
	f.addAgent(t, "alpha")
	f.lifecycle.err = fmt.Errorf("%w: alpha", ErrNoContainer)

	w := f.do(t, http.MethodPost, "/api/v1/agents/alpha/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSharedFolderRoundTrip(t *testing.T) {
	f := newHandlersFixture(t)
	f.addAgent(t, "alpha")

	w := f.do(t, http.MethodPut, "/api/v1/agents/alpha/shared-folders", gin.H{
		"expose_enabled":  true,
		"consume_enabled": false,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/agents/alpha/shared-folders", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var cfg SharedFolderConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.True(t, cfg.ExposeEnabled)
	assert.False(t, cfg.ConsumeEnabled)
}

func TestPermissionLifecycle(t *testing.T) {
	f := newHandlersFixture(t)
	f.addAgent(t, "alpha")
	f.addAgent(t, "beta")

	w := f.do(t, http.MethodPost, "/api/v1/agents/alpha/permissions", gin.H{"to_agent": "beta"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/agents/alpha/permissions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"peers":["beta"]}`, w.Body.String())

	w = f.do(t, http.MethodDelete, "/api/v1/agents/alpha/permissions/beta", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/agents/alpha/permissions", nil)
	assert.JSONEq(t, `{"peers":[]}`, w.Body.String())
}

func TestGrantPermissionToUnknownPeerIs404(t *testing.T) {
	f := newHandlersFixture(t)
	f.addAgent(t, "alpha")

	w := f.do(t, http.MethodPost, "/api/v1/agents/alpha/permissions", gin.H{"to_agent": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatRunsImmediatelyWhenIdle(t *testing.T) {
	f := newHandlersFixture(t)
	f.addAgent(t, "alpha")

	w := f.do(t, http.MethodPost, "/api/v1/agents/alpha/chat", gin.H{
		"message": "hi",
		"user_id": "u-1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		ResponseText string `json:"response_text"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hello", resp.ResponseText)

	require.Len(t, f.rt.chats, 1)
	assert.Equal(t, "hi", f.rt.chats[0].Message)
	assert.Equal(t, "u-1", f.rt.chats[0].UserID)

	// Slot released after the synchronous reply.
	busy, err := f.queue.IsBusy(context.Background(), "alpha")
	require.NoError(t, err)
	assert.False(t, busy)
}

func TestChatQueuesWhenBusy(t *testing.T) {
	f := newHandlersFixture(t)
	f.addAgent(t, "alpha")

	// Occupy the running slot directly.
	blocker := f.queue.Create(queue.CreateParams{AgentName: "alpha", Message: "long task", Source: queue.SourceSchedule})
	_, err := f.queue.Submit(context.Background(), blocker, false)
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/v1/agents/alpha/chat", gin.H{"message": "hi"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		Status   string `json:"status"`
		Position int    `json:"position"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, 0, resp.Position)
	assert.Empty(t, f.rt.chats)
}

func TestChatQueueFullIs429(t *testing.T) {
	f := newHandlersFixture(t)
	f.addAgent(t, "alpha")

	blocker := f.queue.Create(queue.CreateParams{AgentName: "alpha", Message: "busy", Source: queue.SourceSchedule})
	_, err := f.queue.Submit(context.Background(), blocker, false)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodPost, "/api/v1/agents/alpha/chat", gin.H{"message": "wait"})
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/v1/agents/alpha/chat", gin.H{"message": "one too many"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var resp struct {
		Error       string `json:"error"`
		QueueLength int    `json:"queue_length"`
		RetryAfter  int    `json:"retry_after"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "queue full", resp.Error)
	assert.Equal(t, 2, resp.QueueLength)
	assert.Equal(t, 600, resp.RetryAfter)
	assert.Equal(t, "600", w.Header().Get("Retry-After"))
}

func TestChatRuntimeFailureIs502AndReleasesSlot(t *testing.T) {
	f := newHandlersFixture(t)
	f.addAgent(t, "alpha")
	f.rt.err = fmt.Errorf("connection refused")

	w := f.do(t, http.MethodPost, "/api/v1/agents/alpha/chat", gin.H{"message": "hi"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	busy, err := f.queue.IsBusy(context.Background(), "alpha")
	require.NoError(t, err)
	assert.False(t, busy)
}

func TestChatCompletionDispatchesPromotedEntries(t *testing.T) {
	f := newHandlersFixture(t)
	f.addAgent(t, "alpha")

	// A schedule-sourced entry waits behind the chat slot; after the chat
	// reply it must be promoted and dispatched to the task endpoint.
	chatW := make(chan *httptest.ResponseRecorder, 1)
	blocker := f.queue.Create(queue.CreateParams{AgentName: "alpha", Message: "chat first", Source: queue.SourceUser})
	_, err := f.queue.Submit(context.Background(), blocker, false)
	require.NoError(t, err)

	waiting := f.queue.Create(queue.CreateParams{AgentName: "alpha", Message: "then me", Source: queue.SourceSchedule})
	_, err = f.queue.Submit(context.Background(), waiting, true)
	require.NoError(t, err)

	// Release the blocker through the chat path: force-release then chat.
	_, err = f.queue.ForceRelease(context.Background(), "alpha")
	require.NoError(t, err)
	go func() {
		chatW <- f.do(t, http.MethodPost, "/api/v1/agents/alpha/chat", gin.H{"message": "hi"})
	}()

	w := <-chatW
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		f.rt.mu.Lock()
		defer f.rt.mu.Unlock()
		return len(f.rt.tasks) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.rt.mu.Lock()
	assert.Equal(t, "then me", f.rt.tasks[0].Message)
	f.rt.mu.Unlock()
}

func TestQueueStatusAndAdmin(t *testing.T) {
	f := newHandlersFixture(t)
	f.addAgent(t, "alpha")

	blocker := f.queue.Create(queue.CreateParams{AgentName: "alpha", Message: "busy", Source: queue.SourceSchedule})
	_, err := f.queue.Submit(context.Background(), blocker, false)
	require.NoError(t, err)
	waiting := f.queue.Create(queue.CreateParams{AgentName: "alpha", Message: "wait", Source: queue.SourceUser})
	_, err = f.queue.Submit(context.Background(), waiting, true)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/v1/agents/alpha/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status queue.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.NotNil(t, status.Running)
	assert.Equal(t, 1, status.QueueLength)

	w = f.do(t, http.MethodPost, "/api/v1/agents/alpha/queue/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cleared":1}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/v1/agents/alpha/queue/release", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"released":true}`, w.Body.String())
}
