package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplane/agentplane/internal/common/logger"
)

func TestTaskSuccess(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/task", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(TaskResponse{
			ResponseText: "pong",
			Metrics:      Metrics{ContextUsed: 100, ContextMax: 200000, CostUSD: 0.001},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logger.Default())
	resp, err := c.Task(context.Background(), &TaskRequest{
		Message:        "ping",
		TimeoutSeconds: 900,
		ExecutionID:    "exec-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.ResponseText)
	assert.Equal(t, 0.001, resp.Metrics.CostUSD)

	// allowed_tools is omitted entirely when unrestricted.
	_, present := gotBody["allowed_tools"]
	assert.False(t, present)
	assert.Equal(t, "exec-1", gotBody["execution_id"])
}

func TestTaskAllowedToolsEmptyVsAbsent(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(TaskResponse{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logger.Default())
	empty := []string{}
	_, err := c.Task(context.Background(), &TaskRequest{
		Message:        "ping",
		TimeoutSeconds: 300,
		AllowedTools:   &empty,
	})
	require.NoError(t, err)

	tools, present := gotBody["allowed_tools"]
	require.True(t, present)
	assert.Empty(t, tools)
}

func TestTaskServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logger.Default())
	_, err := c.Task(context.Background(), &TaskRequest{Message: "ping", TimeoutSeconds: 300})

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusInternalServerError, reqErr.StatusCode)
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ChatResponse{ResponseText: "hello"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logger.Default())
	resp, err := c.Chat(context.Background(), &ChatRequest{Message: "hi", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.ResponseText)
}

func TestSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/session", r.URL.Path)
		_ = json.NewEncoder(w).Encode(SessionInfo{Active: true, MessageCount: 4})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logger.Default())
	info, err := c.Session(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Active)
	assert.Equal(t, 4, info.MessageCount)
}
