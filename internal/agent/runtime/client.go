// Package runtime provides the HTTP client for the agent runtime, the
// black-box task executor running inside each agent container.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/common/logger"
)

const sessionTimeout = 5 * time.Second

// TaskRequest is the body for POST /api/task. AllowedTools distinguishes
// absent (unrestricted) from empty (no tools): nil omits the field, a
// pointer to an empty slice sends [].
type TaskRequest struct {
	Message        string    `json:"message"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	AllowedTools   *[]string `json:"allowed_tools,omitempty"`
	ExecutionID    string    `json:"execution_id,omitempty"`
}

// Metrics is the observability block returned by the runtime.
type Metrics struct {
	ContextUsed      int     `json:"context_used"`
	ContextMax       int     `json:"context_max"`
	ContextPercent   float64 `json:"context_percent"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
	ToolCallsJSON    string  `json:"tool_calls_json,omitempty"`
	ExecutionLogJSON string  `json:"execution_log_json,omitempty"`
}

// TaskResponse is the parsed body of a 2xx /api/task reply.
type TaskResponse struct {
	ResponseText string                 `json:"response_text"`
	Metrics      Metrics                `json:"metrics"`
	Raw          map[string]interface{} `json:"raw,omitempty"`
}

// ChatRequest is the body for POST /api/chat, the stateful variant used
// by the interactive flow.
type ChatRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"user_id,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
}

// ChatResponse is the parsed body of a 2xx /api/chat reply.
type ChatResponse struct {
	ResponseText string  `json:"response_text"`
	Metrics      Metrics `json:"metrics"`
}

// SessionInfo reports the runtime's current conversation state.
type SessionInfo struct {
	Active        bool       `json:"active"`
	MessageCount  int        `json:"message_count"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// RequestError is a non-2xx reply from the runtime. Treated as a
// permanent dispatch failure; the caller records the execution as failed.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("agent runtime returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to one agent's runtime endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a runtime client for baseURL. No global timeout is
// set on the underlying http.Client; task calls derive their deadline
// from the task's own timeout.
func NewClient(baseURL string, log *logger.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     log.WithFields(zap.String("component", "runtime-client")),
	}
}

// Task runs a stateless task. The HTTP deadline is the task timeout plus
// a ten second grace so the runtime's own timeout fires first.
func (c *Client) Task(ctx context.Context, req *TaskRequest) (*TaskResponse, error) {
	deadline := time.Duration(req.TimeoutSeconds+10) * time.Second
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var out TaskResponse
	if err := c.post(ctx, "/api/task", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat sends a message on the runtime's persistent conversation.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var out ChatResponse
	if err := c.post(ctx, "/api/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session fetches the runtime's conversation state.
func (c *Client) Session(ctx context.Context) (*SessionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/session", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read session response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var info SessionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse session response: %w", err)
	}
	return &info, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WithFields(
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		).Warn("Agent runtime request failed")
		return &RequestError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}
