package activity

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

// Tracker is how the scheduler reports activities. Implemented by the
// HTTP client against the control plane and by the in-process service.
type Tracker interface {
	Track(ctx context.Context, in TrackInput) (string, error)
	Complete(ctx context.Context, id string, in CompleteInput) error
}

// Client reports activities to the control plane's internal API. All
// methods are best-effort from the caller's perspective: the scheduler
// logs failures and carries on.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

var _ Tracker = (*Client)(nil)

// NewClient creates an activity client for the control plane at baseURL.
func NewClient(baseURL string, log *logger.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     log.WithFields(zap.String("component", "activity-client")),
	}
}

// Track reports a started activity and returns its id.
func (c *Client) Track(ctx context.Context, in TrackInput) (string, error) {
	var out struct {
		ActivityID string `json:"activity_id"`
	}
	if err := c.post(ctx, "/internal/activities/track", in, &out); err != nil {
		return "", err
	}
	return out.ActivityID, nil
}

// Complete reports the terminal state of a previously tracked activity.
func (c *Client) Complete(ctx context.Context, id string, in CompleteInput) error {
	return c.post(ctx, "/internal/activities/"+id+"/complete", in, nil)
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
		return fmt.Errorf("failed to read activity response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("activity request %s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse activity response: %w", err)
		}
	}
	return nil
}

// ServiceTracker adapts the in-process Service to the Tracker interface,
// for single-binary deployments where the scheduler shares the control
// plane's store.
type ServiceTracker struct {
	Service *Service
}

var _ Tracker = (*ServiceTracker)(nil)

func (t *ServiceTracker) Track(ctx context.Context, in TrackInput) (string, error) {
	a, err := t.Service.Track(ctx, in)
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

func (t *ServiceTracker) Complete(ctx context.Context, id string, in CompleteInput) error {
	_, err := t.Service.Complete(ctx, id, in)
	return err
}
