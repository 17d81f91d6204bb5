// Package http starts and tracks child executions on a remote
// schedule-pipeline service over its REST API. It is the ExecutionClient used
// when fan-out crosses process boundaries; the local engine covers
// single-binary deployments.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// DefaultTimeout bounds every remote call when the config leaves it unset.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response lands in the error message.
const maxErrorBody = 512

// Config holds the remote service coordinates.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements schedule.ExecutionClient against a peer service.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// New builds a Client. BaseURL is required; a trailing slash is tolerated.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.Named("executions_http"),
	}, nil
}

type startRequest struct {
	Name  string            `json:"name"`
	Input schedule.WorkItem `json:"input"`
}

// StartExecution posts the work item to /v1/executions and returns the handle
// the service assigned.
func (c *Client) StartExecution(ctx context.Context, name string, input schedule.WorkItem) (schedule.ExecutionHandle, error) {
	payload, err := json.Marshal(startRequest{Name: name, Input: input})
	if err != nil {
		return schedule.ExecutionHandle{}, fmt.Errorf("encode start request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/executions", bytes.NewReader(payload))
	if err != nil {
		return schedule.ExecutionHandle{}, fmt.Errorf("build start request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return schedule.ExecutionHandle{}, fmt.Errorf("start execution %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return schedule.ExecutionHandle{}, c.statusError("start execution "+name, resp)
	}

	var handle schedule.ExecutionHandle
	if err := json.NewDecoder(resp.Body).Decode(&handle); err != nil {
		return schedule.ExecutionHandle{}, fmt.Errorf("decode start response: %w", err)
	}
	if handle.ID == "" {
		return schedule.ExecutionHandle{}, fmt.Errorf("start execution %s: response carried no execution id", name)
	}

	c.logger.Info("execution started remotely",
		zap.String("execution_id", handle.ID),
		zap.String("name", name))
	return handle, nil
}

// DescribeExecution fetches the current handle. A 404 wraps
// schedule.ErrNotFound so callers can distinguish a vanished execution from a
// transport failure.
func (c *Client) DescribeExecution(ctx context.Context, id string) (schedule.ExecutionHandle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/executions/"+url.PathEscape(id), nil)
	if err != nil {
		return schedule.ExecutionHandle{}, fmt.Errorf("build describe request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return schedule.ExecutionHandle{}, fmt.Errorf("describe execution %s: %w", id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return schedule.ExecutionHandle{}, fmt.Errorf("execution %s: %w", id, schedule.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return schedule.ExecutionHandle{}, c.statusError("describe execution "+id, resp)
	}

	var handle schedule.ExecutionHandle
	if err := json.NewDecoder(resp.Body).Decode(&handle); err != nil {
		return schedule.ExecutionHandle{}, fmt.Errorf("decode describe response: %w", err)
	}
	return handle, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

func (c *Client) statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
