package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"localops/internal/config"
	"localops/internal/logging"
	"localops/internal/types"
)

const apiKeyHeader = "x-api-key"

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  logging.Logger
}

func New(cfg config.CoreConfig, logger logging.Logger) *Client {
	c := NewWithBaseURL(cfg.APIBaseURL(), cfg.APIKey())
	c.http.Timeout = cfg.APITimeout()
	if logger != nil {
		c.logger = logger
	}
	return c
}

func NewWithBaseURL(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logging.Nop(),
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetRun reads the full current state of a run.
func (c *Client) GetRun(ctx context.Context, runID int64) (*types.RunDetail, error) {
	var run types.RunDetail
	if err := c.doJSON(ctx, http.MethodGet, runPath(runID), nil, &run); err != nil {
		return nil, err
	}
	if err := run.Normalize(); err != nil {
		return nil, fmt.Errorf("decode run %d: %w", runID, err)
	}
	return &run, nil
}

// ApproveRun asks the server to move the run out of review. The server decides
// whether the transition is legal; a rejection is returned as *APIError.
func (c *Client) ApproveRun(ctx context.Context, runID int64) (*types.RunActionResponse, error) {
	return c.runAction(ctx, runID, "approve")
}

func (c *Client) CancelRun(ctx context.Context, runID int64) (*types.RunActionResponse, error) {
	return c.runAction(ctx, runID, "cancel")
}

// runAction treats any 2xx reply as accepted. The body is optional and is
// decoded only when it is a RunActionResponse.
func (c *Client) runAction(ctx context.Context, runID int64, action string) (*types.RunActionResponse, error) {
	path := fmt.Sprintf("%s:%s", runPath(runID), action)
	data, err := c.send(ctx, http.MethodPost, path, nil)
	if err != nil {
		return nil, err
	}
	resp := types.RunActionResponse{RunID: runID}
	if len(bytes.TrimSpace(data)) == 0 {
		return &resp, nil
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Debug("run action reply not decoded",
			logging.F("path", path),
			logging.Err(err),
		)
		return &types.RunActionResponse{RunID: runID}, nil
	}
	return &resp, nil
}

func runPath(runID int64) string {
	return fmt.Sprintf("/v1/runs/%d", runID)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	data, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// send performs one request and returns the body of a 2xx reply. Other
// statuses are returned as *APIError.
func (c *Client) send(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if c.logger.Enabled(logging.Debug) {
		c.logger.Debug("api request",
			logging.F("method", method),
			logging.F("path", path),
			logging.F("status", resp.StatusCode),
			logging.F("took", time.Since(start)),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp)
	}
	return io.ReadAll(resp.Body)
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	message := errorMessage(data)
	if message == "" {
		message = resp.Status
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

func errorMessage(data []byte) string {
	var payload struct {
		Error  string          `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	if payload.Error != "" {
		return payload.Error
	}
	if len(payload.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(payload.Detail, &detail); err == nil {
			return detail
		}
		return string(payload.Detail)
	}
	return ""
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}
