// Package client is a typed client for the learning daemon's operator API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Lightming99/RaSa-Metaconverse/internal/backup"
	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
	apihttp "github.com/Lightming99/RaSa-Metaconverse/internal/http"
	"github.com/Lightming99/RaSa-Metaconverse/internal/kbhistory"
	"github.com/Lightming99/RaSa-Metaconverse/internal/operations"
	"github.com/Lightming99/RaSa-Metaconverse/internal/pipeline"
)

// DefaultTimeout bounds requests that do not run pipeline work.
const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client calls the operator API.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates a client for the daemon at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the daemon URL.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var er apihttp.ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			apiErr.Message = er.Error
		}
		// a failed training run still carries its result
		if out != nil && resp.StatusCode == http.StatusInternalServerError && path == "/api/v1/train" {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Health returns the daemon status.
func (c *Client) Health(ctx context.Context) (*apihttp.HealthResponse, error) {
	var out apihttp.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitFeedback records feedback and schedules a learning cycle.
func (c *Client) SubmitFeedback(ctx context.Context, req apihttp.FeedbackRequest) (*apihttp.FeedbackResponse, error) {
	var out apihttp.FeedbackResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/feedback", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns ledger counts.
func (c *Client) Stats(ctx context.Context) (*feedback.Stats, error) {
	var out feedback.Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/feedback/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cleanup deletes removable feedback older than days.
func (c *Client) Cleanup(ctx context.Context, days int) (*apihttp.CleanupResponse, error) {
	var out apihttp.CleanupResponse
	q := url.Values{"days": {strconv.Itoa(days)}}
	if err := c.do(ctx, http.MethodPost, "/api/v1/feedback/cleanup", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Threshold returns the training threshold.
func (c *Client) Threshold(ctx context.Context) (int, error) {
	var out apihttp.ThresholdBody
	if err := c.do(ctx, http.MethodGet, "/api/v1/threshold", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Threshold, nil
}

// SetThreshold updates the training threshold.
func (c *Client) SetThreshold(ctx context.Context, n int) error {
	return c.do(ctx, http.MethodPut, "/api/v1/threshold", nil, apihttp.ThresholdBody{Threshold: n}, nil)
}

// Process runs a learning cycle and waits for it.
func (c *Client) Process(ctx context.Context) (*pipeline.CycleResult, error) {
	var out pipeline.CycleResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/process", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Train runs training. When the build fails the result is returned along
// with the error.
func (c *Client) Train(ctx context.Context) (*pipeline.TrainResult, error) {
	var out pipeline.TrainResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/train", nil, nil, &out); err != nil {
		if out.ID != "" {
			return &out, err
		}
		return nil, err
	}
	return &out, nil
}

// Records lists the records in one disposition set.
func (c *Client) Records(ctx context.Context, state string) (*apihttp.RecordsResponse, error) {
	var out apihttp.RecordsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/records/"+url.PathEscape(state), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearRecords empties one disposition set.
func (c *Client) ClearRecords(ctx context.Context, state string) (*apihttp.ClearResponse, error) {
	var out apihttp.ClearResponse
	if err := c.do(ctx, http.MethodDelete, "/api/v1/records/"+url.PathEscape(state), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RetryRejected returns rejected items to the queue. No ids retries all.
func (c *Client) RetryRejected(ctx context.Context, ids []string) (*apihttp.RetryResponse, error) {
	var out apihttp.RetryResponse
	var in any
	if len(ids) > 0 {
		in = apihttp.RetryRequest{IDs: ids}
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/records/rejected/retry", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Operations lists recent pipeline runs, newest first.
func (c *Client) Operations(ctx context.Context, limit int) ([]operations.Operation, error) {
	var out []operations.Operation
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.do(ctx, http.MethodGet, "/api/v1/operations", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Operation returns one pipeline run.
func (c *Client) Operation(ctx context.Context, id string) (*operations.Operation, error) {
	var out operations.Operation
	if err := c.do(ctx, http.MethodGet, "/api/v1/operations/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Backups lists knowledge-base backups, newest first.
func (c *Client) Backups(ctx context.Context) ([]backup.Backup, error) {
	var out []backup.Backup
	if err := c.do(ctx, http.MethodGet, "/api/v1/backups", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns up to limit knowledge-base commits, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]kbhistory.Entry, error) {
	var out []kbhistory.Entry
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.do(ctx, http.MethodGet, "/api/v1/history", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PruneBackups keeps the newest keep backups.
func (c *Client) PruneBackups(ctx context.Context, keep int) (*apihttp.PruneResponse, error) {
	var out apihttp.PruneResponse
	q := url.Values{"keep": {strconv.Itoa(keep)}}
	if err := c.do(ctx, http.MethodPost, "/api/v1/backups/prune", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
