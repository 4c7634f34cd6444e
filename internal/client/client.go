// Package client provides an HTTP client for the sludgewire server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/raphaelgruber/sludgewire/internal/metrics"
	"github.com/raphaelgruber/sludgewire/internal/models"
	"github.com/raphaelgruber/sludgewire/internal/service"
)

// Client talks to a running sludgewire server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client.
// If baseURL is empty, uses SLUDGEWIRE_SERVER_URL or defaults to localhost:8484.
// Timeout can be configured via SLUDGEWIRE_CLIENT_TIMEOUT (default 30s).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("SLUDGEWIRE_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("SLUDGEWIRE_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error: %d - %s", e.Code, e.Body)
}

// TriggerResult is the outcome of a trigger request.
type TriggerResult struct {
	// Accepted is false when the server is cooling down or already running a pass.
	Accepted bool
	Status   string `json:"status"`
}

// Trigger asks the server to start a catch-up pass.
func (c *Client) Trigger(ctx context.Context) (*TriggerResult, error) {
	var res TriggerResult
	code, err := c.do(ctx, http.MethodPost, "/trigger", nil, &res, http.StatusAccepted, http.StatusTooManyRequests)
	if err != nil {
		return nil, err
	}
	res.Accepted = code == http.StatusAccepted
	return &res, nil
}

// StartBackfill starts a background backfill from..to.
func (c *Client) StartBackfill(ctx context.Context, from, to time.Time, ft models.FilingType) (*service.JobSnapshot, error) {
	q := url.Values{
		"date": {from.Format(time.DateOnly)},
		"to":   {to.Format(time.DateOnly)},
		"type": {string(ft)},
	}
	var snap service.JobSnapshot
	if _, err := c.do(ctx, http.MethodPost, "/backfill", q, &snap, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &snap, nil
}

// BackfillStatus returns the single-day job state.
func (c *Client) BackfillStatus(ctx context.Context, date time.Time, ft models.FilingType) (*models.BackfillJob, error) {
	q := url.Values{"date": {date.Format(time.DateOnly)}, "type": {string(ft)}}
	var job models.BackfillJob
	if _, err := c.do(ctx, http.MethodGet, "/backfill", q, &job, http.StatusOK); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob returns a background job snapshot.
func (c *Client) GetJob(ctx context.Context, id string) (*service.JobSnapshot, error) {
	var snap service.JobSnapshot
	if _, err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &snap, http.StatusOK); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListJobs returns every background job, newest first.
func (c *Client) ListJobs(ctx context.Context) ([]service.JobSnapshot, error) {
	var jobs []service.JobSnapshot
	if _, err := c.do(ctx, http.MethodGet, "/jobs", nil, &jobs, http.StatusOK); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Stats returns the server's metrics snapshot.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if _, err := c.do(ctx, http.MethodGet, "/stats", nil, &snap, http.StatusOK); err != nil {
		return nil, err
	}
	return &snap, nil
}

// do sends a request and decodes the body into result when the status is
// one of ok.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, result any, ok ...int) (int, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	accepted := false
	for _, code := range ok {
		if resp.StatusCode == code {
			accepted = true
			break
		}
	}
	if !accepted {
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return resp.StatusCode, fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
