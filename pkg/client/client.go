package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/lanlink/pkg/api"
	"github.com/cuemby/lanlink/pkg/health"
	"github.com/cuemby/lanlink/pkg/types"
)

// DefaultTimeout bounds a single API call. NAT detection walks up to four
// STUN exchanges with retries, so it needs more than the usual few seconds.
const DefaultTimeout = 60 * time.Second

// Error is a non-2xx reply from the API
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// Client talks to a running lanlink serve instance
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the API at addr ("host:port" or a URL)
func NewClient(addr string) *Client {
	base := strings.TrimSuffix(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// StartWorker starts a worker with optional parameters
func (c *Client) StartWorker(ctx context.Context, name string, params map[string]string) (bool, error) {
	var body any
	if len(params) > 0 {
		body = params
	}

	var ok bool
	err := c.do(ctx, http.MethodPost, "/v1/workers/"+url.PathEscape(name)+"/start", nil, body, &ok)
	return ok, err
}

// StopWorker stops a worker
func (c *Client) StopWorker(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := c.do(ctx, http.MethodPost, "/v1/workers/"+url.PathEscape(name)+"/stop", nil, nil, &ok)
	return ok, err
}

// WorkerStatus returns the running flag and PID of a worker
func (c *Client) WorkerStatus(ctx context.Context, name string) (types.WorkerStatus, error) {
	var status types.WorkerStatus
	err := c.do(ctx, http.MethodGet, "/v1/workers/"+url.PathEscape(name), nil, nil, &status)
	return status, err
}

// WorkerHealth runs the health check of a worker
func (c *Client) WorkerHealth(ctx context.Context, name string) (health.Result, error) {
	var result health.Result
	err := c.do(ctx, http.MethodGet, "/v1/workers/"+url.PathEscape(name)+"/health", nil, nil, &result)
	return result, err
}

// EdgeStatus reports whether the edge runs and answers on its management port
func (c *Client) EdgeStatus(ctx context.Context) (bool, error) {
	var up bool
	err := c.do(ctx, http.MethodGet, "/v1/edge/status", nil, nil, &up)
	return up, err
}

// VirtualAddress returns the overlay address of the edge
func (c *Client) VirtualAddress(ctx context.Context) (string, error) {
	var addr string
	err := c.do(ctx, http.MethodGet, "/v1/edge/address", nil, nil, &addr)
	return addr, err
}

// CurrentGroup returns the community the edge has joined
func (c *Client) CurrentGroup(ctx context.Context) (string, error) {
	var group string
	err := c.do(ctx, http.MethodGet, "/v1/edge/group", nil, nil, &group)
	return group, err
}

// Members lists the other members of the group
func (c *Client) Members(ctx context.Context) ([]types.Member, error) {
	var members []types.Member
	err := c.do(ctx, http.MethodGet, "/v1/edge/members", nil, nil, &members)
	return members, err
}

// DetectNAT classifies the NAT of the host running the API
func (c *Client) DetectNAT(ctx context.Context) (*api.NATResult, error) {
	var result api.NATResult
	if err := c.do(ctx, http.MethodPost, "/v1/nat/detect", nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Runs lists worker runs, newest first. An empty worker lists all of them.
func (c *Client) Runs(ctx context.Context, worker string, limit int) ([]*types.RunRecord, error) {
	query := url.Values{}
	if worker != "" {
		query.Set("worker", worker)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var runs []*types.RunRecord
	err := c.do(ctx, http.MethodGet, "/v1/history/runs", query, nil, &runs)
	return runs, err
}

// NATHistory lists NAT classifications, newest first
func (c *Client) NATHistory(ctx context.Context, limit int) ([]*types.NATRecord, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var records []*types.NATRecord
	err := c.do(ctx, http.MethodGet, "/v1/history/nat", query, nil, &records)
	return records, err
}

// do sends one request and decodes the envelope's result into out
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach lanlink API at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response (HTTP %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || envelope.Error != "" {
		msg := envelope.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}
