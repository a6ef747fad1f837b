// Package api is the request/response client for the backend's REST surface.
// Every call resolves the endpoint lazily, is bounded by a per-request
// timeout, and fails with either a TransportError or a RemoteError. The
// client never retries; callers own retry policy.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"rewardspanel/endpoint"
	"rewardspanel/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultTimeout bounds each request when the caller passes zero.
const DefaultTimeout = 10 * time.Second

const maxBodyBytes = 4 << 20

// Resolver yields the current backend endpoint.
type Resolver interface {
	Resolve(ctx context.Context) (endpoint.Endpoint, error)
}

// Client talks to the backend REST API.
type Client struct {
	resolver Resolver
	timeout  time.Duration
	http     *http.Client
}

// NewClient builds a client. The transport's dial timeout follows timeout so
// an unreachable backend fails within the same bound as a slow one.
func NewClient(resolver Resolver, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		resolver: resolver,
		timeout:  timeout,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (c *Client) Status(ctx context.Context) (model.TaskStatus, error) {
	var out model.TaskStatus
	err := c.do(ctx, http.MethodGet, "/status", nil, nil, &out)
	return out, err
}

func (c *Client) Health(ctx context.Context) (model.Health, error) {
	var out model.Health
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out)
	return out, err
}

func (c *Client) Points(ctx context.Context) (model.Points, error) {
	var out model.Points
	err := c.do(ctx, http.MethodGet, "/points", nil, nil, &out)
	return out, err
}

func (c *Client) Config(ctx context.Context) (model.Config, error) {
	var out model.Config
	err := c.do(ctx, http.MethodGet, "/config", nil, nil, &out)
	return out, err
}

// UpdateConfig sends a partial sectioned update; absent sections are left
// unchanged by the backend.
func (c *Client) UpdateConfig(ctx context.Context, update model.Config) (model.ActionResult, error) {
	var out model.ActionResult
	err := c.do(ctx, http.MethodPut, "/config", nil, update, &out)
	return out, err
}

// History returns the session summaries of the last days days.
func (c *Client) History(ctx context.Context, days int) ([]model.HistoryEntry, error) {
	var out struct {
		History []model.HistoryEntry `json:"history"`
		Days    int                  `json:"days"`
	}
	query := url.Values{"days": {strconv.Itoa(days)}}
	if err := c.do(ctx, http.MethodGet, "/history", query, nil, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// RecentLogs returns up to lines raw log lines, oldest first.
func (c *Client) RecentLogs(ctx context.Context, lines int) ([]string, error) {
	var out struct {
		Logs  []string `json:"logs"`
		Count int      `json:"count"`
	}
	query := url.Values{"lines": {strconv.Itoa(lines)}}
	if err := c.do(ctx, http.MethodGet, "/logs/recent", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

func (c *Client) Dashboard(ctx context.Context) (model.Dashboard, error) {
	var out model.Dashboard
	err := c.do(ctx, http.MethodGet, "/dashboard", nil, nil, &out)
	return out, err
}

func (c *Client) StartTask(ctx context.Context, opts model.TaskStartOptions) (model.ActionResult, error) {
	if opts.Mode == "" {
		opts.Mode = "normal"
	}
	var out model.ActionResult
	err := c.do(ctx, http.MethodPost, "/task/start", nil, opts, &out)
	return out, err
}

func (c *Client) StopTask(ctx context.Context) (model.ActionResult, error) {
	var out model.ActionResult
	err := c.do(ctx, http.MethodPost, "/task/stop", nil, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	op := method + " " + path
	ep, err := c.resolver.Resolve(ctx)
	if err != nil {
		return &TransportError{Op: op, URL: path, Err: fmt.Errorf("resolve endpoint: %w", err)}
	}
	target := ep.HTTPBase + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, URL: target, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &TransportError{Op: op, URL: target, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{Op: op, URL: target, StatusCode: resp.StatusCode, Detail: errorDetail(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &RemoteError{Op: op, URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}
	return nil
}

// errorDetail extracts the backend's {"detail": ...} message. Validation
// failures carry a structured detail, which is returned re-encoded.
func errorDetail(raw []byte) string {
	var envelope struct {
		Detail jsoniter.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Detail) == 0 {
		return strings.TrimSpace(truncate(string(raw), 200))
	}
	var text string
	if err := json.Unmarshal(envelope.Detail, &text); err == nil {
		return text
	}
	return string(envelope.Detail)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
