// Package rest implements the compute client against the analysis service's
// HTTP API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"insight-gateway/internal/compute"
)

const defaultTimeout = 15 * time.Second

// maxErrorDetail bounds upstream error text carried into our errors.
const maxErrorDetail = 300

// Config configures the client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the analysis service.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// New constructs a client for the configured analysis service.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

var _ compute.Client = (*Client)(nil)

type submitBody struct {
	Prompt           string `json:"prompt"`
	Model            string `json:"model,omitempty"`
	QueryType        string `json:"query_type,omitempty"`
	EnableCodeReview bool   `json:"enable_code_review"`
}

type submitResponse struct {
	TaskID     string `json:"task_id"`
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// Submit starts an analysis job for the given file.
func (c *Client) Submit(ctx context.Context, req compute.SubmitRequest) (compute.SubmitAck, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return compute.SubmitAck{}, fmt.Errorf("prompt is required")
	}
	if strings.TrimSpace(req.FileID) == "" {
		return compute.SubmitAck{}, fmt.Errorf("file id is required")
	}

	endpoint := c.endpoint("analysis", "analyze", req.FileID)
	body := submitBody{
		Prompt:           req.Prompt,
		Model:            req.Model,
		QueryType:        req.QueryType,
		EnableCodeReview: req.EnableCodeReview,
	}
	status, raw, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return compute.SubmitAck{}, fmt.Errorf("submit analysis: %w", err)
	}
	if status < 200 || status > 299 {
		return compute.SubmitAck{}, c.apiError(status, raw)
	}

	var parsed submitResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return compute.SubmitAck{}, fmt.Errorf("submit response parse: %w", err)
	}
	if parsed.TaskID == "" {
		return compute.SubmitAck{}, fmt.Errorf("submit response missing task id")
	}
	return compute.SubmitAck{
		JobID:      parsed.TaskID,
		AnalysisID: parsed.AnalysisID,
		Status:     normalizeState(parsed.Status),
	}, nil
}

type statusResponse struct {
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	AnalysisID string `json:"analysis_id"`
	Error      string `json:"error"`
}

// Status reports the current state of a job.
func (c *Client) Status(ctx context.Context, jobID string) (compute.JobStatus, error) {
	endpoint := c.endpoint("analysis", "status", jobID)
	status, raw, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return compute.JobStatus{}, fmt.Errorf("poll status: %w", err)
	}
	if status == http.StatusNotFound {
		return compute.JobStatus{}, fmt.Errorf("job %s: %w", jobID, compute.ErrJobNotFound)
	}
	if status < 200 || status > 299 {
		return compute.JobStatus{}, c.apiError(status, raw)
	}

	var parsed statusResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return compute.JobStatus{}, fmt.Errorf("status response parse: %w", err)
	}
	return compute.JobStatus{
		State:      normalizeState(parsed.Status),
		Progress:   parsed.Progress,
		AnalysisID: parsed.AnalysisID,
		Error:      parsed.Error,
	}, nil
}

// Result fetches a completed job's payload, opaque to the caller.
func (c *Client) Result(ctx context.Context, jobID string) (json.RawMessage, error) {
	endpoint := c.endpoint("analysis", "result", jobID)
	status, raw, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}
	switch {
	case status == http.StatusAccepted:
		return nil, fmt.Errorf("job %s: %w", jobID, compute.ErrNotReady)
	case status == http.StatusNotFound:
		return nil, fmt.Errorf("job %s: %w", jobID, compute.ErrJobNotFound)
	case status < 200 || status > 299:
		return nil, c.apiError(status, raw)
	}
	return json.RawMessage(raw), nil
}

type visibilityBody struct {
	IsActive bool `json:"is_active"`
}

// SetVisibility flips an analysis between public and private.
func (c *Client) SetVisibility(ctx context.Context, analysisID string, active bool) error {
	endpoint := c.endpoint("analysis", analysisID, "visibility")
	status, raw, err := c.do(ctx, http.MethodPatch, endpoint, visibilityBody{IsActive: active})
	if err != nil {
		return fmt.Errorf("set visibility: %w", err)
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("analysis %s: %w", analysisID, compute.ErrAnalysisNotFound)
	}
	if status < 200 || status > 299 {
		return c.apiError(status, raw)
	}
	return nil
}

type historyRow struct {
	AnalysisID string      `json:"analysis_id"`
	ID         json.Number `json:"id"`
}

// History lists summary rows from the service's stored analyses.
func (c *Client) History(ctx context.Context, q compute.HistoryQuery) ([]compute.HistoryItem, error) {
	endpoint := c.endpoint("analysis", "history")
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	status, raw, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if status < 200 || status > 299 {
		return nil, c.apiError(status, raw)
	}

	rows, err := decodeHistoryRows(raw)
	if err != nil {
		return nil, fmt.Errorf("history response parse: %w", err)
	}

	items := make([]compute.HistoryItem, 0, len(rows))
	for _, row := range rows {
		var parsed historyRow
		if err := json.Unmarshal(row, &parsed); err != nil {
			continue
		}
		id := parsed.AnalysisID
		if id == "" {
			id = parsed.ID.String()
		}
		if id == "" || id == "0" {
			continue
		}
		items = append(items, compute.HistoryItem{AnalysisID: id, Raw: row})
	}
	return items, nil
}

// FullResult fetches the deep stored result for one analysis.
func (c *Client) FullResult(ctx context.Context, analysisID string) (json.RawMessage, error) {
	endpoint := c.endpoint("analysis", "result", "db", analysisID)
	status, raw, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch full result: %w", err)
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("analysis %s: %w", analysisID, compute.ErrAnalysisNotFound)
	}
	if status < 200 || status > 299 {
		return nil, c.apiError(status, raw)
	}
	return json.RawMessage(raw), nil
}

// Service generations report job states with different words; fold them into
// one vocabulary so callers can switch cleanly.
func normalizeState(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "pending", "started", "accepted":
		return compute.StateQueued
	case "processing", "running", "in_progress":
		return compute.StateProcessing
	case "completed", "complete", "done", "success":
		return compute.StateCompleted
	case "failed", "error":
		return compute.StateFailed
	default:
		return strings.ToLower(strings.TrimSpace(raw))
	}
}

func decodeHistoryRows(raw []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rows []json.RawMessage
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
	var wrapped struct {
		History []json.RawMessage `json:"history"`
		Items   []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.History != nil {
		return wrapped.History, nil
	}
	return wrapped.Items, nil
}

func (c *Client) endpoint(parts ...string) string {
	cleaned := "/"
	for _, p := range parts {
		cleaned = path.Join(cleaned, url.PathEscape(p))
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any) (int, []byte, error) {
	if c.baseURL == "" {
		return 0, nil, fmt.Errorf("analysis service base URL not configured")
	}

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal payload: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (c *Client) apiError(status int, body []byte) error {
	return &compute.APIError{Status: status, Message: errorDetail(body)}
}

// errorDetail pulls a human-readable message out of an error body. FastAPI
// style {"detail": ...} is the common case; detail may itself be structured.
func errorDetail(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}
	var parsed struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(trimmed, &parsed); err == nil {
		if len(parsed.Detail) > 0 {
			var s string
			if err := json.Unmarshal(parsed.Detail, &s); err == nil {
				return truncate(s)
			}
			return truncate(string(parsed.Detail))
		}
		if parsed.Error != "" {
			return truncate(parsed.Error)
		}
		if parsed.Message != "" {
			return truncate(parsed.Message)
		}
	}
	return truncate(string(trimmed))
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrorDetail {
		return s
	}
	return s[:maxErrorDetail] + "..."
}
