package console

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"northsea/internal/apperr"
	"northsea/internal/model"
	"northsea/internal/store"

	"github.com/goccy/go-json"
)

// Client 是 REST API 的薄封装，错误按状态码还原为 apperr 分类。
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an API client. hc may be nil.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// ExportResult is the body of POST /api/export.
type ExportResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Count       int    `json:"count"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Content     string `json:"content,omitempty"`
}

type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func (c *Client) Stats(ctx context.Context) (*model.SystemStats, error) {
	var out model.SystemStats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks lists tasks, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, status string) ([]model.CollectionTask, error) {
	path := "/api/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out []model.CollectionTask
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetTask(ctx context.Context, id uint) (*model.CollectionTask, error) {
	return c.task(ctx, http.MethodGet, fmt.Sprintf("/api/tasks/%d", id), nil)
}

func (c *Client) CreateTask(ctx context.Context, in store.CreateTaskInput) (*model.CollectionTask, error) {
	return c.task(ctx, http.MethodPost, "/api/tasks", in)
}

func (c *Client) StartTask(ctx context.Context, id uint) (*model.CollectionTask, error) {
	return c.task(ctx, http.MethodPost, fmt.Sprintf("/api/tasks/%d/start", id), nil)
}

func (c *Client) StopTask(ctx context.Context, id uint) (*model.CollectionTask, error) {
	return c.task(ctx, http.MethodPost, fmt.Sprintf("/api/tasks/%d/stop", id), nil)
}

func (c *Client) task(ctx context.Context, method, path string, body any) (*model.CollectionTask, error) {
	var out model.CollectionTask
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTask removes a task and returns how many data rows went with it.
func (c *Client) DeleteTask(ctx context.Context, id uint) (int64, error) {
	var out struct {
		RemovedData int64 `json:"removedData"`
	}
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", id), nil, &out); err != nil {
		return 0, err
	}
	return out.RemovedData, nil
}

// ListData fetches one page; q carries limit, offset, search, type and taskId.
func (c *Client) ListData(ctx context.Context, q url.Values) (*store.DataPage, error) {
	path := "/api/data"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out store.DataPage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteData(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/data/%d", id), nil, nil)
}

// BatchDeleteData returns the number of rows actually removed.
func (c *Client) BatchDeleteData(ctx context.Context, ids []uint) (int64, error) {
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/data/batch-delete", map[string]any{"ids": ids}, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

func (c *Client) Export(ctx context.Context, ids []uint, format string) (*ExportResult, error) {
	var out ExportResult
	if err := c.do(ctx, http.MethodPost, "/api/export", map[string]any{"ids": ids, "format": format}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var eb errorBody
		if err := json.Unmarshal(raw, &eb); err != nil || eb.Error == "" {
			eb.Error = http.StatusText(resp.StatusCode)
		}
		return apperr.FromStatus(resp.StatusCode, eb.Error, eb.Details)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
