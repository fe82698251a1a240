// Package backend is a typed client for the detection backend's REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dj-oyu/detection-dashboard/internal/model"
)

const (
	apiPrefix          = "/api"
	maxErrorBodyBytes  = 64 << 10
	defaultHTTPTimeout = 10 * time.Second
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
	LastLogs   []string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// Client talks to one backend origin.
type Client struct {
	baseURL       string
	http          *http.Client
	healthTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithHealthTimeout bounds each health check.
func WithHealthTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.healthTimeout = d }
}

// New returns a Client for the backend at baseURL (origin, without /api).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{Timeout: defaultHTTPTimeout},
		healthTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// VideoFeedURL is the backend MJPEG stream. It is consumed as an image
// source, never decoded as JSON.
func (c *Client) VideoFeedURL() string {
	return fmt.Sprintf("%s/video_feed?t=%d", c.baseURL, time.Now().UnixMilli())
}

// Health succeeds when the backend answers GET /health with a 2xx.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}

// DetectionHistory fetches up to limit stored detections.
func (c *Client) DetectionHistory(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	raw, err := c.getRaw(ctx, "/detections?"+q.Encode())
	if err != nil {
		return nil, err
	}
	entries, _, err := model.DecodeList[model.HistoryEntry](raw)
	return entries, err
}

// CurrentDetections fetches the detections of the current frame.
func (c *Client) CurrentDetections(ctx context.Context) ([]model.Detection, error) {
	raw, err := c.getRaw(ctx, "/detections/current")
	if err != nil {
		return nil, err
	}
	dets, _, err := model.DecodeCurrentDetections(raw)
	return dets, err
}

// Trajectories fetches all trajectories. ISO timestamps are converted to
// epoch milliseconds by model.Timestamp.
func (c *Client) Trajectories(ctx context.Context) ([]model.Trajectory, error) {
	raw, err := c.getRaw(ctx, "/trajectories")
	if err != nil {
		return nil, err
	}
	list, _, err := model.DecodeList[model.Trajectory](raw)
	return list, err
}

// Performance fetches the detector's model metrics.
func (c *Client) Performance(ctx context.Context) (model.ModelMetrics, error) {
	var m model.ModelMetrics
	err := c.getJSON(ctx, "/performance", &m)
	return m, err
}

// SystemMetrics fetches host resource metrics.
func (c *Client) SystemMetrics(ctx context.Context) (model.SystemMetrics, error) {
	var m model.SystemMetrics
	err := c.getJSON(ctx, "/system-metrics", &m)
	return m, err
}

// Logs fetches the tail of the backend log as raw lines.
func (c *Client) Logs(ctx context.Context) ([]string, error) {
	var payload struct {
		Logs []string `json:"logs"`
	}
	if err := c.getJSON(ctx, "/logs", &payload); err != nil {
		return nil, err
	}
	return payload.Logs, nil
}

// Videos lists the server-side video files that can be streamed.
func (c *Client) Videos(ctx context.Context) ([]string, error) {
	var payload struct {
		Videos []string `json:"videos"`
	}
	if err := c.getJSON(ctx, "/yolo/videos", &payload); err != nil {
		return nil, err
	}
	return payload.Videos, nil
}

// StreamStatus reports whether the backend is already streaming.
type StreamStatus struct {
	IsRunning    bool   `json:"is_running"`
	CurrentVideo string `json:"current_video"`
}

// StreamStatus fetches GET /yolo/stream/status.
func (c *Client) StreamStatus(ctx context.Context) (StreamStatus, error) {
	var s StreamStatus
	err := c.getJSON(ctx, "/yolo/stream/status", &s)
	return s, err
}

// RealtimeStatistics fetches the backend's windowed detection counts.
func (c *Client) RealtimeStatistics(ctx context.Context) (model.RealtimeStatistics, error) {
	var s model.RealtimeStatistics
	err := c.getJSON(ctx, "/statistics/realtime", &s)
	return s, err
}

// StartStream asks the backend to run detection on src.
func (c *Client) StartStream(ctx context.Context, src model.Source) error {
	body := map[string]string{}
	switch src.Kind {
	case model.SourceFile:
		body["video_path"] = src.Path
	case model.SourceNetwork:
		body["network_url"] = src.URL
	default:
		return fmt.Errorf("unknown source kind %q", src.Kind)
	}
	return c.post(ctx, "/yolo/stream/start", body)
}

// StopStream asks the backend to stop the current stream.
func (c *Client) StopStream(ctx context.Context) error {
	return c.post(ctx, "/yolo/stream/stop", nil)
}

// Cleanup asks the backend to prune old history.
func (c *Client) Cleanup(ctx context.Context) error {
	return c.post(ctx, "/cleanup", nil)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	raw, err := c.getRaw(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) getRaw(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return raw, nil
}

// do issues the request and converts non-2xx answers into *APIError.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil || len(raw) == 0 {
		return apiErr
	}
	var payload struct {
		Error    string          `json:"error"`
		LastLogs json.RawMessage `json:"last_logs"`
	}
	if json.Unmarshal(raw, &payload) != nil {
		apiErr.Message = strings.TrimSpace(string(raw))
		return apiErr
	}
	apiErr.Message = payload.Error
	apiErr.LastLogs = decodeLogTail(payload.LastLogs)
	return apiErr
}

// decodeLogTail accepts last_logs as a list of lines or a single string.
func decodeLogTail(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var lines []string
	if json.Unmarshal(raw, &lines) == nil {
		return lines
	}
	var single string
	if json.Unmarshal(raw, &single) == nil && single != "" {
		return strings.Split(strings.TrimRight(single, "\n"), "\n")
	}
	return nil
}

// AsAPIError unwraps err into an *APIError if it carries one.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
