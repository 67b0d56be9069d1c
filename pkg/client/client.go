package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a running host's loopback bridge.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

const defaultBaseURL = "http://127.0.0.1:7315"

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: defaultBaseURL,
		Timeout: 30 * time.Second,
	}
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if !strings.Contains(config.BaseURL, "://") {
		config.BaseURL = "http://" + config.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the host bridge answers.
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	c.logger.Debug("bridge reachability check", "reachable", err == nil, "error", err)
	return err == nil
}

// Status returns the backend snapshot; withUsage adds a CPU/RSS sample.
func (c *Client) Status(ctx context.Context, withUsage bool) (Status, error) {
	path := "/invoke/cli_get_status"
	if withUsage {
		path += "?usage=1"
	}
	var st Status
	err := c.do(ctx, http.MethodGet, path, nil, &st)
	return st, err
}

// Restart restarts the backend and returns the resulting snapshot.
func (c *Client) Restart(ctx context.Context) (Status, error) {
	c.logger.Debug("requesting backend restart")
	var st Status
	err := c.do(ctx, http.MethodPost, "/invoke/cli_restart", nil, &st)
	return st, err
}

// Navigate asks the host whether url may load inside the app.
func (c *Client) Navigate(ctx context.Context, rawURL string) (bool, error) {
	var resp struct {
		Allow bool `json:"allow"`
	}
	err := c.do(ctx, http.MethodPost, "/navigate", map[string]string{"url": rawURL}, &resp)
	return resp.Allow, err
}

// Exit asks the host to shut down.
func (c *Client) Exit(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/exit", nil, nil)
}

// History lists recent backend lifecycle events.
func (c *Client) History(ctx context.Context, limit int) ([]HistoryEvent, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var evs []HistoryEvent
	err := c.do(ctx, http.MethodGet, path, nil, &evs)
	return evs, err
}

// do performs an HTTP request with common error handling. A non-nil body
// is sent as JSON; a non-nil out receives the decoded 2xx response.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	// the bridge requires JSON on every POST, bodies or not
	if body != nil || method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse turns an error body into an *APIError.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var er struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	c.logger.Debug("bridge returned error", "status", resp.StatusCode, "error", msg)
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
