package client

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
)

// Client provides typed access to the scratchpad API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:3456"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// Scratch mirrors the API's scratch resource.
type Scratch struct {
	Name      string              `json:"name"`
	Branch    string              `json:"branch"`
	Template  string              `json:"template"`
	Services  []string            `json:"services"`
	Databases map[string][]string `json:"databases"`
	Env       map[string]string   `json:"env"`
	CreatedAt time.Time           `json:"created_at"`
}

// ScratchStatus mirrors the API's status projection for a scratch.
type ScratchStatus struct {
	Name      string            `json:"name"`
	Branch    string            `json:"branch"`
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Databases []string          `json:"databases"`
	URL       string            `json:"url,omitempty"`
	CreatedAt *time.Time        `json:"created_at,omitempty"`
}

// CreateScratchInput carries the parameters for CreateScratch.
type CreateScratchInput struct {
	Branch   string `json:"branch"`
	Name     string `json:"name,omitempty"`
	Profile  string `json:"profile,omitempty"`
	Template string `json:"template,omitempty"`
}

// CreateScratch creates a new scratch from a branch.
func (c *Client) CreateScratch(ctx context.Context, input CreateScratchInput) (*Scratch, error) {
	var created Scratch
	if err := c.do(ctx, http.MethodPost, "/scratches", input, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListScratches returns every scratch with its live status.
func (c *Client) ListScratches(ctx context.Context) ([]ScratchStatus, error) {
	var statuses []ScratchStatus
	if err := c.do(ctx, http.MethodGet, "/scratches", nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// GetScratch returns the status of one scratch.
func (c *Client) GetScratch(ctx context.Context, name string) (ScratchStatus, error) {
	var status ScratchStatus
	err := c.do(ctx, http.MethodGet, "/scratches/"+url.PathEscape(name), nil, &status)
	return status, err
}

// StartScratch starts a stopped scratch.
func (c *Client) StartScratch(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/scratches/"+url.PathEscape(name)+"/start", nil, nil)
}

// StopScratch stops a running scratch.
func (c *Client) StopScratch(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/scratches/"+url.PathEscape(name)+"/stop", nil, nil)
}

// RestartScratch stops then starts a scratch.
func (c *Client) RestartScratch(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/scratches/"+url.PathEscape(name)+"/restart", nil, nil)
}

// DeleteScratch removes a scratch and its resources.
func (c *Client) DeleteScratch(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/scratches/"+url.PathEscape(name), nil, nil)
}

// ScratchLogs fetches the last tail log lines of one service in a scratch.
func (c *Client) ScratchLogs(ctx context.Context, name, service string, tail int) ([]string, error) {
	path := fmt.Sprintf("/scratches/%s/logs/%s?tail=%d", url.PathEscape(name), url.PathEscape(service), tail)
	var payload struct {
		Lines []string `json:"lines"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Lines, nil
}

// SharedServiceStatus mirrors the /services listing entries.
type SharedServiceStatus struct {
	Name      string `json:"name"`
	Image     string `json:"image"`
	Container string `json:"container"`
	State     string `json:"state"`
	Running   bool   `json:"running"`
}

// ListServices returns every shared service and its container state.
func (c *Client) ListServices(ctx context.Context) ([]SharedServiceStatus, error) {
	var statuses []SharedServiceStatus
	if err := c.do(ctx, http.MethodGet, "/services", nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// StartService ensures one shared service is running.
func (c *Client) StartService(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(key)+"/start", nil, nil)
}

// StopService stops one shared service.
func (c *Client) StopService(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(key)+"/stop", nil, nil)
}

// ListDatabases returns the scratch databases on a shared service.
func (c *Client) ListDatabases(ctx context.Context, key string) ([]string, error) {
	var payload struct {
		Databases []string `json:"databases"`
	}
	if err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(key)+"/databases", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Databases, nil
}

// ProxyConfig returns the currently rendered proxy configuration.
func (c *Client) ProxyConfig(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/proxy/config", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(data), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, v any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(body, 1<<16))
	if err != nil {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
