// Package transport talks to the BizGenie proxy: chat, update polling,
// legal saves and document storage.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bizgenie/bizgenie/internal/legal"
	"github.com/bizgenie/bizgenie/internal/logging"
)

// Config for the proxy client
type Config struct {
	BaseURL   string        // Proxy API root (default: http://localhost:5000/api)
	Timeout   time.Duration // Per-request timeout
	RateLimit float64       // Requests per second; <= 0 disables limiting
	Burst     int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:5000/api",
		Timeout:   8 * time.Second,
		RateLimit: 10,
		Burst:     10,
	}
}

// Client is the proxy HTTP client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logging.Logger
}

// NewClient creates a new proxy client
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		log:        logging.Component("transport"),
	}
}

// BaseURL returns the proxy API root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StatusError is returned for non-2xx proxy responses
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("proxy error %d", e.Code)
	}
	return fmt.Sprintf("proxy error %d: %s", e.Code, e.Body)
}

// ChatRequest is the /chat request body
type ChatRequest struct {
	Message string         `json:"message"`
	Context map[string]any `json:"context"`
}

// ChatReply is the immediate /chat response. Text may be empty when the
// answer is delivered later through /updates.
type ChatReply struct {
	Text   string `json:"text"`
	Sender string `json:"sender,omitempty"`
	Status string `json:"status,omitempty"`
}

// SendChat forwards a user message to the proxy.
func (c *Client) SendChat(ctx context.Context, message string, chatContext map[string]any) (*ChatReply, error) {
	if chatContext == nil {
		chatContext = map[string]any{}
	}
	var reply ChatReply
	if err := c.doJSON(ctx, http.MethodPost, "/chat", ChatRequest{Message: message, Context: chatContext}, &reply); err != nil {
		return nil, fmt.Errorf("send chat: %w", err)
	}
	return &reply, nil
}

type updatesResponse struct {
	Updates []json.RawMessage `json:"updates"`
}

// FetchUpdates drains the proxy's pending update queue. Packets are returned
// raw; decoding is left to the caller so one bad packet cannot spoil a batch.
func (c *Client) FetchUpdates(ctx context.Context) ([]json.RawMessage, error) {
	var resp updatesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/updates", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch updates: %w", err)
	}
	return resp.Updates, nil
}

// SaveLegalRequest is the /legal/save request body
type SaveLegalRequest struct {
	Tasks []legal.Task `json:"tasks"`
}

// StatusResponse is the generic {status} reply
type StatusResponse struct {
	Status  string `json:"status"`
	Warning string `json:"warning,omitempty"`
}

// SaveLegal posts the full task list. The returned status is "saved" or
// "saved_offline" when the proxy could not reach its backend.
func (c *Client) SaveLegal(ctx context.Context, tasks []legal.Task) (string, error) {
	if tasks == nil {
		tasks = []legal.Task{}
	}
	var resp StatusResponse
	if err := c.doJSON(ctx, http.MethodPost, "/legal/save", SaveLegalRequest{Tasks: tasks}, &resp); err != nil {
		return "", fmt.Errorf("save legal tasks: %w", err)
	}
	return resp.Status, nil
}

// UploadResult is the /upload reply
type UploadResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Warning string `json:"warning,omitempty"`
	URL     string `json:"url"`
}

// Simulated reports whether the proxy accepted the file without forwarding it.
func (r UploadResult) Simulated() bool {
	return r.Status == "simulated_success"
}

// Upload sends a document as multipart field "file".
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("upload %s: read: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/upload", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	defer resp.Body.Close()

	var sr StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("upload %s: decode response: %w", name, err)
	}
	return &UploadResult{
		Name:    name,
		Status:  sr.Status,
		Warning: sr.Warning,
		URL:     c.FileURL(name),
	}, nil
}

// FileURL returns the download location of an uploaded document.
func (c *Client) FileURL(name string) string {
	return c.baseURL + "/files/" + url.PathEscape(name)
}

// Download streams an uploaded document into w.
func (c *Client) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(name), nil, "")
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", name, err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", name, err)
	}
	return n, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do sends the request and returns the response for 2xx status codes.
// The caller closes the body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	c.log.WithFields(map[string]interface{}{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("proxy request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}
