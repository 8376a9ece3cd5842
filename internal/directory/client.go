// Package directory is the REST client for the conversation catalog.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"repodash/internal/models"
)

// ErrNotFound is returned when the server has no such conversation.
var ErrNotFound = errors.New("directory: conversation not found")

// APIError is a non-2xx response other than 404.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("directory: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("directory: %d: %s", e.Status, e.Message)
}

// Client talks to /api/conversations/.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds a Client for the server at baseURL. httpClient may be nil.
func NewClient(baseURL, token string, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("directory: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("directory: unsupported scheme %q", base.Scheme)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: base, token: token, http: httpClient, logger: logger}, nil
}

type listResponse struct {
	Conversations []models.ConversationSummary `json:"conversations"`
}

// List returns the caller's conversations, most recently updated first.
func (c *Client) List(ctx context.Context) ([]models.ConversationSummary, error) {
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "api/conversations/", &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// Create makes an empty conversation.
func (c *Client) Create(ctx context.Context) (models.ConversationSummary, error) {
	var summary models.ConversationSummary
	err := c.do(ctx, http.MethodPost, "api/conversations/create/", &summary)
	return summary, err
}

// Get returns a conversation with its messages.
func (c *Client) Get(ctx context.Context, id models.ConversationID) (models.ConversationDetail, error) {
	var detail models.ConversationDetail
	err := c.do(ctx, http.MethodGet, "api/conversations/"+url.PathEscape(id.String())+"/", &detail)
	return detail, err
}

// Delete removes a conversation. A conversation that is already gone yields ErrNotFound.
func (c *Client) Delete(ctx context.Context, id models.ConversationID) error {
	return c.do(ctx, http.MethodDelete, "api/conversations/"+url.PathEscape(id.String())+"/delete/", nil)
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("directory: build url: %w", err)
	}
	target := c.base.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return fmt.Errorf("directory: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("directory: %s %s: %w", method, target.Path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("directory request",
		zap.String("method", method),
		zap.String("path", target.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("directory: decode %s response: %w", target.Path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var envelope models.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return &APIError{Status: resp.StatusCode, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
