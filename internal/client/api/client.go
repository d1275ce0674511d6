// Package api is the REST gateway the notification store talks to.
//
// Every request carries the bearer token read from the auth.TokenProvider at
// send time, so a token set after construction is picked up without rebuilding
// the client.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tunelog/notify/internal/client/auth"
	"github.com/tunelog/notify/internal/domain/notification"
	"golang.org/x/oauth2"
)

// Gateway errors
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrServer       = errors.New("server error")
)

// StatusError is returned for any non-2xx response
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode >= 500:
		return ErrServer
	}
	return nil
}

// envelope mirrors the server's JSON response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client calls the notification REST endpoints
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option customises a Client
type Option func(*Client)

// WithTimeout overrides the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithBaseTransport replaces the transport underneath the bearer-token layer
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport.(*oauth2.Transport).Base = rt
	}
}

// New creates a gateway rooted at baseURL (e.g. "http://localhost:8080")
func New(baseURL string, tokens auth.TokenProvider, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &oauth2.Transport{
				Source: auth.TokenSource(tokens),
				Base:   http.DefaultTransport,
			},
		},
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListNotifications fetches one page after cursor ("" for the first page)
func (c *Client) ListNotifications(ctx context.Context, cursor string, limit int) (notification.Page, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/notifications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp notification.ListResponse
	if err := c.doJSON(ctx, http.MethodGet, path, &resp); err != nil {
		return notification.Page{}, err
	}
	return resp.ToPage(), nil
}

// UnreadCount fetches the authoritative unread count
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp notification.UnreadCountResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/notifications/unread-count", &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}

// MarkAsRead persists the read flag of one notification
func (c *Client) MarkAsRead(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPatch, "/api/v1/notifications/"+url.PathEscape(id)+"/read", nil)
}

// MarkAllAsRead persists the read flag of every notification
func (c *Client) MarkAllAsRead(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPatch, "/api/v1/notifications/read-all", nil)
}

// doJSON performs a request and unwraps the response envelope into result
func (c *Client) doJSON(ctx context.Context, method, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		if decodeErr == nil && env.Error != nil {
			statusErr.Code = env.Error.Code
			statusErr.Message = env.Error.Message
		}
		return statusErr
	}
	if decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
		return fmt.Errorf("decode response: %w", decodeErr)
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}
