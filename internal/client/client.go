// Package client provides a PocketBase REST client implementing store.Client.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/raphaelgruber/pbtransfer/internal/store"
)

const (
	// DefaultRequestTimeout bounds every request that has no tighter context deadline.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultMaxRetries is the retry budget for 5xx and connection errors.
	DefaultMaxRetries = 3
)

// Config holds PocketBase endpoint configuration.
type Config struct {
	URL            string
	Email          string
	Password       string
	RequestTimeout time.Duration
	MaxRetries     int
}

// Client talks to one PocketBase instance as a superuser.
type Client struct {
	baseURL  string
	email    string
	password string
	http     *retryablehttp.Client
	logger   *slog.Logger

	mu    sync.Mutex
	token string
}

// Compile-time check that Client implements store.Client.
var _ store.Client = (*Client)(nil)

// New creates a PocketBase client. No request is made until Authenticate.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse url: unsupported scheme %q", u.Scheme)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = DefaultMaxRetries
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = logger.With("component", "http", "endpoint", u.Host)
	rc.CheckRetry = checkRetry
	// Keep the final response so API errors can be decoded.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:  strings.TrimRight(u.String(), "/"),
		email:    cfg.Email,
		password: cfg.Password,
		http:     rc,
		logger:   logger,
	}, nil
}

// Endpoint returns the base URL of the instance.
func (c *Client) Endpoint() string {
	return c.baseURL
}

// APIError is a non-success response from PocketBase.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

// Unwrap maps well-known statuses onto store sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return store.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return store.ErrUnauthorized
	}
	return nil
}

// apiErrorBody is the JSON error envelope PocketBase returns.
type apiErrorBody struct {
	Message string `json:"message"`
}

// request describes one HTTP call.
type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	auth        bool
	// noRetry is set for calls that are not idempotent. A create whose
	// response is lost may already be committed.
	noRetry bool
}

// noRetryKey marks a request context as not retryable.
type noRetryKey struct{}

// checkRetry applies the default policy unless the request opted out.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if noRetry, _ := ctx.Value(noRetryKey{}).(bool); noRetry {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// send executes a request and returns the raw response body on success.
func (c *Client) send(ctx context.Context, r request) ([]byte, error) {
	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body any
	if r.body != nil {
		body = r.body
	}
	if r.noRetry {
		ctx = context.WithValue(ctx, noRetryKey{}, true)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.auth {
		c.mu.Lock()
		token := c.token
		c.mu.Unlock()
		if token != "" {
			req.Header.Set("Authorization", token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Method: r.method, Path: r.path, Status: resp.StatusCode}
		var envelope apiErrorBody
		if json.Unmarshal(data, &envelope) == nil {
			apiErr.Message = envelope.Message
		}
		return nil, apiErr
	}
	return data, nil
}

// do sends an authenticated request. A 401 triggers one re-authentication
// and retry so expired sessions are renewed transparently.
func (c *Client) do(ctx context.Context, r request, out any) error {
	r.auth = true
	data, err := c.send(ctx, r)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		c.logger.Debug("session rejected, re-authenticating", "endpoint", c.baseURL, "path", r.path)
		if authErr := c.Authenticate(ctx); authErr != nil {
			return authErr
		}
		data, err = c.send(ctx, r)
	}
	if err != nil {
		return err
	}

	if out != nil && len(data) > 0 {
		return jsonUnmarshal(data, out)
	}
	return nil
}

func jsonUnmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// jsonRequest builds a request with a JSON body.
func jsonRequest(method, path string, payload any) (request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return request{}, fmt.Errorf("marshal request: %w", err)
	}
	return request{method: method, path: path, body: body, contentType: "application/json"}, nil
}

// recordsPath returns the records endpoint of a collection, optionally for one record.
func recordsPath(collection string, id ...string) string {
	p := "/api/collections/" + url.PathEscape(collection) + "/records"
	if len(id) > 0 {
		p += "/" + url.PathEscape(id[0])
	}
	return p
}
