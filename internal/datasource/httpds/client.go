// Package httpds is a small HTTP client with retry and backoff for the Open
// Library web API. Lookups use it to fetch the current metadata of a work
// found in the local store.
package httpds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// DefaultUserAgent identifies the client to Open Library, which asks API
// users to send one.
const DefaultUserAgent = "dumpload (+https://openlibrary.org/developers/api)"

// Config configures a Client.
//
// Zero values are given defaults:
//   - Timeout:        30s
//   - InitialBackoff: 200ms
//   - MaxBackoff:     5s
//   - UserAgent:      DefaultUserAgent
type Config struct {
	// BaseURL is the API root. Empty means DefaultBaseURL.
	BaseURL string

	// Timeout is the per-request timeout applied at the http.Client level.
	Timeout time.Duration

	// MaxRetries is the number of retry attempts after the initial request.
	MaxRetries int

	// InitialBackoff is the wait before the first retry. Each retry doubles
	// it up to MaxBackoff. A Retry-After header on 429 or 503 takes
	// precedence.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	UserAgent string

	// Transport overrides http.DefaultTransport.
	Transport http.RoundTripper

	// Logger receives request failures and retries at debug level.
	Logger *zap.Logger
}

// StatusError is returned for a final non-2xx response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpds: GET %s: status %d", e.URL, e.Code)
}

// Client wraps a retryablehttp.Client.
type Client struct {
	rc        *retryablehttp.Client
	baseURL   string
	userAgent string
}

// NewClient constructs a Client from Config, applying defaults for zero values.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport}
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = cfg.InitialBackoff
	rc.RetryWaitMax = cfg.MaxBackoff
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if cfg.Logger != nil {
		rc.Logger = leveledLogger{cfg.Logger.Sugar()}
	}

	return &Client{rc: rc, baseURL: cfg.BaseURL, userAgent: cfg.UserAgent}
}

// getBody GETs url and returns the body of the first 2xx response, reading
// at most limit bytes.
func (c *Client) getBody(ctx context.Context, url string, limit int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("httpds: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.rc.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("httpds: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, URL: url}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("httpds: read %s: %w", url, err)
	}
	return body, nil
}

// checkRetry retries transport errors and transient statuses. The caller's
// context ending is final.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return isRetryableStatus(resp.StatusCode), nil
}

// isRetryableStatus treats 429 and 5xx as transient.
func isRetryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger. Everything below
// Warn goes to debug; getBody returns the final error.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Debugw("httpds: "+msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw("httpds: "+msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw("httpds: "+msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw("httpds: "+msg, kv...) }
