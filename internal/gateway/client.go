// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/session"
)

// Configuration constants for the gateway API.
const (
	// DefaultBaseURL is the public OpenRouter-compatible endpoint.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultModel lets the gateway pick a model.
	DefaultModel = "openrouter/auto"

	// DefaultTimeout applies to non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of attempts for idempotent requests.
	DefaultMaxRetries = 3

	// DefaultRateLimit is the steady request rate per second.
	DefaultRateLimit = 10

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed non-streaming response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024

	userAgent = "rigrun-chat/0.1.0"
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	sharedTransport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}

	// sharedStreamingClient has no timeout; streams are bounded by context
	// and the inactivity watchdog.
	sharedStreamingClient = &http.Client{Transport: sharedTransport}
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Model   string

	// Session supplies the bearer token. Nil sends no Authorization header.
	Session *session.Session

	// HTTPClient is used for CRUD requests. Nil uses a pooled client with
	// Timeout.
	HTTPClient *http.Client
	// StreamClient is used for chat streams. Nil uses a pooled client
	// without timeout.
	StreamClient *http.Client

	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration

	// RateLimit is requests per second; zero means DefaultRateLimit and a
	// negative value disables limiting.
	RateLimit float64
	Burst     int

	SiteURL  string
	SiteName string

	Logger *slog.Logger
}

// Client talks to the gateway's chat and conversation endpoints.
type Client struct {
	baseURL      string
	model        string
	sess         *session.Session
	httpClient   *http.Client
	streamClient *http.Client
	maxRetries   int
	backoff      time.Duration
	limiter      *rate.Limiter
	siteURL      string
	siteName     string
	logger       *slog.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = retryBaseDelay
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Transport: sharedTransport, Timeout: opts.Timeout}
	}
	if opts.StreamClient == nil {
		opts.StreamClient = sharedStreamingClient
	}

	limit := rate.Inf
	switch {
	case opts.RateLimit == 0:
		limit = rate.Limit(DefaultRateLimit)
	case opts.RateLimit > 0:
		limit = rate.Limit(opts.RateLimit)
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}

	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		model:        opts.Model,
		sess:         opts.Session,
		httpClient:   opts.HTTPClient,
		streamClient: opts.StreamClient,
		maxRetries:   opts.MaxRetries,
		backoff:      opts.RetryBaseDelay,
		limiter:      rate.NewLimiter(limit, opts.Burst),
		siteURL:      opts.SiteURL,
		siteName:     opts.SiteName,
		logger:       logging.Component(opts.Logger, "gateway"),
	}
}

// Model returns the model id sent with chat requests.
func (c *Client) Model() string {
	return c.model
}

// BaseURL returns the gateway base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// newRequest builds a request with auth and common headers. body is JSON
// encoded when non-nil.
func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.setHeaders(req); err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// setHeaders sets auth and identification headers.
func (c *Client) setHeaders(req *http.Request) error {
	if c.sess != nil {
		token, err := c.sess.Token()
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
	return nil
}

// do sends a single request after waiting on the rate limiter.
func (c *Client) do(ctx context.Context, hc *http.Client, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "gateway request failed",
			"method", req.Method, "path", req.URL.Path, "error", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logger.DebugContext(ctx, "gateway response",
		"method", req.Method, "path", req.URL.Path,
		"status", resp.StatusCode, "duration", time.Since(start))
	return resp, nil
}

// doWithRetry performs an idempotent request with exponential backoff on
// transport errors, 5xx and 429. build is called once per attempt so the body
// is fresh each time.
func (c *Client) doWithRetry(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.calculateBackoff(attempt - 1)):
			}
		}

		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := c.do(ctx, c.httpClient, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		body, _ := readResponse(resp)
		resp.Body.Close()
		lastErr = handleErrorResponse(resp.StatusCode, body, ErrConversationNotFound)
		if !isRetryable(lastErr) {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("%w: %w", errMaxRetriesExceeded, lastErr)
}

// isRetryable determines if an error response should trigger a retry.
func isRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 && apiErr.Status < 600
	}
	return false
}

// calculateBackoff returns the delay to wait before the next retry.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := c.backoff * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// readResponse reads the response body with size limits.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// decodeJSON reads a successful response into out, or converts an error
// response.
func decodeJSON(resp *http.Response, notFound error, out any) error {
	defer resp.Body.Close()
	body, err := readResponse(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp.StatusCode, body, notFound)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
