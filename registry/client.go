// Package registry is the single chokepoint for calls to the SEC EDGAR
// registry. Every request waits on a Gate, identifies its operator with a
// User-Agent, and is retried with backoff on transient failures.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"filingbot/config"
	"filingbot/metrics"
)

// Options configures a Client. Zero values fall back to the package defaults.
type Options struct {
	BaseURL     string
	DataURL     string
	UserAgent   string
	Gate        Gate
	HTTPClient  *http.Client
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// RetryAfterMax is the longest server Retry-After hint the client waits
	// out; a longer hint ends the call with a TransientError.
	RetryAfterMax time.Duration
}

// Client fetches indexes, feeds and documents from the registry.
type Client struct {
	httpClient    *http.Client
	gate          Gate
	baseURL       string
	dataURL       string
	userAgent     string
	maxAttempts   int
	backoffBase   time.Duration
	backoffMax    time.Duration
	retryAfterMax time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewClient creates a registry client. A contact User-Agent and a Gate are
// required: the registry throttles anonymous traffic.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.UserAgent) == "" {
		return nil, errors.New("registry client requires a User-Agent")
	}
	if opts.Gate == nil {
		return nil, errors.New("registry client requires a rate gate")
	}
	c := &Client{
		httpClient:    opts.HTTPClient,
		gate:          opts.Gate,
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		dataURL:       strings.TrimRight(opts.DataURL, "/"),
		userAgent:     opts.UserAgent,
		maxAttempts:   opts.MaxAttempts,
		backoffBase:   opts.BackoffBase,
		backoffMax:    opts.BackoffMax,
		retryAfterMax: opts.RetryAfterMax,
		sleep:         sleepCtx,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: config.RegistryTimeout}
	}
	if c.baseURL == "" {
		c.baseURL = config.RegistryBaseURL
	}
	if c.dataURL == "" {
		c.dataURL = config.RegistryDataURL
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = config.RegistryMaxAttempts
	}
	if c.backoffBase <= 0 {
		c.backoffBase = config.RegistryBackoffBase
	}
	if c.backoffMax <= 0 {
		c.backoffMax = config.RegistryBackoffMax
	}
	if c.retryAfterMax <= 0 {
		c.retryAfterMax = config.RegistryRetryAfterMax
	}
	return c, nil
}

// BaseURL returns the root used for feeds and archive documents.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchIndex retrieves the submissions index of one registry identifier.
// It returns ErrNotFound if the identifier is unknown.
func (c *Client) FetchIndex(ctx context.Context, cik string) (*SubmissionsIndex, error) {
	body, err := c.get(ctx, "index", c.dataURL+IndexPath(cik))
	if err != nil {
		return nil, err
	}
	var idx SubmissionsIndex
	if err := json.Unmarshal(body, &idx); err != nil {
		return nil, fmt.Errorf("decode submissions index for %s: %w", cik, err)
	}
	return &idx, nil
}

// FetchDocument retrieves a document by archive path (or absolute URL).
func (c *Client) FetchDocument(ctx context.Context, path string) ([]byte, error) {
	return c.get(ctx, "document", c.resolve(path))
}

// FetchFeed retrieves an Atom feed. url may be relative to the base URL.
func (c *Client) FetchFeed(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, "feed", c.resolve(url))
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// get issues one logical request with the retry policy: 404/410 fail at once,
// 429 honors Retry-After, anything else non-2xx backs off exponentially.
func (c *Client) get(ctx context.Context, kind, url string) ([]byte, error) {
	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, err
		}

		body, status, retryAfter, err := c.do(ctx, url)
		var (
			delay   time.Duration
			honored bool
		)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.RegistryRequests.WithLabelValues(kind, "error").Inc()
			lastErr, lastStatus = err, 0
			delay = c.backoff(attempt)
		case status >= 200 && status < 300:
			metrics.RegistryRequests.WithLabelValues(kind, "ok").Inc()
			return body, nil
		case status == http.StatusNotFound || status == http.StatusGone:
			metrics.RegistryRequests.WithLabelValues(kind, "not_found").Inc()
			return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
		case status == http.StatusTooManyRequests:
			metrics.RegistryRequests.WithLabelValues(kind, "throttled").Inc()
			lastErr, lastStatus = nil, status
			switch {
			case retryAfter <= 0:
				delay = c.backoff(attempt)
			case retryAfter > c.retryAfterMax:
				log.Printf("registry: %s asked to retry in %s, giving up for now", url, retryAfter)
				return nil, &TransientError{URL: url, StatusCode: status, Attempts: attempt}
			default:
				delay, honored = retryAfter, true
			}
		default:
			metrics.RegistryRequests.WithLabelValues(kind, "error").Inc()
			lastErr, lastStatus = nil, status
			delay = c.backoff(attempt)
		}

		if attempt == c.maxAttempts {
			break
		}
		if !honored && delay > c.backoffMax {
			delay = c.backoffMax
		}
		log.Printf("registry: %s attempt %d/%d failed (status=%d err=%v), retrying in %s",
			url, attempt, c.maxAttempts, lastStatus, lastErr, delay)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, &TransientError{URL: url, StatusCode: lastStatus, Attempts: c.maxAttempts, Cause: lastErr}
}

func (c *Client) do(ctx context.Context, url string) ([]byte, int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()), nil
}

func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(float64(c.backoffBase) * math.Pow(2, float64(attempt-1)))
	if d > c.backoffMax || d <= 0 {
		return c.backoffMax
	}
	return d
}

// parseRetryAfter accepts both forms of the header: delta-seconds and an
// HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
