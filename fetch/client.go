// Package fetch performs polite HTTP GETs: a configured browser-like
// identity, bounded retries with backoff on transient failures, and a
// per-client throttle spacing every outbound request.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

// DefaultUserAgent is used when no user agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// ErrBodyTooLarge is returned when a response exceeds Config.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// Config holds the process-wide fetch settings. It is never mutated after
// startup; each crawl builds its own Client from it.
type Config struct {
	UserAgents    []string      `yaml:"user_agents"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
	RespectRobots bool          `yaml:"respect_robots"`
	Retry         Policy        `yaml:"retry"`
}

// DefaultConfig returns the fetch defaults.
func DefaultConfig() Config {
	return Config{
		UserAgents:    []string{DefaultUserAgent},
		Timeout:       15 * time.Second,
		MaxBodyBytes:  5 * 1024 * 1024,
		RespectRobots: true,
		Retry:         DefaultPolicy(),
	}
}

// Response is a successfully fetched page, decoded to UTF-8.
type Response struct {
	URL         string // final URL after redirects
	Status      int
	ContentType string
	Body        string
}

// Client fetches pages for a single crawl. It owns the crawl's throttle, so a
// Client must not be shared between concurrent crawls.
type Client struct {
	http    *http.Client
	cfg     Config
	limiter *rate.Limiter
	robots  *robotsChecker
	logger  *zap.Logger
	uaNext  atomic.Uint64
}

// NewClient creates a client that spaces outbound requests at least delay
// apart. httpClient may be shared across clients; a nil httpClient gets one
// with cfg.Timeout.
func NewClient(httpClient *http.Client, cfg Config, delay time.Duration, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}

	c := &Client{
		http:    httpClient,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
	if cfg.RespectRobots {
		c.robots = newRobotsChecker(c)
	}
	return c
}

// Fetch GETs rawURL, retrying transient failures (network errors, timeouts,
// 408, 429 and 5xx) according to the retry policy. Any other non-2xx status
// fails immediately. Every attempt waits for the throttle first. Failures are
// returned as *Error.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}

	ua := c.userAgent()
	if c.robots != nil && !c.robots.allowed(ctx, u, ua) {
		return nil, &Error{URL: rawURL, Err: ErrDisallowed}
	}

	retrier := NewRetrier(c.cfg.Retry)
	for {
		if err := ctx.Err(); err != nil {
			return nil, &Error{URL: rawURL, Attempts: retrier.Attempts(), Err: err}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{URL: rawURL, Attempts: retrier.Attempts(), Err: err}
		}

		resp, status, retryAfter, err := c.attempt(ctx, rawURL, ua)
		outcome := classify(ctx, status, err)

		state, wait := retrier.Record(outcome, retryAfter)
		switch state {
		case Succeeded:
			return resp, nil
		case Failed:
			return nil, &Error{
				URL:       rawURL,
				Status:    status,
				Attempts:  retrier.Attempts(),
				Retryable: outcome == Transient,
				Err:       err,
			}
		}

		c.logger.Debug("Retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", retrier.Attempts()),
			zap.Int("status", status),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		if err := sleep(ctx, wait); err != nil {
			return nil, &Error{URL: rawURL, Status: status, Attempts: retrier.Attempts(), Retryable: true, Err: err}
		}
	}
}

// attempt performs one GET. It always drains and closes the response body so
// the connection can be reused, including on cancellation.
func (c *Client) attempt(ctx context.Context, rawURL, ua string) (*Response, int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, 0, err
	}

	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return nil, resp.StatusCode, retryAfter, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(raw)) > c.cfg.MaxBodyBytes {
		return nil, resp.StatusCode, 0, fmt.Errorf("%w (limit %d bytes)", ErrBodyTooLarge, c.cfg.MaxBodyBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		URL:         finalURL,
		Status:      resp.StatusCode,
		ContentType: contentType,
		Body:        decodeBody(raw, contentType),
	}, resp.StatusCode, 0, nil
}

// userAgent rotates round-robin over the configured identities.
func (c *Client) userAgent() string {
	if len(c.cfg.UserAgents) == 0 {
		return DefaultUserAgent
	}
	n := c.uaNext.Add(1) - 1
	return c.cfg.UserAgents[n%uint64(len(c.cfg.UserAgents))]
}

// classify maps the result of one attempt to a retry outcome.
func classify(ctx context.Context, status int, err error) Outcome {
	if err == nil {
		return Success
	}
	if ctx.Err() != nil || errors.Is(err, ErrBodyTooLarge) {
		return Permanent
	}
	if status == 0 {
		// No response at all: connection refused, reset, DNS, timeout
		return Transient
	}

	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return Transient
	case status >= 500:
		return Transient
	case status >= 200 && status <= 299:
		// Body read failed mid-stream
		return Transient
	default:
		return Permanent
	}
}

// decodeBody converts raw to UTF-8 using the declared or sniffed charset. If
// the charset is unknown the bytes are returned as they are. Undeclared
// content that is already valid UTF-8 is kept, since charset sniffing only
// looks at the first KiB and would otherwise fall back to windows-1252.
func decodeBody(raw []byte, contentType string) string {
	if _, params, err := mime.ParseMediaType(contentType); err != nil || params["charset"] == "" {
		if utf8.Valid(raw) && !declaresCharset(raw) {
			return string(raw)
		}
	}

	r, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return string(raw)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

// declaresCharset reports whether the document head carries a charset
// declaration for the sniffer to honour.
func declaresCharset(raw []byte) bool {
	head := raw
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(bytes.ToLower(head), []byte("charset"))
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
