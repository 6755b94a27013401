package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper: fast retry settings without robots.txt lookups
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RespectRobots = false
	cfg.Timeout = 2 * time.Second
	cfg.Retry = Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
	return cfg
}

// Test helper: server that answers with the given statuses in order, then 200
func sequenceServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>ok</body></html>")
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

// TestFetch_Success verifies a plain successful fetch
func TestFetch_Success(t *testing.T) {
	server, hits := sequenceServer(t)
	client := NewClient(nil, testConfig(), 0, nil)

	resp, err := client.Fetch(context.Background(), server.URL+"/news")

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "<html><body>ok</body></html>", resp.Body)
	assert.Equal(t, server.URL+"/news", resp.URL)
	assert.Equal(t, int32(1), hits.Load())
}

// TestFetch_RetriesServerErrors verifies transient 5xx responses are retried
func TestFetch_RetriesServerErrors(t *testing.T) {
	server, hits := sequenceServer(t, http.StatusServiceUnavailable, http.StatusBadGateway)
	client := NewClient(nil, testConfig(), 0, nil)

	resp, err := client.Fetch(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(3), hits.Load())
}

// TestFetch_GivesUp verifies the attempt bound and the reported error
func TestFetch_GivesUp(t *testing.T) {
	server, hits := sequenceServer(t, 500, 500, 500, 500, 500)
	client := NewClient(nil, testConfig(), 0, nil)

	_, err := client.Fetch(context.Background(), server.URL)

	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, http.StatusInternalServerError, ferr.Status)
	assert.Equal(t, 3, ferr.Attempts)
	assert.True(t, ferr.Retryable)
	assert.Equal(t, int32(3), hits.Load(), "should stop after MaxAttempts")

	var serr *StatusError
	assert.ErrorAs(t, err, &serr)
}

// TestFetch_NoRetryOnNotFound verifies 4xx fails immediately
func TestFetch_NoRetryOnNotFound(t *testing.T) {
	server, hits := sequenceServer(t, http.StatusNotFound)
	client := NewClient(nil, testConfig(), 0, nil)

	_, err := client.Fetch(context.Background(), server.URL)

	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, http.StatusNotFound, ferr.Status)
	assert.Equal(t, 1, ferr.Attempts)
	assert.False(t, ferr.Retryable)
	assert.Equal(t, int32(1), hits.Load())
}

// TestFetch_RetriesRateLimit verifies 429 is treated as transient
func TestFetch_RetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	client := NewClient(nil, testConfig(), 0, nil)
	resp, err := client.Fetch(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Body)
	assert.Equal(t, int32(2), hits.Load())
}

// TestFetch_NetworkErrorIsRetried verifies connection failures are transient
func TestFetch_NetworkErrorIsRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	client := NewClient(nil, testConfig(), 0, nil)
	_, err := client.Fetch(context.Background(), addr)

	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, 0, ferr.Status)
	assert.Equal(t, 3, ferr.Attempts)
	assert.True(t, ferr.Retryable)
}

// TestFetch_UnsupportedScheme verifies non-HTTP URLs never hit the network
func TestFetch_UnsupportedScheme(t *testing.T) {
	client := NewClient(nil, testConfig(), 0, nil)

	_, err := client.Fetch(context.Background(), "ftp://example.com/file")

	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, 0, ferr.Attempts)
}

// TestFetch_Throttle verifies consecutive requests are spaced by the delay
func TestFetch_Throttle(t *testing.T) {
	server, hits := sequenceServer(t)
	delay := 50 * time.Millisecond
	client := NewClient(nil, testConfig(), delay, nil)

	start := time.Now()
	for range 3 {
		_, err := client.Fetch(context.Background(), server.URL)
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	assert.Equal(t, int32(3), hits.Load())
	assert.GreaterOrEqual(t, elapsed, 2*delay-5*time.Millisecond, "three requests need two full delays")
}

// TestFetch_ThrottleAppliesToRetries verifies retries also wait for the throttle
func TestFetch_ThrottleAppliesToRetries(t *testing.T) {
	server, _ := sequenceServer(t, http.StatusServiceUnavailable)
	delay := 40 * time.Millisecond
	client := NewClient(nil, testConfig(), delay, nil)

	start := time.Now()
	_, err := client.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), delay-5*time.Millisecond)
}

// TestFetch_SeparateClientsHaveSeparateThrottles verifies no shared timer
func TestFetch_SeparateClientsHaveSeparateThrottles(t *testing.T) {
	server, _ := sequenceServer(t)
	delay := 200 * time.Millisecond

	a := NewClient(nil, testConfig(), delay, nil)
	b := NewClient(nil, testConfig(), delay, nil)

	start := time.Now()
	_, err := a.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	_, err = b.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), delay, "first request of each client should not wait")
}

// TestFetch_RotatesUserAgents verifies round-robin identities and headers
func TestFetch_RotatesUserAgents(t *testing.T) {
	var mu sync.Mutex
	var agents []string
	var languages []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.UserAgent())
		languages = append(languages, r.Header.Get("Accept-Language"))
		mu.Unlock()
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.UserAgents = []string{"agent-a", "agent-b"}
	client := NewClient(nil, cfg, 0, nil)

	for range 3 {
		_, err := client.Fetch(context.Background(), server.URL)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"agent-a", "agent-b", "agent-a"}, agents)
	assert.Equal(t, "en-US,en;q=0.8", languages[0])
}

// TestFetch_DecodesDeclaredCharset verifies Latin-1 bodies become UTF-8
func TestFetch_DecodesDeclaredCharset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<p>caf\xe9</p>"))
	}))
	defer server.Close()

	client := NewClient(nil, testConfig(), 0, nil)
	resp, err := client.Fetch(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, "<p>café</p>", resp.Body)
}

// TestFetch_DecodesMetaCharset verifies a <meta charset> declaration is honoured
func TestFetch_DecodesMetaCharset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><meta charset="windows-1252"></head><body><p>l` + "\x92" + `euro</p></body></html>`))
	}))
	defer server.Close()

	client := NewClient(nil, testConfig(), 0, nil)
	resp, err := client.Fetch(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Contains(t, resp.Body, "l’euro")
}

// TestFetch_KeepsUndeclaredUTF8 verifies late multi-byte text is not mangled
func TestFetch_KeepsUndeclaredUTF8(t *testing.T) {
	body := "<html><body>" + strings.Repeat("x", 2048) + "<p>l’été</p></body></html>"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	client := NewClient(nil, testConfig(), 0, nil)
	resp, err := client.Fetch(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, body, resp.Body)
}

// TestFetch_BodyTooLarge verifies the size cap fails without retrying
func TestFetch_BodyTooLarge(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, strings.Repeat("a", 100))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxBodyBytes = 10
	client := NewClient(nil, cfg, 0, nil)

	_, err := client.Fetch(context.Background(), server.URL)

	assert.ErrorIs(t, err, ErrBodyTooLarge)
	assert.Equal(t, int32(1), hits.Load())
}

// TestFetch_CancelledContext verifies no request is issued once cancelled
func TestFetch_CancelledContext(t *testing.T) {
	server, hits := sequenceServer(t)
	client := NewClient(nil, testConfig(), 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Fetch(ctx, server.URL)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), hits.Load())
}

// TestFetch_CancelDuringBackoff verifies backoff sleeps honour the context
func TestFetch_CancelDuringBackoff(t *testing.T) {
	server, _ := sequenceServer(t, 503, 503, 503)

	cfg := testConfig()
	cfg.Retry.InitialBackoff = time.Second
	cfg.Retry.MaxBackoff = time.Second
	client := NewClient(nil, cfg, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Fetch(ctx, server.URL)

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

// TestFetch_RespectsRobots verifies disallowed paths are never requested
func TestFetch_RespectsRobots(t *testing.T) {
	var robotsHits, pageHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		pageHits.Add(1)
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.RespectRobots = true
	client := NewClient(nil, cfg, 0, nil)

	_, err := client.Fetch(context.Background(), server.URL+"/private/page.html")
	assert.ErrorIs(t, err, ErrDisallowed)

	_, err = client.Fetch(context.Background(), server.URL+"/news")
	require.NoError(t, err)

	assert.Equal(t, int32(1), robotsHits.Load(), "robots.txt should be fetched once per host")
	assert.Equal(t, int32(1), pageHits.Load())
}

// TestFetch_MissingRobotsAllowsAll verifies a 404 robots.txt allows fetching
func TestFetch_MissingRobotsAllowsAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.RespectRobots = true
	client := NewClient(nil, cfg, 0, nil)

	resp, err := client.Fetch(context.Background(), server.URL+"/anything")

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Body)
}

// TestFetch_RobotsServerErrorAllowsAll verifies a 5xx robots.txt does not block the crawl
func TestFetch_RobotsServerErrorAllowsAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.RespectRobots = true
	client := NewClient(nil, cfg, 0, nil)

	resp, err := client.Fetch(context.Background(), server.URL+"/news")

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Body)
}

// TestRobots_CancelledLookupIsNotCached verifies an interrupted lookup is retried
func TestRobots_CancelledLookupIsNotCached(t *testing.T) {
	var robotsHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.RespectRobots = true
	client := NewClient(nil, cfg, 0, nil)

	u, err := url.Parse(server.URL + "/private/page.html")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client.robots.allowed(ctx, u, "test-agent")
	assert.Empty(t, client.robots.hosts)
	assert.Equal(t, int32(0), robotsHits.Load())

	assert.False(t, client.robots.allowed(context.Background(), u, "test-agent"))
	assert.Equal(t, int32(1), robotsHits.Load())
	assert.Len(t, client.robots.hosts, 1)
}
