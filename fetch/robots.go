package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// maxRobotsBodyBytes limits the size of robots.txt responses we will read.
const maxRobotsBodyBytes = 512 * 1024

// robotsChecker fetches robots.txt once per host for the lifetime of a
// Client. Missing or unreadable robots.txt allows everything.
type robotsChecker struct {
	client *Client
	mu     sync.Mutex
	hosts  map[string]*robotstxt.RobotsData // nil entry means allow all
}

func newRobotsChecker(c *Client) *robotsChecker {
	return &robotsChecker{
		client: c,
		hosts:  make(map[string]*robotstxt.RobotsData),
	}
}

// allowed reports whether userAgent may fetch u.
func (r *robotsChecker) allowed(ctx context.Context, u *url.URL, userAgent string) bool {
	host := strings.ToLower(u.Host)

	r.mu.Lock()
	data, cached := r.hosts[host]
	r.mu.Unlock()

	if !cached {
		var ok bool
		data, ok = r.load(ctx, u.Scheme, host)
		if ok {
			r.mu.Lock()
			r.hosts[host] = data
			r.mu.Unlock()
		}
	}

	if data == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.TestAgent(path, userAgent)
}

// load fetches and parses robots.txt for host. Only a 2xx body is parsed;
// any other status, or an unparsable body, allows everything. ok is false
// when no response arrived, so the lookup is retried on the next fetch.
func (r *robotsChecker) load(ctx context.Context, scheme, host string) (data *robotstxt.RobotsData, ok bool) {
	robotsURL := scheme + "://" + host + "/robots.txt"
	logger := r.client.logger.With(zap.String("url", robotsURL))

	if err := r.client.limiter.Wait(ctx); err != nil {
		logger.Debug("Skipping robots.txt", zap.Error(err))
		return nil, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, true
	}
	req.Header.Set("User-Agent", r.client.userAgent())

	resp, err := r.client.http.Do(req)
	if err != nil {
		logger.Debug("Failed to fetch robots.txt", zap.Error(err))
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Debug("Ignoring robots.txt", zap.Int("status", resp.StatusCode))
		return nil, true
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
	if err != nil {
		logger.Debug("Failed to read robots.txt", zap.Error(err))
		return nil, ctx.Err() == nil
	}

	data, err = robotstxt.FromBytes(body)
	if err != nil {
		logger.Debug("Failed to parse robots.txt", zap.Error(err))
		return nil, true
	}
	return data, true
}
