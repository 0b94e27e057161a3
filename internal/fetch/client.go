// Package fetch provides the rate-limited HTTP client shared by every
// outbound call the pipeline makes, plus HTML content fetching with a
// Wayback-first option for pages that have already vanished from the live
// site.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yellowcandle/mingpao-backup/internal/ratelimit"
)

// userAgent mirrors a desktop browser; the origin site serves legacy pages
// differently to unknown agents.
const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// waybackContentPrefix resolves to the newest snapshot of a URL.
const waybackContentPrefix = "https://web.archive.org/web/2/"

// maxBodySize caps how much of a page is read; articles are small and a cap
// keeps a misbehaving server from exhausting memory.
const maxBodySize = 5 << 20

// Client wraps http.Client with the shared rate limiter and the User-Agent
// the origin site expects. All pipeline components issue requests through it.
type Client struct {
	httpClient    *http.Client
	limiter       *ratelimit.Limiter
	logger        *slog.Logger
	waybackPrefix string
}

// NewClient creates a Client with the given per-request timeout. Every Do
// call first acquires a token from limiter.
func NewClient(limiter *ratelimit.Limiter, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		limiter:       limiter,
		logger:        slog.Default(),
		waybackPrefix: waybackContentPrefix,
	}
}

// Do issues a rate-limited request. The caller owns the response body.
func (c *Client) Do(ctx context.Context, method, url string) (*http.Response, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	return c.httpClient.Do(req)
}

// Content is a fetched HTML page. FromWayback records whether it came from
// the archive rather than the live site, which callers persist alongside
// keyword matches.
type Content struct {
	HTML        string
	ContentType string
	FromWayback bool
}

// FetchContent fetches the HTML for url. When waybackFirst is set the newest
// archived snapshot is tried before the live site; either way the live fetch
// gets one retry after a connection reset, which the origin's ancient server
// produces routinely under load.
func (c *Client) FetchContent(ctx context.Context, url string, waybackFirst bool) (Content, error) {
	if waybackFirst {
		snapshot := c.waybackPrefix + url
		body, contentType, err := c.fetchOK(ctx, snapshot)
		if err == nil && strings.TrimSpace(body) != "" {
			return Content{HTML: body, ContentType: contentType, FromWayback: true}, nil
		}
		if err != nil {
			c.logger.Debug("wayback content fetch failed, trying live site", "url", url, "error", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		body, contentType, err := c.fetchOK(ctx, url)
		if err == nil && strings.TrimSpace(body) != "" {
			return Content{HTML: body, ContentType: contentType}, nil
		}
		lastErr = err
		if err == nil {
			lastErr = fmt.Errorf("empty response body from %s", url)
			break
		}
		if !isConnectionReset(err) || attempt > 0 {
			break
		}
		c.logger.Debug("connection reset, retrying once", "url", url)
		select {
		case <-ctx.Done():
			return Content{}, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	return Content{}, fmt.Errorf("fetching %s: %w", url, lastErr)
}

// fetchOK GETs url and returns the body only on HTTP 200.
func (c *Client) fetchOK(ctx context.Context, url string) (body, contentType string, err error) {
	resp, err := c.Do(ctx, http.MethodGet, url)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", "", fmt.Errorf("reading body: %w", err)
	}
	return string(data), resp.Header.Get("Content-Type"), nil
}

func isConnectionReset(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "connection reset")
}
