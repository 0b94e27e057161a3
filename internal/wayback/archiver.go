// Package wayback drives the per-URL archive protocol against the Internet
// Archive's save endpoint. The state machine here owns classification only;
// persistence belongs to the caller, so every path is testable without a
// database.
package wayback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/yellowcandle/mingpao-backup/internal/config"
	"github.com/yellowcandle/mingpao-backup/internal/fetch"
)

// Status is the terminal classification of one archive attempt. Exactly one
// applies per attempt.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusExists      Status = "exists"
	StatusFailed      Status = "failed"
	StatusTimeout     Status = "timeout"
	StatusRateLimited Status = "rate_limited"
	StatusError       Status = "error"
	StatusUnknown     Status = "unknown"
	StatusPending     Status = "pending"
)

const (
	waybackHost     = "https://web.archive.org"
	saveURLPrefix   = waybackHost + "/save/"
	checkURLPrefix  = waybackHost + "/web/2/"
	locationHeader  = "Content-Location"
	maxDrainedBytes = 4096
)

// Result is the outcome of archiving one URL.
type Result struct {
	URL            string
	Status         Status
	WaybackURL     string
	HTTPStatus     int
	ErrorMessage   string
	CheckedWayback bool
}

// Archiver runs the save protocol for individual URLs. Safe for concurrent
// use; the rate limiter inside the shared fetch client is the only
// cross-attempt synchronization.
type Archiver struct {
	client      *fetch.Client
	logger      *slog.Logger
	maxRetries  int
	retryDelay  time.Duration
	savePrefix  string
	checkPrefix string
	stats       *Stats
}

// New creates an Archiver with the retry budget from cfg. All requests go
// through client and therefore through its rate limiter.
func New(client *fetch.Client, cfg config.ArchivingConfig) *Archiver {
	return &Archiver{
		client:      client,
		logger:      slog.Default(),
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryInterval(),
		savePrefix:  saveURLPrefix,
		checkPrefix: checkURLPrefix,
		stats:       &Stats{},
	}
}

// Archive runs the full protocol for url: existence check, save attempt with
// a bounded timeout-retry loop, fallback verification. It always returns a
// terminal Result and bumps exactly one outcome counter.
func (a *Archiver) Archive(ctx context.Context, url string) Result {
	a.stats.totalAttempted.Add(1)

	if wb, ok := a.checkExisting(ctx, url); ok {
		a.logger.Debug("already archived", "url", url, "wayback_url", wb)
		res := Result{URL: url, Status: StatusExists, WaybackURL: wb, CheckedWayback: true}
		a.stats.record(res)
		return res
	}

	res := a.save(ctx, url)
	a.stats.record(res)
	return res
}

// Stats returns a snapshot of the outcome counters accumulated so far.
func (a *Archiver) Stats() Snapshot {
	return a.stats.Snapshot()
}

// checkExisting asks the archive whether a snapshot of url already exists.
// Any failure means "not found"; the save attempt is the authoritative path.
func (a *Archiver) checkExisting(ctx context.Context, url string) (string, bool) {
	resp, err := a.client.Do(ctx, http.MethodGet, a.checkPrefix+url)
	if err != nil {
		a.logger.Debug("existence check failed", "url", url, "error", err)
		return "", false
	}
	defer drainClose(resp)

	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	// Redirects land on the concrete snapshot address.
	return resp.Request.URL.String(), true
}

// save issues the save request, retrying timeouts up to maxRetries times.
// The loop is explicit so the retry bound is structurally visible.
func (a *Archiver) save(ctx context.Context, url string) Result {
	for attempt := 0; ; attempt++ {
		resp, err := a.client.Do(ctx, http.MethodPost, a.savePrefix+url)
		if err == nil {
			return a.classify(ctx, url, resp)
		}

		if ctx.Err() != nil {
			return Result{URL: url, Status: StatusError, ErrorMessage: ctx.Err().Error()}
		}
		if !isTimeout(err) {
			a.logger.Warn("save request failed", "url", url, "error", err)
			return Result{URL: url, Status: StatusError, ErrorMessage: err.Error()}
		}
		if attempt >= a.maxRetries {
			a.logger.Warn("save retries exhausted", "url", url, "attempts", attempt+1)
			return Result{URL: url, Status: StatusTimeout, ErrorMessage: err.Error()}
		}

		a.logger.Info("save timed out, retrying",
			"url", url, "attempt", attempt+1, "max_retries", a.maxRetries)
		select {
		case <-ctx.Done():
			return Result{URL: url, Status: StatusError, ErrorMessage: ctx.Err().Error()}
		case <-time.After(a.retryDelay):
		}
	}
}

// classify maps one save response to a terminal result, consulting the
// existence check where the response alone is ambiguous.
func (a *Archiver) classify(ctx context.Context, url string, resp *http.Response) Result {
	loc := resp.Header.Get(locationHeader)
	status := resp.StatusCode
	drainClose(resp)

	switch {
	case status == http.StatusOK && loc != "":
		return Result{
			URL:        url,
			Status:     StatusSuccess,
			WaybackURL: absoluteWayback(loc),
			HTTPStatus: status,
		}

	case status == http.StatusOK:
		// The endpoint sometimes accepts a save without confirming it.
		if wb, ok := a.checkExisting(ctx, url); ok {
			return Result{URL: url, Status: StatusSuccess, WaybackURL: wb, HTTPStatus: status, CheckedWayback: true}
		}
		return Result{
			URL:            url,
			Status:         StatusUnknown,
			HTTPStatus:     status,
			CheckedWayback: true,
			ErrorMessage:   "save accepted without confirmation and no snapshot found",
		}

	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		a.logger.Warn("archive service throttling", "url", url, "status", status)
		return Result{URL: url, Status: StatusRateLimited, HTTPStatus: status}

	default:
		// Saves occasionally land despite an error status.
		if wb, ok := a.checkExisting(ctx, url); ok {
			return Result{URL: url, Status: StatusSuccess, WaybackURL: wb, HTTPStatus: status, CheckedWayback: true}
		}
		return Result{
			URL:            url,
			Status:         StatusFailed,
			HTTPStatus:     status,
			CheckedWayback: true,
			ErrorMessage:   fmt.Sprintf("save endpoint returned HTTP %d", status),
		}
	}
}

func absoluteWayback(location string) string {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location
	}
	if !strings.HasPrefix(location, "/") {
		location = "/" + location
	}
	return waybackHost + location
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func drainClose(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainedBytes))
	resp.Body.Close()
}
