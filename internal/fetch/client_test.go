package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yellowcandle/mingpao-backup/internal/ratelimit"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	return NewClient(ratelimit.New(time.Millisecond, 10), 5*time.Second)
}

func TestDoSetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := testClient(t)
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if !strings.Contains(gotUA, "Mozilla/5.0") {
		t.Errorf("User-Agent not set, got %q", gotUA)
	}
}

func TestDoRespectsRateLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	const delay = 30 * time.Millisecond
	c := NewClient(ratelimit.New(delay, 1), 5*time.Second)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		resp, err := c.Do(ctx, http.MethodGet, srv.URL)
		if err != nil {
			t.Fatalf("Do %d: %v", i, err)
		}
		resp.Body.Close()
	}
	// Burst 1 + two delayed calls: at least ~2*delay total.
	if elapsed := time.Since(start); elapsed < delay {
		t.Errorf("three calls finished in %v; limiter not applied", elapsed)
	}
}

func TestFetchContentLive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><title>live page</title></html>"))
	}))
	defer srv.Close()

	c := testClient(t)
	content, err := c.FetchContent(context.Background(), srv.URL, false)
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if content.FromWayback {
		t.Error("live fetch reported as wayback")
	}
	if !strings.Contains(content.HTML, "live page") {
		t.Errorf("unexpected body: %q", content.HTML)
	}
}

func TestFetchContentNon200(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := testClient(t)
	_, err := c.FetchContent(context.Background(), srv.URL, false)
	if err == nil {
		t.Fatal("expected error on 404")
	}
	// Non-reset failures get no retry.
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
}

func TestFetchContentEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("   \n  "))
	}))
	defer srv.Close()

	c := testClient(t)
	_, err := c.FetchContent(context.Background(), srv.URL, false)
	if err == nil {
		t.Fatal("whitespace-only body should be an error")
	}
}

func TestFetchContentContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	c := testClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.FetchContent(ctx, srv.URL, false); err == nil {
		t.Fatal("expected context error")
	}
}

func TestFetchContentWaybackFirst(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/web/2/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><title>archived copy</title></html>"))
	})
	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		t.Error("live site should not be hit when the snapshot succeeds")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(t)
	c.waybackPrefix = srv.URL + "/web/2/"

	content, err := c.FetchContent(context.Background(), srv.URL+"/live", true)
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if !content.FromWayback {
		t.Error("snapshot fetch not flagged FromWayback")
	}
	if !strings.Contains(content.HTML, "archived copy") {
		t.Errorf("unexpected body: %q", content.HTML)
	}
}

func TestFetchContentWaybackMissFallsToLive(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/web/2/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><title>live copy</title></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(t)
	c.waybackPrefix = srv.URL + "/web/2/"

	content, err := c.FetchContent(context.Background(), srv.URL+"/live", true)
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if content.FromWayback {
		t.Error("live fallback flagged FromWayback")
	}
	if !strings.Contains(content.HTML, "live copy") {
		t.Errorf("unexpected body: %q", content.HTML)
	}
}

func TestIsConnectionReset(t *testing.T) {
	if isConnectionReset(nil) {
		t.Error("nil error reported as reset")
	}
	err := context.DeadlineExceeded
	if isConnectionReset(err) {
		t.Error("deadline error reported as reset")
	}
}
