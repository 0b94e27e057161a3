package urlgen

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yellowcandle/mingpao-backup/internal/fetch"
	"github.com/yellowcandle/mingpao-backup/internal/ratelimit"
)

var testDate = time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC)

func testFetchClient(t *testing.T) *fetch.Client {
	t.Helper()
	return fetch.NewClient(ratelimit.New(time.Millisecond, 100), 5*time.Second)
}

const indexPage = `<html><body>
<a href="../../../htm/News/20250112/HK-gaa1_r.htm">headline one</a>
<a href="../../../htm/News/20250112/HK-gba2_r.htm">headline two</a>
<a href="../../../htm/News/20250112/HK-gaa1_r.htm">duplicate link</a>
<a href="../../../htm/News/20250112/HK-GAindex_r.htm">index itself</a>
<a href="../../../htm/Sports/20250112/SP-spa1_r.htm">wrong section</a>
<a href="../../../htm/News/20250112/HK-gca3_r.htm">headline three</a>
</body></html>`

func TestGenerateFromIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/HK-GAindex_r.htm") {
			w.Write([]byte(indexPage))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	g := New(testFetchClient(t), srv.URL, false)
	urls := g.Generate(context.Background(), testDate)

	if len(urls) != 3 {
		t.Fatalf("expected 3 article URLs, got %d: %v", len(urls), urls)
	}
	want := []string{
		srv.URL + "/htm/News/20250112/HK-gaa1_r.htm",
		srv.URL + "/htm/News/20250112/HK-gba2_r.htm",
		srv.URL + "/htm/News/20250112/HK-gca3_r.htm",
	}
	for i, u := range want {
		if urls[i] != u {
			t.Errorf("urls[%d] = %q, want %q", i, urls[i], u)
		}
	}
	if !sort.StringsAreSorted(urls) {
		t.Error("result not sorted")
	}
}

func TestGenerateDeterministic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(indexPage))
	}))
	defer srv.Close()

	g := New(testFetchClient(t), srv.URL, false)
	first := g.Generate(context.Background(), testDate)
	second := g.Generate(context.Background(), testDate)

	if len(first) != len(second) {
		t.Fatalf("result size changed between calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("result differs at %d: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestGenerateFallsBackToBruteForce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	g := New(testFetchClient(t), srv.URL, false)
	urls := g.Generate(context.Background(), testDate)

	want := len(sectionPrefixes) * maxArticleNumber
	if len(urls) != want {
		t.Fatalf("brute force should yield %d URLs, got %d", want, len(urls))
	}
	if !sort.StringsAreSorted(urls) {
		t.Error("brute-force result not sorted")
	}

	expected := srv.URL + "/htm/News/20250112/HK-gaa1_r.htm"
	found := false
	for _, u := range urls {
		if u == expected {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("brute-force set missing %s", expected)
	}
}

func TestGenerateFallsBackOnNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // Refuse all connections.

	g := New(testFetchClient(t), srv.URL, false)
	urls := g.Generate(context.Background(), testDate)

	if len(urls) != len(sectionPrefixes)*maxArticleNumber {
		t.Errorf("network failure should trigger brute force, got %d URLs", len(urls))
	}
}

// TestGenerateNoFallbackOnIndexHit verifies brute force triggers only when
// the index tier fails: a reachable index page suppresses it entirely.
func TestGenerateNoFallbackOnIndexHit(t *testing.T) {
	var indexHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		indexHits.Add(1)
		w.Write([]byte(indexPage))
	}))
	defer srv.Close()

	g := New(testFetchClient(t), srv.URL, false)
	urls := g.Generate(context.Background(), testDate)

	if n := indexHits.Load(); n != 1 {
		t.Errorf("expected exactly 1 index request, got %d", n)
	}
	if len(urls) >= len(sectionPrefixes)*maxArticleNumber {
		t.Error("brute-force set returned despite index hit")
	}
}

// TestGenerateWaybackFirstIndex serves the index only through the snapshot
// path, with Wayback-style rewritten links.
func TestGenerateWaybackFirstIndex(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/web/2/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
<a href="/web/20250113000000/http://site/htm/News/20250112/HK-gaa1_r.htm">one</a>
<a href="/web/20250113000000/http://site/htm/News/20250112/HK-gab2_r.htm">two</a>
</body></html>`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.Error("live site should not be consulted when the snapshot succeeds")
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := New(testFetchClient(t), "http://site", true)
	g.waybackPrefix = srv.URL + "/web/2/"

	urls := g.Generate(context.Background(), testDate)
	want := []string{
		"http://site/htm/News/20250112/HK-gaa1_r.htm",
		"http://site/htm/News/20250112/HK-gab2_r.htm",
	}
	if len(urls) != len(want) {
		t.Fatalf("expected %d URLs, got %d: %v", len(want), len(urls), urls)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("urls[%d] = %q, want %q", i, urls[i], want[i])
		}
	}
}

func TestIndexURL(t *testing.T) {
	g := New(testFetchClient(t), "http://www.mingpaocanada.com/tor/", false)
	got := g.indexURL(testDate)
	want := "http://www.mingpaocanada.com/tor/htm/News/20250112/HK-GAindex_r.htm"
	if got != want {
		t.Errorf("indexURL = %q, want %q", got, want)
	}
}
