package filter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/yellowcandle/mingpao-backup/internal/config"
	"github.com/yellowcandle/mingpao-backup/internal/fetch"
	"github.com/yellowcandle/mingpao-backup/internal/ratelimit"
)

func kwConfig(terms ...string) config.KeywordsConfig {
	return config.KeywordsConfig{
		Enabled:         true,
		Terms:           terms,
		ParallelWorkers: 2,
	}
}

func newTestFilter(cfg config.KeywordsConfig) *Filter {
	client := fetch.NewClient(ratelimit.New(time.Millisecond, 100), 5*time.Second)
	return New(client, cfg)
}

func TestMatchTermsORLogic(t *testing.T) {
	f := New(nil, kwConfig("選舉", "示威", "預算"))

	matched := f.MatchTerms("立法會選舉結果公布，預算案押後")
	if len(matched) != 2 {
		t.Fatalf("expected 2 matches, got %v", matched)
	}
	// Configuration order, not text order.
	if matched[0] != "選舉" || matched[1] != "預算" {
		t.Errorf("matches out of order: %v", matched)
	}
}

func TestMatchTermsNormalizationForms(t *testing.T) {
	// Terms and text differing only by NFC/NFD composition must match.
	term := "café時間"
	f := New(nil, kwConfig(norm.NFD.String(term)))

	matched := f.MatchTerms(norm.NFC.String("下午" + term + "開始"))
	if len(matched) != 1 {
		t.Errorf("NFD term should match NFC text, got %v", matched)
	}
}

func TestMatchTermsWhitespaceInsensitive(t *testing.T) {
	f := New(nil, kwConfig("Ming Pao"))

	if m := f.MatchTerms("read  Ming \t Pao daily"); len(m) != 1 {
		t.Errorf("whitespace-collapsed term should match, got %v", m)
	}
}

func TestMatchTermsCaseSensitivity(t *testing.T) {
	insensitive := New(nil, kwConfig("Budget"))
	if m := insensitive.MatchTerms("the budget debate"); len(m) != 1 {
		t.Errorf("case-insensitive match failed: %v", m)
	}

	cfg := kwConfig("Budget")
	cfg.CaseSensitive = true
	sensitive := New(nil, cfg)
	if m := sensitive.MatchTerms("the budget debate"); len(m) != 0 {
		t.Errorf("case-sensitive matcher should not match: %v", m)
	}
	if m := sensitive.MatchTerms("the Budget debate"); len(m) != 1 {
		t.Errorf("case-sensitive exact match failed: %v", m)
	}
}

func TestMatchTermsEmpty(t *testing.T) {
	f := New(nil, kwConfig("選舉"))
	if m := f.MatchTerms(""); m != nil {
		t.Errorf("empty text should match nothing, got %v", m)
	}
}

func TestFilterDisabledPassthrough(t *testing.T) {
	f := New(nil, config.KeywordsConfig{})

	urls := []string{"http://a", "http://b", "http://c"}
	articles := f.Filter(context.Background(), urls)

	if len(articles) != 3 {
		t.Fatalf("expected passthrough of 3 URLs, got %d", len(articles))
	}
	for i, a := range articles {
		if a.URL != urls[i] {
			t.Errorf("articles[%d].URL = %q", i, a.URL)
		}
		if a.MatchedTerms != nil {
			t.Error("plain-mode article should carry no matched terms")
		}
	}
}

func TestFilterParallelTitleOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Page 3 matches; others don't.
		if strings.HasSuffix(r.URL.Path, "3") {
			fmt.Fprint(w, `<html><head><title>選舉結果</title></head><body>內文</body></html>`)
			return
		}
		fmt.Fprint(w, `<html><head><title>天氣報告</title></head><body>內文</body></html>`)
	}))
	defer srv.Close()

	f := newTestFilter(kwConfig("選舉"))

	urls := []string{srv.URL + "/1", srv.URL + "/2", srv.URL + "/3", srv.URL + "/4"}
	articles := f.Filter(context.Background(), urls)

	if len(articles) != 1 {
		t.Fatalf("expected 1 match, got %d: %+v", len(articles), articles)
	}
	a := articles[0]
	if a.URL != srv.URL+"/3" {
		t.Errorf("matched wrong URL: %q", a.URL)
	}
	if !a.TitleSearchOnly {
		t.Error("title-only pass should set TitleSearchOnly")
	}
	if a.Title != "選舉結果" {
		t.Errorf("title: %q", a.Title)
	}
}

func TestFilterContentPassSequential(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		fmt.Fprint(w, `<html><head><title>無關標題</title></head><body>立法會辯論財政預算案</body></html>`)
	}))
	defer srv.Close()

	cfg := kwConfig("預算")
	cfg.SearchContent = true
	cfg.ParallelWorkers = 4 // Must be ignored in content mode.
	f := newTestFilter(cfg)

	urls := []string{srv.URL + "/1", srv.URL + "/2", srv.URL + "/3"}
	articles := f.Filter(context.Background(), urls)

	if len(articles) != 3 {
		t.Fatalf("expected all 3 to match on content, got %d", len(articles))
	}
	for _, a := range articles {
		if a.TitleSearchOnly {
			t.Error("content match should not set TitleSearchOnly")
		}
	}
	if m := maxInFlight.Load(); m != 1 {
		t.Errorf("content pass ran %d fetches concurrently; must be sequential", m)
	}
}

func TestFilterTitleHitShortCircuitsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>選舉快訊</title></head><body>亦提及預算</body></html>`)
	}))
	defer srv.Close()

	cfg := kwConfig("選舉", "預算")
	cfg.SearchContent = true
	f := newTestFilter(cfg)

	articles := f.Filter(context.Background(), []string{srv.URL + "/1"})
	if len(articles) != 1 {
		t.Fatalf("expected 1 match, got %d", len(articles))
	}
	if !articles[0].TitleSearchOnly {
		t.Error("title hit should qualify without a content pass")
	}
	if len(articles[0].MatchedTerms) != 1 || articles[0].MatchedTerms[0] != "選舉" {
		t.Errorf("matched terms: %v", articles[0].MatchedTerms)
	}
}

func TestFilterFetchFailureExcludesURL(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `<html><head><title>選舉</title></head></html>`)
	}))
	defer srv.Close()

	cfg := kwConfig("選舉")
	cfg.SearchContent = true
	f := newTestFilter(cfg)

	articles := f.Filter(context.Background(), []string{srv.URL + "/bad", srv.URL + "/good"})
	if len(articles) != 1 {
		t.Fatalf("failed fetch should be excluded, not fatal; got %d matches", len(articles))
	}
	if articles[0].URL != srv.URL+"/good" {
		t.Errorf("wrong survivor: %q", articles[0].URL)
	}
}

func TestUnionTermsOrderAndDedup(t *testing.T) {
	order := []string{"a", "b", "c", "d"}
	got := unionTerms(order, []string{"c", "a"}, []string{"a", "d"})
	want := []string{"a", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("unionTerms = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("unionTerms[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
