// Package filter narrows a candidate URL set to articles matching the
// operator's Traditional Chinese keywords before any archiving happens.
package filter

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yellowcandle/mingpao-backup/internal/config"
	"github.com/yellowcandle/mingpao-backup/internal/fetch"
)

// Article is one candidate that passed (or bypassed) filtering. Keyword mode
// populates Title/MatchedTerms; plain mode carries only the URL. The two
// modes are distinguished by MatchedTerms being non-nil, never by probing
// optional keys.
type Article struct {
	URL             string
	Title           string
	MatchedTerms    []string
	FromWayback     bool
	TitleSearchOnly bool
}

// ContentFetcher is the slice of fetch.Client the filter needs.
type ContentFetcher interface {
	FetchContent(ctx context.Context, url string, waybackFirst bool) (fetch.Content, error)
}

// Filter applies keyword matching over fetched pages.
type Filter struct {
	fetcher ContentFetcher
	cfg     config.KeywordsConfig
	logger  *slog.Logger
}

// New creates a Filter with the given keyword configuration.
func New(fetcher ContentFetcher, cfg config.KeywordsConfig) *Filter {
	return &Filter{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  slog.Default(),
	}
}

// Filter returns the articles matching the configured keywords. With
// filtering disabled (or no terms) every URL passes through untouched.
//
// The title-only pass runs on a bounded worker pool; its GETs are independent
// and idempotent. The content pass is always sequential: full-body fetches
// are what trip the origin's throttling, so parallel configuration is
// deliberately ignored there.
func (f *Filter) Filter(ctx context.Context, urls []string) []Article {
	if !f.cfg.Enabled || len(f.cfg.Terms) == 0 {
		articles := make([]Article, len(urls))
		for i, u := range urls {
			articles[i] = Article{URL: u}
		}
		return articles
	}

	if f.cfg.SearchContent {
		return f.filterSequential(ctx, urls)
	}
	return f.filterParallel(ctx, urls)
}

func (f *Filter) filterSequential(ctx context.Context, urls []string) []Article {
	f.logger.Info("keyword filtering (sequential)",
		"urls", len(urls), "terms", len(f.cfg.Terms), "search_content", f.cfg.SearchContent)

	var matched []Article
	for i, url := range urls {
		if ctx.Err() != nil {
			break
		}
		if article := f.processURL(ctx, url, f.cfg.SearchContent); article != nil {
			matched = append(matched, *article)
		}
		if i%20 == 0 {
			f.logger.Debug("filter progress", "done", i+1, "total", len(urls), "matched", len(matched))
		}
	}

	f.logger.Info("keyword filtering complete", "matched", len(matched), "total", len(urls))
	return matched
}

func (f *Filter) filterParallel(ctx context.Context, urls []string) []Article {
	workers := f.cfg.ParallelWorkers
	if workers < 1 {
		workers = 1
	}
	f.logger.Info("keyword filtering (parallel, title-only)",
		"urls", len(urls), "terms", len(f.cfg.Terms), "workers", workers)

	results := make([]*Article, len(urls))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			results[i] = f.processURL(gCtx, url, false)
			return nil
		})
	}
	g.Wait() // Workers never return errors; failed URLs are just excluded.

	var matched []Article
	for _, a := range results {
		if a != nil {
			matched = append(matched, *a)
		}
	}

	f.logger.Info("keyword filtering complete", "matched", len(matched), "total", len(urls))
	return matched
}

// processURL fetches one page and matches it against the configured terms.
// Returns nil when the page doesn't match or can't be fetched; one bad page
// never aborts the batch.
func (f *Filter) processURL(ctx context.Context, url string, searchContent bool) *Article {
	content, err := f.fetcher.FetchContent(ctx, url, f.cfg.WaybackFirst)
	if err != nil {
		f.logger.Debug("keyword filter fetch failed", "url", url, "error", err)
		return nil
	}

	title := fetch.ExtractTitle(content)
	titleMatches := f.MatchTerms(title)

	// A title hit qualifies the article outright; the body is only consulted
	// for articles the title alone didn't qualify.
	if len(titleMatches) > 0 {
		return &Article{
			URL:             url,
			Title:           title,
			MatchedTerms:    titleMatches,
			FromWayback:     content.FromWayback,
			TitleSearchOnly: true,
		}
	}

	if !searchContent {
		return nil
	}

	contentMatches := f.MatchTerms(content.HTML)
	all := unionTerms(f.cfg.Terms, titleMatches, contentMatches)
	if len(all) == 0 {
		return nil
	}
	return &Article{
		URL:          url,
		Title:        title,
		MatchedTerms: all,
		FromWayback:  content.FromWayback,
	}
}

// MatchTerms returns the configured terms found in text, OR logic, in
// configuration order. Both sides are NFC-normalized with collapsed
// whitespace before the substring test.
func (f *Filter) MatchTerms(text string) []string {
	if text == "" || len(f.cfg.Terms) == 0 {
		return nil
	}

	haystack := fetch.NormalizeCJK(text)
	if !f.cfg.CaseSensitive {
		haystack = strings.ToLower(haystack)
	}

	var matched []string
	for _, term := range f.cfg.Terms {
		needle := fetch.NormalizeCJK(term)
		if !f.cfg.CaseSensitive {
			needle = strings.ToLower(needle)
		}
		if needle != "" && strings.Contains(haystack, needle) {
			matched = append(matched, term)
		}
	}
	return matched
}

// unionTerms merges match lists preserving the configured term order.
func unionTerms(order []string, lists ...[]string) []string {
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, term := range list {
			seen[term] = true
		}
	}
	var out []string
	for _, term := range order {
		if seen[term] {
			out = append(out, term)
		}
	}
	return out
}
