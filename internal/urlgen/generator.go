// Package urlgen produces the candidate article URLs for a content date.
//
// The daily index page is strictly preferred: one request replaces over a
// thousand speculative existence checks, of which only 3-5% would hit.
// Brute-force enumeration remains for dates that predate the index page or
// whose index has vanished from the live site.
package urlgen

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/yellowcandle/mingpao-backup/internal/fetch"
)

// waybackIndexPrefix resolves to the newest archived snapshot; used for index
// discovery when the live site can no longer be expected to have the page.
const waybackIndexPrefix = "https://web.archive.org/web/2/"

// articlePathRe matches the site's article path inside an href, whether the
// link is relative ("../../../htm/News/...") or rewritten by a Wayback
// snapshot to an absolute /web/ URL.
var articlePathRe = regexp.MustCompile(`htm/News/(\d{8})/HK-[^"?#]+_r\.htm`)

// sectionPrefixes is the fixed vocabulary of Hong Kong news section codes.
var sectionPrefixes = []string{
	"gaa", "gab", "gac", "gad", "gae", "gaf",
	"gba", "gbb", "gbc", "gbd", "gbe", "gbf",
	"gca", "gcb", "gcc", "gcd", "gce", "gcf",
	"gga", "ggb", "ggc", "ggd", "gge", "ggf", "ggh",
	"gha", "ghb", "ghc", "ghd",
	"gma", "gmb",
}

// maxArticleNumber bounds the numeric suffix per section. The site never
// published past 8 within one section on one day.
const maxArticleNumber = 8

// Generator discovers article URLs for a date.
type Generator struct {
	baseURL       string
	client        *fetch.Client
	logger        *slog.Logger
	waybackFirst  bool
	waybackPrefix string
}

// New creates a Generator rooted at baseURL. When waybackFirstIndex is set,
// index discovery tries the archived snapshot of the index page before the
// live site; the origin is disappearing, so for historical dates the live
// index often no longer exists.
func New(client *fetch.Client, baseURL string, waybackFirstIndex bool) *Generator {
	return &Generator{
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        client,
		logger:        slog.Default(),
		waybackFirst:  waybackFirstIndex,
		waybackPrefix: waybackIndexPrefix,
	}
}

// Generate returns the sorted, duplicate-free candidate URL set for date.
// An empty result is a valid terminal state meaning "no articles that day";
// discovery failures fall through silently to the next tier.
func (g *Generator) Generate(ctx context.Context, date time.Time) []string {
	indexURL := g.indexURL(date)

	if g.waybackFirst {
		if urls := g.fromIndex(ctx, g.waybackPrefix+indexURL); len(urls) > 0 {
			g.logger.Debug("index discovered via wayback snapshot", "date", dateStr(date), "count", len(urls))
			return urls
		}
	}

	if urls := g.fromIndex(ctx, indexURL); len(urls) > 0 {
		g.logger.Debug("index discovered from live site", "date", dateStr(date), "count", len(urls))
		return urls
	}

	g.logger.Info("index page unavailable, falling back to brute force", "date", dateStr(date))
	return g.bruteForce(date)
}

// indexURL returns the daily index page address for date.
func (g *Generator) indexURL(date time.Time) string {
	return g.baseURL + "/htm/News/" + dateStr(date) + "/HK-GAindex_r.htm"
}

// fromIndex fetches one index page and extracts the article links. Any
// failure returns nil so the caller can fall through.
func (g *Generator) fromIndex(ctx context.Context, indexURL string) []string {
	resp, err := g.client.Do(ctx, http.MethodGet, indexURL)
	if err != nil {
		g.logger.Debug("index fetch failed", "url", indexURL, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		g.logger.Debug("index page not available", "url", indexURL, "status", resp.StatusCode)
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		g.logger.Debug("index parse failed", "url", indexURL, "error", err)
		return nil
	}

	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		path := articlePathRe.FindString(href)
		if path == "" {
			return
		}
		if strings.Contains(strings.ToLower(path), "index") {
			return
		}
		seen[g.baseURL+"/"+path] = true
	})

	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// bruteForce enumerates the section-prefix × article-number product for date.
func (g *Generator) bruteForce(date time.Time) []string {
	basePath := g.baseURL + "/htm/News/" + dateStr(date)

	urls := make([]string, 0, len(sectionPrefixes)*maxArticleNumber)
	for _, prefix := range sectionPrefixes {
		for n := 1; n <= maxArticleNumber; n++ {
			urls = append(urls, fmt.Sprintf("%s/HK-%s%d_r.htm", basePath, prefix, n))
		}
	}
	sort.Strings(urls)
	return urls
}

func dateStr(date time.Time) string {
	return date.Format("20060102")
}
