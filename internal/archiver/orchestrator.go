// Package archiver orchestrates the per-date pipeline: discover candidate
// URLs, drop what the database already holds, keyword-filter the remainder,
// dispatch archive attempts via the selected strategy, and persist progress.
package archiver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yellowcandle/mingpao-backup/internal/config"
	"github.com/yellowcandle/mingpao-backup/internal/filter"
	"github.com/yellowcandle/mingpao-backup/internal/storage"
	"github.com/yellowcandle/mingpao-backup/internal/wayback"
)

// URLGenerator discovers candidate article URLs for a content date.
type URLGenerator interface {
	Generate(ctx context.Context, date time.Time) []string
}

// KeywordFilter narrows candidates to matching articles, or passes every URL
// through when filtering is disabled.
type KeywordFilter interface {
	Filter(ctx context.Context, urls []string) []filter.Article
}

// Saver runs the archive protocol for one URL.
type Saver interface {
	Archive(ctx context.Context, url string) wayback.Result
	Stats() wayback.Snapshot
}

// DaySummary reports one date's processing outcome.
type DaySummary struct {
	Date     string // YYYYMMDD
	Found    int    // dispatched after dedup and filtering
	Archived int
	Failed   int
	NotFound int
	Filtered int // candidates excluded by the keyword filter
	Duration time.Duration
}

// Orchestrator wires the pipeline stages together. One instance serves a
// whole run; the wayback statistics accumulate across dates.
type Orchestrator struct {
	cfg        config.Config
	store      *storage.Store
	gen        URLGenerator
	filter     KeywordFilter
	saver      Saver
	logger     *slog.Logger
	batchPause time.Duration
}

// New creates an Orchestrator over the given stages.
func New(cfg config.Config, store *storage.Store, gen URLGenerator, kf KeywordFilter, saver Saver) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		gen:        gen,
		filter:     kf,
		saver:      saver,
		logger:     slog.Default(),
		batchPause: time.Duration(cfg.Batch.PauseSeconds) * time.Second,
	}
}

// Stats returns the cumulative archive outcome counters for this run.
func (o *Orchestrator) Stats() wayback.Snapshot {
	return o.saver.Stats()
}

// ArchiveDate processes one content date end to end and writes its
// DailyProgress row. Per-URL failures are counted, never propagated; only
// the pre-loop existing-set query can fail the whole date.
func (o *Orchestrator) ArchiveDate(ctx context.Context, date time.Time, mode Strategy) (DaySummary, error) {
	start := time.Now()
	dateStr := date.Format("20060102")

	urls := o.gen.Generate(ctx, date)
	o.logger.Info("candidate URLs generated", "date", dateStr, "count", len(urls))

	existing, err := o.store.GetExistingURLs(urls)
	if err != nil {
		return DaySummary{Date: dateStr}, fmt.Errorf("loading existing URLs for %s: %w", dateStr, err)
	}

	candidates := make([]string, 0, len(urls))
	for _, u := range urls {
		if !existing[u] {
			candidates = append(candidates, u)
		}
	}
	o.logger.Info("dedup gate applied",
		"date", dateStr, "candidates", len(candidates), "already_recorded", len(urls)-len(candidates))

	articles := o.filter.Filter(ctx, candidates)

	var filtered int
	if o.cfg.Keywords.Enabled && len(o.cfg.Keywords.Terms) > 0 {
		filtered = len(candidates) - len(articles)
	}

	if limit := o.cfg.DailyLimit; limit > 0 && len(articles) > limit {
		o.logger.Warn("daily limit reached, truncating dispatch set",
			"date", dateStr, "limit", limit, "eligible", len(articles))
		articles = articles[:limit]
	}

	strategy := o.resolveStrategy(mode)
	o.logger.Info("dispatching archive attempts",
		"date", dateStr, "count", len(articles), "strategy", string(strategy))

	var results []wayback.Result
	switch strategy {
	case StrategyParallel:
		results = o.runParallel(ctx, articles, dateStr)
	case StrategyBatch:
		results = o.runBatch(ctx, articles, dateStr, func(done []wayback.Result) {
			o.persistDaily(dateStr, len(articles), filtered, done, time.Since(start), false)
		})
	default:
		results = o.runSequential(ctx, articles, dateStr)
	}

	summary := summarize(dateStr, len(articles), filtered, results, time.Since(start))
	o.persistDaily(dateStr, summary.Found, filtered, results, summary.Duration, true)

	o.logger.Info("date complete",
		"date", dateStr, "found", summary.Found, "archived", summary.Archived,
		"failed", summary.Failed, "not_found", summary.NotFound,
		"duration", summary.Duration.Round(time.Millisecond))
	return summary, nil
}

// ArchiveDateRange processes every date from start through end inclusive.
// A date that fails is logged and skipped; the range keeps going.
func (o *Orchestrator) ArchiveDateRange(ctx context.Context, start, end time.Time, mode Strategy) ([]DaySummary, error) {
	var summaries []DaySummary
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}
		summary, err := o.ArchiveDate(ctx, d, mode)
		if err != nil {
			o.logger.Error("date processing failed", "date", d.Format("20060102"), "error", err)
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// processArticle archives one article and persists its record. A failed
// persist is logged and tolerated; the in-memory counters stay authoritative
// for the run summary.
func (o *Orchestrator) processArticle(ctx context.Context, art filter.Article, date string) wayback.Result {
	res := o.saver.Archive(ctx, art.URL)

	rec := storage.ArchiveRecord{
		ArticleURL:      art.URL,
		WaybackURL:      res.WaybackURL,
		ArchiveDate:     date,
		Status:          string(res.Status),
		HTTPStatus:      res.HTTPStatus,
		ErrorMessage:    res.ErrorMessage,
		MatchedKeywords: strings.Join(art.MatchedTerms, ","),
		CheckedWayback:  res.CheckedWayback,
		TitleSearchOnly: art.TitleSearchOnly,
		ArticleTitle:    art.Title,
	}
	if err := o.store.SaveArchiveRecord(rec); err != nil {
		o.logger.Error("persisting archive record failed", "url", art.URL, "error", err)
	}
	return res
}

// persistDaily writes the DailyProgress row. Interim batch checkpoints leave
// completed_at unset; the final write stamps it.
func (o *Orchestrator) persistDaily(date string, found, filtered int, results []wayback.Result, elapsed time.Duration, final bool) {
	archived, failed, notFound := tally(results)
	p := storage.DailyProgress{
		Date:             date,
		ArticlesFound:    found,
		ArticlesArchived: archived,
		ArticlesFailed:   failed,
		ArticlesNotFound: notFound,
		KeywordsFiltered: filtered,
		ExecutionTime:    elapsed.Seconds(),
	}
	if final {
		p.CompletedAt = time.Now().UTC()
	}
	if err := o.store.SaveDailyProgress(p); err != nil {
		o.logger.Error("persisting daily progress failed", "date", date, "error", err)
	}
}

func summarize(date string, found, filtered int, results []wayback.Result, elapsed time.Duration) DaySummary {
	archived, failed, notFound := tally(results)
	return DaySummary{
		Date:     date,
		Found:    found,
		Archived: archived,
		Failed:   failed,
		NotFound: notFound,
		Filtered: filtered,
		Duration: elapsed,
	}
}

// tally folds results into the three DailyProgress counts. Archived covers
// new saves and pre-existing snapshots alike; a 404-failed save means the
// article itself is gone.
func tally(results []wayback.Result) (archived, failed, notFound int) {
	for _, r := range results {
		switch {
		case r.Status == wayback.StatusSuccess || r.Status == wayback.StatusExists:
			archived++
		case r.Status == wayback.StatusFailed && r.HTTPStatus == 404:
			notFound++
		default:
			failed++
		}
	}
	return archived, failed, notFound
}
