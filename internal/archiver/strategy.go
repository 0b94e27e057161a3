package archiver

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/yellowcandle/mingpao-backup/internal/config"
	"github.com/yellowcandle/mingpao-backup/internal/filter"
	"github.com/yellowcandle/mingpao-backup/internal/wayback"
)

// Strategy selects how archive attempts for one date are dispatched.
type Strategy string

const (
	// StrategyAuto defers to the configuration decision table.
	StrategyAuto       Strategy = "auto"
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyBatch      Strategy = "batch"
)

// ParseStrategy validates a strategy name from a flag or request body.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyAuto, StrategySequential, StrategyParallel, StrategyBatch:
		return Strategy(s), nil
	case "":
		return StrategyAuto, nil
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// SelectStrategy is the decision table mapping configuration to a dispatch
// strategy. Content-search keyword mode is always sequential: full-body
// fetches already sit at the origin's tolerance, so parallel dispatch on top
// of them trips throttling.
func SelectStrategy(cfg config.Config) Strategy {
	switch {
	case cfg.Keywords.Enabled && cfg.Keywords.SearchContent:
		return StrategySequential
	case cfg.Parallel.Enabled:
		return StrategyParallel
	default:
		return StrategySequential
	}
}

// resolveStrategy applies the table for auto mode and demotes parallel to
// sequential when content search is on, whatever the caller asked for.
func (o *Orchestrator) resolveStrategy(mode Strategy) Strategy {
	if mode == StrategyAuto || mode == "" {
		return SelectStrategy(o.cfg)
	}
	if mode == StrategyParallel && o.cfg.Keywords.Enabled && o.cfg.Keywords.SearchContent {
		o.logger.Warn("parallel dispatch requested with content search on, running sequential")
		return StrategySequential
	}
	return mode
}

// runSequential processes articles one at a time in generator order.
func (o *Orchestrator) runSequential(ctx context.Context, articles []filter.Article, date string) []wayback.Result {
	results := make([]wayback.Result, 0, len(articles))
	for _, art := range articles {
		if ctx.Err() != nil {
			break
		}
		results = append(results, o.processArticle(ctx, art, date))
	}
	return results
}

// runParallel dispatches through a bounded worker pool. Completion order is
// unspecified; every record write is independently keyed so ordering between
// URLs does not matter.
func (o *Orchestrator) runParallel(ctx context.Context, articles []filter.Article, date string) []wayback.Result {
	workers := o.cfg.Parallel.MaxWorkers
	if workers < 1 {
		workers = 1
	}

	results := make([]wayback.Result, len(articles))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, art := range articles {
		i, art := i, art
		g.Go(func() error {
			results[i] = o.processArticle(gCtx, art, date)
			return nil
		})
	}
	g.Wait() // Per-URL failures are results, never worker errors.

	out := make([]wayback.Result, 0, len(results))
	for _, r := range results {
		if r.Status != "" {
			out = append(out, r)
		}
	}
	return out
}

// runBatch processes articles in fixed-size chunks, checkpointing after each
// so a terminated job resumes at the next chunk boundary.
func (o *Orchestrator) runBatch(ctx context.Context, articles []filter.Article, date string, checkpoint func([]wayback.Result)) []wayback.Result {
	size := o.cfg.Batch.Size
	if size < 1 {
		size = 1
	}

	var results []wayback.Result
	for start := 0; start < len(articles); start += size {
		if ctx.Err() != nil {
			break
		}
		end := min(start+size, len(articles))
		o.logger.Debug("processing chunk", "date", date, "from", start, "to", end, "total", len(articles))

		for _, art := range articles[start:end] {
			if ctx.Err() != nil {
				break
			}
			results = append(results, o.processArticle(ctx, art, date))
		}
		if checkpoint != nil {
			checkpoint(results)
		}
	}
	return results
}
