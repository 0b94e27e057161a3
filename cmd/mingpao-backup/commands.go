package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yellowcandle/mingpao-backup/internal/archiver"
	"github.com/yellowcandle/mingpao-backup/internal/config"
)

// --- archive ---

var archiveCmd = &cobra.Command{
	Use:   "archive [date]",
	Short: "Archive one day's articles",
	Long: `Archive one day's articles to the Internet Archive.

The date may be YYYY-MM-DD or YYYYMMDD; without one, yesterday is archived.

Examples:
  mingpao-backup archive 2025-01-12
  mingpao-backup archive --keywords 選舉,預算
  mingpao-backup archive 20250112 --strategy parallel`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date := time.Now().AddDate(0, 0, -1)
		if len(args) == 1 {
			var err error
			if date, err = parseDateArg(args[0]); err != nil {
				return err
			}
		}

		cfg, strategy, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		o := newOrchestrator(cfg, store)
		printStep("Archiving %s", date.Format("2006-01-02"))
		summary, err := o.ArchiveDate(ctx, date, strategy)
		if err != nil {
			return err
		}

		printDaySummary(summary)
		printRunStats(o.Stats())
		return nil
	},
}

// --- range ---

var rangeCmd = &cobra.Command{
	Use:   "range <start> <end>",
	Short: "Archive a date range",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseDateArg(args[0])
		if err != nil {
			return err
		}
		end, err := parseDateArg(args[1])
		if err != nil {
			return err
		}
		if start.After(end) {
			return fmt.Errorf("start %s is after end %s", args[0], args[1])
		}

		cfg, strategy, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		o := newOrchestrator(cfg, store)
		printStep("Archiving %s through %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
		summaries, err := o.ArchiveDateRange(ctx, start, end, strategy)
		for _, s := range summaries {
			printDaySummary(s)
		}
		printRunStats(o.Stats())
		return err
	},
}

// --- backfill ---

var backfillCmd = &cobra.Command{
	Use:   "backfill <start> <end>",
	Short: "Backfill a historical range in monthly batches",
	Long: `Backfill a historical range in monthly batches.

Completed batches are skipped, so an interrupted backfill resumes where it
stopped. Use --retry-failed to re-run batches that previously failed instead
of planning new ones.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		retryFailed, _ := cmd.Flags().GetBool("retry-failed")
		if retryFailed && len(args) != 0 {
			return fmt.Errorf("--retry-failed takes no date arguments")
		}
		if !retryFailed && len(args) != 2 {
			return fmt.Errorf("backfill requires <start> and <end> dates")
		}

		cfg, strategy, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		o := newOrchestrator(cfg, store)

		var report archiver.BackfillReport
		if retryFailed {
			printStep("Retrying failed batches")
			report, err = o.RetryFailedBatches(ctx, strategy)
		} else {
			start, perr := parseDateArg(args[0])
			if perr != nil {
				return perr
			}
			end, perr := parseDateArg(args[1])
			if perr != nil {
				return perr
			}
			if start.After(end) {
				return fmt.Errorf("start %s is after end %s", args[0], args[1])
			}
			printStep("Backfilling %s through %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
			report, err = o.Backfill(ctx, start, end, strategy)
		}

		printStatus("Batches planned", "%d", report.Planned)
		printStatus("Skipped (done)", "%d", report.Skipped)
		printStatus("Completed", "%d", report.Completed)
		printStatus("Failed", "%d", report.Failed)
		printRunStats(o.Stats())

		if err != nil {
			return err
		}
		if report.Failed > 0 {
			printWarning("%d batches failed; re-run with --retry-failed", report.Failed)
		}
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show archive database status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		counts, err := store.StatusCounts()
		if err != nil {
			return err
		}
		printStatus("Database", "%s", cfg.Database.Path)
		printStatus("Records", "%d", counts["total"])
		for _, status := range []string{"success", "exists", "failed", "not_found", "rate_limited", "timeout", "error", "unknown"} {
			if n := counts[status]; n > 0 {
				printStatus("  "+status, "%d", n)
			}
		}

		batches, err := store.GetBatchSummary()
		if err != nil {
			return err
		}
		if batches.TotalBatches > 0 {
			printStatus("Batches", "%d total, %d completed, %d in progress, %d failed",
				batches.TotalBatches, batches.Completed, batches.InProgress, batches.Failed)
			printStatus("Batch articles", "%d archived", batches.TotalArticles)
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{archiveCmd, rangeCmd, backfillCmd} {
		cmd.Flags().String("strategy", "auto", "dispatch strategy: auto, sequential, parallel or batch")
		cmd.Flags().String("keywords", "", "comma-separated keywords; overrides the config file")
		cmd.Flags().Bool("search-content", false, "match keywords against article bodies too (forces sequential)")
		cmd.Flags().Int("daily-limit", 0, "max articles to dispatch per day; overrides the config file")
	}
	backfillCmd.Flags().Bool("retry-failed", false, "re-run previously failed batches")
}

// configFromFlags loads the config file and applies per-invocation flag
// overrides.
func configFromFlags(cmd *cobra.Command) (config.Config, archiver.Strategy, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, "", err
	}

	if kw, _ := cmd.Flags().GetString("keywords"); kw != "" {
		cfg.Keywords.Enabled = true
		cfg.Keywords.Terms = splitKeywords(kw)
	}
	if sc, _ := cmd.Flags().GetBool("search-content"); sc {
		cfg.Keywords.SearchContent = true
	}
	if limit, _ := cmd.Flags().GetInt("daily-limit"); limit > 0 {
		cfg.DailyLimit = limit
	}

	name, _ := cmd.Flags().GetString("strategy")
	strategy, err := archiver.ParseStrategy(name)
	if err != nil {
		return config.Config{}, "", err
	}
	return cfg, strategy, nil
}

func splitKeywords(s string) []string {
	parts := strings.Split(s, ",")
	terms := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			terms = append(terms, p)
		}
	}
	return terms
}

// parseDateArg accepts YYYY-MM-DD or the site's compact YYYYMMDD form.
func parseDateArg(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "20060102"} {
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD or YYYYMMDD", s)
}
