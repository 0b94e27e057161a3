package archiver

import (
	"context"
	"fmt"
	"time"

	"github.com/yellowcandle/mingpao-backup/internal/storage"
)

// monthBatch is one planned unit of a historical backfill, clamped to the
// requested range.
type monthBatch struct {
	id    string // YYYYMM
	start time.Time
	end   time.Time
}

// BackfillReport summarizes one backfill invocation.
type BackfillReport struct {
	Planned   int
	Skipped   int
	Completed int
	Failed    int
}

// Backfill archives every date in [start, end] as monthly batches, skipping
// batches already recorded as completed so an interrupted run resumes where
// it stopped. Batches are separated by the configured pause to stay friendly
// to the archive service over multi-month runs.
func (o *Orchestrator) Backfill(ctx context.Context, start, end time.Time, mode Strategy) (BackfillReport, error) {
	if mode == StrategyAuto || mode == "" {
		mode = StrategyBatch
	}

	months := planMonths(start, end)
	report := BackfillReport{Planned: len(months)}

	completed, err := o.store.GetCompletedBatches()
	if err != nil {
		return report, fmt.Errorf("loading completed batches: %w", err)
	}

	processed := 0
	for _, m := range months {
		if completed[m.id] {
			o.logger.Info("batch already completed, skipping", "batch", m.id)
			report.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if processed > 0 {
			o.logger.Info("pausing between batches", "pause", o.batchPause)
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(o.batchPause):
			}
		}

		if err := o.runBatchUnit(ctx, m, mode); err != nil {
			o.logger.Error("batch failed", "batch", m.id, "error", err)
			report.Failed++
		} else {
			report.Completed++
		}
		processed++
	}
	return report, nil
}

// RetryFailedBatches re-runs every batch recorded as failed. Safe to repeat:
// record upserts make reprocessing idempotent.
func (o *Orchestrator) RetryFailedBatches(ctx context.Context, mode Strategy) (BackfillReport, error) {
	if mode == StrategyAuto || mode == "" {
		mode = StrategyBatch
	}

	failed, err := o.store.GetFailedBatches()
	if err != nil {
		return BackfillReport{}, fmt.Errorf("loading failed batches: %w", err)
	}

	report := BackfillReport{Planned: len(failed)}
	for i, bp := range failed {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		m, err := batchFromProgress(bp)
		if err != nil {
			o.logger.Error("unparseable batch row", "batch", bp.BatchID, "error", err)
			report.Failed++
			continue
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(o.batchPause):
			}
		}
		if err := o.runBatchUnit(ctx, m, mode); err != nil {
			report.Failed++
		} else {
			report.Completed++
		}
	}
	return report, nil
}

// runBatchUnit processes one monthly batch, advancing its status
// pending -> in_progress -> completed/failed with aggregate counts.
func (o *Orchestrator) runBatchUnit(ctx context.Context, m monthBatch, mode Strategy) error {
	started := time.Now()
	bp := storage.BatchProgress{
		BatchID:   m.id,
		StartDate: m.start.Format("2006-01-02"),
		EndDate:   m.end.Format("2006-01-02"),
		Status:    storage.BatchInProgress,
		StartedAt: started.UTC(),
	}
	if err := o.store.SaveBatchProgress(bp); err != nil {
		o.logger.Error("persisting batch start failed", "batch", m.id, "error", err)
	}
	o.logger.Info("batch started", "batch", m.id, "from", bp.StartDate, "to", bp.EndDate)

	summaries, err := o.ArchiveDateRange(ctx, m.start, m.end, mode)

	for _, s := range summaries {
		bp.ArticlesFound += s.Found
		bp.ArticlesArchived += s.Archived
		bp.ArticlesFailed += s.Failed + s.NotFound
	}
	bp.CompletedAt = time.Now().UTC()
	bp.ExecutionTime = time.Since(started).Seconds()
	if err != nil {
		bp.Status = storage.BatchFailed
		bp.ErrorMessage = err.Error()
	} else {
		bp.Status = storage.BatchCompleted
	}

	if saveErr := o.store.SaveBatchProgress(bp); saveErr != nil {
		o.logger.Error("persisting batch result failed", "batch", m.id, "error", saveErr)
	}
	o.logger.Info("batch finished",
		"batch", m.id, "status", bp.Status, "found", bp.ArticlesFound,
		"archived", bp.ArticlesArchived, "failed", bp.ArticlesFailed)
	return err
}

// planMonths splits [start, end] into calendar-month batches, clamping the
// first and last to the range bounds.
func planMonths(start, end time.Time) []monthBatch {
	var months []monthBatch
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
	for !cur.After(end) {
		monthEnd := cur.AddDate(0, 1, -1)
		s, e := cur, monthEnd
		if s.Before(start) {
			s = start
		}
		if e.After(end) {
			e = end
		}
		months = append(months, monthBatch{id: cur.Format("200601"), start: s, end: e})
		cur = cur.AddDate(0, 1, 0)
	}
	return months
}

func batchFromProgress(bp storage.BatchProgress) (monthBatch, error) {
	start, err := time.Parse("2006-01-02", bp.StartDate)
	if err != nil {
		return monthBatch{}, fmt.Errorf("parsing batch start date %q: %w", bp.StartDate, err)
	}
	end, err := time.Parse("2006-01-02", bp.EndDate)
	if err != nil {
		return monthBatch{}, fmt.Errorf("parsing batch end date %q: %w", bp.EndDate, err)
	}
	return monthBatch{id: bp.BatchID, start: start, end: end}, nil
}
