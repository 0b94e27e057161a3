package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// DailyProgress is one row per content date, recomputed wholesale each time
// the date is (re)processed.
type DailyProgress struct {
	Date             string // YYYYMMDD
	ArticlesFound    int
	ArticlesArchived int
	ArticlesFailed   int
	ArticlesNotFound int
	KeywordsFiltered int
	ExecutionTime    float64 // seconds
	CompletedAt      time.Time
}

// Batch status values. A batch advances pending -> in_progress ->
// {completed | failed}; completed batches are never reprocessed.
const (
	BatchPending    = "pending"
	BatchInProgress = "in_progress"
	BatchCompleted  = "completed"
	BatchFailed     = "failed"
)

// BatchProgress is one row per monthly unit of a historical backfill.
type BatchProgress struct {
	BatchID          string // YYYYMM
	StartDate        string // YYYY-MM-DD
	EndDate          string // YYYY-MM-DD
	Status           string
	ArticlesFound    int
	ArticlesArchived int
	ArticlesFailed   int
	ErrorMessage     string
	StartedAt        time.Time
	CompletedAt      time.Time
	ExecutionTime    float64 // seconds
}

// SaveDailyProgress inserts or replaces the progress row for a date.
func (s *Store) SaveDailyProgress(p DailyProgress) error {
	_, err := s.db.Exec(`
		INSERT INTO daily_progress
			(date, articles_found, articles_archived, articles_failed,
			 articles_not_found, keywords_filtered, execution_time, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			articles_found = excluded.articles_found,
			articles_archived = excluded.articles_archived,
			articles_failed = excluded.articles_failed,
			articles_not_found = excluded.articles_not_found,
			keywords_filtered = excluded.keywords_filtered,
			execution_time = excluded.execution_time,
			completed_at = excluded.completed_at`,
		p.Date, p.ArticlesFound, p.ArticlesArchived, p.ArticlesFailed,
		p.ArticlesNotFound, p.KeywordsFiltered, p.ExecutionTime, nullTime(p.CompletedAt))
	if err != nil {
		return fmt.Errorf("saving daily progress for %s: %w", p.Date, err)
	}
	return nil
}

// GetDailyProgress returns the progress row for a date, or nil if absent.
func (s *Store) GetDailyProgress(date string) (*DailyProgress, error) {
	row := s.db.QueryRow(`
		SELECT date, articles_found, articles_archived, articles_failed,
		       articles_not_found, keywords_filtered, execution_time, completed_at
		FROM daily_progress WHERE date = ?`, date)

	var p DailyProgress
	var completedAt sql.NullTime
	err := row.Scan(&p.Date, &p.ArticlesFound, &p.ArticlesArchived, &p.ArticlesFailed,
		&p.ArticlesNotFound, &p.KeywordsFiltered, &p.ExecutionTime, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying daily progress for %s: %w", date, err)
	}
	p.CompletedAt = completedAt.Time
	return &p, nil
}

// SaveBatchProgress inserts or replaces the progress row for a batch.
func (s *Store) SaveBatchProgress(p BatchProgress) error {
	_, err := s.db.Exec(`
		INSERT INTO batch_progress
			(batch_id, start_date, end_date, status, articles_found,
			 articles_archived, articles_failed, error_message, started_at,
			 completed_at, execution_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id) DO UPDATE SET
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			status = excluded.status,
			articles_found = excluded.articles_found,
			articles_archived = excluded.articles_archived,
			articles_failed = excluded.articles_failed,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			execution_time = excluded.execution_time`,
		p.BatchID, p.StartDate, p.EndDate, p.Status, p.ArticlesFound,
		p.ArticlesArchived, p.ArticlesFailed, nullStr(p.ErrorMessage),
		nullTime(p.StartedAt), nullTime(p.CompletedAt), p.ExecutionTime)
	if err != nil {
		return fmt.Errorf("saving batch progress for %s: %w", p.BatchID, err)
	}
	return nil
}

// GetBatchProgress returns the progress row for a batch id, or nil if absent.
func (s *Store) GetBatchProgress(batchID string) (*BatchProgress, error) {
	row := s.db.QueryRow(`
		SELECT batch_id, start_date, end_date, status, articles_found,
		       articles_archived, articles_failed, error_message, started_at,
		       completed_at, execution_time
		FROM batch_progress WHERE batch_id = ?`, batchID)

	var p BatchProgress
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullTime
	var execTime sql.NullFloat64
	err := row.Scan(&p.BatchID, &p.StartDate, &p.EndDate, &p.Status,
		&p.ArticlesFound, &p.ArticlesArchived, &p.ArticlesFailed,
		&errMsg, &startedAt, &completedAt, &execTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying batch progress for %s: %w", batchID, err)
	}
	p.ErrorMessage = errMsg.String
	p.StartedAt = startedAt.Time
	p.CompletedAt = completedAt.Time
	p.ExecutionTime = execTime.Float64
	return &p, nil
}

// GetCompletedBatches returns the set of batch ids with status "completed".
// Range-resuming logic subtracts these from the planned batch set.
func (s *Store) GetCompletedBatches() (map[string]bool, error) {
	rows, err := s.db.Query("SELECT batch_id FROM batch_progress WHERE status = ?", BatchCompleted)
	if err != nil {
		return nil, fmt.Errorf("querying completed batches: %w", err)
	}
	defer rows.Close()

	completed := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning batch id: %w", err)
		}
		completed[id] = true
	}
	return completed, rows.Err()
}

// GetFailedBatches returns batches with status "failed", oldest first, for
// manual or automated retry.
func (s *Store) GetFailedBatches() ([]BatchProgress, error) {
	rows, err := s.db.Query(`
		SELECT batch_id, start_date, end_date, status, articles_found,
		       articles_archived, articles_failed, error_message, started_at,
		       completed_at, execution_time
		FROM batch_progress WHERE status = ? ORDER BY batch_id`, BatchFailed)
	if err != nil {
		return nil, fmt.Errorf("querying failed batches: %w", err)
	}
	defer rows.Close()

	var batches []BatchProgress
	for rows.Next() {
		var p BatchProgress
		var errMsg sql.NullString
		var startedAt, completedAt sql.NullTime
		var execTime sql.NullFloat64
		if err := rows.Scan(&p.BatchID, &p.StartDate, &p.EndDate, &p.Status,
			&p.ArticlesFound, &p.ArticlesArchived, &p.ArticlesFailed,
			&errMsg, &startedAt, &completedAt, &execTime); err != nil {
			return nil, fmt.Errorf("scanning failed batch: %w", err)
		}
		p.ErrorMessage = errMsg.String
		p.StartedAt = startedAt.Time
		p.CompletedAt = completedAt.Time
		p.ExecutionTime = execTime.Float64
		batches = append(batches, p)
	}
	return batches, rows.Err()
}

// BatchSummary aggregates batch_progress by status.
type BatchSummary struct {
	TotalBatches  int
	Completed     int
	InProgress    int
	Failed        int
	TotalArticles int
}

// GetBatchSummary returns the overall backfill progress summary.
func (s *Store) GetBatchSummary() (BatchSummary, error) {
	rows, err := s.db.Query(`
		SELECT status, COUNT(*), COALESCE(SUM(articles_archived), 0)
		FROM batch_progress GROUP BY status`)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("querying batch summary: %w", err)
	}
	defer rows.Close()

	var sum BatchSummary
	for rows.Next() {
		var status string
		var count, articles int
		if err := rows.Scan(&status, &count, &articles); err != nil {
			return BatchSummary{}, fmt.Errorf("scanning batch summary: %w", err)
		}
		sum.TotalBatches += count
		sum.TotalArticles += articles
		switch status {
		case BatchCompleted:
			sum.Completed = count
		case BatchInProgress:
			sum.InProgress = count
		case BatchFailed:
			sum.Failed = count
		}
	}
	return sum, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
