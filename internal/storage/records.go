package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ArchiveRecord is one row per unique article URL. article_url is the natural
// key; re-processing the same URL updates the existing row, never duplicates.
type ArchiveRecord struct {
	ID              int64
	ArticleURL      string
	WaybackURL      string
	ArchiveDate     string // content date YYYYMMDD, not the attempt timestamp
	Status          string
	HTTPStatus      int
	ErrorMessage    string
	MatchedKeywords string // comma-delimited, ordered
	CheckedWayback  bool
	TitleSearchOnly bool
	ArticleTitle    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SaveArchiveRecord inserts or overwrites the record keyed on article_url.
// A second attempt against the same URL replaces status, wayback_url and
// error fields and bumps updated_at; created_at is preserved.
func (s *Store) SaveArchiveRecord(rec ArchiveRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO archive_records
			(article_url, wayback_url, archive_date, status, http_status,
			 error_message, matched_keywords, checked_wayback, title_search_only,
			 article_title)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(article_url) DO UPDATE SET
			wayback_url = excluded.wayback_url,
			archive_date = excluded.archive_date,
			status = excluded.status,
			http_status = excluded.http_status,
			error_message = excluded.error_message,
			matched_keywords = excluded.matched_keywords,
			checked_wayback = excluded.checked_wayback,
			title_search_only = excluded.title_search_only,
			article_title = excluded.article_title,
			updated_at = CURRENT_TIMESTAMP`,
		rec.ArticleURL,
		nullStr(rec.WaybackURL),
		nullStr(rec.ArchiveDate),
		nullStr(rec.Status),
		nullInt(rec.HTTPStatus),
		nullStr(rec.ErrorMessage),
		nullStr(rec.MatchedKeywords),
		rec.CheckedWayback,
		rec.TitleSearchOnly,
		nullStr(rec.ArticleTitle),
	)
	if err != nil {
		return fmt.Errorf("saving archive record for %s: %w", rec.ArticleURL, err)
	}
	return nil
}

// GetExistingURLs returns which of the given URLs are already recorded, in a
// single IN(...) round trip. Daily candidate sets run into the low thousands,
// so per-URL queries would dominate the run time.
func (s *Store) GetExistingURLs(urls []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(urls) == 0 {
		return existing, nil
	}

	// SQLite caps bound parameters per statement; chunk to stay well under it.
	const chunkSize = 500
	for start := 0; start < len(urls); start += chunkSize {
		end := min(start+chunkSize, len(urls))
		chunk := urls[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, len(chunk))
		for i, u := range chunk {
			args[i] = u
		}

		rows, err := s.db.Query(
			"SELECT article_url FROM archive_records WHERE article_url IN ("+placeholders+")", args...)
		if err != nil {
			return nil, fmt.Errorf("checking existing URLs: %w", err)
		}
		for rows.Next() {
			var u string
			if err := rows.Scan(&u); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning existing URL: %w", err)
			}
			existing[u] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterating existing URLs: %w", err)
		}
		rows.Close()
	}

	return existing, nil
}

// GetRecordsByDate returns all archive records for a content date (YYYYMMDD),
// in insertion order.
func (s *Store) GetRecordsByDate(date string) ([]ArchiveRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, article_url, wayback_url, archive_date, status, http_status,
		       error_message, matched_keywords, checked_wayback, title_search_only,
		       article_title, created_at, updated_at
		FROM archive_records
		WHERE archive_date = ?
		ORDER BY id`, date)
	if err != nil {
		return nil, fmt.Errorf("querying records for %s: %w", date, err)
	}
	defer rows.Close()

	var records []ArchiveRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetRecord returns the record for a single URL, or nil if none exists.
func (s *Store) GetRecord(articleURL string) (*ArchiveRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, article_url, wayback_url, archive_date, status, http_status,
		       error_message, matched_keywords, checked_wayback, title_search_only,
		       article_title, created_at, updated_at
		FROM archive_records
		WHERE article_url = ?`, articleURL)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// StatusCounts returns record counts grouped by status, plus a "total" key.
func (s *Store) StatusCounts() (map[string]int, error) {
	rows, err := s.db.Query("SELECT status, COUNT(*) FROM archive_records GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("querying status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	total := 0
	for rows.Next() {
		var status sql.NullString
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		counts[status.String] = n
		total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	counts["total"] = total
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (ArchiveRecord, error) {
	var rec ArchiveRecord
	var waybackURL, archiveDate, status, errMsg, keywords, title sql.NullString
	var httpStatus sql.NullInt64

	err := row.Scan(&rec.ID, &rec.ArticleURL, &waybackURL, &archiveDate, &status,
		&httpStatus, &errMsg, &keywords, &rec.CheckedWayback, &rec.TitleSearchOnly,
		&title, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return rec, err
		}
		return rec, fmt.Errorf("scanning archive record: %w", err)
	}

	rec.WaybackURL = waybackURL.String
	rec.ArchiveDate = archiveDate.String
	rec.Status = status.String
	rec.ErrorMessage = errMsg.String
	rec.MatchedKeywords = keywords.String
	rec.ArticleTitle = title.String
	rec.HTTPStatus = int(httpStatus.Int64)
	return rec, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
