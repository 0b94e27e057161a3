// Package api exposes the HTTP trigger surface: archive runs are started
// asynchronously and polled as jobs, while status endpoints read straight
// from the database.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yellowcandle/mingpao-backup/internal/archiver"
	"github.com/yellowcandle/mingpao-backup/internal/config"
	"github.com/yellowcandle/mingpao-backup/internal/storage"
)

const maxRequestBodySize = 1 << 20

// Runner is the orchestrator surface the API dispatches onto.
type Runner interface {
	ArchiveDateRange(ctx context.Context, start, end time.Time, mode archiver.Strategy) ([]archiver.DaySummary, error)
}

// Deps carries everything the handler needs. NewRunner builds a fresh
// pipeline for each job so per-request keyword and limit overrides never
// leak into other runs.
type Deps struct {
	Config    config.Config
	Store     *storage.Store
	Jobs      *JobRegistry
	NewRunner func(cfg config.Config) Runner
	Logger    *slog.Logger
}

// ArchiveRequest triggers a run. Mode selects how the date window is given:
// "date" (one day), "range" (start_date..end_date) or "days_back" (the N
// days before today). Keywords and daily_limit override the server config
// for this job only.
type ArchiveRequest struct {
	Mode          string   `json:"mode"`
	Date          string   `json:"date"`
	StartDate     string   `json:"start_date"`
	EndDate       string   `json:"end_date"`
	Days          int      `json:"days"`
	Strategy      string   `json:"strategy"`
	Keywords      []string `json:"keywords"`
	SearchContent bool     `json:"search_content"`
	DailyLimit    int      `json:"daily_limit"`
}

// NewHandler builds the router. With a token configured every route requires
// bearer auth; without one the server is assumed to sit on a trusted host.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	if deps.Config.Server.Token != "" {
		r.Use(bearerAuth(deps.Config.Server.Token))
	}

	r.Post("/archive", handleArchive(deps))
	r.Get("/jobs", handleListJobs(deps))
	r.Get("/jobs/{id}", handleGetJob(deps))
	r.Get("/status", handleStatus(deps))
	r.Get("/progress/{date}", handleDailyProgress(deps))

	return r
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleArchive(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ArchiveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		start, end, mode, err := resolveWindow(req, time.Now())
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		strategy, err := archiver.ParseStrategy(req.Strategy)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		cfg := deps.Config
		if len(req.Keywords) > 0 {
			cfg.Keywords.Enabled = true
			cfg.Keywords.Terms = req.Keywords
			cfg.Keywords.SearchContent = req.SearchContent
		}
		if req.DailyLimit > 0 {
			cfg.DailyLimit = req.DailyLimit
		}

		jobID := deps.Jobs.Create(mode,
			start.Format("2006-01-02"), end.Format("2006-01-02"), string(strategy))

		runner := deps.NewRunner(cfg)
		go func() {
			deps.Jobs.markRunning(jobID)
			deps.Logger.Info("archive job started",
				"job", jobID, "mode", mode,
				"from", start.Format("20060102"), "to", end.Format("20060102"))
			// The job outlives the triggering request.
			summaries, err := runner.ArchiveDateRange(context.Background(), start, end, strategy)
			deps.Jobs.finish(jobID, summaries, err)
			deps.Logger.Info("archive job finished", "job", jobID, "dates", len(summaries), "error", err)
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"job_id": jobID,
			"status": string(JobQueued),
		})
	}
}

// resolveWindow maps a request to an inclusive [start, end] date window.
func resolveWindow(req ArchiveRequest, now time.Time) (start, end time.Time, mode string, err error) {
	switch req.Mode {
	case "date", "":
		if req.Date == "" {
			if req.Mode == "" {
				return resolveInferred(req, now)
			}
			return start, end, "", fmt.Errorf("mode %q requires date", req.Mode)
		}
		d, err := parseDate(req.Date)
		if err != nil {
			return start, end, "", err
		}
		return d, d, "date", nil

	case "range":
		if req.StartDate == "" || req.EndDate == "" {
			return start, end, "", fmt.Errorf("mode %q requires start_date and end_date", req.Mode)
		}
		s, err := parseDate(req.StartDate)
		if err != nil {
			return start, end, "", err
		}
		e, err := parseDate(req.EndDate)
		if err != nil {
			return start, end, "", err
		}
		if s.After(e) {
			return start, end, "", fmt.Errorf("start_date %s is after end_date %s", req.StartDate, req.EndDate)
		}
		return s, e, "range", nil

	case "days_back":
		if req.Days < 1 {
			return start, end, "", fmt.Errorf("mode %q requires days >= 1", req.Mode)
		}
		e := now.AddDate(0, 0, -1)
		s := e.AddDate(0, 0, -(req.Days - 1))
		return s, e, "days_back", nil
	}
	return start, end, "", fmt.Errorf("unknown mode %q", req.Mode)
}

// resolveInferred handles requests that omit mode entirely.
func resolveInferred(req ArchiveRequest, now time.Time) (time.Time, time.Time, string, error) {
	switch {
	case req.StartDate != "" && req.EndDate != "":
		req.Mode = "range"
	case req.Days > 0:
		req.Mode = "days_back"
	default:
		return time.Time{}, time.Time{}, "", fmt.Errorf("one of date, start_date/end_date or days is required")
	}
	return resolveWindow(req, now)
}

// parseDate accepts the dashed form primarily, the compact form for
// operators pasting YYYYMMDD straight from the site's URLs.
func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "20060102"} {
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
}

func handleListJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs := deps.Jobs.List()
		if jobs == nil {
			jobs = []Job{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jobs)
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := deps.Jobs.Get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(job)
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Store.StatusCounts()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read status counts: %v", err)
			return
		}
		batches, err := deps.Store.GetBatchSummary()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read batch summary: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"records": counts,
			"batches": batches,
		})
	}
}

func handleDailyProgress(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := chi.URLParam(r, "date")
		d, err := parseDate(date)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		p, err := deps.Store.GetDailyProgress(d.Format("20060102"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read daily progress: %v", err)
			return
		}
		if p == nil {
			httpError(w, http.StatusNotFound, "not_found", "no progress recorded for %s", date)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
