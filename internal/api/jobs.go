package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yellowcandle/mingpao-backup/internal/archiver"
)

// JobState tracks an async archive run.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is one triggered archive run. Results accumulate per date as the run
// progresses; clients poll GET /jobs/{id}.
type Job struct {
	ID         string                `json:"id"`
	State      JobState              `json:"state"`
	Mode       string                `json:"mode"`
	StartDate  string                `json:"start_date"`
	EndDate    string                `json:"end_date"`
	Strategy   string                `json:"strategy"`
	Summaries  []archiver.DaySummary `json:"summaries,omitempty"`
	Error      string                `json:"error,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	FinishedAt time.Time             `json:"finished_at,omitzero"`
}

// JobRegistry holds jobs in memory for the lifetime of the server process.
// Durable run state lives in the database; the registry only answers "what
// is this trigger doing right now".
type JobRegistry struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	order []string
}

func NewJobRegistry() *JobRegistry {
	return &JobRegistry{jobs: make(map[string]*Job)}
}

// Create registers a queued job and returns its id.
func (r *JobRegistry) Create(mode, startDate, endDate, strategy string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New().String()
	r.jobs[id] = &Job{
		ID:        id,
		State:     JobQueued,
		Mode:      mode,
		StartDate: startDate,
		EndDate:   endDate,
		Strategy:  strategy,
		CreatedAt: time.Now().UTC(),
	}
	r.order = append(r.order, id)
	return id
}

// Get returns a copy of the job, if known.
func (r *JobRegistry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// List returns all jobs, newest first.
func (r *JobRegistry) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Job, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, *r.jobs[r.order[i]])
	}
	return out
}

func (r *JobRegistry) markRunning(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.State = JobRunning
	}
}

func (r *JobRegistry) finish(id string, summaries []archiver.DaySummary, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return
	}
	j.Summaries = summaries
	j.FinishedAt = time.Now().UTC()
	if err != nil {
		j.State = JobFailed
		j.Error = err.Error()
	} else {
		j.State = JobCompleted
	}
}
