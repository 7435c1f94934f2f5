package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/clearance-scraper/internal/runner"
	"github.com/maltedev/clearance-scraper/internal/sites"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueFull   = errors.New("job queue is full")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RunFunc scrapes sites with an optional page limit override.
type RunFunc func(ctx context.Context, sites []string, maxPages int) []runner.Report

// SiteResult is the outcome of one site within a job
type SiteResult struct {
	Site     string `json:"site"`
	Pages    int    `json:"pages"`
	Records  int    `json:"records"`
	Catalogs int    `json:"catalogs"`
	Reason   string `json:"reason,omitempty"`
	Dropped  int    `json:"dropped"`
	Filtered int    `json:"filtered"`
	Failures int    `json:"failures"`
	Error    string `json:"error,omitempty"`
}

// Job represents a scraping job
type Job struct {
	ID          string       `json:"id"`
	Sites       []string     `json:"sites"`
	MaxPages    int          `json:"max_pages,omitempty"`
	Status      Status       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Results     []SiteResult `json:"results,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Stats represents scraper statistics
type Stats struct {
	TotalJobs     int     `json:"total_jobs"`
	PendingJobs   int     `json:"pending_jobs"`
	RunningJobs   int     `json:"running_jobs"`
	CompletedJobs int     `json:"completed_jobs"`
	FailedJobs    int     `json:"failed_jobs"`
	SuccessRate   float64 `json:"success_rate"`
}

// Manager keeps jobs in memory and runs them one at a time on a worker.
type Manager struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	queue  chan string
	known  map[string]struct{}
	all    []string
	run    RunFunc
	logger *slog.Logger
}

func NewManager(run RunFunc, known []string, queueSize int, logger *slog.Logger) *Manager {
	if queueSize <= 0 {
		queueSize = 16
	}
	m := &Manager{
		jobs:   make(map[string]*Job),
		queue:  make(chan string, queueSize),
		known:  make(map[string]struct{}, len(known)),
		all:    append([]string(nil), known...),
		run:    run,
		logger: logger.With("component", "job_manager"),
	}
	for _, name := range known {
		m.known[name] = struct{}{}
	}
	return m
}

// CreateJob queues a run of siteNames, or of every known site when empty.
func (m *Manager) CreateJob(ctx context.Context, siteNames []string, maxPages int) (*Job, error) {
	if maxPages < 0 {
		return nil, fmt.Errorf("max pages must not be negative")
	}
	if len(siteNames) == 0 {
		siteNames = m.all
	}
	for _, name := range siteNames {
		if _, ok := m.known[name]; !ok {
			return nil, fmt.Errorf("%w: %s", sites.ErrUnknownSite, name)
		}
	}

	job := &Job{
		ID:        uuid.New().String(),
		Sites:     append([]string(nil), siteNames...),
		MaxPages:  maxPages,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	select {
	case m.queue <- job.ID:
		m.jobs[job.ID] = job
	default:
		m.mu.Unlock()
		return nil, ErrQueueFull
	}
	m.mu.Unlock()

	m.logger.Info("job created", "id", job.ID, "sites", job.Sites)
	return job.copy(), nil
}

// GetJob retrieves a job by ID
func (m *Manager) GetJob(ctx context.Context, jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.copy(), nil
}

// ListJobs lists jobs, newest first
func (m *Manager) ListJobs(ctx context.Context) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.copy())
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// GetStats retrieves scraper statistics
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalJobs: len(m.jobs)}
	for _, job := range m.jobs {
		switch job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
	}

	// Calculate success rate
	if stats.TotalJobs > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(stats.TotalJobs) * 100
	}
	return stats, nil
}

// StartWorker processes queued jobs until ctx is done
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("job worker stopping")
			return
		case id := <-m.queue:
			m.processJob(ctx, id)
		}
	}
}

func (m *Manager) processJob(ctx context.Context, jobID string) {
	job := m.updateJob(jobID, func(j *Job) {
		now := time.Now()
		j.Status = StatusRunning
		j.StartedAt = &now
	})
	if job == nil {
		return
	}

	m.logger.Info("processing job", "id", jobID, "sites", job.Sites)
	reports := m.run(ctx, job.Sites, job.MaxPages)

	results := make([]SiteResult, 0, len(reports))
	var failed []string
	for _, r := range reports {
		res := SiteResult{
			Site:     r.Site,
			Pages:    r.Pages,
			Records:  r.Records,
			Catalogs: r.Catalogs,
			Reason:   string(r.Reason),
			Dropped:  r.Dropped,
			Filtered: r.Filtered,
			Failures: r.Failures,
		}
		if r.Err != nil {
			res.Error = r.Err.Error()
			failed = append(failed, r.Site)
		}
		results = append(results, res)
	}

	m.updateJob(jobID, func(j *Job) {
		now := time.Now()
		j.CompletedAt = &now
		j.Results = results
		j.Status = StatusCompleted
		if len(failed) > 0 {
			j.Status = StatusFailed
			j.Error = fmt.Sprintf("%d of %d sites failed: %v", len(failed), len(reports), failed)
		}
	})

	if len(failed) > 0 {
		m.logger.Error("job failed", "id", jobID, "failed_sites", failed)
		return
	}
	m.logger.Info("job completed", "id", jobID)
}

func (m *Manager) updateJob(jobID string, fn func(*Job)) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	fn(job)
	return job.copy()
}

func (j *Job) copy() *Job {
	out := *j
	out.Sites = append([]string(nil), j.Sites...)
	out.Results = append([]SiteResult(nil), j.Results...)
	return &out
}
