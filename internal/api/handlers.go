package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/clearance-scraper/internal/database"
	"github.com/maltedev/clearance-scraper/internal/jobs"
	"github.com/maltedev/clearance-scraper/internal/models"
	"github.com/maltedev/clearance-scraper/internal/pagination"
	"github.com/maltedev/clearance-scraper/internal/sites"
)

// JobService queues and reports scrape runs.
type JobService interface {
	CreateJob(ctx context.Context, sites []string, maxPages int) (*jobs.Job, error)
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
	ListJobs(ctx context.Context) ([]*jobs.Job, error)
	GetStats(ctx context.Context) (*jobs.Stats, error)
}

// CatalogReader loads the most recent catalog of a source and store.
type CatalogReader interface {
	Latest(ctx context.Context, source, storeSlug string) (*models.Catalog, error)
}

// OutboxStats reports the outbox backlog.
type OutboxStats interface {
	Counts(ctx context.Context) (pending, deadLetter int64, err error)
}

type Handlers struct {
	jobs     JobService
	catalogs CatalogReader
	outbox   OutboxStats
	sites    sites.Bundle
	logger   *slog.Logger
}

// NewHandlers wires the API. catalogs and outbox may be nil when the
// corresponding store is not configured.
func NewHandlers(jobs JobService, catalogs CatalogReader, outbox OutboxStats, bundle sites.Bundle, logger *slog.Logger) *Handlers {
	return &Handlers{
		jobs:     jobs,
		catalogs: catalogs,
		outbox:   outbox,
		sites:    bundle,
		logger:   logger.With("component", "api"),
	}
}

// SiteSummary describes one configured site
type SiteSummary struct {
	Name       string              `json:"name"`
	Label      string              `json:"label"`
	URL        string              `json:"url"`
	MaxPages   int                 `json:"max_pages"`
	Pagination pagination.Strategy `json:"pagination"`
	Stores     bool                `json:"stores"`
}

// ListSites handles listing configured sites
func (h *Handlers) ListSites(w http.ResponseWriter, r *http.Request) {
	names := h.sites.Names()
	out := make([]SiteSummary, 0, len(names))
	for _, name := range names {
		cfg := h.sites.Sites[name]
		strategy := cfg.Pagination
		if strategy == "" {
			strategy = pagination.StrategyURLParam
		}
		out = append(out, SiteSummary{
			Name:       name,
			Label:      cfg.Label,
			URL:        cfg.PageURL(1),
			MaxPages:   cfg.MaxPages,
			Pagination: strategy,
			Stores:     cfg.StoresFile != "",
		})
	}

	h.respondJSON(w, http.StatusOK, out)
}

// CreateRunRequest represents a new scraping run request
type CreateRunRequest struct {
	Sites    []string `json:"sites"`
	MaxPages int      `json:"max_pages"`
}

// CreateRunResponse represents the run creation response
type CreateRunResponse struct {
	JobID   string      `json:"job_id"`
	Status  jobs.Status `json:"status"`
	Sites   []string    `json:"sites"`
	Message string      `json:"message"`
}

// CreateRun handles new scraping run creation
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.MaxPages < 0 {
		h.respondError(w, http.StatusBadRequest, "max_pages must not be negative")
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), req.Sites, req.MaxPages)
	switch {
	case errors.Is(err, sites.ErrUnknownSite):
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrQueueFull):
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateRunResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Sites:   job.Sites,
		Message: "Run queued",
	})
}

// GetRun handles run status retrieval
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get job", "error", err, "job_id", jobID)
		h.respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// ListRuns handles listing all runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	h.respondJSON(w, http.StatusOK, list)
}

// GetStats handles statistics retrieval
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.GetStats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

// GetCatalog returns the latest catalog of a source, optionally for one store
func (h *Handlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	store := chi.URLParam(r, "store")

	if _, ok := h.sites.Sites[source]; !ok {
		h.respondError(w, http.StatusNotFound, "unknown site")
		return
	}
	if h.catalogs == nil {
		h.respondError(w, http.StatusServiceUnavailable, "no catalog store configured")
		return
	}

	c, err := h.catalogs.Latest(r.Context(), source, store)
	if errors.Is(err, database.ErrCatalogNotFound) || errors.Is(err, fs.ErrNotExist) {
		h.respondError(w, http.StatusNotFound, "catalog not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get catalog", "error", err, "source", source, "store", store)
		h.respondError(w, http.StatusInternalServerError, "failed to get catalog")
		return
	}

	h.respondJSON(w, http.StatusOK, c)
}

// Health reports liveness and, with a database, the outbox backlog
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pendingCount, deadLetterCount, err := h.outbox.Counts(r.Context())
		if err != nil {
			h.logger.Error("failed to count outbox events", "error", err)
			health["status"] = "error"
			health["message"] = "Outbox unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}

		health["outbox"] = map[string]interface{}{
			"pending":     pendingCount,
			"dead_letter": deadLetterCount,
		}
		if pendingCount > 1000 {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetterCount > 100 {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
