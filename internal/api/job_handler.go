package api

import (
	"encoding/json"
	"net/http"

	"github.com/shaiso/storebridge/internal/domain"
	"github.com/shaiso/storebridge/internal/repo"
	"github.com/shaiso/storebridge/internal/telemetry"
)

// CreateJob создаёт IMPORT job и ставит его в очередь приёма.
// POST /api/v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Type == "" {
		req.Type = string(domain.JobTypeImport)
	}
	jobType, err := domain.ParseJobType(req.Type)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	if req.Params.MaxItems < 0 {
		BadRequest(w, "params.max_items must not be negative")
		return
	}
	if req.Params.PageSize < 0 {
		BadRequest(w, "params.page_size must not be negative")
		return
	}

	job := domain.NewJob(jobType, req.Params)
	if err := h.jobs.Create(r.Context(), job); HandleRepoError(w, h.logger, err, "") {
		return
	}

	logger := telemetry.WithJobID(telemetry.FromContext(r.Context()), job.ID.String())
	if h.publisher != nil {
		if err := h.publisher.PublishJobPending(r.Context(), job.ID); err != nil {
			// job остаётся PENDING, scheduler переотправит его позже
			logger.Warn("failed to publish job", "error", err)
		}
	}
	logger.Info("job created", "type", job.Type, "keyword", job.Params.Keyword, "max_items", job.Params.MaxItems)

	Created(w, JobFromDomain(*job))
}

// ListJobs возвращает список jobs.
// GET /api/v1/jobs?status=...&limit=...&offset=...
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	filter := repo.JobFilter{Limit: p.limit, Offset: p.offset}
	if s := r.URL.Query().Get("status"); s != "" {
		filter.Status = domain.JobStatus(s)
		if !filter.Status.IsValid() {
			BadRequest(w, "invalid status")
			return
		}
	}

	jobs, err := h.jobs.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		result[i] = JobFromDomain(j)
	}
	List(w, result, len(result), p)
}

// GetJob возвращает job с прогрессом и сводкой ошибок.
// GET /api/v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		BadRequest(w, "invalid job id")
		return
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	Success(w, JobFromDomain(*job))
}

// CancelJob отменяет job. Items, которые уже выполняют шаг, останавливаются
// перед следующим шагом.
// POST /api/v1/jobs/{id}/cancel
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		BadRequest(w, "invalid job id")
		return
	}

	err := h.jobs.Cancel(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	telemetry.WithJobID(telemetry.FromContext(r.Context()), id.String()).Info("job cancelled")
	Success(w, JobFromDomain(*job))
}

// ListJobItems возвращает items job.
// GET /api/v1/jobs/{id}/items?state=...&limit=...&offset=...
func (h *Handler) ListJobItems(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		BadRequest(w, "invalid job id")
		return
	}
	p, err := parsePage(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	filter := repo.ItemFilter{JobID: id, Limit: p.limit, Offset: p.offset}
	if s := r.URL.Query().Get("state"); s != "" {
		state, err := domain.ParseItemState(s)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
		filter.State = state
	}

	if _, err := h.jobs.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	items, err := h.items.ListByJob(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ItemResponse, len(items))
	for i, it := range items {
		result[i] = ItemFromDomain(it)
	}
	List(w, result, len(result), p)
}
