package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/entity"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/repository"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/service"
)

type Handler struct {
	jobSvc    *service.JobService
	statsSvc  *service.StatsService
	reclaimer *service.Reclaimer
}

func NewHandler(jobSvc *service.JobService, statsSvc *service.StatsService, reclaimer *service.Reclaimer) *Handler {
	return &Handler{jobSvc: jobSvc, statsSvc: statsSvc, reclaimer: reclaimer}
}

type createJobDTO struct {
	DesignID string              `json:"design_id"`
	Format   string              `json:"format"`
	Priority int                 `json:"priority"`
	Params   entity.ExportParams `json:"params"`
}

type listJobsResp struct {
	Jobs  []*entity.ExportJob `json:"jobs"`
	Total int64               `json:"total"`
	Page  int                 `json:"page"`
	Limit int                 `json:"limit"`
}

type downloadResp struct {
	URL string `json:"url"`
}

// CreateJob godoc
// @Summary Submit a design export
// @Description Creates an export job (queued) and wakes a worker.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body createJobDTO true "export request"
// @Success 201 {object} entity.ExportJob
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /api/export/jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	var dto createJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	designID, err := uuid.Parse(dto.DesignID)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid design_id")
		return
	}

	job, err := h.jobSvc.CreateJob(r.Context(), caller, service.CreateJobRequest{
		DesignID: designID,
		Format:   entity.ExportFormat(dto.Format),
		Priority: dto.Priority,
		Params:   dto.Params,
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, job)
}

// ListJobs godoc
// @Summary List the caller's export jobs
// @Tags jobs
// @Produce json
// @Param status query string false "filter by status"
// @Param format query string false "filter by format"
// @Param page query int false "page (1-based)"
// @Param limit query int false "page size (max 100)"
// @Success 200 {object} listJobsResp
// @Router /api/export/jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	filter := repository.ListFilter{
		Status: entity.JobStatus(q.Get("status")),
		Format: entity.ExportFormat(q.Get("format")),
		Page:   page,
		Limit:  limit,
	}

	userID := caller.UserID
	if raw := q.Get("user_id"); raw != "" && caller.Admin {
		if id, err := uuid.Parse(raw); err == nil {
			userID = id
		}
	}

	jobs, total, err := h.jobSvc.ListJobs(r.Context(), caller, userID, filter)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	if jobs == nil {
		jobs = []*entity.ExportJob{}
	}

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	writeJSON(w, http.StatusOK, listJobsResp{Jobs: jobs, Total: total, Page: filter.Page, Limit: filter.Limit})
}

// GetJob godoc
// @Summary Get one export job
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.ExportJob
// @Failure 404 {object} apiError
// @Router /api/export/jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}

	job, err := h.jobSvc.GetJob(r.Context(), caller, id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Download godoc
// @Summary Get a short-lived download URL for a completed export
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} downloadResp
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /api/export/jobs/{id}/download [get]
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}

	url, err := h.jobSvc.GetDownloadURL(r.Context(), caller, id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, downloadResp{URL: url})
}

// CancelJob godoc
// @Summary Cancel a queued or processing job
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.ExportJob
// @Failure 409 {object} apiError
// @Router /api/export/jobs/{id}/cancel [post]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}

	job, err := h.jobSvc.CancelJob(r.Context(), caller, id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// RetryJob godoc
// @Summary Retry a failed job
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.ExportJob
// @Failure 409 {object} apiError
// @Router /api/export/jobs/{id}/retry [post]
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}

	job, err := h.jobSvc.RetryJob(r.Context(), caller, id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// DeleteJob godoc
// @Summary Delete a job and its artifact
// @Tags jobs
// @Param id path string true "job id (uuid)"
// @Success 204
// @Failure 409 {object} apiError
// @Router /api/export/jobs/{id} [delete]
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}

	if err := h.jobSvc.DeleteJob(r.Context(), caller, id); err != nil {
		writeServiceErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UserStats godoc
// @Summary Export stats for the caller
// @Tags stats
// @Produce json
// @Success 200 {object} service.UserStats
// @Router /api/export/stats [get]
func (h *Handler) UserStats(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	userID := caller.UserID
	if raw := r.URL.Query().Get("user_id"); raw != "" && caller.Admin {
		if id, err := uuid.Parse(raw); err == nil {
			userID = id
		}
	}

	stats, err := h.statsSvc.UserStats(r.Context(), caller, userID)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// QueueHealth godoc
// @Summary Queue depth and health label
// @Tags admin
// @Produce json
// @Success 200 {object} service.QueueHealth
// @Failure 403 {object} apiError
// @Router /api/queue/health [get]
func (h *Handler) QueueHealth(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	health, err := h.statsSvc.QueueHealth(r.Context())
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// SearchJobs godoc
// @Summary Search jobs across all users by design, format or artifact size
// @Tags admin
// @Produce json
// @Param design_id query string false "design id (uuid)"
// @Param format query string false "export format"
// @Param min_size query int false "minimum artifact size in bytes"
// @Param max_size query int false "maximum artifact size in bytes"
// @Param limit query int false "result cap (max 100)"
// @Success 200 {array} entity.ExportJob
// @Failure 400 {object} apiError
// @Failure 403 {object} apiError
// @Router /api/queue/jobs [get]
func (h *Handler) SearchJobs(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	q := r.URL.Query()
	filter := service.SearchFilter{
		Format: entity.ExportFormat(q.Get("format")),
	}
	if raw := q.Get("design_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid design_id")
			return
		}
		filter.DesignID = id
	}
	filter.MinFileSize, _ = strconv.ParseInt(q.Get("min_size"), 10, 64)
	filter.MaxFileSize, _ = strconv.ParseInt(q.Get("max_size"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	jobs, err := h.statsSvc.SearchJobs(r.Context(), caller, filter)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	if jobs == nil {
		jobs = []*entity.ExportJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// RunSweep godoc
// @Summary Run one reclaim sweep now
// @Tags admin
// @Produce json
// @Success 200 {object} service.SweepResult
// @Failure 403 {object} apiError
// @Router /api/queue/sweep [post]
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	result, err := h.reclaimer.RunSweep(r.Context())
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) callerAndID(w http.ResponseWriter, r *http.Request) (service.Caller, uuid.UUID, bool) {
	caller, ok := callerFrom(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing caller identity")
		return service.Caller{}, uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return service.Caller{}, uuid.Nil, false
	}
	return caller, id, true
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	caller, ok := callerFrom(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing caller identity")
		return false
	}
	if !caller.Admin {
		writeErr(w, http.StatusForbidden, "admin only")
		return false
	}
	return true
}
