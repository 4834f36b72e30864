package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/agentlink/agentlink/internal/auth"
	"github.com/agentlink/agentlink/internal/ledger"
	"github.com/agentlink/agentlink/internal/mirror"
)

// jobsHandler groups the marketplace job endpoints.
type jobsHandler struct {
	jobs         *mirror.JobStore
	profiles     *mirror.ProfileStore
	applications *mirror.ApplicationStore
	reviews      *mirror.ReviewStore
}

func newJobsHandler(jobs *mirror.JobStore, profiles *mirror.ProfileStore,
	applications *mirror.ApplicationStore, reviews *mirror.ReviewStore) *jobsHandler {
	return &jobsHandler{
		jobs:         jobs,
		profiles:     profiles,
		applications: applications,
		reviews:      reviews,
	}
}

// ListJobs handles GET /api/v1/jobs (public).
func (h *jobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	params := mirror.JobListParams{
		Cursor: r.URL.Query().Get("cursor"),
		Status: r.URL.Query().Get("status"),
		Query:  r.URL.Query().Get("q"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		params.Limit = l
	}

	jobs, nextCursor, err := h.jobs.List(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list jobs")
		return
	}

	resp := map[string]interface{}{
		"jobs": jobs,
	}
	if nextCursor != "" {
		resp["next_cursor"] = nextCursor
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /api/v1/jobs/{jobID} (public).
func (h *jobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "invalid_id", "job id is required")
		return
	}

	job, err := h.jobs.GetByID(r.Context(), jobID)
	if err != nil {
		writeMirrorError(w, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CreateApplication handles POST /api/v1/jobs/{jobID}/applications
// (agent-authed). The response reports whether the applicant clears
// the job's auto-hire gate; the hire itself still needs the
// requester's signed instruction.
func (h *jobsHandler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "agent authentication required")
		return
	}

	jobID := chi.URLParam(r, "jobID")
	var input struct {
		Pitch string `json:"pitch"`
	}
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	job, err := h.jobs.GetByID(r.Context(), jobID)
	if err != nil {
		writeMirrorError(w, err, "failed to get job")
		return
	}
	if job.Status != "open" {
		writeError(w, http.StatusConflict, "invalid_state", "job is not open for applications")
		return
	}
	if job.Requester == agent.Address {
		writeError(w, http.StatusConflict, "own_job", "cannot apply to your own job")
		return
	}

	app, err := h.applications.Create(r.Context(), jobID, agent.Address, input.Pitch)
	if err != nil {
		writeMirrorError(w, err, "failed to create application")
		return
	}

	resp := map[string]interface{}{"application": app}
	if job.Hire.AutoHire {
		profile, err := h.profiles.GetByAddress(r.Context(), agent.Address)
		if err == nil {
			resp["auto_hire_eligible"] = mirror.QualifiesForAutoHire(job, profile)
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListApplications handles GET /api/v1/jobs/{jobID}/applications
// (agent-authed, requester only).
func (h *jobsHandler) ListApplications(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "agent authentication required")
		return
	}

	jobID := chi.URLParam(r, "jobID")
	job, err := h.jobs.GetByID(r.Context(), jobID)
	if err != nil {
		writeMirrorError(w, err, "failed to get job")
		return
	}
	if job.Requester != agent.Address {
		writeError(w, http.StatusForbidden, "forbidden", "only the job requester can list applications")
		return
	}

	apps, err := h.applications.ListByJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list applications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"applications": apps})
}

// CreateReview handles POST /api/v1/jobs/{jobID}/reviews
// (agent-authed). Only the two parties of a settled job may review,
// each about the other.
func (h *jobsHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "agent authentication required")
		return
	}

	jobID := chi.URLParam(r, "jobID")
	var input struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	job, err := h.jobs.GetByID(r.Context(), jobID)
	if err != nil {
		writeMirrorError(w, err, "failed to get job")
		return
	}
	if job.Status != "completed" {
		writeError(w, http.StatusConflict, "invalid_state", "only completed jobs can be reviewed")
		return
	}
	if job.Worker == nil {
		writeError(w, http.StatusConflict, "invalid_state", "job has no worker")
		return
	}

	var to ledger.Address
	switch agent.Address {
	case job.Requester:
		to = *job.Worker
	case *job.Worker:
		to = job.Requester
	default:
		writeError(w, http.StatusForbidden, "forbidden", "only the job's parties can leave a review")
		return
	}

	review, err := h.reviews.Create(r.Context(), mirror.CreateReviewInput{
		JobID:   jobID,
		From:    agent.Address,
		To:      to,
		Rating:  input.Rating,
		Comment: input.Comment,
	})
	if err != nil {
		writeMirrorError(w, err, "failed to create review")
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

// ListJobReviews handles GET /api/v1/jobs/{jobID}/reviews (public).
func (h *jobsHandler) ListJobReviews(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := h.jobs.GetByID(r.Context(), jobID); err != nil {
		writeMirrorError(w, err, "failed to get job")
		return
	}

	reviews, err := h.reviews.ListByJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list reviews")
		return
	}
	if reviews == nil {
		reviews = []*mirror.Review{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reviews": reviews})
}
