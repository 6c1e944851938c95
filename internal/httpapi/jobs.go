package httpapi

import (
	"net/http"
	"strconv"

	"github.com/relayforge/dispatch/internal/core"
	"github.com/relayforge/dispatch/internal/jobs"
)

type createJobRequest struct {
	Source         string        `json:"source"`
	Prompt         string        `json:"prompt"`
	SourceMetadata string        `json:"source_metadata"`
	Priority       core.Priority `json:"priority"`
	RepoID         *string       `json:"repo_id"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)

	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.jobs.Create(r.Context(), id.OrgID, jobs.CreateInput{
		Source:         req.Source,
		Prompt:         req.Prompt,
		SourceMetadata: req.SourceMetadata,
		Priority:       req.Priority,
		RepoID:         req.RepoID,
		CreatedBy:      id.UserID,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// allStatuses backs GET /jobs's unfiltered listing — the store's only bulk
// read is per-status (ListJobsByStatus), so an unfiltered call fans out
// across every status and merges.
var allStatuses = []core.JobStatus{
	core.StatusQueued, core.StatusInProgress, core.StatusInReview,
	core.StatusCompleted, core.StatusFailed, core.StatusArchived,
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	statuses := allStatuses
	if v := r.URL.Query().Get("status"); v != "" {
		statuses = []core.JobStatus{core.JobStatus(v)}
	}

	var out []*core.Job
	for _, status := range statuses {
		jobsForStatus, err := s.store.ListJobsByStatus(r.Context(), id.OrgID, status, limit)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		out = append(out, jobsForStatus...)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	jobID := r.PathValue("id")

	version := 0
	if v := r.URL.Query().Get("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid version")
			return
		}
		version = n
	}

	job, err := s.jobs.Get(r.Context(), id.OrgID, jobID, version)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type updateJobRequest struct {
	Status               *core.JobStatus       `json:"status"`
	QueueType            *core.QueueType       `json:"queue_type"`
	UserAcceptanceStatus *core.AcceptanceStatus `json:"user_acceptance_status"`
	UserComments         []string              `json:"user_comments"`
	Prompt               *string               `json:"prompt"`
	RepoID               *string               `json:"repo_id"`
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	jobID := r.PathValue("id")

	var req updateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.jobs.Update(r.Context(), id.OrgID, jobID, jobs.UpdateInput{
		Status:               req.Status,
		QueueType:            req.QueueType,
		UserAcceptanceStatus: req.UserAcceptanceStatus,
		UserComments:         req.UserComments,
		Prompt:               req.Prompt,
		RepoID:               req.RepoID,
		UpdatedBy:            id.UserID,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleArchiveJob(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	job, err := s.jobs.Archive(r.Context(), id.OrgID, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleExecuteJob(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	if err := s.jobs.Execute(r.Context(), id.OrgID, r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

type reprioritizeRequest struct {
	Position int `json:"position"`
}

func (s *Server) handleReprioritizeJob(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)

	var req reprioritizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Position < 0 {
		writeError(w, http.StatusBadRequest, "position must be >= 0")
		return
	}

	if err := s.jobs.Reprioritize(r.Context(), id.OrgID, r.PathValue("id"), req.Position); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
