package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/virtshift/virtshift-api/internal/jobs"
	"github.com/virtshift/virtshift-api/internal/models"
)

type JobHandler struct {
	orchestrator *jobs.Orchestrator
	logger       zerolog.Logger
}

func NewJobHandler(orchestrator *jobs.Orchestrator, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

type submitJobRequest struct {
	Params  json.RawMessage `json:"params"`
	Targets []string        `json:"targets"`
}

// SubmitJob returns the submission handler for one job kind. The job is
// recorded pending, dispatched, and returned for polling via GetJobStatus.
func (h *JobHandler) SubmitJob(kind models.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tid, ok := requireTenant(w, r)
		if !ok {
			return
		}
		var req submitJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request payload", http.StatusBadRequest)
			return
		}

		job, err := h.orchestrator.Submit(r.Context(), tid, kind, req.Params, req.Targets)
		if err != nil {
			if errors.Is(err, jobs.ErrInvalidInput) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "Failed to submit job: "+err.Error(), http.StatusInternalServerError)
			return
		}
		h.orchestrator.Dispatch(job.ID)

		writeJSON(w, http.StatusAccepted, job)
	}
}

func (h *JobHandler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	tid, ok := requireTenant(w, r)
	if !ok {
		return
	}
	jobID := mux.Vars(r)["jobID"]

	job, err := h.orchestrator.GetStatus(r.Context(), tid, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get job status: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	tid, ok := requireTenant(w, r)
	if !ok {
		return
	}
	limit := 20
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil {
			offset = v
		}
	}

	list, err := h.orchestrator.List(r.Context(), tid, limit, offset)
	if err != nil {
		http.Error(w, "Failed to list jobs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	tid, ok := requireTenant(w, r)
	if !ok {
		return
	}
	jobID := mux.Vars(r)["jobID"]

	job, err := h.orchestrator.Cancel(r.Context(), tid, jobID)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			http.Error(w, "Job not found", http.StatusNotFound)
		case errors.Is(err, jobs.ErrAlreadyTerminal):
			http.Error(w, "Job already finished", http.StatusBadRequest)
		default:
			http.Error(w, "Failed to cancel job: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, job)
}
